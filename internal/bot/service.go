package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatbox/internal/chatbot"
	"github.com/ashureev/chatbox/internal/domain"
	"github.com/ashureev/chatbox/internal/history"
)

// ErrEmptyText is returned when a message has no content after trimming.
var ErrEmptyText = errors.New("text is required")

// Journal is the message persistence used by Service.
type Journal interface {
	Append(ctx context.Context, userID string, records ...history.Record) ([]string, error)
	Revise(ctx context.Context, userID, messageID, text string, reply history.Record) (string, error)
	Remove(ctx context.Context, userID, messageID string) error
	Messages(ctx context.Context, userID string) ([]domain.Message, error)
}

var _ Journal = (*history.Journal)(nil)

// Service stores user messages and the bot replies to them.
type Service struct {
	journal   Journal
	responder Responder
	logger    *slog.Logger
}

// NewService creates a Service. A nil responder uses Rules.
func NewService(journal Journal, responder Responder, logger *slog.Logger) *Service {
	if responder == nil {
		responder = Rules{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{journal: journal, responder: responder, logger: logger}
}

// Send stores text as a user message, followed by the bot reply, in one
// write. The reply is computed first so a responder failure stores nothing.
func (s *Service) Send(ctx context.Context, userID, text string) (*chatbot.SendResponse, error) {
	if userID == "" {
		return nil, history.ErrNoUser
	}
	if !domain.HasContent(text) {
		return nil, ErrEmptyText
	}

	past, err := s.journal.Messages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	reply, err := s.responder.Reply(ctx, userID, text, past)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	ids, err := s.journal.Append(ctx, userID,
		history.Record{Text: text, By: domain.AuthorUser},
		history.Record{Text: reply, By: domain.AuthorBot},
	)
	if err != nil {
		return nil, err
	}
	userMessageID, botResponseID := ids[0], ids[1]

	s.logger.Info("Message stored", "user_id", userID, "message_id", userMessageID, "bot_response_id", botResponseID)
	return &chatbot.SendResponse{
		UserMessageID: userMessageID,
		BotResponseID: botResponseID,
		Message:       reply,
	}, nil
}

// Edit replaces the text of a user message and appends a new bot reply.
// Nothing is written unless the reply could be generated.
func (s *Service) Edit(ctx context.Context, userID, messageID, newText string) (*chatbot.EditResponse, error) {
	if userID == "" {
		return nil, history.ErrNoUser
	}
	if !domain.HasContent(newText) {
		return nil, ErrEmptyText
	}

	past, err := s.journal.Messages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := history.CheckEditable(past, messageID); err != nil {
		return nil, err
	}

	revised := make([]domain.Message, len(past))
	for i, m := range past {
		if m.ID == messageID {
			m.Text = newText
		}
		revised[i] = m
	}
	reply, err := s.responder.Reply(ctx, userID, newText, revised)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	botResponseID, err := s.journal.Revise(ctx, userID, messageID, newText, history.Record{Text: reply, By: domain.AuthorBot})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Message edited", "user_id", userID, "message_id", messageID, "bot_response_id", botResponseID)
	return &chatbot.EditResponse{BotResponseID: botResponseID, Message: reply}, nil
}

// Delete removes a message.
func (s *Service) Delete(ctx context.Context, userID, messageID string) error {
	if userID == "" {
		return history.ErrNoUser
	}
	if err := s.journal.Remove(ctx, userID, messageID); err != nil {
		return err
	}
	s.logger.Info("Message deleted", "user_id", userID, "message_id", messageID)
	return nil
}
