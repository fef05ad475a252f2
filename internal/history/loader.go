package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatbox/internal/docstore"
	"github.com/ashureev/chatbox/internal/domain"
)

// DefaultCollection is the collection holding one message document per user.
const DefaultCollection = "Messages"

// Loader restores a user's message history at sign-in.
type Loader struct {
	store      docstore.Store
	collection string
	logger     *slog.Logger
}

// NewLoader creates a loader reading from collection (DefaultCollection when empty).
func NewLoader(store docstore.Store, collection string, logger *slog.Logger) *Loader {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, collection: collection, logger: logger}
}

// Load returns the user's messages in chronological order. A missing
// document is an empty history, not an error.
func (l *Loader) Load(ctx context.Context, userID string) ([]domain.Message, error) {
	if userID == "" {
		return nil, ErrNoUser
	}

	body, err := l.store.Get(ctx, l.collection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		l.logger.Info("No message history", "user_id", userID)
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read message history: %w", err)
	}

	doc, legacy, err := Decode(body)
	if err != nil {
		return nil, err
	}

	if legacy {
		l.migrate(ctx, userID)
	}

	msgs := doc.Sorted()
	l.logger.Info("Message history loaded", "user_id", userID, "message_count", len(msgs), "legacy_shape", legacy)
	return msgs, nil
}

// migrate rewrites a flat-shaped document in canonical shape. Failures are
// logged only; the next load retries.
func (l *Loader) migrate(ctx context.Context, userID string) {
	err := l.store.Update(ctx, l.collection, userID, func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, nil
		}
		doc, legacy, err := Decode(current)
		if err != nil || !legacy {
			return nil, err
		}
		return doc.Encode()
	})
	if err != nil {
		l.logger.Warn("Failed to migrate legacy message document", "user_id", userID, "error", err)
		return
	}
	l.logger.Info("Migrated legacy message document", "user_id", userID)
}
