// Package bot implements the chatbot REST API.
package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/ashureev/chatbox/internal/domain"
)

// Responder produces the bot reply to a user message.
type Responder interface {
	// Reply answers prompt. history holds the conversation before prompt.
	Reply(ctx context.Context, userID, prompt string, history []domain.Message) (string, error)
}

// Rules is a keyword responder with an echo fallback.
type Rules struct{}

var _ Responder = Rules{}

var greetings = []string{"hello", "hi", "hey", "good morning", "good evening"}

// Reply implements Responder.
func (Rules) Reply(_ context.Context, _ string, prompt string, history []domain.Message) (string, error) {
	text := strings.TrimSpace(prompt)
	lower := strings.ToLower(strings.TrimRight(text, "!.? "))

	for _, g := range greetings {
		if lower == g {
			return "Hi there!", nil
		}
	}

	switch {
	case lower == "help" || strings.HasPrefix(lower, "help "):
		return "Send me a message and I will answer. You can edit or delete anything you wrote.", nil
	case lower == "how many messages" || lower == "count":
		return "We have exchanged " + strconv.Itoa(len(history)) + " messages so far.", nil
	case strings.HasPrefix(lower, "bye"):
		return "Goodbye! Your conversation is saved.", nil
	}
	return "You said: " + text, nil
}
