// Package domain contains core domain types for the chatbox application.
package domain

import "strings"

// Author identifies who wrote a message.
type Author string

const (
	// AuthorUser marks a message submitted by the signed-in user.
	AuthorUser Author = "user"
	// AuthorBot marks a reply produced by the chatbot.
	AuthorBot Author = "bot"
)

// Valid reports whether a is one of the known authors.
func (a Author) Valid() bool {
	return a == AuthorUser || a == AuthorBot
}

// Message is a single chat entry.
type Message struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	By   Author `json:"by"`
}

// HasContent reports whether user input is non-empty after trimming.
func HasContent(text string) bool {
	return strings.TrimSpace(text) != ""
}
