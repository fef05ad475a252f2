package gateway

import (
	"github.com/ashureev/chatbox/internal/domain"
	"github.com/ashureev/chatbox/internal/reconciler"
	"github.com/ashureev/chatbox/internal/session"
)

// Inbound frame types.
const (
	cmdRegister   = "register"
	cmdSignIn     = "signIn"
	cmdSignOut    = "signOut"
	cmdSend       = "send"
	cmdEdit       = "edit"
	cmdBeginEdit  = "beginEdit"
	cmdCancelEdit = "cancelEdit"
	cmdDelete     = "delete"
	cmdRetry      = "retry"
	cmdDiscard    = "discard"
	cmdDraft      = "draft"
	cmdPing       = "ping"
)

// Outbound frame types.
const (
	frameAuth     = "auth"
	frameStatus   = "status"
	frameMessages = "messages"
	frameAlert    = "alert"
	framePong     = "pong"
)

// command is a frame sent by the tab.
type command struct {
	Type     string `json:"type"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Text     string `json:"text,omitempty"`
	ID       string `json:"id,omitempty"`
}

type authFrame struct {
	Type  string       `json:"type"`
	User  *domain.User `json:"user"`
	Token string       `json:"token,omitempty"`
}

type statusFrame struct {
	Type   string         `json:"type"`
	Status session.Status `json:"status"`
	Error  string         `json:"error,omitempty"`
}

type messagesFrame struct {
	Type       string             `json:"type"`
	Version    uint64             `json:"version"`
	Entries    []reconciler.Entry `json:"entries"`
	EditTarget string             `json:"editTarget,omitempty"`
}

type alertFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongFrame struct {
	Type string `json:"type"`
}
