// Package chatbot contains the wire types of the chatbot REST API and an
// HTTP client for it.
package chatbot

// API paths.
const (
	SendPath   = "/api/v1/sendMessage"
	EditPath   = "/api/v1/editMessage"
	DeletePath = "/api/v1/deleteMessage"
)

// SecretHeader carries the shared secret on every request.
const SecretHeader = "X-API-Key"

// SendRequest is the body of POST /api/v1/sendMessage.
type SendRequest struct {
	Text   string `json:"text"`
	UserID string `json:"userId"`
}

// SendResponse is returned by a successful send.
type SendResponse struct {
	UserMessageID string `json:"userMessageId"`
	BotResponseID string `json:"botResponseId"`
	Message       string `json:"message"`
}

// EditRequest is the body of POST /api/v1/editMessage.
type EditRequest struct {
	MessageID string `json:"messageId"`
	NewText   string `json:"newText"`
	UserID    string `json:"userId"`
}

// EditResponse is returned by a successful edit.
type EditResponse struct {
	BotResponseID string `json:"botResponseId"`
	Message       string `json:"message"`
}

// DeleteRequest is the body of DELETE /api/v1/deleteMessage.
type DeleteRequest struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// DeleteResponse is returned by a successful delete.
type DeleteResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
