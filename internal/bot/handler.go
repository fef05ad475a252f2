package bot

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/chatbox/internal/api"
	"github.com/ashureev/chatbox/internal/chatbot"
	"github.com/ashureev/chatbox/internal/history"
	"github.com/go-chi/chi/v5"
)

// Handler serves the chatbot REST endpoints.
type Handler struct {
	svc     *Service
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHandler creates a Handler. A nil limiter disables rate limiting.
func NewHandler(svc *Service, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, limiter: limiter, logger: logger}
}

// RegisterRoutes registers the chatbot routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(chatbot.SendPath, h.SendMessage)
	r.Post(chatbot.EditPath, h.EditMessage)
	r.Delete(chatbot.DeletePath, h.DeleteMessage)
}

// SendMessage handles POST /api/v1/sendMessage.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req chatbot.SendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allow(w, req.UserID) {
		return
	}

	resp, err := h.svc.Send(r.Context(), req.UserID, req.Text)
	if err != nil {
		h.fail(w, "send", req.UserID, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// EditMessage handles POST /api/v1/editMessage.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req chatbot.EditRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		api.Error(w, http.StatusBadRequest, "messageId is required")
		return
	}
	if !h.allow(w, req.UserID) {
		return
	}

	resp, err := h.svc.Edit(r.Context(), req.UserID, req.MessageID, req.NewText)
	if err != nil {
		h.fail(w, "edit", req.UserID, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// DeleteMessage handles DELETE /api/v1/deleteMessage.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req chatbot.DeleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		api.Error(w, http.StatusBadRequest, "messageId is required")
		return
	}

	if err := h.svc.Delete(r.Context(), req.UserID, req.MessageID); err != nil {
		h.fail(w, "delete", req.UserID, err)
		return
	}
	api.JSON(w, http.StatusOK, chatbot.DeleteResponse{Status: "deleted"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := api.DecodeJSON(w, r, v); err != nil {
		if errors.Is(err, api.ErrBodyTooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) allow(w http.ResponseWriter, userID string) bool {
	if h.limiter == nil || userID == "" {
		return true
	}
	if !h.limiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op, userID string, err error) {
	switch {
	case errors.Is(err, history.ErrNoUser):
		api.Error(w, http.StatusBadRequest, "userId is required")
	case errors.Is(err, ErrEmptyText):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, history.ErrMessageNotFound):
		api.Error(w, http.StatusNotFound, "message not found")
	case errors.Is(err, history.ErrNotEditable):
		api.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Chatbot request failed", "op", op, "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}
