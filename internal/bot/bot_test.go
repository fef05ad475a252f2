package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatbox/internal/chatbot"
	"github.com/ashureev/chatbox/internal/docstore"
	"github.com/ashureev/chatbox/internal/domain"
	"github.com/ashureev/chatbox/internal/history"
	"github.com/ashureev/chatbox/internal/middleware"
	"github.com/go-chi/chi/v5"
)

func newTestServer(t *testing.T, limiter *RateLimiter, secret string) (*httptest.Server, *history.Journal) {
	t.Helper()
	journal := history.NewJournal(docstore.NewMemory(), "")
	h := NewHandler(NewService(journal, Rules{}, nil), limiter, nil)

	r := chi.NewRouter()
	r.Use(middleware.SharedSecret(chatbot.SecretHeader, secret))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, journal
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRulesReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prompt string
		want   string
	}{
		{prompt: "Hello", want: "Hi there!"},
		{prompt: "  hey! ", want: "Hi there!"},
		{prompt: "help", want: "Send me a message"},
		{prompt: "bye now", want: "Goodbye!"},
		{prompt: "what is Go?", want: "You said: what is Go?"},
	}
	for _, tt := range tests {
		got, err := Rules{}.Reply(context.Background(), "u", tt.prompt, nil)
		if err != nil {
			t.Fatalf("Reply(%q) error = %v", tt.prompt, err)
		}
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("Reply(%q) = %q, want prefix %q", tt.prompt, got, tt.want)
		}
	}

	got, _ := Rules{}.Reply(context.Background(), "u", "count", make([]domain.Message, 4))
	if got != "We have exchanged 4 messages so far." {
		t.Errorf("Reply(count) = %q", got)
	}
}

func TestServiceSendEditDelete(t *testing.T) {
	t.Parallel()

	journal := history.NewJournal(docstore.NewMemory(), "")
	svc := NewService(journal, nil, nil)
	ctx := context.Background()

	sent, err := svc.Send(ctx, "alice", "Hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.Message != "Hi there!" || sent.UserMessageID == "" || sent.BotResponseID == "" {
		t.Fatalf("Send() = %+v", sent)
	}

	edited, err := svc.Edit(ctx, "alice", sent.UserMessageID, "help")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	msgs, _ := journal.Messages(ctx, "alice")
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v, want 3", msgs)
	}
	if msgs[0].ID != sent.UserMessageID || msgs[0].Text != "help" {
		t.Fatalf("edited message = %+v", msgs[0])
	}
	if msgs[2].ID != edited.BotResponseID || msgs[2].By != domain.AuthorBot {
		t.Fatalf("edit reply = %+v", msgs[2])
	}

	if _, err := svc.Edit(ctx, "alice", sent.BotResponseID, "x"); !errors.Is(err, history.ErrNotEditable) {
		t.Fatalf("Edit(bot) error = %v, want ErrNotEditable", err)
	}
	if err := svc.Delete(ctx, "alice", sent.BotResponseID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(ctx, "alice", sent.BotResponseID); !errors.Is(err, history.ErrMessageNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrMessageNotFound", err)
	}
}

type failingResponder struct{}

func (failingResponder) Reply(context.Context, string, string, []domain.Message) (string, error) {
	return "", errors.New("model offline")
}

func TestServiceSendResponderFailureStoresNothing(t *testing.T) {
	t.Parallel()

	journal := history.NewJournal(docstore.NewMemory(), "")
	svc := NewService(journal, failingResponder{}, nil)

	if _, err := svc.Send(context.Background(), "alice", "hi"); err == nil {
		t.Fatal("Send() error = nil, want responder failure")
	}
	msgs, _ := journal.Messages(context.Background(), "alice")
	if len(msgs) != 0 {
		t.Fatalf("messages = %+v, want none", msgs)
	}
}

func TestServiceEditResponderFailureKeepsText(t *testing.T) {
	t.Parallel()

	journal := history.NewJournal(docstore.NewMemory(), "")
	ctx := context.Background()
	sent, err := NewService(journal, nil, nil).Send(ctx, "alice", "Hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	svc := NewService(journal, failingResponder{}, nil)
	if _, err := svc.Edit(ctx, "alice", sent.UserMessageID, "edited"); err == nil {
		t.Fatal("Edit() error = nil, want responder failure")
	}

	msgs, _ := journal.Messages(ctx, "alice")
	if len(msgs) != 2 || msgs[0].Text != "Hello" {
		t.Fatalf("messages = %+v, want original two with text %q", msgs, "Hello")
	}
}

func TestHandlerStatusCodes(t *testing.T) {
	t.Parallel()

	srv, journal := newTestServer(t, nil, "")
	ids, err := journal.Append(context.Background(), "alice", history.Record{Text: "hello", By: domain.AuthorBot})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	botID := ids[0]

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "empty text", method: http.MethodPost, path: chatbot.SendPath, body: chatbot.SendRequest{Text: "  ", UserID: "alice"}, want: http.StatusBadRequest},
		{name: "missing user", method: http.MethodPost, path: chatbot.SendPath, body: chatbot.SendRequest{Text: "hi"}, want: http.StatusBadRequest},
		{name: "send ok", method: http.MethodPost, path: chatbot.SendPath, body: chatbot.SendRequest{Text: "hi", UserID: "alice"}, want: http.StatusOK},
		{name: "edit missing id", method: http.MethodPost, path: chatbot.EditPath, body: chatbot.EditRequest{NewText: "x", UserID: "alice"}, want: http.StatusBadRequest},
		{name: "edit unknown", method: http.MethodPost, path: chatbot.EditPath, body: chatbot.EditRequest{MessageID: "1", NewText: "x", UserID: "alice"}, want: http.StatusNotFound},
		{name: "edit bot", method: http.MethodPost, path: chatbot.EditPath, body: chatbot.EditRequest{MessageID: botID, NewText: "x", UserID: "alice"}, want: http.StatusConflict},
		{name: "delete unknown", method: http.MethodDelete, path: chatbot.DeletePath, body: chatbot.DeleteRequest{MessageID: "1", UserID: "alice"}, want: http.StatusNotFound},
		{name: "delete ok", method: http.MethodDelete, path: chatbot.DeletePath, body: chatbot.DeleteRequest{MessageID: botID, UserID: "alice"}, want: http.StatusOK},
		{name: "wrong method", method: http.MethodGet, path: chatbot.DeletePath, body: nil, want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		resp := do(t, tt.method, srv.URL+tt.path, tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, "")
	resp, err := http.Post(srv.URL+chatbot.SendPath, "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandlerRateLimit(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(2, time.Minute)
	defer limiter.Close()
	srv, _ := newTestServer(t, limiter, "")

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		resp := do(t, http.MethodPost, srv.URL+chatbot.SendPath, chatbot.SendRequest{Text: "hi", UserID: "alice"})
		if resp.StatusCode != want {
			t.Fatalf("request %d: status = %d, want %d", i, resp.StatusCode, want)
		}
	}
	resp := do(t, http.MethodPost, srv.URL+chatbot.SendPath, chatbot.SendRequest{Text: "hi", UserID: "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("other user status = %d, want 200", resp.StatusCode)
	}
}

func TestClientAgainstHandler(t *testing.T) {
	t.Parallel()

	srv, journal := newTestServer(t, nil, "s3cret")
	client := chatbot.NewClient(srv.URL, "s3cret")
	ctx := context.Background()

	sent, err := client.SendMessage(ctx, chatbot.SendRequest{Text: "Hello", UserID: "alice"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if sent.Message != "Hi there!" {
		t.Fatalf("SendMessage() = %+v", sent)
	}
	if _, err := client.EditMessage(ctx, chatbot.EditRequest{MessageID: sent.UserMessageID, NewText: "hey", UserID: "alice"}); err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
	if err := client.DeleteMessage(ctx, chatbot.DeleteRequest{MessageID: sent.BotResponseID, UserID: "alice"}); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}

	msgs, _ := journal.Messages(ctx, "alice")
	if len(msgs) != 2 || msgs[0].Text != "hey" {
		t.Fatalf("stored messages = %+v", msgs)
	}

	_, err = chatbot.NewClient(srv.URL, "wrong").SendMessage(ctx, chatbot.SendRequest{Text: "hi", UserID: "alice"})
	var apiErr *chatbot.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("SendMessage() with wrong secret error = %v, want 401 APIError", err)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()
	now := time.Now()
	rl.now = func() time.Time { return now }

	if !rl.Allow("k") || rl.Allow("k") {
		t.Fatal("expected one request per window")
	}
	now = now.Add(time.Minute + time.Second)
	if !rl.Allow("k") {
		t.Fatal("expected request after window to be allowed")
	}

	now = now.Add(2 * time.Minute)
	rl.evict()
	rl.mu.Lock()
	n := len(rl.requests)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("requests map has %d keys after eviction, want 0", n)
	}
	rl.Close()
}
