package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/chatbox/internal/auth"
	"github.com/ashureev/chatbox/internal/domain"
	"github.com/ashureev/chatbox/internal/identity"
	"github.com/ashureev/chatbox/internal/reconciler"
	"github.com/ashureev/chatbox/internal/session"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Handler upgrades widget requests to websockets and hosts one widget per connection.
type Handler struct {
	accounts      auth.Authenticator
	loader        session.Loader
	backend       reconciler.Backend
	registry      *Registry
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a new widget gateway handler.
func NewHandler(accounts auth.Authenticator, loader session.Loader, backend reconciler.Backend, registry *Registry, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Handler{
		accounts:      accounts,
		loader:        loader,
		backend:       backend,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tabID := identity.TabIDFromContext(r.Context())
	logger := h.logger.With("tab_id", tabID)
	logger.Info("Widget connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		h:      h,
		ws:     ws,
		tabID:  tabID,
		logger: logger,
		auth:   auth.NewClient(h.accounts),
	}
	c.widget = session.New(c.auth, h.loader, h.backend, logger)

	unsubscribeWidget := c.widget.Subscribe(c.onState)
	unsubscribeAuth := c.auth.Subscribe(c.onAuth)
	c.widget.Start(ctx)
	defer func() {
		unsubscribeAuth()
		unsubscribeWidget()
		c.widget.Close()
		c.detachMessages()
		c.setRegistered(nil)
	}()

	if token := identity.TokenFromContext(r.Context()); token != "" {
		if err := c.auth.Resume(ctx, token); err != nil {
			logger.Info("Session resume rejected", "error", err)
			c.alert(auth.Message(err))
		}
	}

	c.readLoop(ctx)
	logger.Info("Widget connection ended")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	// Browsers always send Origin; without a configured frontend none is trusted.
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// client is the per-connection state.
type client struct {
	h      *Handler
	ws     *websocket.Conn
	tabID  string
	logger *slog.Logger
	auth   *auth.Client
	widget *session.Widget

	mu           sync.Mutex
	registeredAs string
	current      *reconciler.Reconciler
	unsubscribe  func()
	lastVersion  uint64

	// pushMu orders message frames so versions reach the tab ascending.
	pushMu sync.Mutex
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("WebSocket closed by client")
			} else {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.alert("malformed message")
			continue
		}

		if cmd.Type == cmdPing {
			c.write(pongFrame{Type: framePong})
			continue
		}
		// Commands outlive the read loop: a closing tab does not abort a round trip.
		go c.dispatch(context.WithoutCancel(ctx), cmd)
	}
}

func (c *client) dispatch(ctx context.Context, cmd command) {
	switch cmd.Type {
	case cmdRegister:
		c.authResult(c.auth.Register(ctx, cmd.Email, cmd.Password))
		return
	case cmdSignIn:
		c.authResult(c.auth.SignIn(ctx, cmd.Email, cmd.Password))
		return
	case cmdSignOut:
		c.authResult(c.auth.SignOut(ctx))
		return
	}

	s := c.widget.Session()
	if s == nil {
		c.alert("sign in to chat")
		return
	}
	r := s.Reconciler

	var err error
	switch cmd.Type {
	case cmdSend:
		err = r.Send(ctx, cmd.Text)
	case cmdEdit:
		err = r.Edit(ctx, cmd.ID, cmd.Text)
	case cmdBeginEdit:
		err = r.BeginEdit(cmd.ID)
	case cmdCancelEdit:
		r.CancelEdit()
	case cmdDelete:
		err = r.Delete(ctx, cmd.ID)
	case cmdRetry:
		err = r.Retry(ctx, cmd.ID)
	case cmdDiscard:
		err = r.Discard(cmd.ID)
	case cmdDraft:
		r.SetDraft(cmd.Text)
	default:
		c.alert("unknown command " + cmd.Type)
		return
	}
	c.opResult(err)
}

func (c *client) authResult(err error) {
	if err != nil {
		c.logger.Info("Authentication failed", "error", err)
		c.alert(auth.Message(err))
	}
}

// opResult reports rejected commands. Transport failures are already visible
// in the list and logged by the reconciler.
func (c *client) opResult(err error) {
	switch {
	case err == nil, errors.Is(err, reconciler.ErrEmptyText):
	case errors.Is(err, reconciler.ErrUnknownMessage),
		errors.Is(err, reconciler.ErrNotConfirmed),
		errors.Is(err, reconciler.ErrNotEditable),
		errors.Is(err, reconciler.ErrNotFailed):
		c.alert(err.Error())
	}
}

func (c *client) onAuth(user *domain.User) {
	c.setRegistered(user)
	c.write(authFrame{Type: frameAuth, User: user, Token: c.auth.Token()})
}

func (c *client) setRegistered(user *domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registeredAs != "" && (user == nil || user.ID != c.registeredAs) {
		c.h.registry.Unregister(c.registeredAs, c.tabID, c.ws)
		c.registeredAs = ""
	}
	if user != nil && c.registeredAs == "" {
		c.h.registry.Register(user.ID, c.tabID, c.ws)
		c.registeredAs = user.ID
		c.logger.Debug("Widget tabs open", "user_id", user.ID, "tabs", c.h.registry.Count(user.ID))
	}
}

func (c *client) onState(state session.State) {
	frame := statusFrame{Type: frameStatus, Status: state.Status}
	if state.Err != nil {
		frame.Error = "could not load your messages"
	}
	c.write(frame)

	if state.Status != session.StatusReady || state.Session == nil {
		c.detachMessages()
		return
	}
	c.attachMessages(state.Session.Reconciler)
}

func (c *client) attachMessages(r *reconciler.Reconciler) {
	c.mu.Lock()
	if c.current == r {
		c.mu.Unlock()
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.current = r
	c.lastVersion = 0
	c.unsubscribe = r.Subscribe(func(version uint64, entries []reconciler.Entry) {
		c.pushMessages(r, version, entries)
	})
	c.mu.Unlock()

	version, entries := r.Snapshot()
	c.pushMessages(r, version, entries)
}

func (c *client) detachMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.unsubscribe = nil
	c.current = nil
}

// pushMessages forwards a snapshot unless a newer one was already sent.
func (c *client) pushMessages(r *reconciler.Reconciler, version uint64, entries []reconciler.Entry) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	if c.current != r || (c.lastVersion != 0 && version <= c.lastVersion) {
		c.mu.Unlock()
		return
	}
	c.lastVersion = version
	c.mu.Unlock()

	target, _ := r.EditTarget()
	c.write(messagesFrame{Type: frameMessages, Version: version, Entries: entries, EditTarget: target})
}

func (c *client) alert(message string) {
	c.write(alertFrame{Type: frameAlert, Message: message})
}

func (c *client) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Debug("WebSocket write error", "error", err)
	}
}
