// Package session binds the signed-in user to a message reconciler.
//
// A Widget follows an auth.Provider: every sign-in loads the user's history
// and starts a fresh Session; every sign-out discards it.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/chatbox/internal/auth"
	"github.com/ashureev/chatbox/internal/domain"
	"github.com/ashureev/chatbox/internal/reconciler"
)

// Status is the lifecycle state of a Widget.
type Status string

const (
	StatusSignedOut Status = "signed_out"
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
)

// Session is the active conversation of one user.
type Session struct {
	UserID     string
	Reconciler *reconciler.Reconciler
}

// State is a point-in-time view of a Widget.
type State struct {
	Status  Status
	User    *domain.User
	Session *Session
	Err     error
}

// Loader reads a user's message history.
type Loader interface {
	Load(ctx context.Context, userID string) ([]domain.Message, error)
}

// Widget owns at most one Session at a time.
type Widget struct {
	provider auth.Provider
	loader   Loader
	backend  reconciler.Backend
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	generation  uint64
	unsubscribe func()
	listeners   map[int]func(State)
	nextID      int
	loads       sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a Widget. Call Start to begin following the provider.
func New(provider auth.Provider, loader Loader, backend reconciler.Backend, logger *slog.Logger) *Widget {
	if logger == nil {
		logger = slog.Default()
	}
	return &Widget{
		provider:  provider,
		loader:    loader,
		backend:   backend,
		logger:    logger,
		state:     State{Status: StatusSignedOut},
		listeners: make(map[int]func(State)),
	}
}

// Start subscribes to the provider. Loads run under ctx until Close.
func (w *Widget) Start(ctx context.Context) {
	w.mu.Lock()
	if w.unsubscribe != nil {
		w.mu.Unlock()
		return
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	unsubscribe := w.provider.Subscribe(w.handleAuth)

	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()
}

// Close releases the provider subscription and waits for pending loads.
func (w *Widget) Close() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	cancel := w.cancel
	w.generation++
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	w.loads.Wait()
}

// State returns the current state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Session returns the active session, or nil while signed out or loading.
func (w *Widget) Session() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Session
}

// Subscribe calls fn on every state change. The returned func removes it.
func (w *Widget) Subscribe(fn func(State)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.listeners, id)
			w.mu.Unlock()
		})
	}
}

func (w *Widget) handleAuth(user *domain.User) {
	w.mu.Lock()
	if user == nil {
		if w.state.Status == StatusSignedOut {
			w.mu.Unlock()
			return
		}
		w.generation++
		w.state = State{Status: StatusSignedOut}
		notify := w.notifyLocked()
		w.mu.Unlock()
		notify()
		return
	}

	if w.state.User != nil && w.state.User.ID == user.ID && w.state.Status != StatusError {
		w.mu.Unlock()
		return
	}

	w.generation++
	gen := w.generation
	ctx := w.ctx
	w.state = State{Status: StatusLoading, User: user}
	notify := w.notifyLocked()
	w.loads.Add(1)
	w.mu.Unlock()

	notify()
	go w.load(ctx, gen, user)
}

func (w *Widget) load(ctx context.Context, gen uint64, user *domain.User) {
	defer w.loads.Done()

	msgs, err := w.loader.Load(ctx, user.ID)

	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		w.logger.Info("Discarding stale history load", "user_id", user.ID)
		return
	}
	if err != nil {
		w.state = State{Status: StatusError, User: user, Err: err}
	} else {
		w.state = State{
			Status: StatusReady,
			User:   user,
			Session: &Session{
				UserID:     user.ID,
				Reconciler: reconciler.New(user.ID, w.backend, msgs, reconciler.WithLogger(w.logger)),
			},
		}
	}
	notify := w.notifyLocked()
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Failed to load message history", "user_id", user.ID, "error", err)
	} else {
		w.logger.Info("Session ready", "user_id", user.ID, "message_count", len(msgs))
	}
	notify()
}

func (w *Widget) notifyLocked() func() {
	state := w.state
	listeners := make([]func(State), 0, len(w.listeners))
	for _, fn := range w.listeners {
		listeners = append(listeners, fn)
	}
	return func() {
		for _, fn := range listeners {
			fn(state)
		}
	}
}
