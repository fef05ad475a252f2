package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/chatbox/internal/domain"
)

// Provider is the authentication surface a widget depends on.
type Provider interface {
	SignIn(ctx context.Context, email, password string) error
	Register(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	// Subscribe calls fn with the current user immediately and on every
	// change. A nil user means signed out.
	Subscribe(fn func(*domain.User)) (unsubscribe func())
}

// Authenticator is the account backend used by Client.
type Authenticator interface {
	Register(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Resume(ctx context.Context, token string) (*Session, error)
}

var _ Authenticator = (*Directory)(nil)

// Client tracks the signed-in user of one widget.
type Client struct {
	accounts Authenticator

	// notifyMu is held across each transition and its fan-out so
	// subscribers see changes in the order they happened.
	notifyMu sync.Mutex

	mu          sync.Mutex
	current     *Session
	subscribers map[int]func(*domain.User)
	nextID      int
}

var _ Provider = (*Client)(nil)

// NewClient creates a signed-out Client.
func NewClient(accounts Authenticator) *Client {
	return &Client{
		accounts:    accounts,
		subscribers: make(map[int]func(*domain.User)),
	}
}

// SignIn authenticates and notifies subscribers on success.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	s, err := c.accounts.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	c.set(s)
	return nil
}

// Register creates an account, signs it in and notifies subscribers.
func (c *Client) Register(ctx context.Context, email, password string) error {
	s, err := c.accounts.Register(ctx, email, password)
	if err != nil {
		return err
	}
	c.set(s)
	return nil
}

// Resume restores a session from a token.
func (c *Client) Resume(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	s, err := c.accounts.Resume(ctx, token)
	if err != nil {
		return err
	}
	c.set(s)
	return nil
}

// SignOut clears the session. Signing out while signed out is a no-op.
func (c *Client) SignOut(_ context.Context) error {
	c.transition(func(cur *Session) (*Session, bool) {
		return nil, cur != nil
	})
	return nil
}

// User returns the signed-in user or nil.
func (c *Client) User() *domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.User
}

// Token returns the current session token, empty when signed out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.Token
}

// Subscribe implements Provider.
func (c *Client) Subscribe(fn func(*domain.User)) func() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	var user *domain.User
	if c.current != nil {
		user = c.current.User
	}
	c.mu.Unlock()

	fn(user)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) set(s *Session) {
	c.transition(func(*Session) (*Session, bool) { return s, true })
}

// transition replaces the current session with the result of fn and
// notifies subscribers when fn reports a change. Subscribers may read User
// and Token but must not sign in, sign out or subscribe from the callback.
func (c *Client) transition(fn func(current *Session) (*Session, bool)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	next, changed := fn(c.current)
	if !changed {
		c.mu.Unlock()
		return
	}
	c.current = next
	var user *domain.User
	if next != nil {
		user = next.User
	}
	subs := make([]func(*domain.User), 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub(user)
	}
}

// Message returns the user-facing text of an authentication error.
func Message(err error) string {
	for _, known := range []error{
		ErrInvalidCredentials, ErrUserExists, ErrInvalidEmail,
		ErrWeakPassword, ErrPasswordTooLong, ErrInvalidToken, ErrExpiredToken,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "authentication failed, please try again"
}
