package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/ashureev/chatbox/internal/docstore"
	"github.com/ashureev/chatbox/internal/domain"
	"github.com/google/uuid"
)

// DefaultCollection holds user records.
const DefaultCollection = "Users"

// Password length limits. bcrypt ignores bytes past the 72nd.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUserExists is returned when registering an email that is taken.
	ErrUserExists = errors.New("an account with this email already exists")
	// ErrInvalidEmail is returned when the email cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrWeakPassword is returned when the password is too short.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrPasswordTooLong is returned when the password exceeds bcrypt's limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
)

// Session is a signed-in user and the token that proves it.
type Session struct {
	User  *domain.User
	Token string
}

// Directory stores accounts in a docstore collection keyed by normalized email.
type Directory struct {
	store      docstore.Store
	collection string
	hasher     *PasswordHasher
	tokens     *TokenManager
	now        func() time.Time
}

// NewDirectory creates a Directory. An empty collection uses DefaultCollection.
func NewDirectory(store docstore.Store, collection string, hasher *PasswordHasher, tokens *TokenManager) *Directory {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Directory{
		store:      store,
		collection: collection,
		hasher:     hasher,
		tokens:     tokens,
		now:        time.Now,
	}
}

// Register creates an account and signs it in.
func (d *Directory) Register(ctx context.Context, email, password string) (*Session, error) {
	key, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return nil, ErrPasswordTooLong
	}

	hash, err := d.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        key,
		PasswordHash: hash,
		CreatedAt:    d.now().UTC(),
	}

	err = d.store.Update(ctx, d.collection, key, func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrUserExists
		}
		return json.Marshal(user)
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return d.session(user)
}

// SignIn verifies credentials and issues a session.
func (d *Directory) SignIn(ctx context.Context, email, password string) (*Session, error) {
	key, err := normalizeEmail(email)
	if err != nil {
		d.hasher.Reject(password)
		return nil, ErrInvalidCredentials
	}

	user, err := d.lookup(ctx, key)
	if errors.Is(err, ErrInvalidCredentials) {
		d.hasher.Reject(password)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if !d.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return d.session(user)
}

// Resume restores a session from a previously issued token.
func (d *Directory) Resume(ctx context.Context, token string) (*Session, error) {
	claims, err := d.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := d.lookup(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	// The email may have been re-registered since the token was issued.
	if user.ID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return &Session{User: user.Public(), Token: token}, nil
}

func (d *Directory) lookup(ctx context.Context, key string) (*domain.User, error) {
	body, err := d.store.Get(ctx, d.collection, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", key, err)
	}
	return &user, nil
}

func (d *Directory) session(user *domain.User) (*Session, error) {
	token, err := d.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{User: user.Public(), Token: token}, nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}
