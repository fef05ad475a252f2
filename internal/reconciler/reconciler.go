// Package reconciler owns the message list of an active chat session.
//
// User messages are inserted optimistically under a placeholder id and
// reconciled with the server-assigned id once the chatbot confirms them.
// Edits and deletes are applied only after confirmation. Operations may run
// concurrently; each applies its patch when its own round trip completes.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/chatbox/internal/chatbot"
	"github.com/ashureev/chatbox/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrEmptyText is returned when the submitted text is blank. No call is made.
	ErrEmptyText = errors.New("message text is empty")
	// ErrUnknownMessage is returned when no entry holds the given id.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotConfirmed is returned when editing or deleting an entry the server has not confirmed.
	ErrNotConfirmed = errors.New("message is not confirmed yet")
	// ErrNotEditable is returned when editing a bot message.
	ErrNotEditable = errors.New("only user messages can be edited")
	// ErrNotFailed is returned when retrying or discarding an entry that has not failed.
	ErrNotFailed = errors.New("message has not failed")
)

// Backend is the chatbot API as seen by the reconciler.
type Backend interface {
	SendMessage(ctx context.Context, req chatbot.SendRequest) (*chatbot.SendResponse, error)
	EditMessage(ctx context.Context, req chatbot.EditRequest) (*chatbot.EditResponse, error)
	DeleteMessage(ctx context.Context, req chatbot.DeleteRequest) error
}

// Ensure the HTTP client satisfies Backend.
var _ Backend = (*chatbot.Client)(nil)

// OpKind names an operation type.
type OpKind string

// Operation kinds.
const (
	OpSend   OpKind = "send"
	OpEdit   OpKind = "edit"
	OpDelete OpKind = "delete"
)

// Op is one round trip: Pending until it settles as Confirmed or Failed.
type Op struct {
	Seq    uint64
	Kind   OpKind
	Target string // placeholder id for sends, message id otherwise
	State  Status
}

// Listener receives every published snapshot. Versions increase
// monotonically; a listener may see them out of order and should drop any
// version older than the last one it handled. entries must not be modified.
type Listener func(version uint64, entries []Entry)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for failed operations.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPlaceholderFunc overrides placeholder id generation.
func WithPlaceholderFunc(fn func() string) Option {
	return func(r *Reconciler) { r.newPlaceholder = fn }
}

// Reconciler holds the ordered list of entries for one signed-in user.
type Reconciler struct {
	userID         string
	backend        Backend
	logger         *slog.Logger
	newPlaceholder func() string

	mu         sync.Mutex
	entries    []Entry
	version    uint64
	editTarget string
	draft      string
	seq        uint64
	ops        map[uint64]*Op
	listeners  map[int]Listener
	listenerID int
}

// New creates a reconciler seeded with the user's loaded history.
func New(userID string, backend Backend, initial []domain.Message, opts ...Option) *Reconciler {
	r := &Reconciler{
		userID:  userID,
		backend: backend,
		logger:  slog.Default(),
		newPlaceholder: func() string {
			return "pending-" + uuid.NewString()
		},
		entries:   confirmedEntries(initial),
		ops:       make(map[uint64]*Op),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("user_id", userID)
	return r
}

// UserID returns the owner of the list.
func (r *Reconciler) UserID() string {
	return r.userID
}

// Snapshot returns the current version and entries.
func (r *Reconciler) Snapshot() (uint64, []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version, r.entries[:len(r.entries):len(r.entries)]
}

// Messages returns the current list without reconciliation status.
func (r *Reconciler) Messages() []domain.Message {
	_, entries := r.Snapshot()
	out := make([]domain.Message, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

// Subscribe registers fn for future snapshots. The returned func removes it.
func (r *Reconciler) Subscribe(fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.listenerID
	r.listenerID++
	r.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.listeners, id)
		})
	}
}

// InFlight returns the operations that have not settled yet, oldest first.
func (r *Reconciler) InFlight() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Op, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// SetDraft stores the pending input.
func (r *Reconciler) SetDraft(text string) {
	r.mu.Lock()
	r.draft = text
	r.mu.Unlock()
}

// Draft returns the pending input.
func (r *Reconciler) Draft() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draft
}

// BeginEdit marks id as the message being edited.
func (r *Reconciler) BeginEdit(id string) error {
	r.mu.Lock()
	e, err := r.editableLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.editTarget = e.ID
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()
	return nil
}

// CancelEdit clears the pending-edit marker.
func (r *Reconciler) CancelEdit() {
	r.mu.Lock()
	if r.editTarget == "" {
		r.mu.Unlock()
		return
	}
	r.editTarget = ""
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()
}

// EditTarget returns the id marked for editing, if any.
func (r *Reconciler) EditTarget() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.editTarget, r.editTarget != ""
}

// Send inserts text as a pending user entry, clears the draft and posts it.
// On success the placeholder id is replaced by the server id and the bot
// reply is appended. On failure the entry stays, marked failed.
func (r *Reconciler) Send(ctx context.Context, text string) error {
	if !domain.HasContent(text) {
		return ErrEmptyText
	}

	placeholder := r.newPlaceholder()

	r.mu.Lock()
	r.entries = appendEntry(r.entries, Entry{
		Message: domain.Message{ID: placeholder, Text: text, By: domain.AuthorUser},
		Status:  StatusPending,
	})
	r.draft = ""
	op := r.beginLocked(OpSend, placeholder)
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()
	return r.dispatchSend(ctx, op, placeholder, text)
}

// Retry re-sends a failed entry in place.
func (r *Reconciler) Retry(ctx context.Context, placeholder string) error {
	r.mu.Lock()
	i := indexOf(r.entries, placeholder)
	if i < 0 {
		r.mu.Unlock()
		return ErrUnknownMessage
	}
	e := r.entries[i]
	if e.Status != StatusFailed {
		r.mu.Unlock()
		return ErrNotFailed
	}
	r.entries = mapEntry(r.entries, placeholder, func(e Entry) Entry {
		e.Status = StatusPending
		return e
	})
	op := r.beginLocked(OpSend, placeholder)
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()
	return r.dispatchSend(ctx, op, placeholder, e.Text)
}

// Discard drops a failed entry without contacting the server.
func (r *Reconciler) Discard(placeholder string) error {
	r.mu.Lock()
	i := indexOf(r.entries, placeholder)
	if i < 0 {
		r.mu.Unlock()
		return ErrUnknownMessage
	}
	if r.entries[i].Status != StatusFailed {
		r.mu.Unlock()
		return ErrNotFailed
	}
	r.entries = removeEntry(r.entries, placeholder)
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()
	return nil
}

func (r *Reconciler) dispatchSend(ctx context.Context, op *Op, placeholder, text string) error {
	resp, err := r.backend.SendMessage(ctx, chatbot.SendRequest{Text: text, UserID: r.userID})
	if err != nil {
		r.logger.Warn("Chatbot send failed", "placeholder_id", placeholder, "error", err)

		r.mu.Lock()
		r.entries = mapEntry(r.entries, placeholder, func(e Entry) Entry {
			e.Status = StatusFailed
			return e
		})
		r.settleLocked(op, StatusFailed)
		notify := r.publishLocked()
		r.mu.Unlock()

		notify()
		return fmt.Errorf("send message: %w", err)
	}

	r.mu.Lock()
	r.entries = reidEntry(r.entries, placeholder, resp.UserMessageID, StatusConfirmed)
	r.entries = appendEntry(r.entries, botEntry(resp.BotResponseID, resp.Message))
	r.settleLocked(op, StatusConfirmed)
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()
	return nil
}

// Delete removes a confirmed entry once the server confirms the deletion.
// The entry stays visible until then and is untouched on failure.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	i := indexOf(r.entries, id)
	if i < 0 {
		r.mu.Unlock()
		return ErrUnknownMessage
	}
	if r.entries[i].Status != StatusConfirmed {
		r.mu.Unlock()
		return ErrNotConfirmed
	}
	op := r.beginLocked(OpDelete, id)
	r.mu.Unlock()

	if err := r.backend.DeleteMessage(ctx, chatbot.DeleteRequest{MessageID: id, UserID: r.userID}); err != nil {
		r.logger.Warn("Chatbot delete failed", "message_id", id, "error", err)
		r.mu.Lock()
		r.settleLocked(op, StatusFailed)
		r.mu.Unlock()
		return fmt.Errorf("delete message: %w", err)
	}

	r.mu.Lock()
	r.entries = removeEntry(r.entries, id)
	if r.editTarget == id {
		r.editTarget = ""
	}
	r.settleLocked(op, StatusConfirmed)
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()
	return nil
}

// Edit leaves edit mode immediately, then posts newText. The entry's text
// changes only after the server confirms, followed by the new bot reply.
func (r *Reconciler) Edit(ctx context.Context, id, newText string) error {
	if !domain.HasContent(newText) {
		return ErrEmptyText
	}

	r.mu.Lock()
	cleared := r.editTarget != ""
	r.editTarget = ""
	if _, err := r.editableLocked(id); err != nil {
		var notify func()
		if cleared {
			notify = r.publishLocked()
		}
		r.mu.Unlock()
		if notify != nil {
			notify()
		}
		return err
	}
	op := r.beginLocked(OpEdit, id)
	notify := r.publishLocked()
	r.mu.Unlock()

	notify()

	resp, err := r.backend.EditMessage(ctx, chatbot.EditRequest{MessageID: id, NewText: newText, UserID: r.userID})
	if err != nil {
		r.logger.Warn("Chatbot edit failed", "message_id", id, "error", err)
		r.mu.Lock()
		r.settleLocked(op, StatusFailed)
		r.mu.Unlock()
		return fmt.Errorf("edit message: %w", err)
	}

	r.mu.Lock()
	r.entries = mapEntry(r.entries, id, func(e Entry) Entry {
		e.Text = newText
		return e
	})
	r.entries = appendEntry(r.entries, botEntry(resp.BotResponseID, resp.Message))
	r.settleLocked(op, StatusConfirmed)
	notify = r.publishLocked()
	r.mu.Unlock()

	notify()
	return nil
}

func botEntry(id, text string) Entry {
	return Entry{
		Message: domain.Message{ID: id, Text: text, By: domain.AuthorBot},
		Status:  StatusConfirmed,
	}
}

func (r *Reconciler) editableLocked(id string) (Entry, error) {
	i := indexOf(r.entries, id)
	if i < 0 {
		return Entry{}, ErrUnknownMessage
	}
	e := r.entries[i]
	if e.Status != StatusConfirmed {
		return Entry{}, ErrNotConfirmed
	}
	if e.By != domain.AuthorUser {
		return Entry{}, ErrNotEditable
	}
	return e, nil
}

func (r *Reconciler) beginLocked(kind OpKind, target string) *Op {
	r.seq++
	op := &Op{Seq: r.seq, Kind: kind, Target: target, State: StatusPending}
	r.ops[op.Seq] = op
	return op
}

func (r *Reconciler) settleLocked(op *Op, state Status) {
	op.State = state
	delete(r.ops, op.Seq)
}

// publishLocked bumps the version and returns a func that delivers the new
// snapshot to listeners. Call it after releasing r.mu.
func (r *Reconciler) publishLocked() func() {
	r.version++
	version := r.version
	entries := r.entries[:len(r.entries):len(r.entries)]

	if len(r.listeners) == 0 {
		return func() {}
	}
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	return func() {
		for _, l := range listeners {
			l(version, entries)
		}
	}
}
