package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/chatbox/internal/docstore"
	"github.com/ashureev/chatbox/internal/domain"
)

// Journal is the server-side writer of per-user message documents.
type Journal struct {
	store      docstore.Store
	collection string
	now        func() time.Time
}

// NewJournal creates a journal writing to collection (DefaultCollection when empty).
func NewJournal(store docstore.Store, collection string) *Journal {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Journal{store: store, collection: collection, now: time.Now}
}

// mutate decodes the user's document (empty when missing), applies fn and
// writes the result back in canonical shape.
func (j *Journal) mutate(ctx context.Context, userID string, fn func(doc *Document) error) error {
	if userID == "" {
		return ErrNoUser
	}
	return j.store.Update(ctx, j.collection, userID, func(current []byte, exists bool) ([]byte, error) {
		doc := Document{Messages: map[string]Record{}}
		if exists {
			var err error
			if doc, _, err = Decode(current); err != nil {
				return nil, err
			}
		}
		if err := fn(&doc); err != nil {
			return nil, err
		}
		return doc.Encode()
	})
}

// Append stores records in order within one update and returns their ids.
func (j *Journal) Append(ctx context.Context, userID string, records ...Record) ([]string, error) {
	for _, rec := range records {
		if !rec.By.Valid() {
			return nil, fmt.Errorf("append message: unknown author %q", rec.By)
		}
	}

	var ids []string
	err := j.mutate(ctx, userID, func(doc *Document) error {
		ids = ids[:0]
		for _, rec := range records {
			id := doc.NextID(j.now())
			doc.Messages[id] = rec
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return ids, nil
}

// Revise replaces the text of a user-authored message and appends reply,
// both in one update. It returns the id of the stored reply.
func (j *Journal) Revise(ctx context.Context, userID, messageID, text string, reply Record) (string, error) {
	if !reply.By.Valid() {
		return "", fmt.Errorf("edit message %s: unknown author %q", messageID, reply.By)
	}

	var replyID string
	err := j.mutate(ctx, userID, func(doc *Document) error {
		rec, err := editable(doc.Messages, messageID)
		if err != nil {
			return err
		}
		rec.Text = text
		doc.Messages[messageID] = rec
		replyID = doc.NextID(j.now())
		doc.Messages[replyID] = reply
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return replyID, nil
}

// CheckEditable reports whether messageID can be edited, without writing.
func CheckEditable(msgs []domain.Message, messageID string) error {
	for _, m := range msgs {
		if m.ID != messageID {
			continue
		}
		if m.By != domain.AuthorUser {
			return fmt.Errorf("edit message %s: %w", messageID, ErrNotEditable)
		}
		return nil
	}
	return fmt.Errorf("edit message %s: %w", messageID, ErrMessageNotFound)
}

func editable(records map[string]Record, messageID string) (Record, error) {
	rec, ok := records[messageID]
	if !ok {
		return Record{}, ErrMessageNotFound
	}
	if rec.By != domain.AuthorUser {
		return Record{}, ErrNotEditable
	}
	return rec, nil
}

// Remove deletes a message from the document.
func (j *Journal) Remove(ctx context.Context, userID, messageID string) error {
	err := j.mutate(ctx, userID, func(doc *Document) error {
		if _, ok := doc.Messages[messageID]; !ok {
			return ErrMessageNotFound
		}
		delete(doc.Messages, messageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove message %s: %w", messageID, err)
	}
	return nil
}

// Messages returns the user's stored messages in order.
func (j *Journal) Messages(ctx context.Context, userID string) ([]domain.Message, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	body, err := j.store.Get(ctx, j.collection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	doc, _, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return doc.Sorted(), nil
}
