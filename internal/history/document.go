// Package history reads and writes the per-user message document.
//
// The canonical document shape is
//
//	{"messages": {"<id>": {"text": "...", "by": "user|bot"}}}
//
// Older documents stored the id->record mapping at the document root. Those
// are still accepted on read and rewritten in canonical shape.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ashureev/chatbox/internal/domain"
)

var (
	// ErrNoUser is returned when an operation is attempted without a user id.
	ErrNoUser = errors.New("user id is required")
	// ErrCorruptDocument is returned when a stored document cannot be decoded.
	ErrCorruptDocument = errors.New("corrupt message document")
	// ErrMessageNotFound is returned when a message id is not in the document.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotEditable is returned when editing a message the user did not write.
	ErrNotEditable = errors.New("only user messages can be edited")
)

const messagesField = "messages"

// Record is one stored message. The id is the key it is stored under.
type Record struct {
	Text string        `json:"text"`
	By   domain.Author `json:"by"`
}

// Document is the decoded per-user message document.
type Document struct {
	Messages map[string]Record `json:"messages"`
}

// Decode parses a stored document in either shape. legacy is true when the
// body used the flat root mapping.
func Decode(body []byte) (doc Document, legacy bool, err error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return Document{}, false, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	doc.Messages = make(map[string]Record)
	if raw, ok := top[messagesField]; ok {
		var records map[string]Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return Document{}, false, fmt.Errorf("%w: messages field: %v", ErrCorruptDocument, err)
		}
		for id, rec := range records {
			doc.Messages[id] = rec
		}
	} else {
		legacy = len(top) > 0
		for id, raw := range top {
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return Document{}, false, fmt.Errorf("%w: entry %q: %v", ErrCorruptDocument, id, err)
			}
			doc.Messages[id] = rec
		}
	}

	for id, rec := range doc.Messages {
		if !rec.By.Valid() {
			return Document{}, false, fmt.Errorf("%w: entry %q has unknown author %q", ErrCorruptDocument, id, rec.By)
		}
	}
	return doc, legacy, nil
}

// Encode serializes the document in canonical shape.
func (d Document) Encode() ([]byte, error) {
	if d.Messages == nil {
		d.Messages = map[string]Record{}
	}
	return json.Marshal(d)
}

// Sorted returns the messages ordered by numeric id ascending. Keys that are
// not decimal integers sort after all numeric keys, in lexical order.
func (d Document) Sorted() []domain.Message {
	out := make([]domain.Message, 0, len(d.Messages))
	for id, rec := range d.Messages {
		out = append(out, domain.Message{ID: id, Text: rec.Text, By: rec.By})
	}
	sort.Slice(out, func(i, j int) bool {
		return lessID(out[i].ID, out[j].ID)
	})
	return out
}

// NextID returns a fresh numeric id: the current unix millisecond time, or one
// past the largest numeric id already present, whichever is greater.
func (d Document) NextID(now time.Time) string {
	next := uint64(now.UnixMilli())
	for id := range d.Messages {
		if n, err := strconv.ParseUint(id, 10, 64); err == nil && n >= next {
			next = n + 1
		}
	}
	return strconv.FormatUint(next, 10)
}

func lessID(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
