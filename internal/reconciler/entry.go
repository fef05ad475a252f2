package reconciler

import "github.com/ashureev/chatbox/internal/domain"

// Status is the reconciliation state of an entry or an operation.
type Status string

const (
	// StatusPending means a round trip is in flight.
	StatusPending Status = "pending"
	// StatusConfirmed means the server acknowledged the entry or operation.
	StatusConfirmed Status = "confirmed"
	// StatusFailed means the round trip failed and was abandoned.
	StatusFailed Status = "failed"
)

// Entry is a message as displayed, with its reconciliation status.
type Entry struct {
	domain.Message
	Status Status `json:"status"`
}

// The helpers below never modify their input: every patch produces a new
// slice, so previously published snapshots stay valid.

func confirmedEntries(msgs []domain.Message) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = appendEntry(out, Entry{Message: m, Status: StatusConfirmed})
	}
	return out
}

func indexOf(list []Entry, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// mapEntry returns a copy of list with the entry holding id replaced by fn(entry).
func mapEntry(list []Entry, id string, fn func(Entry) Entry) []Entry {
	out := make([]Entry, len(list))
	for i, e := range list {
		if e.ID == id {
			e = fn(e)
		}
		out[i] = e
	}
	return out
}

// removeEntry returns a copy of list without the entry holding id.
func removeEntry(list []Entry, id string) []Entry {
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// appendEntry returns a copy of list with e at the end. Any other entry
// holding e.ID is dropped so an id is never held twice.
func appendEntry(list []Entry, e Entry) []Entry {
	out := make([]Entry, 0, len(list)+1)
	for _, existing := range list {
		if existing.ID != e.ID {
			out = append(out, existing)
		}
	}
	return append(out, e)
}

// reidEntry returns a copy of list where the entry holding from now holds to.
// Another entry already holding to is dropped.
func reidEntry(list []Entry, from, to string, status Status) []Entry {
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		switch e.ID {
		case to:
			if from != to {
				continue
			}
			e.Status = status
		case from:
			e.ID = to
			e.Status = status
		}
		out = append(out, e)
	}
	return out
}
