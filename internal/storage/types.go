package storage

import (
	"context"
	"time"
)

// Attribute keys used by the conversation flow.
const (
	AttrRecipients = "list_of_users"
	AttrMessage    = "message"
)

// StateStart is the initial conversation state tag.
const StateStart = "start"

// Record is one conversation's durable state: the current state tag plus a
// free-form attribute map. Absent attribute keys mean "not yet collected".
type Record struct {
	State string         `json:"state"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// NewRecord returns the initial record (state=start, no attributes).
func NewRecord() Record {
	return Record{State: StateStart}
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's in-memory view.
func (r Record) Clone() Record {
	cp := Record{State: r.State}
	if r.Attrs != nil {
		cp.Attrs = make(map[string]any, len(r.Attrs))
		for k, v := range r.Attrs {
			if vs, ok := v.([]string); ok {
				v = append([]string(nil), vs...)
			}
			cp.Attrs[k] = v
		}
	}
	return cp
}

func (r *Record) set(key string, v any) {
	if r.Attrs == nil {
		r.Attrs = map[string]any{}
	}
	r.Attrs[key] = v
}

// Recipients returns the stored recipient list, if any.
//
// Values that went through a JSON round trip come back as []any, so both
// representations are accepted.
func (r Record) Recipients() ([]string, bool) {
	v, ok := r.Attrs[AttrRecipients]
	if !ok {
		return nil, false
	}
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, false
		}
		return append([]string(nil), x...), true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

func (r *Record) SetRecipients(users []string) {
	r.set(AttrRecipients, append([]string(nil), users...))
}

// Message returns the stored message body, if any.
func (r Record) Message() (string, bool) {
	s, ok := r.Attrs[AttrMessage].(string)
	return s, ok && s != ""
}

func (r *Record) SetMessage(text string) {
	r.set(AttrMessage, text)
}

// Store is the durable conversation state store.
//
// Implementations must be safe for concurrent use across different keys; the
// caller guarantees at most one in-flight mutation per key.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
