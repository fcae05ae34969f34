package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
)

// ErrNilSession is returned when a store is asked to persist nothing.
var ErrNilSession = errors.New("state: nil session")

// Field is one collected value. Sessions keep fields in the order they were added.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Session stores conversation state and collected data for a chat.
type Session struct {
	State     State                      `json:"state"`
	Fields    []Field                    `json:"fields,omitempty"`
	TempData  map[string]json.RawMessage `json:"temp_data,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// NewSession returns an idle session stamped with now.
func NewSession(now time.Time) *Session {
	return &Session{State: StateIdle, CreatedAt: now, UpdatedAt: now}
}

// Value returns the collected value stored under name.
func (s *Session) Value(name string) (string, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Put records value under name, replacing an earlier value in place.
func (s *Session) Put(name, value string) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			s.Fields[i].Value = value
			return
		}
	}
	s.Fields = append(s.Fields, Field{Name: name, Value: value})
}

// SetTemp stores v as JSON under key.
func (s *Session) SetTemp(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode temp %q: %w", key, err)
	}
	if s.TempData == nil {
		s.TempData = make(map[string]json.RawMessage)
	}
	s.TempData[key] = raw
	return nil
}

// Temp decodes the value stored under key into out and reports whether it existed.
func (s *Session) Temp(key string, out any) (bool, error) {
	raw, ok := s.TempData[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("state: decode temp %q: %w", key, err)
	}
	return true, nil
}

// Clone returns a deep copy so callers can mutate it without touching the stored value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Fields = slices.Clone(s.Fields)
	if s.TempData != nil {
		out.TempData = make(map[string]json.RawMessage, len(s.TempData))
		for k, v := range s.TempData {
			out.TempData[k] = slices.Clone(v)
		}
	}
	return &out
}

// Snapshot returns the collected fields as a map.
func (s *Session) Snapshot() map[string]string {
	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.Value
	}
	return out
}

// Store persists sessions keyed by chat id.
// Get reports ok=false when nothing is stored for id.
type Store interface {
	Get(ctx context.Context, id int64) (*Session, bool, error)
	Set(ctx context.Context, id int64, s *Session) error
	Clear(ctx context.Context, id int64) error
}

// ActiveCounter is implemented by stores that can count sessions outside the idle state.
type ActiveCounter interface {
	Active(ctx context.Context) (int, error)
}
