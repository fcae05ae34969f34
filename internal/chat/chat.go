// Package chat describes what the registration flow needs from a messenger.
package chat

import (
	"context"
	"errors"
)

// ErrAlreadyGone reports a message that was deleted already or can no longer
// be deleted. Callers treat it as done.
var ErrAlreadyGone = errors.New("chat: message already gone")

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is an inline button. Action and Payload come back on a press.
type Button struct {
	Text    string
	Action  string
	Payload string
}

// Keyboard is the markup attached to a message. The zero value leaves the
// current keyboard alone.
type Keyboard struct {
	Reply  [][]string
	Inline [][]Button
	Remove bool
}

// ReplyKeyboard is a one-row reply keyboard.
func ReplyKeyboard(buttons ...string) Keyboard {
	return Keyboard{Reply: [][]string{buttons}}
}

// Format selects how text is parsed by the messenger.
type Format int

const (
	Plain Format = iota
	HTML
)

// Message is an outbound text message.
type Message struct {
	Text     string
	Format   Format
	Keyboard Keyboard
}

// Transport delivers messages to a session's chat.
type Transport interface {
	DeliverText(ctx context.Context, sessionID int64, msg Message) (MessageRef, error)
	DeliverPhoto(ctx context.Context, sessionID int64, photo []byte) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}
