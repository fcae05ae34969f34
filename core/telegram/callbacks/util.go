// Package callbacks decodes inline button callback data.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Parse splits Telebot's "\f<unique>|<payload>" encoding. Callbacks that
// already carry Unique return it with the raw data as payload.
func Parse(cb *tele.Callback) (key, payload string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	key, payload, _ = strings.Cut(raw, "|")
	return strings.TrimSpace(key), payload
}

// Key returns the unique part of the current callback.
func Key(c tele.Context) string {
	key, _ := Parse(c.Callback())
	return key
}

// Payload returns the data part of the current callback.
func Payload(c tele.Context) string {
	_, payload := Parse(c.Callback())
	return payload
}
