package callbacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name         string
		cb           *tele.Callback
		key, payload string
	}{
		{"nil", nil, "", ""},
		{"encoded", &tele.Callback{Data: "\fcancel|finish"}, "cancel", "finish"},
		{"no payload", &tele.Callback{Data: "\fcancel"}, "cancel", ""},
		{"unique set", &tele.Callback{Unique: "cancel", Data: "continue"}, "cancel", "continue"},
		{"pipe in payload", &tele.Callback{Data: "\fk|a|b"}, "k", "a|b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, payload := Parse(tc.cb)
			assert.Equal(t, tc.key, key)
			assert.Equal(t, tc.payload, payload)
		})
	}
}
