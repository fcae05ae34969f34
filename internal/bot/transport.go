// Package bot connects the registration conversation to Telegram.
package bot

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/m3rciful/drawbot/core/telegram/keyboard"
	"github.com/m3rciful/drawbot/internal/chat"

	tele "gopkg.in/telebot.v4"
)

var errNotBound = errors.New("bot: telegram client not started")

// Transport delivers conversation messages through a telebot client. It is
// usable once Bind has been called with the running bot.
type Transport struct {
	bot atomic.Pointer[tele.Bot]
}

// Bind attaches the running bot.
func (t *Transport) Bind(b *tele.Bot) { t.bot.Store(b) }

// Bot returns the bound bot, or nil.
func (t *Transport) Bot() *tele.Bot { return t.bot.Load() }

func (t *Transport) client(ctx context.Context) (*tele.Bot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := t.bot.Load()
	if b == nil {
		return nil, errNotBound
	}
	return b, nil
}

// DeliverText implements chat.Transport.
func (t *Transport) DeliverText(ctx context.Context, sid int64, msg chat.Message) (chat.MessageRef, error) {
	b, err := t.client(ctx)
	if err != nil {
		return chat.MessageRef{}, err
	}
	opts := &tele.SendOptions{ReplyMarkup: markup(msg.Keyboard), DisableWebPagePreview: true}
	if msg.Format == chat.HTML {
		opts.ParseMode = tele.ModeHTML
	}
	sent, err := b.Send(tele.ChatID(sid), msg.Text, opts)
	if err != nil {
		return chat.MessageRef{}, err
	}
	return ref(sid, sent), nil
}

// DeliverPhoto implements chat.Transport.
func (t *Transport) DeliverPhoto(ctx context.Context, sid int64, photo []byte) (chat.MessageRef, error) {
	b, err := t.client(ctx)
	if err != nil {
		return chat.MessageRef{}, err
	}
	sent, err := b.Send(tele.ChatID(sid), &tele.Photo{File: tele.FromReader(bytes.NewReader(photo))})
	if err != nil {
		return chat.MessageRef{}, err
	}
	return ref(sid, sent), nil
}

// DeleteMessage implements chat.Transport.
func (t *Transport) DeleteMessage(ctx context.Context, r chat.MessageRef) error {
	b, err := t.client(ctx)
	if err != nil {
		return err
	}
	err = b.Delete(tele.StoredMessage{MessageID: strconv.Itoa(r.MessageID), ChatID: r.ChatID})
	if isGone(err) {
		return chat.ErrAlreadyGone
	}
	return err
}

func ref(sid int64, m *tele.Message) chat.MessageRef {
	if m == nil {
		return chat.MessageRef{ChatID: sid}
	}
	out := chat.MessageRef{ChatID: sid, MessageID: m.ID}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
	}
	return out
}

// isGone reports Telegram's answers for a message that cannot be deleted anymore.
func isGone(err error) bool {
	var apiErr *tele.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	desc := strings.ToLower(apiErr.Description)
	return strings.Contains(desc, "message to delete not found") ||
		strings.Contains(desc, "message can't be deleted")
}

// markup converts a chat keyboard. The zero keyboard yields nil.
func markup(kb chat.Keyboard) *tele.ReplyMarkup {
	switch {
	case kb.Remove:
		return keyboard.RemoveKeyboard()
	case len(kb.Inline) > 0:
		rows := make([][]keyboard.InlineBtn, 0, len(kb.Inline))
		for _, row := range kb.Inline {
			r := make([]keyboard.InlineBtn, 0, len(row))
			for _, b := range row {
				r = append(r, keyboard.InlineBtn{Text: b.Text, Unique: b.Action, Data: b.Payload})
			}
			rows = append(rows, r)
		}
		return keyboard.InlineButtonsRows(rows...)
	case len(kb.Reply) > 0:
		m := keyboard.ReplyButtons(kb.Reply...)
		m.OneTimeKeyboard = true
		return m
	}
	return nil
}

var _ chat.Transport = (*Transport)(nil)
