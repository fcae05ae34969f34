package router

import (
	"context"
	"time"

	tg "github.com/m3rciful/drawbot/core/telegram"
	tghelpers "github.com/m3rciful/drawbot/core/telegram/helpers"
	"github.com/m3rciful/drawbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM is the conversation the text router hands updates to.
type FSM interface {
	InProgress(ctx context.Context, chatID int64) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text/document updates.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds the text and document handlers. An active conversation
// wins over command aliases typed as plain text, which win over fallbacks.
func TextRoutes(fsm FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	inProgress := func(c tele.Context) bool {
		chatID, _ := tghelpers.IDs(c)
		return fsm != nil && chatID != 0 && fsm.InProgress(tghelpers.BuildContext(c), chatID)
	}

	text := func(c tele.Context) error {
		if inProgress(c) {
			return handleWithSummary(c, "fsm", func() error { return fsm.ManagerHandler(c) })
		}
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), func() error { return cmd.Handler(c) })
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", func() error { return fb(c) })
			}
		}
		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", func() error { return opts.UnknownText(c) })
		}
		logHandlerSummary(c, "unknown_text", time.Now(), "skip", nil)
		return nil
	}

	document := func(c tele.Context) error {
		if inProgress(c) {
			return handleWithSummary(c, "fsm_document", func() error { return fsm.ManagerHandler(c) })
		}
		if opts.UnknownDocument != nil {
			return handleWithSummary(c, "unexpected_document", func() error { return opts.UnknownDocument(c) })
		}
		logHandlerSummary(c, "unexpected_document", time.Now(), "skip", nil)
		return nil
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(text)},
		{Endpoint: tele.OnDocument, Handler: wrap(document)},
	}
}
