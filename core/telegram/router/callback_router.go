package router

import (
	"log/slog"

	tg "github.com/m3rciful/drawbot/core/telegram"
	"github.com/m3rciful/drawbot/core/telegram/callbacks"
	"github.com/m3rciful/drawbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute dispatches every inline callback through the registry.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		key := callbacks.Key(c)
		name := "callback." + normalizeHandlerName(key)
		_ = c.Respond()

		h, ok := reg.GetCallback(key)
		if !ok {
			h = reg.CallbackNotFound()
			if opts.NotFound != nil {
				h = opts.NotFound
			}
			return handleWithSummary(c, name, func() error {
				if h == nil {
					return nil
				}
				return h(c)
			}, slog.String("cb_key", key), slog.String("cause", "not_found"))
		}
		return handleWithSummary(c, name, func() error { return h(c) }, slog.String("cb_key", key))
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
