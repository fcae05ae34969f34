package router

import (
	"log/slog"

	"github.com/m3rciful/drawbot/core/logger"
	tg "github.com/m3rciful/drawbot/core/telegram"
	"github.com/m3rciful/drawbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes binds every registered command and its slash aliases.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}
	admin := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	var routes []tg.Route
	for name, def := range reg.Commands() {
		handlerName := normalizeHandlerName(name)
		cmd := def.Handler
		h := func(c tele.Context) error {
			return handleWithSummary(c, handlerName, func() error { return cmd(c) })
		}
		if def.AdminOnly {
			h = admin(h)
		}
		h = middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
		routes = append(routes, tg.Route{Endpoint: name, Handler: h})
		for _, alias := range def.Aliases {
			routes = append(routes, tg.Route{Endpoint: "/" + alias, Handler: h})
		}
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(reg.Commands())),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}
