package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/drawbot/core/config"
	"github.com/m3rciful/drawbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MiddlewareOptions carries the optional hooks of DefaultMiddlewares.
type MiddlewareOptions struct {
	OnLimited tele.HandlerFunc
	Observe   middleware.Observer
}

// DefaultMiddlewares builds the global middleware chain: recover, observe,
// rate limit (when configured), logging and reply counters.
func DefaultMiddlewares(cfg *coreconfig.Config, opts MiddlewareOptions) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}
	if opts.Observe != nil {
		mws = append(mws, Middleware{Name: "observe", Use: middleware.ObserveMiddleware(opts.Observe)})
	}

	if cfg != nil && cfg.RateLimit.IntervalMS > 0 {
		exclude := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
		for _, kind := range cfg.RateLimit.ExcludeUpdates {
			exclude[strings.ToLower(kind)] = struct{}{}
		}
		mws = append(mws, Middleware{
			Name: "rate_limit",
			Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
				Interval:  time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
				Exclude:   exclude,
				OnLimited: opts.OnLimited,
			}),
		})
	}

	return append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	)
}
