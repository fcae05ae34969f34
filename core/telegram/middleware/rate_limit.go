package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	tghelpers "github.com/m3rciful/drawbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// RateLimitMiddleware drops updates that arrive sooner than Interval after the
// previous update from the same user.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	var (
		mu       sync.Mutex
		lastSeen = make(map[int64]time.Time)
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c)]; skip {
				return next(c)
			}

			now := time.Now()
			mu.Lock()
			last, ok := lastSeen[user.ID]
			limited := ok && now.Sub(last) < opts.Interval
			if !limited {
				lastSeen[user.ID] = now
			}
			if len(lastSeen) > 10_000 {
				for id, ts := range lastSeen {
					if now.Sub(ts) > opts.Interval {
						delete(lastSeen, id)
					}
				}
			}
			mu.Unlock()

			if !limited {
				return next(c)
			}
			logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
				slog.String("status", "rate_limited"),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
