package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/drawbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// recentUpdates remembers update ids for a short while so the receipt line is
// written once even when the middleware wraps several branches.
type recentUpdates struct {
	mu      sync.Mutex
	seen    map[int]time.Time
	keepFor time.Duration
}

var recent = &recentUpdates{seen: make(map[int]time.Time), keepFor: 10 * time.Second}

func (r *recentUpdates) firstTime(updateID int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ts := range r.seen {
		if now.Sub(ts) > r.keepFor {
			delete(r.seen, id)
		}
	}
	if _, ok := r.seen[updateID]; ok {
		return false
	}
	r.seen[updateID] = now
	return true
}

// LoggerMiddleware sets the rid, stores the logging context on the update and
// writes one sampled debug line per received update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		chatID, userID := tghelpers.IDs(c)

		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)

		ctx := logger.WithRID(logger.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.Component("tg"))
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() && recent.firstTime(upd.ID, time.Now()) {
			attrs := []slog.Attr{slog.String("status", "ok")}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if u := c.Sender(); u != nil && u.Username != "" {
				attrs = append(attrs, slog.String("username", logger.SanitizeLimit(u.Username, 64)))
			}
			switch {
			case upd.Callback != nil:
				key, payload := callbacks.Parse(upd.Callback)
				attrs = append(attrs,
					slog.String("cb_key", logger.SanitizeLimit(key, 128)),
					slog.String("payload", logger.SanitizeLimit(payload, 256)),
				)
			case upd.Message != nil:
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(c.Text(), 256)))
			}
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)
		}
		return next(c)
	}
}
