package router

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	tghelpers "github.com/m3rciful/drawbot/core/telegram/helpers"
	"github.com/m3rciful/drawbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// handleWithSummary runs fn under handlerName and writes one summary line.
func handleWithSummary(c tele.Context, handlerName string, fn func() error, extras ...slog.Attr) error {
	start := time.Now()
	tghelpers.WithHandler(c, handlerName)
	err := fn()
	logHandlerSummary(c, handlerName, start, "", err, extras...)
	return err
}

func logHandlerSummary(c tele.Context, handlerName string, start time.Time, status string, err error, extras ...slog.Attr) {
	ctx := tghelpers.WithHandler(c, handlerName)
	msgs, kb := middleware.GetCounters(c)

	if status == "" {
		status = logger.Status(err)
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("outcome", logger.Status(err)),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.Component("tg"), slog.LevelInfo, "handler.handled", append(attrs, extras...)...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// errorCode prefers a Kind() or Code() reported anywhere in the error chain.
func errorCode(err error) string {
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		if code := strings.TrimSpace(coder.Code()); code != "" {
			return strings.ToUpper(code)
		}
	}
	return "UNCLASSIFIED"
}
