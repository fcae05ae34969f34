package helpers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Reply sends text to the update's chat through d. With a nil dispatcher, or
// when the queue cannot take the job, it sends synchronously instead.
func Reply(c tele.Context, d *sender.Dispatcher, text string, opts ...any) error {
	run := func(context.Context) error { return c.Send(text, opts...) }
	if d == nil {
		return run(context.Background())
	}
	ctx := BuildContext(c)
	err := d.Enqueue(ctx, "send.text", run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", "send.text"),
			slog.String("err", err.Error()),
		)
		return run(ctx)
	}
	return err
}

// Notify queues text for recipient through d. It never blocks on the network.
func Notify(ctx context.Context, bot *tele.Bot, d *sender.Dispatcher, recipient int64, text string) error {
	if bot == nil || recipient == 0 {
		return nil
	}
	run := func(context.Context) error {
		_, err := bot.Send(tele.ChatID(recipient), text, &tele.SendOptions{DisableWebPagePreview: true})
		return err
	}
	if d == nil {
		return run(ctx)
	}
	return d.Enqueue(ctx, "send.operator", run)
}
