package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/drawbot/core/logger"
	tghelpers "github.com/m3rciful/drawbot/core/telegram/helpers"
	"github.com/m3rciful/drawbot/internal/apperr"

	tele "gopkg.in/telebot.v4"
)

const (
	msgTextOnly    = "Отправьте, пожалуйста, текстовое сообщение."
	msgUnavailable = "Действие недоступно"
)

// report logs errors meant for the operator and forwards them to the admin
// chat. The update counts as handled either way.
func (h *Handlers) report(ctx context.Context, sid int64, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if !apperr.Operator(err) {
		return nil
	}
	kind := apperr.KindOf(err)
	logger.Error(ctx, "bot", "operator.report",
		slog.String("err_kind", string(kind)),
		slog.Int64("chat_id", sid),
		slog.String("err", logger.SanitizeLimit(err.Error(), 300)),
	)
	if h.opts.AdminID == 0 {
		return nil
	}
	if nerr := tghelpers.Notify(ctx, h.opts.Transport.Bot(), h.disp.Load(), h.opts.AdminID, operatorText(ctx, sid, err)); nerr != nil {
		logger.Warn(ctx, "bot", "operator.notify.fail", slog.String("err", nerr.Error()))
	}
	return nil
}

func operatorText(ctx context.Context, sid int64, err error) string {
	return fmt.Sprintf("[%s] chat %d\nrid: %s\n%s",
		apperr.KindOf(err), sid, logger.RIDFrom(ctx), logger.SanitizeLimit(err.Error(), 300))
}

// UnknownText implements ui.FallbackProvider: text outside a registration.
func (h *Handlers) UnknownText() tele.HandlerFunc { return h.idleText }

// UnknownDocument implements ui.FallbackProvider.
func (h *Handlers) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Send(msgTextOnly)
	}
}

// UnknownCallback implements ui.FallbackProvider.
func (h *Handlers) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: msgUnavailable})
	}
}
