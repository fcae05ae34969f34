package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/drawbot/core/buildinfo"
	"github.com/m3rciful/drawbot/core/logger"
	coretelegram "github.com/m3rciful/drawbot/core/telegram"
	"github.com/m3rciful/drawbot/core/telegram/callbacks"
	"github.com/m3rciful/drawbot/core/telegram/commands"
	"github.com/m3rciful/drawbot/core/telegram/format"
	tghelpers "github.com/m3rciful/drawbot/core/telegram/helpers"
	"github.com/m3rciful/drawbot/core/telegram/sender"
	"github.com/m3rciful/drawbot/core/telegram/state"
	"github.com/m3rciful/drawbot/internal/conversation"

	tele "gopkg.in/telebot.v4"
)

// Conversation is the registration flow as the handlers drive it.
type Conversation interface {
	Start(ctx context.Context, sid int64) error
	HandleText(ctx context.Context, sid int64, text string) (conversation.Turn, error)
	RequestCancel(ctx context.Context, sid int64) (conversation.Turn, error)
	ResolveCancel(ctx context.Context, sid int64, finish bool) (conversation.Turn, error)
	InProgress(ctx context.Context, sid int64) bool
}

// Recorder receives finished conversations.
type Recorder interface {
	RecordRegistration(outcome string)
}

// Options configure Handlers.
type Options struct {
	AdminID   int64
	Transport *Transport
	// Sessions is counted by /status when it implements state.ActiveCounter.
	Sessions state.Store
	// Strategy reports the handle verification strategy for /status.
	Strategy func() string
	Recorder Recorder
}

// Handlers are the Telegram entry points of the conversation.
type Handlers struct {
	conv    Conversation
	opts    Options
	started time.Time
	disp    atomic.Pointer[sender.Dispatcher]
}

// NewHandlers builds the handlers around conv.
func NewHandlers(conv Conversation, opts Options) *Handlers {
	if opts.Transport == nil {
		opts.Transport = &Transport{}
	}
	return &Handlers{conv: conv, opts: opts, started: time.Now()}
}

// Bind attaches the running bot and its outbound dispatcher. It fits
// RunOptions.OnStart.
func (h *Handlers) Bind(_ context.Context, rt coretelegram.Runtime) error {
	h.opts.Transport.Bind(rt.Bot)
	h.disp.Store(rt.Dispatcher)
	return nil
}

// Register adds the bot's commands and callbacks to reg. Text outside a
// registration reaches UnknownText through the text router.
func (h *Handlers) Register(reg *coretelegram.Registry) error {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     h.start,
		Description: "Запустить бота",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     h.cancel,
		Description: "Отменить текущее действие",
		Aliases:     []string{"exit", "stop", "quit"},
	})
	reg.RegisterCommand("/status", commands.Command{
		Handler:     h.status,
		Description: "Состояние бота",
		AdminOnly:   true,
	})
	return reg.RegisterCallback(conversation.CancelAction, h.cancelAnswer)
}

// InProgress implements router.FSM.
func (h *Handlers) InProgress(ctx context.Context, chatID int64) bool {
	return h.conv.InProgress(ctx, chatID)
}

// ManagerHandler implements router.FSM: text inside a registration.
func (h *Handlers) ManagerHandler(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "conversation")
	sid, _ := tghelpers.IDs(c)
	text := c.Text()
	if isFinish(text) {
		_, err := h.conv.RequestCancel(ctx, sid)
		return h.report(ctx, sid, err)
	}
	turn, err := h.conv.HandleText(ctx, sid, text)
	h.record(turn)
	return h.report(ctx, sid, err)
}

func (h *Handlers) start(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "start")
	sid, _ := tghelpers.IDs(c)
	return h.report(ctx, sid, h.conv.Start(ctx, sid))
}

func (h *Handlers) cancel(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "cancel")
	sid, _ := tghelpers.IDs(c)
	_, err := h.conv.RequestCancel(ctx, sid)
	return h.report(ctx, sid, err)
}

// idleText handles text outside a registration: the begin button, the
// finish button or anything else.
func (h *Handlers) idleText(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "idle")
	sid, _ := tghelpers.IDs(c)
	if isFinish(c.Text()) {
		_, err := h.conv.RequestCancel(ctx, sid)
		return h.report(ctx, sid, err)
	}
	turn, err := h.conv.HandleText(ctx, sid, c.Text())
	h.record(turn)
	return h.report(ctx, sid, err)
}

func (h *Handlers) cancelAnswer(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "cancel_answer")
	sid, _ := tghelpers.IDs(c)
	finish := callbacks.Payload(c) == conversation.CancelFinish
	turn, err := h.conv.ResolveCancel(ctx, sid, finish)
	h.record(turn)
	return h.report(ctx, sid, err)
}

func (h *Handlers) status(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "status")
	active := "n/a"
	if counter, ok := h.opts.Sessions.(state.ActiveCounter); ok {
		if n, err := counter.Active(ctx); err == nil {
			active = fmt.Sprint(n)
		} else {
			logger.Warn(ctx, "bot", "status.active.fail", slog.String("err", err.Error()))
		}
	}
	strategy := "n/a"
	if h.opts.Strategy != nil {
		strategy = h.opts.Strategy()
	}
	var sent, sendErrors uint64
	if d := h.disp.Load(); d != nil {
		sent, sendErrors = d.SentCount(), d.ErrorCount()
	}

	esc := format.EscapeMarkdownV2
	text := strings.Join([]string{
		"*drawbot* " + esc(buildinfo.String()),
		"Активных регистраций: " + esc(active),
		"Проверка Instagram: " + esc(strategy),
		"Отправлено: " + esc(fmt.Sprint(sent)) + ", ошибок: " + esc(fmt.Sprint(sendErrors)),
		"Время работы: " + esc(time.Since(h.started).Round(time.Second).String()),
	}, "\n")
	return tghelpers.Reply(c, h.disp.Load(), text, &tele.SendOptions{ParseMode: tele.ModeMarkdownV2})
}

func (h *Handlers) record(turn conversation.Turn) {
	if h.opts.Recorder == nil {
		return
	}
	switch turn.Outcome {
	case conversation.OutcomeCompleted, conversation.OutcomeCancelled:
		h.opts.Recorder.RecordRegistration(string(turn.Outcome))
	}
}

func isFinish(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), conversation.FinishButton)
}
