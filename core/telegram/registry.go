package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry holds bot commands, callbacks and the text fallback.
// Commands are registered during wiring; callbacks may be added at any time.
type Registry struct {
	commands map[string]commands.Command

	callbacksMu      sync.RWMutex
	callbacks        map[string]tele.HandlerFunc
	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
}

// NewRegistry creates an empty Registry with a default unknown-callback answer.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Действие недоступно"})
		},
	}
}

func warnWire(event string, attrs ...slog.Attr) {
	logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, event, attrs...)
}

// RegisterCommand adds a command. Names must start with a slash.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	switch {
	case name == "" || cmd.Handler == nil || cmd.Description == "":
		warnWire("register.command.skip", slog.String("name", name), slog.String("cause", "invalid"))
	case name[0] != '/':
		warnWire("register.command.skip", slog.String("name", name), slog.String("cause", "no_slash_prefix"))
	default:
		if _, exists := r.commands[name]; exists {
			warnWire("register.command.duplicate", slog.String("name", name))
			return
		}
		r.commands[name] = cmd
	}
}

// ListCommands returns the command menu, optionally without hidden and admin-only entries.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	var list []tele.Command
	for name, meta := range r.commands {
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: meta.Description})
	}
	slices.SortFunc(list, func(a, b tele.Command) int { return strings.Compare(a.Text, b.Text) })
	return list
}

// LookupCommand finds a command by name or alias, with or without the slash,
// case-insensitively. It returns the canonical name.
func (r *Registry) LookupCommand(text string) (string, commands.Command, bool) {
	name := strings.ToLower(strings.TrimSpace(text))
	if name == "" {
		return "", commands.Command{}, false
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if "/"+strings.ToLower(alias) == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// Commands returns all registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	return r.commands
}

// RegisterCallback maps a callback unique key to handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		warnWire("register.callback.skip", slog.String("cb_key", key))
		return errors.New("invalid callback registration")
	}
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		warnWire("register.callback.duplicate", slog.String("cb_key", key))
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler registered for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the sorted callback keys.
func (r *Registry) ListCallbacks() []string {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// SetCallbackNotFound replaces the handler for unknown callbacks.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h != nil {
		r.callbackNotFound = h
	}
}

// CallbackNotFound returns the handler for unknown callbacks.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	return r.callbackNotFound
}

// SetTextFallback sets the handler for text that matches nothing else.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) {
	r.textFallback = h
}

// TextFallback returns the handler for text that matches nothing else.
func (r *Registry) TextFallback() tele.HandlerFunc {
	return r.textFallback
}

// InitBotCommands publishes the visible commands to the Telegram command menu.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	if err := bot.SetCommands(reg.ListCommands(true)); err != nil {
		logger.TWire.LogAttrs(context.Background(), slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
	}
}
