package middleware

import (
	"time"

	tele "gopkg.in/telebot.v4"
)

// metricsContext wraps tele.Context to count sent messages and keyboard use.
type metricsContext struct{ tele.Context }

func (m metricsContext) record(err error, opts []any) error {
	if err != nil {
		return err
	}
	n, _ := m.Get("messages").(int)
	m.Set("messages", n+1)
	if hasKeyboard(opts) {
		m.Set("kb", true)
	}
	return nil
}

func hasKeyboard(opts []any) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

// Send proxies tele.Context.Send while updating message counters.
func (m metricsContext) Send(what any, opts ...any) error {
	return m.record(m.Context.Send(what, opts...), opts)
}

// Reply proxies tele.Context.Reply while updating message counters.
func (m metricsContext) Reply(what any, opts ...any) error {
	return m.record(m.Context.Reply(what, opts...), opts)
}

// Edit proxies tele.Context.Edit while updating message counters.
func (m metricsContext) Edit(what any, opts ...any) error {
	return m.record(m.Context.Edit(what, opts...), opts)
}

// MessageMetricsMiddleware instruments the context to count replies per update.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set("messages", 0)
		c.Set("kb", false)
		return next(metricsContext{Context: c})
	}
}

// GetCounters reads the message count and keyboard flag for the update.
func GetCounters(c tele.Context) (int, bool) {
	msgs, _ := c.Get("messages").(int)
	kb, _ := c.Get("kb").(bool)
	return msgs, kb
}

// UpdateKind names the update for metrics and rate-limit exclusions.
func UpdateKind(c tele.Context) string {
	upd := c.Update()
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// Observer receives one call per handled update.
type Observer func(kind string, took time.Duration, err error)

// ObserveMiddleware reports every update to observe after the handler returns.
func ObserveMiddleware(observe Observer) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		if observe == nil {
			return next
		}
		return func(c tele.Context) error {
			start := time.Now()
			err := next(c)
			observe(UpdateKind(c), time.Since(start), err)
			return err
		}
	}
}
