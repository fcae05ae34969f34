package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/telegram/state"
	"github.com/m3rciful/drawbot/internal/apperr"
	"github.com/m3rciful/drawbot/internal/registration"
)

// StepInput is what a step sees of the turn.
type StepInput struct {
	SessionID int64
	State     state.State
	Text      string
	// IDs are the document identifiers stored by the first step.
	IDs registration.Identifiers
}

// StepResult is an accepted step: the value to store and where to go next.
type StepResult struct {
	Field  string
	Value  string
	Next   state.State
	IDs    registration.Identifiers
	Number *int
}

// StepFunc runs one step. Domain errors keep the user on the step.
type StepFunc func(ctx context.Context, in StepInput) (StepResult, error)

// Interceptor wraps a step with cross-cutting behaviour.
type Interceptor func(next StepFunc) StepFunc

// Chain wraps fn so that the first interceptor runs outermost.
func Chain(fn StepFunc, interceptors ...Interceptor) StepFunc {
	for i := len(interceptors) - 1; i >= 0; i-- {
		if interceptors[i] != nil {
			fn = interceptors[i](fn)
		}
	}
	return fn
}

// WithTimeout bounds every step by d.
func WithTimeout(d time.Duration) Interceptor {
	return func(next StepFunc) StepFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, in StepInput) (StepResult, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, in)
		}
	}
}

// StepObserver receives the result of every step.
type StepObserver func(step string, outcome string, took time.Duration)

// WithObserver reports each step's outcome, typically to metrics.
func WithObserver(obs StepObserver) Interceptor {
	return func(next StepFunc) StepFunc {
		if obs == nil {
			return next
		}
		return func(ctx context.Context, in StepInput) (StepResult, error) {
			start := time.Now()
			res, err := next(ctx, in)
			obs(string(in.State), stepOutcome(err), time.Since(start))
			return res, err
		}
	}
}

// WithLogging logs one line per step.
func WithLogging() Interceptor {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, in StepInput) (StepResult, error) {
			start := time.Now()
			res, err := next(ctx, in)
			attrs := []slog.Attr{
				slog.String("status", logger.Status(err)),
				slog.String("state", string(in.State)),
				slog.String("outcome", stepOutcome(err)),
				slog.Duration("duration", logger.Took(start)),
			}
			if err == nil {
				attrs = append(attrs, slog.String("next_state", string(res.Next)))
				logger.Info(ctx, "conversation", "step.done", attrs...)
				return res, err
			}
			attrs = append(attrs,
				slog.String("err_kind", string(apperr.KindOf(err))),
				slog.String("err", logger.SanitizeLimit(err.Error(), 200)),
			)
			if apperr.IsDomain(err) {
				logger.Info(ctx, "conversation", "step.rejected", attrs...)
			} else {
				logger.Warn(ctx, "conversation", "step.fail", attrs...)
			}
			return res, err
		}
	}
}

func stepOutcome(err error) string {
	switch {
	case err == nil:
		return "advanced"
	case apperr.IsDomain(err):
		return "rejected"
	}
	return "fail"
}
