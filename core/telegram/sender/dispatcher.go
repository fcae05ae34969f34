// Package sender runs outbound Telegram calls on a small worker pool with retries.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/netutil"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
	// Retryable decides whether a failed attempt is repeated. Defaults to
	// transient network errors and Telegram flood control.
	Retryable func(error) bool
}

type job struct {
	ctx    context.Context
	action string
	run    func(context.Context) error
}

// Dispatcher executes outbound calls asynchronously with retries.
type Dispatcher struct {
	opts Options
	jobs chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	errs atomic.Uint64
	sent atomic.Uint64
}

// NewDispatcher starts a dispatcher, filling zero options with defaults.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	opts.MaxRetries = max(opts.MaxRetries, 0)
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}
	if opts.Retryable == nil {
		opts.Retryable = defaultRetryable
	}

	d := &Dispatcher{opts: opts, jobs: make(chan job, opts.QueueSize)}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go d.worker()
	}
	return d
}

// Enqueue schedules run for asynchronous execution. run must be idempotent
// when retries are enabled. The job keeps the values of ctx but not its
// cancellation, so it outlives the update that queued it.
func (d *Dispatcher) Enqueue(ctx context.Context, action string, run func(context.Context) error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: context.WithoutCancel(ctx), action: action, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of jobs that failed after all attempts.
func (d *Dispatcher) ErrorCount() uint64 { return d.errs.Load() }

// SentCount returns the number of jobs that eventually succeeded.
func (d *Dispatcher) SentCount() uint64 { return d.sent.Load() }

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handleJob(j)
	}
}

func (d *Dispatcher) handleJob(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var lastErr error
attemptLoop:
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = j.run(ctx)
		if lastErr == nil {
			d.sent.Add(1)
			logger.Debug(j.ctx, "tg.sender", "send.success",
				slog.String("action", j.action),
				slog.Int("attempts", attempt),
				slog.Duration("duration", logger.Took(start)),
			)
			return
		}
		if attempt == attempts || !d.opts.Retryable(lastErr) {
			break
		}
		delay := d.opts.RetryBackoff * time.Duration(attempt)
		if wait := floodDelay(lastErr); wait > delay {
			delay = wait
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = errors.Join(lastErr, ctx.Err())
			break attemptLoop
		case <-timer.C:
			logger.Debug(j.ctx, "tg.sender", "send.retry",
				slog.String("action", j.action),
				slog.Int("attempts", attempt),
				slog.Duration("backoff", delay),
			)
		}
	}

	d.errs.Add(1)
	logger.Error(j.ctx, "tg.sender", "send.fail",
		slog.String("status", "fail"),
		slog.String("action", j.action),
		slog.String("err", sanitizeErrorMessage(lastErr)),
		slog.String("err_kind", classifyError(lastErr)),
		slog.Duration("duration", logger.Took(start)),
	)
}

func defaultRetryable(err error) bool {
	var flood tele.FloodError
	return errors.As(err, &flood) || netutil.ShouldRetry(err)
}

func floodDelay(err error) time.Duration {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second
	}
	return 0
}

func classifyError(err error) string {
	var (
		apiErr *tele.Error
		flood  tele.FloodError
		dnsErr *net.DNSError
		opErr  *net.OpError
		netErr net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &flood):
		return "flood"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "dial"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &apiErr) && apiErr.Code >= http.StatusInternalServerError:
		return "http_5xx"
	case errors.As(err, &apiErr) && apiErr.Code >= http.StatusBadRequest:
		return "http_4xx"
	}
	return "unknown"
}

// sanitizeErrorMessage keeps bot tokens out of logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
