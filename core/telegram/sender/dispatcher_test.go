package sender

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "report", func(context.Context) error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		return nil
	}))
	d.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(1), d.SentCount())
	assert.Zero(t, d.ErrorCount())
}

func TestDispatcherCountsPermanentFailure(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 5, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "report", func(context.Context) error {
		calls.Add(1)
		return errors.New("chat not found")
	}))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), d.ErrorCount())
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	d.Close()
	err := d.Enqueue(context.Background(), "x", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestDispatcherDetachesCallerCancellation(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	require.NoError(t, d.Enqueue(ctx, "x", func(jobCtx context.Context) error {
		done <- jobCtx.Err()
		return nil
	}))
	cancel()
	d.Close()
	assert.NoError(t, <-done)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "dial", classifyError(&net.OpError{Op: "dial", Err: errors.New("x")}))
	assert.Equal(t, "http_4xx", classifyError(&tele.Error{Code: 403, Description: "Forbidden"}))
	assert.Equal(t, "unknown", classifyError(errors.New("x")))
	assert.Equal(t, "send bot<redacted>/x failed", sanitizeErrorMessage(errors.New("send bot123:AbC-d/x failed")))
}
