// Package cleanup deletes the bot's prompts once a conversation ends.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/internal/chat"
)

// DefaultDelay spaces deletions to stay under the messenger's rate limits.
const DefaultDelay = 5 * time.Second

// PendingPrompt is a message waiting for deletion.
type PendingPrompt struct {
	SessionID int64
	Ref       chat.MessageRef
	// EligibleAt is when the prompt may be deleted at the earliest. Purge
	// sets it; prompts still on the list carry the zero time.
	EligibleAt time.Time
}

// Deleter removes a message.
type Deleter interface {
	DeleteMessage(ctx context.Context, ref chat.MessageRef) error
}

// Tracker keeps per-session lists of prompts to delete.
type Tracker struct {
	del   Deleter
	delay time.Duration
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	prompts map[int64][]PendingPrompt
	wg      sync.WaitGroup
}

// New returns a Tracker deleting through del. A non-positive delay means DefaultDelay.
func New(del Deleter, delay time.Duration) *Tracker {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Tracker{
		del:     del,
		delay:   delay,
		now:     time.Now,
		sleep:   sleepCtx,
		prompts: make(map[int64][]PendingPrompt),
	}
}

// Track appends ref to the session's list.
func (t *Tracker) Track(sid int64, ref chat.MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	t.mu.Lock()
	t.prompts[sid] = append(t.prompts[sid], PendingPrompt{SessionID: sid, Ref: ref})
	t.mu.Unlock()
}

// Forget drops ref from the session's list.
func (t *Tracker) Forget(sid int64, ref chat.MessageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.prompts[sid]
	for i, p := range list {
		if p.Ref == ref {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.prompts, sid)
		return
	}
	t.prompts[sid] = list
}

// Purge takes the session's prompts off the list and deletes them in the
// background, the i-th becoming eligible i delays after the call. It returns at once with the number of prompts
// scheduled. Deletion errors are logged and dropped.
func (t *Tracker) Purge(ctx context.Context, sid int64) int {
	t.mu.Lock()
	list := t.prompts[sid]
	delete(t.prompts, sid)
	t.mu.Unlock()
	if len(list) == 0 || t.del == nil {
		return 0
	}

	start := t.now()
	for i := range list {
		list[i].EligibleAt = start.Add(time.Duration(i) * t.delay)
	}

	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		deleted := 0
		for _, p := range list {
			if wait := p.EligibleAt.Sub(t.now()); wait > 0 {
				if err := t.sleep(ctx, wait); err != nil {
					return
				}
			}
			err := t.del.DeleteMessage(ctx, p.Ref)
			switch {
			case err == nil:
				deleted++
			case errors.Is(err, chat.ErrAlreadyGone):
			default:
				logger.Debug(ctx, "cleanup", "delete.fail",
					slog.Int("message_id", p.Ref.MessageID),
					slog.String("err", logger.SanitizeLimit(err.Error(), 120)),
				)
			}
		}
		logger.Debug(ctx, "cleanup", "purge.done",
			slog.Int("messages", len(list)),
			slog.Int("deleted", deleted),
			slog.Duration("duration", t.now().Sub(start)),
		)
	}()
	return len(list)
}

// Wait blocks until running purges finish.
func (t *Tracker) Wait() { t.wg.Wait() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
