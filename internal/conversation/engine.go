// Package conversation runs the prize-draw registration dialogue.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/telegram/state"
	"github.com/m3rciful/drawbot/internal/apperr"
	"github.com/m3rciful/drawbot/internal/chat"
	"github.com/m3rciful/drawbot/internal/cleanup"
	"github.com/m3rciful/drawbot/internal/notify"
)

// Outcome summarizes what a turn did.
type Outcome string

const (
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeStayed    Outcome = "stayed"
	OutcomeFailed    Outcome = "fail"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeResumed   Outcome = "resumed"
	OutcomeIgnored   Outcome = "ignored"
)

// Turn is the result of one input.
type Turn struct {
	State     state.State
	Outcome   Outcome
	Collected map[string]string
	// Number is the participant number of a completed registration.
	Number *int
}

// Notifier sends the confirmation SMS.
type Notifier interface {
	Notify(ctx context.Context, phone, text string) (notify.DeliveryStatus, error)
}

// WelcomeSource provides the /start greeting.
type WelcomeSource interface {
	Introduction() string
	StartupImage() ([]byte, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store     state.Store
	Locker    *state.Locker
	Transport chat.Transport
	Registry  Registry
	Verifier  HandleVerifier
	Notifier  Notifier
	Tracker   *cleanup.Tracker
	Welcome   WelcomeSource

	Interceptors []Interceptor
	Now          func() time.Time
}

// Options tune an Engine.
type Options struct {
	DocumentLength int
	// StepTimeout bounds the external calls of one step.
	StepTimeout time.Duration
}

// Engine drives the registration dialogue. Turns of one session run one at
// a time; different sessions run in parallel.
type Engine struct {
	store     state.Store
	locker    *state.Locker
	transport chat.Transport
	notifier  Notifier
	tracker   *cleanup.Tracker
	welcome   WelcomeSource
	now       func() time.Time
	steps     map[state.State]StepFunc

	mu         sync.Mutex
	// confirming holds the open cancel question of a session.
	confirming map[int64]chat.MessageRef
}

// New builds an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("conversation: store is required")
	case deps.Transport == nil:
		return nil, errors.New("conversation: transport is required")
	case deps.Registry == nil:
		return nil, errors.New("conversation: registry is required")
	case deps.Verifier == nil:
		return nil, errors.New("conversation: verifier is required")
	}
	e := &Engine{
		store:      deps.Store,
		locker:     deps.Locker,
		transport:  deps.Transport,
		notifier:   deps.Notifier,
		tracker:    deps.Tracker,
		welcome:    deps.Welcome,
		now:        deps.Now,
		confirming: make(map[int64]chat.MessageRef),
	}
	if e.locker == nil {
		e.locker = state.NewLocker()
	}
	if e.tracker == nil {
		e.tracker = cleanup.New(deps.Transport, 0)
	}
	if e.now == nil {
		e.now = time.Now
	}

	chain := append([]Interceptor{WithLogging()}, deps.Interceptors...)
	chain = append(chain, WithTimeout(opts.StepTimeout))
	e.steps = make(map[state.State]StepFunc)
	for st, fn := range buildSteps(deps.Registry, deps.Verifier, opts.DocumentLength) {
		e.steps[st] = Chain(fn, chain...)
	}
	return e, nil
}

// Tracker exposes the prompt tracker, mainly for shutdown.
func (e *Engine) Tracker() *cleanup.Tracker { return e.tracker }

func (e *Engine) begin(ctx context.Context, sid int64) (context.Context, func(), error) {
	if logger.TurnIDFrom(ctx) == "" {
		ctx = logger.WithTurnID(ctx, uuid.NewString())
	}
	unlock, err := e.locker.Lock(ctx, sid)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, unlock, nil
}

func (e *Engine) load(ctx context.Context, sid int64) (*state.Session, error) {
	sess, ok, err := e.store.Get(ctx, sid)
	if err != nil {
		return nil, apperr.Transport("session.get", err)
	}
	if !ok || sess == nil {
		return state.NewSession(e.now()), nil
	}
	return sess, nil
}

// Start resets the session and greets the user.
func (e *Engine) Start(ctx context.Context, sid int64) error {
	ctx, unlock, err := e.begin(ctx, sid)
	if err != nil {
		return err
	}
	defer unlock()

	e.closeQuestion(ctx, sid, false)
	if err := e.store.Clear(ctx, sid); err != nil {
		return apperr.Transport("session.clear", err)
	}
	e.tracker.Purge(ctx, sid)

	intro := defaultIntroduction
	if e.welcome != nil {
		if img, err := e.welcome.StartupImage(); err != nil {
			logger.Debug(ctx, "conversation", "welcome.image.skip", slog.String("err", err.Error()))
		} else if len(img) > 0 {
			if _, err := e.transport.DeliverPhoto(ctx, sid, img); err != nil {
				logger.Debug(ctx, "conversation", "welcome.image.fail", slog.String("err", err.Error()))
			}
		}
		if text := e.welcome.Introduction(); strings.TrimSpace(text) != "" {
			intro = text
		}
	}
	_, err = e.transport.DeliverText(ctx, sid, chat.Message{
		Text:     intro,
		Format:   chat.HTML,
		Keyboard: chat.ReplyKeyboard(BeginButton),
	})
	if err != nil {
		return apperr.Transport("deliver.welcome", err)
	}
	return nil
}

// HandleText applies one text input to the session. Domain errors are
// answered to the user and return a nil error. Transport and notification
// failures are returned for operator reporting; a transport failure leaves
// the session as it was.
func (e *Engine) HandleText(ctx context.Context, sid int64, text string) (Turn, error) {
	ctx, unlock, err := e.begin(ctx, sid)
	if err != nil {
		return Turn{}, err
	}
	defer unlock()

	sess, err := e.load(ctx, sid)
	if err != nil {
		e.say(ctx, sid, msgRetry, chat.Keyboard{})
		return Turn{Outcome: OutcomeFailed}, err
	}
	// Typing while the cancel question is open answers it with "continue".
	e.closeQuestion(ctx, sid, true)

	// The begin button restarts the registration from any state.
	if !awaiting(sess.State) || isBegin(text) {
		return e.handleIdle(ctx, sid, sess, text)
	}
	return e.handleStep(ctx, sid, sess, text)
}

func (e *Engine) handleIdle(ctx context.Context, sid int64, sess *state.Session, text string) (Turn, error) {
	if !isBegin(text) {
		e.say(ctx, sid, msgIdleHint, chat.ReplyKeyboard(BeginButton))
		return Turn{State: StateIdle, Outcome: OutcomeIgnored}, nil
	}
	fresh := state.NewSession(e.now())
	fresh.State = StateAwaitingDocument
	if err := e.store.Set(ctx, sid, fresh); err != nil {
		e.say(ctx, sid, msgRetry, chat.Keyboard{})
		return Turn{State: sess.State, Outcome: OutcomeFailed}, apperr.Transport("session.set", err)
	}
	if awaiting(sess.State) {
		e.tracker.Purge(ctx, sid)
	}
	e.prompt(ctx, sid, StateAwaitingDocument)
	return Turn{State: StateAwaitingDocument, Outcome: OutcomeAdvanced, Collected: fresh.Snapshot()}, nil
}

func (e *Engine) handleStep(ctx context.Context, sid int64, sess *state.Session, text string) (Turn, error) {
	in := StepInput{SessionID: sid, State: sess.State, Text: text}
	if _, err := sess.Temp(tempIDs, &in.IDs); err != nil {
		logger.Warn(ctx, "conversation", "session.ids.corrupt", slog.String("err", err.Error()))
	}

	res, err := e.steps[sess.State](ctx, in)
	if err != nil {
		stay := Turn{State: sess.State, Collected: sess.Snapshot()}
		if apperr.IsDomain(err) {
			e.say(ctx, sid, userMessage(err), finishKeyboard())
			stay.Outcome = OutcomeStayed
			return stay, nil
		}
		e.say(ctx, sid, msgRetry, finishKeyboard())
		stay.Outcome = OutcomeFailed
		return stay, err
	}

	next := sess.Clone()
	next.Put(res.Field, res.Value)
	if len(res.IDs) > 0 {
		if err := next.SetTemp(tempIDs, res.IDs); err != nil {
			return Turn{State: sess.State, Outcome: OutcomeFailed, Collected: sess.Snapshot()}, apperr.New(apperr.KindInternal, "session.ids", err)
		}
	}
	next.UpdatedAt = e.now()

	if res.Next == StateCompleted {
		return e.complete(ctx, sid, next, res.Number)
	}

	next.State = res.Next
	if err := e.store.Set(ctx, sid, next); err != nil {
		e.say(ctx, sid, msgRetry, finishKeyboard())
		return Turn{State: sess.State, Outcome: OutcomeFailed, Collected: sess.Snapshot()}, apperr.Transport("session.set", err)
	}
	e.prompt(ctx, sid, next.State)
	return Turn{State: next.State, Outcome: OutcomeAdvanced, Collected: next.Snapshot()}, nil
}

// complete sends the confirmation SMS once, thanks the user and drops the
// session. A failed SMS does not undo the registration.
func (e *Engine) complete(ctx context.Context, sid int64, sess *state.Session, number *int) (Turn, error) {
	sess.State = StateCompleted
	turn := Turn{State: StateCompleted, Outcome: OutcomeCompleted, Collected: sess.Snapshot(), Number: number}

	var notifyErr error
	if e.notifier != nil {
		phone, _ := sess.Value(FieldPhone)
		if _, err := e.notifier.Notify(ctx, phone, smsText(number)); err != nil {
			notifyErr = err
			if apperr.KindOf(err) != apperr.KindNotification {
				notifyErr = apperr.New(apperr.KindNotification, "notify", err)
			}
		}
	}

	e.deliver(ctx, sid, chat.Message{Text: completedMessage(number), Keyboard: chat.Keyboard{Remove: true}})

	var clearErr error
	if err := e.store.Clear(ctx, sid); err != nil {
		clearErr = apperr.Transport("session.clear", err)
	}
	e.tracker.Purge(ctx, sid)

	logger.Info(ctx, "conversation", "registration.completed",
		slog.String("state", string(StateCompleted)),
		slog.Bool("sms_ok", notifyErr == nil),
	)
	return turn, errors.Join(notifyErr, clearErr)
}

// RequestCancel asks the user to confirm leaving the draw. Outside a
// registration it just says goodbye.
func (e *Engine) RequestCancel(ctx context.Context, sid int64) (Turn, error) {
	ctx, unlock, err := e.begin(ctx, sid)
	if err != nil {
		return Turn{}, err
	}
	defer unlock()

	sess, err := e.load(ctx, sid)
	if err != nil {
		return Turn{Outcome: OutcomeFailed}, err
	}
	if !awaiting(sess.State) {
		e.closeQuestion(ctx, sid, false)
		e.deliver(ctx, sid, chat.Message{Text: msgCancelled, Keyboard: chat.Keyboard{Remove: true}})
		return Turn{State: StateIdle, Outcome: OutcomeCancelled}, nil
	}

	e.closeQuestion(ctx, sid, true)
	question := e.track(ctx, sid, chat.Message{
		Text: msgCancelConfirm,
		Keyboard: chat.Keyboard{Inline: [][]chat.Button{{
			{Text: "Да", Action: CancelAction, Payload: CancelFinish},
			{Text: "Нет", Action: CancelAction, Payload: CancelContinue},
		}}},
	})
	e.mu.Lock()
	e.confirming[sid] = question
	e.mu.Unlock()
	return Turn{State: sess.State, Outcome: OutcomeStayed, Collected: sess.Snapshot()}, nil
}

// ResolveCancel answers the cancel question. finish drops the collected data
// when the question is open; otherwise the current step is asked again and
// nothing changes.
func (e *Engine) ResolveCancel(ctx context.Context, sid int64, finish bool) (Turn, error) {
	ctx, unlock, err := e.begin(ctx, sid)
	if err != nil {
		return Turn{}, err
	}
	defer unlock()
	// An answer to a question that is no longer open, such as an old "Да"
	// button, only re-asks the current step.
	open := e.closeQuestion(ctx, sid, !finish)

	if finish && open {
		if err := e.store.Clear(ctx, sid); err != nil {
			return Turn{Outcome: OutcomeFailed}, apperr.Transport("session.clear", err)
		}
		e.deliver(ctx, sid, chat.Message{Text: msgCancelled, Keyboard: chat.Keyboard{Remove: true}})
		e.tracker.Purge(ctx, sid)
		logger.Info(ctx, "conversation", "registration.cancelled", slog.String("outcome", "cancelled"))
		return Turn{State: StateIdle, Outcome: OutcomeCancelled}, nil
	}

	sess, err := e.load(ctx, sid)
	if err != nil {
		return Turn{Outcome: OutcomeFailed}, err
	}
	if awaiting(sess.State) {
		e.prompt(ctx, sid, sess.State)
	}
	return Turn{State: sess.State, Outcome: OutcomeResumed, Collected: sess.Snapshot()}, nil
}

// InProgress reports whether the session is inside the registration steps.
func (e *Engine) InProgress(ctx context.Context, sid int64) bool {
	sess, ok, err := e.store.Get(ctx, sid)
	if err != nil || !ok || sess == nil {
		return false
	}
	return awaiting(sess.State)
}

// Confirming reports whether the cancel question is open for the session.
func (e *Engine) Confirming(sid int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.confirming[sid]
	return ok
}

// Wait blocks until background cleanups finish.
func (e *Engine) Wait() { e.tracker.Wait() }

// closeQuestion closes the session's cancel question and reports whether one
// was open. With drop the question message is deleted right away; otherwise
// it stays tracked for the next purge.
func (e *Engine) closeQuestion(ctx context.Context, sid int64, drop bool) bool {
	e.mu.Lock()
	ref, ok := e.confirming[sid]
	delete(e.confirming, sid)
	e.mu.Unlock()
	if !ok || !drop || ref.MessageID == 0 {
		return ok
	}
	e.tracker.Forget(sid, ref)
	if err := e.transport.DeleteMessage(ctx, ref); err != nil && !errors.Is(err, chat.ErrAlreadyGone) {
		logger.Debug(ctx, "conversation", "question.delete.fail", slog.String("err", logger.SanitizeLimit(err.Error(), 120)))
	}
	return ok
}

func (e *Engine) prompt(ctx context.Context, sid int64, st state.State) {
	text, ok := prompts[st]
	if !ok {
		return
	}
	e.track(ctx, sid, chat.Message{Text: text, Keyboard: finishKeyboard()})
}

// say delivers a message that is deleted along with the prompts.
func (e *Engine) say(ctx context.Context, sid int64, text string, kb chat.Keyboard) {
	e.track(ctx, sid, chat.Message{Text: text, Keyboard: kb})
}

func (e *Engine) track(ctx context.Context, sid int64, msg chat.Message) chat.MessageRef {
	ref, ok := e.deliver(ctx, sid, msg)
	if !ok {
		return chat.MessageRef{}
	}
	e.tracker.Track(sid, ref)
	return ref
}

// deliver sends msg without tracking it. Failures are logged only.
func (e *Engine) deliver(ctx context.Context, sid int64, msg chat.Message) (chat.MessageRef, bool) {
	ref, err := e.transport.DeliverText(ctx, sid, msg)
	if err != nil {
		logger.Warn(ctx, "conversation", "deliver.fail", slog.String("err", logger.SanitizeLimit(err.Error(), 200)))
		return ref, false
	}
	return ref, true
}

func isBegin(text string) bool { return strings.EqualFold(strings.TrimSpace(text), BeginButton) }

func finishKeyboard() chat.Keyboard { return chat.ReplyKeyboard(FinishButton) }
