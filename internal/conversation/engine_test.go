package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/drawbot/core/telegram/state"
	"github.com/m3rciful/drawbot/internal/apperr"
	"github.com/m3rciful/drawbot/internal/chat"
	"github.com/m3rciful/drawbot/internal/cleanup"
	"github.com/m3rciful/drawbot/internal/notify"
	"github.com/m3rciful/drawbot/internal/registration"
)

const sid int64 = 42

type fakeTransport struct {
	mu      sync.Mutex
	next    int
	sent    []chat.Message
	photos  int
	deleted []int
}

func (f *fakeTransport) DeliverText(_ context.Context, sessionID int64, msg chat.Message) (chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.sent = append(f.sent, msg)
	return chat.MessageRef{ChatID: sessionID, MessageID: f.next}, nil
}

func (f *fakeTransport) DeliverPhoto(_ context.Context, sessionID int64, _ []byte) (chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.photos++
	return chat.MessageRef{ChatID: sessionID, MessageID: f.next}, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, ref chat.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref.MessageID)
	return nil
}

func (f *fakeTransport) last() chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type update struct {
	ids   string
	field string
	value string
}

type fakeRegistry struct {
	lookups   []string
	updates   []update
	lookupErr error
	updateErr map[string]error
	number    *int
}

func (f *fakeRegistry) Lookup(_ context.Context, number string) (registration.Identifiers, error) {
	f.lookups = append(f.lookups, number)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return registration.Identifiers(`{"drawId":1,"documentId":"` + number + `"}`), nil
}

func (f *fakeRegistry) UpdateField(_ context.Context, ids registration.Identifiers, field, value string) (registration.UpdateResult, error) {
	f.updates = append(f.updates, update{ids: string(ids), field: field, value: value})
	if err := f.updateErr[field]; err != nil {
		return registration.UpdateResult{}, err
	}
	if field == registration.FieldInstagram {
		return registration.UpdateResult{Number: f.number}, nil
	}
	return registration.UpdateResult{}, nil
}

type fakeVerifier struct {
	known map[string]bool
	err   error
}

func (f fakeVerifier) Verify(_ context.Context, handle string) (bool, error) {
	return f.known[handle], f.err
}

type fakeNotifier struct {
	calls []string
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, phone, text string) (notify.DeliveryStatus, error) {
	f.calls = append(f.calls, phone+"|"+text)
	if f.err != nil {
		return notify.DeliveryStatus{State: notify.StateFailed}, f.err
	}
	return notify.DeliveryStatus{State: notify.StateDelivered, Code: 103}, nil
}

type fixture struct {
	engine    *Engine
	store     *state.MemoryStore
	transport *fakeTransport
	registry  *fakeRegistry
	notifier  *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     state.NewMemoryStore(),
		transport: &fakeTransport{},
		registry:  &fakeRegistry{updateErr: map[string]error{}},
		notifier:  &fakeNotifier{},
	}
	e, err := New(Deps{
		Store:     f.store,
		Transport: f.transport,
		Registry:  f.registry,
		Verifier:  fakeVerifier{known: map[string]bool{"@validuser": true}},
		Notifier:  f.notifier,
		Tracker:   cleanup.New(f.transport, time.Millisecond),
	}, Options{DocumentLength: 5, StepTimeout: time.Second})
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) send(t *testing.T, text string) Turn {
	t.Helper()
	turn, err := f.engine.HandleText(context.Background(), sid, text)
	require.NoError(t, err, text)
	return turn
}

func (f *fixture) session(t *testing.T) (*state.Session, bool) {
	t.Helper()
	s, ok, err := f.store.Get(context.Background(), sid)
	require.NoError(t, err)
	return s, ok
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestFullRegistration(t *testing.T) {
	f := newFixture(t)
	n := 17
	f.registry.number = &n

	assert.Equal(t, StateAwaitingDocument, f.send(t, BeginButton).State)
	assert.Equal(t, promptDocument, f.transport.last().Text)
	assert.Equal(t, StateAwaitingFullName, f.send(t, "12345").State)
	assert.Equal(t, StateAwaitingPhone, f.send(t, "Иванов Иван Иванович").State)
	assert.Equal(t, StateAwaitingHandle, f.send(t, "79180000025").State)

	turn := f.send(t, "@validuser")
	assert.Equal(t, StateCompleted, turn.State)
	assert.Equal(t, OutcomeCompleted, turn.Outcome)
	require.NotNil(t, turn.Number)
	assert.Equal(t, 17, *turn.Number)
	assert.Equal(t, map[string]string{
		FieldDocumentIDs: `{"drawId":1,"documentId":"12345"}`,
		FieldFullName:    "иванов иван иванович",
		FieldPhone:       "79180000025",
		FieldHandle:      "@validuser",
	}, turn.Collected)

	require.Len(t, f.notifier.calls, 1)
	assert.True(t, strings.HasPrefix(f.notifier.calls[0], "79180000025|"))
	assert.Contains(t, f.notifier.calls[0], "17")

	require.Len(t, f.registry.updates, 3)
	for _, u := range f.registry.updates {
		assert.JSONEq(t, `{"drawId":1,"documentId":"12345"}`, u.ids)
	}
	assert.Equal(t, []string{"12345"}, f.registry.lookups)

	last := f.transport.last()
	assert.Contains(t, last.Text, "Номер участника: 17")
	assert.True(t, last.Keyboard.Remove)

	_, ok := f.session(t)
	assert.False(t, ok, "session is cleared after completion")
	f.engine.Wait()
	assert.NotEmpty(t, f.transport.deleted)
}

func TestInvalidDocumentNeverCallsBackend(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)

	for _, in := range []string{"1234", "123456", "abcde", "12 34", ""} {
		turn := f.send(t, in)
		assert.Equal(t, StateAwaitingDocument, turn.State)
		assert.Equal(t, OutcomeStayed, turn.Outcome)
		assert.Equal(t, "Вы ввели не корректный номер, введите 5 числовых символов", f.transport.last().Text)
	}
	assert.Empty(t, f.registry.lookups)
}

func TestTransportErrorLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	f.send(t, "12345")
	before, _ := f.session(t)

	f.registry.updateErr[registration.FieldName] = apperr.Transport("registration.update", errors.New("connection reset"))
	turn, err := f.engine.HandleText(context.Background(), sid, "Иванов Иван Иванович")
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, OutcomeFailed, turn.Outcome)
	assert.Equal(t, msgRetry, f.transport.last().Text)

	after, _ := f.session(t)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Fields, after.Fields)
	assert.Equal(t, before.TempData, after.TempData)
}

func TestLookupTransportErrorStaysOnDocument(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	f.registry.lookupErr = apperr.Transport("registration.lookup", context.DeadlineExceeded)

	turn, err := f.engine.HandleText(context.Background(), sid, "12345")
	require.Error(t, err)
	assert.Equal(t, StateAwaitingDocument, turn.State)
	s, _ := f.session(t)
	assert.Equal(t, StateAwaitingDocument, s.State)
	assert.Empty(t, s.Fields)
}

func TestDomainErrorsAreAnswered(t *testing.T) {
	cases := map[apperr.Kind]string{
		apperr.KindNotFound:     msgNotFound,
		apperr.KindNoActiveDraw: msgNoActiveDraw,
		apperr.KindMismatch:     msgMismatch,
		apperr.KindAlreadyUsed:  msgAlreadyUsed,
	}
	for kind, msg := range cases {
		f := newFixture(t)
		f.send(t, BeginButton)
		f.registry.lookupErr = apperr.New(kind, "registration.lookup", nil)

		turn := f.send(t, "12345")
		assert.Equal(t, OutcomeStayed, turn.Outcome, kind)
		assert.Equal(t, StateAwaitingDocument, turn.State, kind)
		assert.Equal(t, msg, f.transport.last().Text, kind)
	}
}

func TestInvalidHandleStays(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	f.send(t, "12345")
	f.send(t, "Иванов Иван Иванович")
	f.send(t, "79180000025")

	turn := f.send(t, "@ghost_user")
	assert.Equal(t, StateAwaitingHandle, turn.State)
	assert.Equal(t, msgHandleInvalid, f.transport.last().Text)

	turn = f.send(t, "@a")
	assert.Equal(t, StateAwaitingHandle, turn.State)
	assert.Empty(t, f.notifier.calls)
}

func TestCompletionWithoutNumber(t *testing.T) {
	f := newFixture(t)
	for _, in := range []string{BeginButton, "12345", "Иванов Иван Иванович", "79180000025"} {
		f.send(t, in)
	}
	turn := f.send(t, "validuser")

	assert.Equal(t, StateCompleted, turn.State)
	assert.Nil(t, turn.Number)
	assert.True(t, strings.HasSuffix(f.transport.last().Text, "Номер участника: "))
	assert.Equal(t, "@validuser", turn.Collected[FieldHandle])
}

func TestNotificationFailureDoesNotBlockCompletion(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = apperr.New(apperr.KindNotification, "notify", errors.New("code 104"))
	for _, in := range []string{BeginButton, "12345", "Иванов Иван Иванович", "79180000025"} {
		f.send(t, in)
	}

	turn, err := f.engine.HandleText(context.Background(), sid, "@validuser")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotification))
	assert.Equal(t, StateCompleted, turn.State)
	assert.Len(t, f.notifier.calls, 1)
	_, ok := f.session(t)
	assert.False(t, ok)
}

func TestCancelContinueKeepsState(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	f.send(t, "12345")
	before, _ := f.session(t)

	turn, err := f.engine.RequestCancel(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFullName, turn.State)
	assert.True(t, f.engine.Confirming(sid))
	prompt := f.transport.last()
	require.Len(t, prompt.Keyboard.Inline, 1)
	assert.Equal(t, CancelContinue, prompt.Keyboard.Inline[0][1].Payload)
	question := f.transport.next

	turn, err = f.engine.ResolveCancel(context.Background(), sid, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResumed, turn.Outcome)
	assert.Equal(t, StateAwaitingFullName, turn.State)
	assert.Equal(t, promptFullName, f.transport.last().Text)
	assert.False(t, f.engine.Confirming(sid))

	after, _ := f.session(t)
	assert.Equal(t, before.Fields, after.Fields)
	assert.Equal(t, before.State, after.State)
	assert.Contains(t, f.transport.deleted, question, "answered question is removed")
}

func TestTypingClosesCancelQuestion(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	_, err := f.engine.RequestCancel(context.Background(), sid)
	require.NoError(t, err)
	question := f.transport.next

	turn := f.send(t, "12345")
	assert.Equal(t, StateAwaitingFullName, turn.State)
	assert.False(t, f.engine.Confirming(sid))
	assert.Equal(t, []int{question}, f.transport.deleted)

	// The question is no longer tracked, so the final purge skips it.
	_, err = f.engine.RequestCancel(context.Background(), sid)
	require.NoError(t, err)
	_, err = f.engine.ResolveCancel(context.Background(), sid, true)
	require.NoError(t, err)
	f.engine.Wait()
	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	require.Len(t, f.transport.deleted, 4, "question, then document prompt, name prompt and second question")
	assert.Equal(t, question, f.transport.deleted[0])
	assert.NotContains(t, f.transport.deleted[1:], question)
}

func TestCancelFinishClearsAndPurges(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	f.send(t, "12345")
	_, err := f.engine.RequestCancel(context.Background(), sid)
	require.NoError(t, err)

	turn, err := f.engine.ResolveCancel(context.Background(), sid, true)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, turn.State)
	assert.Equal(t, msgCancelled, f.transport.last().Text)
	assert.False(t, f.engine.InProgress(context.Background(), sid))

	f.engine.Wait()
	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	assert.Len(t, f.transport.deleted, 3, "document prompt, name prompt and cancel question")
}

func TestStaleFinishDoesNotCancel(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	_, err := f.engine.RequestCancel(context.Background(), sid)
	require.NoError(t, err)
	_, err = f.engine.ResolveCancel(context.Background(), sid, false)
	require.NoError(t, err)
	f.send(t, "12345")

	turn, err := f.engine.ResolveCancel(context.Background(), sid, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResumed, turn.Outcome)
	assert.Equal(t, StateAwaitingFullName, turn.State)
	assert.Equal(t, promptFullName, f.transport.last().Text)
	assert.True(t, f.engine.InProgress(context.Background(), sid))

	sess, ok := f.session(t)
	require.True(t, ok)
	_, has := sess.Value(FieldDocumentIDs)
	assert.True(t, has)
}

func TestBeginButtonRestartsRegistration(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	f.send(t, "12345")

	turn := f.send(t, BeginButton)
	assert.Equal(t, OutcomeAdvanced, turn.Outcome)
	assert.Equal(t, StateAwaitingDocument, turn.State)
	assert.Equal(t, promptDocument, f.transport.last().Text)
	assert.Len(t, f.registry.lookups, 1)

	sess, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, StateAwaitingDocument, sess.State)
	assert.Empty(t, sess.Fields)
	f.engine.Wait()
}

func TestCancelWhenIdle(t *testing.T) {
	f := newFixture(t)
	turn, err := f.engine.RequestCancel(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, turn.Outcome)
	assert.False(t, f.engine.Confirming(sid))
}

func TestStartResetsAndGreets(t *testing.T) {
	f := newFixture(t)
	f.send(t, BeginButton)
	require.True(t, f.engine.InProgress(context.Background(), sid))

	require.NoError(t, f.engine.Start(context.Background(), sid))
	assert.False(t, f.engine.InProgress(context.Background(), sid))
	greeting := f.transport.last()
	assert.Equal(t, chat.HTML, greeting.Format)
	assert.Equal(t, [][]string{{BeginButton}}, greeting.Keyboard.Reply)
}

type staticWelcome struct {
	text string
	img  []byte
	err  error
}

func (s staticWelcome) Introduction() string          { return s.text }
func (s staticWelcome) StartupImage() ([]byte, error) { return s.img, s.err }

func TestStartUsesWelcomeSource(t *testing.T) {
	f := newFixture(t)
	f.engine.welcome = staticWelcome{text: "<b>Привет</b>", img: []byte{0xff, 0xd8}}
	require.NoError(t, f.engine.Start(context.Background(), sid))
	assert.Equal(t, 1, f.transport.photos)
	assert.Equal(t, "<b>Привет</b>", f.transport.last().Text)

	f.engine.welcome = staticWelcome{err: errors.New("missing")}
	require.NoError(t, f.engine.Start(context.Background(), sid))
	assert.Equal(t, 1, f.transport.photos)
	assert.Equal(t, defaultIntroduction, f.transport.last().Text)
}

func TestIdleTextGetsHint(t *testing.T) {
	f := newFixture(t)
	turn := f.send(t, "привет")
	assert.Equal(t, OutcomeIgnored, turn.Outcome)
	assert.Equal(t, msgIdleHint, f.transport.last().Text)
	_, ok := f.session(t)
	assert.False(t, ok)
}

func TestSessionsAreIndependent(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := int64(1); i <= 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.engine.HandleText(context.Background(), id, BeginButton)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	for i := int64(1); i <= 8; i++ {
		assert.True(t, f.engine.InProgress(context.Background(), i))
	}
}
