package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/drawbot/internal/apperr"
)

// gateway is a scripted sms.ru double.
type gateway struct {
	mu       sync.Mutex
	sends    int
	polls    int
	lastTest string
	lastTo   string
	send     string
	statuses []string
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.URL.Query().Get("api_id") != "key" || r.URL.Query().Get("json") != "1" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	switch r.URL.Path {
	case "/send":
		g.sends++
		g.lastTest = r.URL.Query().Get("test")
		g.lastTo = r.URL.Query().Get("to")
		fmt.Fprint(w, g.send)
	case "/status":
		i := g.polls
		if i >= len(g.statuses) {
			i = len(g.statuses) - 1
		}
		g.polls++
		fmt.Fprint(w, g.statuses[i])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func sendOK(phone string) string {
	return fmt.Sprintf(`{"status":"OK","status_code":100,"sms":{"%s":{"status":"OK","status_code":100,"sms_id":"000-1"}}}`, phone)
}

func status(code int) string {
	return fmt.Sprintf(`{"status":"OK","status_code":100,"sms":{"000-1":{"status":"OK","status_code":%d,"status_text":"t%d"}}}`, code, code)
}

func newDispatcher(t *testing.T, g *gateway, opts ...Option) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	d, err := New(Config{BaseURL: srv.URL + "/", APIID: "key", TestMode: true, PollAttempts: 3, PollDelay: time.Millisecond},
		append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StateDelivered, Classify(103))
	assert.Equal(t, StateFailed, Classify(104))
	assert.Equal(t, StateFailed, Classify(207))
	assert.Equal(t, StateFailed, Classify(-1))
	for _, code := range []int{100, 101, 102} {
		assert.Equal(t, StatePending, Classify(code))
	}
}

func TestNewRequiresAPIID(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSendKeepsPerRecipientCodes(t *testing.T) {
	g := &gateway{send: `{"status":"OK","status_code":100,"sms":{
		"79180000025":{"status":"OK","status_code":100,"sms_id":"000-1"},
		"79180000026":{"status":"ERROR","status_code":207,"status_text":"bad number"}}}`}
	d := newDispatcher(t, g)

	recs, err := d.Send(context.Background(), []string{"79180000025", "79180000026", "79180000027"}, "hi")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "000-1", recs[0].SMSID)
	assert.Equal(t, StatePending, recs[0].State())
	assert.Equal(t, 207, recs[1].StatusCode)
	assert.Equal(t, StateFailed, recs[1].State())
	assert.Equal(t, CodeUnknown, recs[2].StatusCode)
	assert.Equal(t, recs[0].BatchID, recs[2].BatchID)
	assert.NotEmpty(t, recs[0].BatchID)
	assert.Equal(t, "1", g.lastTest)
	assert.Equal(t, 1, g.sends)
}

func TestSendGatewayError(t *testing.T) {
	g := &gateway{send: `{"status":"ERROR","status_code":200,"status_text":"bad api_id"}`}
	d := newDispatcher(t, g)

	_, err := d.Send(context.Background(), []string{"79180000025"}, "hi")
	assert.True(t, errors.Is(err, apperr.ErrTransport))
}

func TestNotifyDelivered(t *testing.T) {
	var states []State
	g := &gateway{send: sendOK("79180000025"), statuses: []string{status(103)}}
	d := newDispatcher(t, g, WithRecorder(func(s State) { states = append(states, s) }))

	st, err := d.Notify(context.Background(), "79180000025", "Спасибо")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, st.State)
	assert.Equal(t, 1, st.Polls)
	assert.Equal(t, 1, g.sends)
	assert.Equal(t, []State{StateDelivered}, states)
}

func TestNotifyNormalizesPhone(t *testing.T) {
	for _, phone := range []string{"89180000025", "9180000025"} {
		g := &gateway{send: sendOK("79180000025"), statuses: []string{status(103)}}
		d := newDispatcher(t, g)

		st, err := d.Notify(context.Background(), phone, "Спасибо")
		require.NoError(t, err, phone)
		assert.Equal(t, StateDelivered, st.State, phone)
		assert.Equal(t, "79180000025", g.lastTo, phone)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"79180000025":   "79180000025",
		"89180000025":   "79180000025",
		"9180000025":    "79180000025",
		" 89180000025 ": "79180000025",
		"+79180000025":  "+79180000025",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestNotifyFailedDelivery(t *testing.T) {
	for _, code := range []int{104, -1} {
		g := &gateway{send: sendOK("79180000025"), statuses: []string{status(code)}}
		d := newDispatcher(t, g)

		st, err := d.Notify(context.Background(), "79180000025", "x")
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, apperr.ErrNotification), code)
		assert.Equal(t, StateFailed, st.State)
		assert.Equal(t, 1, g.sends, "failed dispatches are not resent")
	}
}

func TestNotifyRejectedAtSend(t *testing.T) {
	g := &gateway{send: `{"status":"OK","status_code":100,"sms":{"79180000025":{"status":"ERROR","status_code":207}}}`}
	d := newDispatcher(t, g)

	_, err := d.Notify(context.Background(), "79180000025", "x")
	assert.True(t, errors.Is(err, apperr.ErrNotification))
	assert.Equal(t, 0, g.polls)
}

func TestPollRetriesWhilePending(t *testing.T) {
	g := &gateway{send: sendOK("79180000025"), statuses: []string{status(100), status(102), status(103)}}
	d := newDispatcher(t, g)

	st, err := d.Notify(context.Background(), "79180000025", "x")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, st.State)
	assert.Equal(t, 3, st.Polls)
}

func TestPollBounded(t *testing.T) {
	g := &gateway{send: sendOK("79180000025"), statuses: []string{status(101)}}
	d := newDispatcher(t, g)

	st, err := d.Notify(context.Background(), "79180000025", "x")
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)
	assert.Equal(t, 3, g.polls)
}

func TestNotifyTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	d, err := New(Config{BaseURL: srv.URL, APIID: "key"}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = d.Notify(context.Background(), "79180000025", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotification))
	assert.True(t, errors.Is(err, apperr.ErrTransport))
}
