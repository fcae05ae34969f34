package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEditor struct {
	intro     string
	imageName string
	image     []byte
	err       error
}

func (f *fakeEditor) SetIntroduction(text string) error {
	f.intro = text
	return f.err
}

func (f *fakeEditor) SaveStartupImage(name string, data []byte) error {
	f.imageName, f.image = name, data
	return f.err
}

func do(t *testing.T, h http.Handler, method, path, ctype, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIntroductionForm(t *testing.T) {
	ed := &fakeEditor{}
	h := New(Config{}, ed, WithGatherer(prometheus.NewRegistry())).Handler()

	form := url.Values{"text": {"Привет & удачи!"}}.Encode()
	rec := do(t, h, http.MethodPost, "/config/introduction", "application/x-www-form-urlencoded", form, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Привет & удачи!", ed.intro)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestIntroductionRawBody(t *testing.T) {
	ed := &fakeEditor{}
	h := New(Config{}, ed).Handler()

	rec := do(t, h, http.MethodPost, "/config/introduction", "text/plain", "text=%D0%9F%D1%80%D0%B8%D0%B2%D0%B5%D1%82+%5Cn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `Привет \n`, ed.intro)
}

func TestIntroductionEmpty(t *testing.T) {
	h := New(Config{}, &fakeEditor{}).Handler()
	rec := do(t, h, http.MethodPost, "/config/introduction", "text/plain", "  ", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartupImage(t *testing.T) {
	ed := &fakeEditor{}
	h := New(Config{}, ed).Handler()

	rec := do(t, h, http.MethodPost, "/config/startup-image", "image/png", "\x89PNG", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StartupImageName, ed.imageName)
	assert.Equal(t, []byte("\x89PNG"), ed.image)

	rec = do(t, h, http.MethodPost, "/config/startup-image", "image/png", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLegacyPaths(t *testing.T) {
	ed := &fakeEditor{}
	h := New(Config{}, ed).Handler()

	rec := do(t, h, http.MethodPost, "/updateConfig/introduction", "text/plain", "hello", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", ed.intro)

	rec = do(t, h, http.MethodPost, "/updateConfig/startupImage", "", "img", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("img"), ed.image)

	rec = do(t, h, http.MethodPost, "/updateConfig/other", "", "x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTokenRequired(t *testing.T) {
	ed := &fakeEditor{}
	h := New(Config{Token: "s3cret"}, ed).Handler()

	rec := do(t, h, http.MethodPost, "/config/introduction", "text/plain", "hi", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/config/introduction", "text/plain", "hi", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ed.intro)

	rec = do(t, h, http.MethodPost, "/config/introduction", "text/plain", "hi", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and metrics stay open.
	rec = do(t, h, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEditorFailure(t *testing.T) {
	h := New(Config{}, &fakeEditor{err: errors.New("disk full")}).Handler()
	rec := do(t, h, http.MethodPost, "/config/introduction", "text/plain", "hi", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthChecks(t *testing.T) {
	h := New(Config{}, &fakeEditor{},
		WithHealth("store", func(context.Context) error { return errors.New("redis down") }),
	).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "drawbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	h := New(Config{}, &fakeEditor{}, WithGatherer(reg)).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "drawbot_test_total 1")
}

func TestRunDisabledAndShutdown(t *testing.T) {
	require.NoError(t, New(Config{}, &fakeEditor{}).Run(context.Background()))

	s := New(Config{Listen: "127.0.0.1:0"}, &fakeEditor{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
