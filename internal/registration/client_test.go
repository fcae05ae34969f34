package registration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/drawbot/internal/apperr"
)

type capture struct {
	auth string
	body map[string]any
}

func newServer(t *testing.T, status int, reply string, got *capture) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if got != nil {
			got.auth = r.Header.Get("Authorization")
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(raw, &got.body))
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, Token: "secret", Timeout: time.Second}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestLookupReturnsIdentifiers(t *testing.T) {
	var got capture
	c := newServer(t, http.StatusOK, `{"document":{"drawId":7,"documentId":"a1"}}`, &got)

	ids, err := c.Lookup(context.Background(), "12345")
	require.NoError(t, err)
	assert.JSONEq(t, `{"drawId":7,"documentId":"a1"}`, string(ids))
	assert.Equal(t, "12345", got.body["documentNumber"])
	assert.Equal(t, "Bearer secret", got.auth)
}

func TestLookupStatusStrings(t *testing.T) {
	cases := map[string]error{
		"not found":            apperr.ErrNotFound,
		"no active draw found": apperr.ErrNoActiveDraw,
		"does not match":       apperr.ErrMismatch,
		"participated in draw": apperr.ErrAlreadyUsed,
		"Already participated": apperr.ErrAlreadyUsed,
		"something unexpected": apperr.ErrTransport,
	}
	for status, want := range cases {
		reply, _ := json.Marshal(map[string]string{"document": status})
		c := newServer(t, http.StatusOK, string(reply), nil)

		ids, err := c.Lookup(context.Background(), "12345")
		require.Error(t, err, status)
		assert.Nil(t, ids)
		assert.True(t, errors.Is(err, want), "%s: %v", status, err)
	}
}

func TestLookupTransportFailures(t *testing.T) {
	for name, tc := range map[string]struct {
		status int
		reply  string
	}{
		"http error":  {http.StatusBadGateway, `{"document":{"id":1}}`},
		"bad json":    {http.StatusOK, `<html>`},
		"no document": {http.StatusOK, `{}`},
		"array":       {http.StatusOK, `{"document":[1,2]}`},
	} {
		c := newServer(t, tc.status, tc.reply, nil)
		_, err := c.Lookup(context.Background(), "12345")
		require.Error(t, err, name)
		assert.True(t, apperr.Retryable(err), name)
		assert.Equal(t, apperr.KindTransport, apperr.KindOf(err), name)
	}
}

func TestLookupTimeoutIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c, err := New(Config{URL: srv.URL}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Lookup(ctx, "12345")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransport))
}

func TestUpdateFieldMergesIdentifiers(t *testing.T) {
	var got capture
	c := newServer(t, http.StatusOK, `{"number":42,"token":"t-1"}`, &got)

	res, err := c.UpdateField(context.Background(), Identifiers(`{"drawId":7}`), FieldInstagram, "@validuser")
	require.NoError(t, err)
	require.NotNil(t, res.Number)
	assert.Equal(t, 42, *res.Number)
	assert.Equal(t, "t-1", res.Token)
	assert.Equal(t, float64(7), got.body["drawId"])
	assert.Equal(t, "@validuser", got.body[FieldInstagram])
}

func TestUpdateFieldWithoutNumber(t *testing.T) {
	c := newServer(t, http.StatusOK, `{}`, nil)

	res, err := c.UpdateField(context.Background(), Identifiers(`{"drawId":7}`), FieldName, "иванов иван иванович")
	require.NoError(t, err)
	assert.Nil(t, res.Number)
}

func TestUpdateFieldDomainStatus(t *testing.T) {
	c := newServer(t, http.StatusOK, `{"document":"participated in draw"}`, nil)

	_, err := c.UpdateField(context.Background(), Identifiers(`{"drawId":7}`), FieldTelephone, "79180000025")
	assert.True(t, errors.Is(err, apperr.ErrAlreadyUsed))
}

func TestUpdateFieldNeedsIdentifiers(t *testing.T) {
	c := newServer(t, http.StatusOK, `{}`, nil)
	_, err := c.UpdateField(context.Background(), nil, FieldName, "x")
	require.Error(t, err)
	assert.False(t, apperr.Retryable(err))
}

func TestIdentifiersRoundTrip(t *testing.T) {
	type holder struct {
		IDs Identifiers `json:"ids"`
	}
	raw, err := json.Marshal(holder{IDs: Identifiers(`{"a":1}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":{"a":1}}`, string(raw))

	var h holder
	require.NoError(t, json.Unmarshal(raw, &h))
	assert.JSONEq(t, `{"a":1}`, string(h.IDs))
}
