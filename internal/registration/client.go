// Package registration talks to the backend that records receipts and participants.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/netutil"
	"github.com/m3rciful/drawbot/internal/apperr"
)

// Participant fields accepted by UpdateField.
const (
	FieldName      = "customerName"
	FieldTelephone = "customerTelephone"
	FieldInstagram = "customerInstagram"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config configures the backend endpoint.
type Config struct {
	URL     string        `yaml:"url" envconfig:"REGISTRATION_URL"`
	Token   string        `yaml:"token" envconfig:"REGISTRATION_TOKEN"`
	Timeout time.Duration `yaml:"timeout" envconfig:"REGISTRATION_TIMEOUT"`
}

// Identifiers is the opaque key set the backend returns for a document.
// It is sent back unchanged with every later update.
type Identifiers json.RawMessage

// MarshalJSON keeps the raw object as is.
func (ids Identifiers) MarshalJSON() ([]byte, error) {
	if len(ids) == 0 {
		return []byte("null"), nil
	}
	return ids, nil
}

// UnmarshalJSON stores a copy of data.
func (ids *Identifiers) UnmarshalJSON(data []byte) error {
	*ids = append((*ids)[:0], data...)
	return nil
}

// UpdateResult is what the backend may hand back after an update.
type UpdateResult struct {
	// Number is the participant number, allocated only by some draws.
	Number *int
	// Token is an optional confirmation token.
	Token string
}

// Client calls the registration backend.
type Client struct {
	url   string
	token string
	http  *http.Client
	log   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a Client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("registration: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		url:   cfg.URL,
		token: cfg.Token,
		http:  netutil.NewClient(netutil.ClientOptions{Timeout: timeout, Retries: 2}),
		log:   logger.Component("registration"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type response struct {
	Document json.RawMessage `json:"document"`
	Number   *int            `json:"number"`
	Token    string          `json:"token"`
}

// Lookup resolves a receipt number into its identifiers. Backend conditions
// such as an unknown receipt come back as domain errors, everything else as
// a transport error.
func (c *Client) Lookup(ctx context.Context, number string) (Identifiers, error) {
	const op = "registration.lookup"
	resp, err := c.post(ctx, op, map[string]any{"documentNumber": number})
	if err != nil {
		return nil, err
	}
	doc := resp.Document
	if len(doc) == 0 || string(doc) == "null" {
		return nil, apperr.Transport(op, fmt.Errorf("response has no document"))
	}
	var status string
	if err := json.Unmarshal(doc, &status); err == nil {
		return nil, statusError(op, status)
	}
	if doc[0] != '{' {
		return nil, apperr.Transport(op, fmt.Errorf("unexpected document %s", logger.SanitizeLimit(string(doc), 64)))
	}
	return Identifiers(bytes.Clone(doc)), nil
}

// UpdateField stores value under field for the document behind ids.
// Repeating the same update overwrites the same field.
func (c *Client) UpdateField(ctx context.Context, ids Identifiers, field, value string) (UpdateResult, error) {
	op := "registration.update." + field
	if len(ids) == 0 {
		return UpdateResult{}, apperr.New(apperr.KindInternal, op, fmt.Errorf("no identifiers"))
	}
	body := map[string]any{}
	if err := json.Unmarshal(ids, &body); err != nil {
		return UpdateResult{}, apperr.New(apperr.KindInternal, op, fmt.Errorf("decode identifiers: %w", err))
	}
	body[field] = value

	resp, err := c.post(ctx, op, body)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(resp.Document) > 0 {
		var status string
		if json.Unmarshal(resp.Document, &status) == nil {
			if err := statusError(op, status); apperr.IsDomain(err) {
				return UpdateResult{}, err
			}
		}
	}
	return UpdateResult{Number: resp.Number, Token: resp.Token}, nil
}

func (c *Client) post(ctx context.Context, op string, body any) (response, error) {
	start := time.Now()
	var out response

	payload, err := json.Marshal(body)
	if err != nil {
		return out, apperr.New(apperr.KindInternal, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return out, apperr.New(apperr.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		c.logCall(ctx, op, start, 0, err)
		return out, apperr.Transport(op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		c.logCall(ctx, op, start, res.StatusCode, err)
		return out, apperr.Transport(op, fmt.Errorf("read body: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		err := fmt.Errorf("http %d: %s", res.StatusCode, logger.SanitizeLimit(string(raw), 200))
		c.logCall(ctx, op, start, res.StatusCode, err)
		return out, apperr.Transport(op, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logCall(ctx, op, start, res.StatusCode, err)
		return out, apperr.Transport(op, fmt.Errorf("decode body: %w", err))
	}
	c.logCall(ctx, op, start, res.StatusCode, nil)
	return out, nil
}

func (c *Client) logCall(ctx context.Context, op string, start time.Time, code int, err error) {
	attrs := []slog.Attr{
		slog.String("event", "http.call"),
		slog.String("status", logger.Status(err)),
		slog.String("step", op),
		slog.Int("http_code", code),
		slog.Duration("duration", logger.Took(start)),
	}
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 200)))
	}
	c.log.LogAttrs(ctx, level, "registration call", attrs...)
}

func statusError(op, status string) error {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "not found":
		return apperr.New(apperr.KindNotFound, op, nil)
	case s == "no active draw found":
		return apperr.New(apperr.KindNoActiveDraw, op, nil)
	case s == "does not match":
		return apperr.New(apperr.KindMismatch, op, nil)
	case strings.Contains(s, "participated"):
		return apperr.New(apperr.KindAlreadyUsed, op, nil)
	}
	return apperr.Transport(op, fmt.Errorf("unknown document status %q", logger.SanitizeLimit(status, 64)))
}
