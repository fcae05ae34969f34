// Package notify sends the confirmation SMS through an sms.ru compatible
// gateway and checks that it was delivered.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/netutil"
	"github.com/m3rciful/drawbot/internal/apperr"
)

const (
	defaultBaseURL      = "https://sms.ru/sms"
	defaultTimeout      = 10 * time.Second
	defaultPollAttempts = 3
	defaultPollDelay    = 2 * time.Second
)

// Gateway status codes.
const (
	CodeQueued    = 100
	CodeDelivered = 103
	CodeFailedMin = 104
	CodeUnknown   = -1
)

// Config configures the SMS gateway.
type Config struct {
	BaseURL      string        `yaml:"base_url" envconfig:"SMS_BASE_URL"`
	APIID        string        `yaml:"api_id" envconfig:"SMS_API_ID"`
	TestMode     bool          `yaml:"test_mode" envconfig:"SMS_TEST_MODE"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"SMS_TIMEOUT"`
	PollAttempts int           `yaml:"poll_attempts" envconfig:"SMS_POLL_ATTEMPTS"`
	PollDelay    time.Duration `yaml:"poll_delay" envconfig:"SMS_POLL_DELAY"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = defaultPollAttempts
	}
	if c.PollDelay <= 0 {
		c.PollDelay = defaultPollDelay
	}
}

// State is the delivery state derived from a gateway code.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// Classify maps a gateway code to a delivery state.
func Classify(code int) State {
	switch {
	case code == CodeUnknown || code >= CodeFailedMin:
		return StateFailed
	case code == CodeDelivered:
		return StateDelivered
	case code >= CodeQueued && code < CodeDelivered:
		return StatePending
	}
	return StateFailed
}

// DispatchRecord is one recipient of a send request.
type DispatchRecord struct {
	BatchID    string
	Phone      string
	SMSID      string
	StatusCode int
	StatusText string
}

// State classifies the record's last known code.
func (r DispatchRecord) State() State { return Classify(r.StatusCode) }

// DeliveryStatus is the answer of the status endpoint.
type DeliveryStatus struct {
	Code  int
	Text  string
	State State
	// Polls is the number of status requests made.
	Polls int
}

// Dispatcher talks to the gateway.
type Dispatcher struct {
	cfg    Config
	http   *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	record func(state State)
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Dispatcher) {
		if hc != nil {
			d.http = hc
		}
	}
}

// WithRecorder reports the final state of every Notify call.
func WithRecorder(fn func(state State)) Option {
	return func(d *Dispatcher) { d.record = fn }
}

// New builds a Dispatcher.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	if strings.TrimSpace(cfg.APIID) == "" {
		return nil, fmt.Errorf("notify: api_id is required")
	}
	cfg.defaults()
	d := &Dispatcher{
		cfg:   cfg,
		http:  netutil.NewClient(netutil.ClientOptions{Timeout: cfg.Timeout, Retries: 1}),
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type gatewayEntry struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	StatusText string          `json:"status_text"`
	SMSID      json.RawMessage `json:"sms_id"`
}

type gatewayReply struct {
	gatewayEntry
	SMS map[string]gatewayEntry `json:"sms"`
}

// Send submits text to every recipient in one request. The records keep the
// per-recipient codes; a recipient the gateway rejected has a failed code.
func (d *Dispatcher) Send(ctx context.Context, recipients []string, text string) ([]DispatchRecord, error) {
	const op = "notify.send"
	if len(recipients) == 0 {
		return nil, nil
	}
	numbers := make([]string, len(recipients))
	for i, phone := range recipients {
		numbers[i] = NormalizePhone(phone)
	}
	params := url.Values{
		"to":  {strings.Join(numbers, ",")},
		"msg": {text},
	}
	if d.cfg.TestMode {
		params.Set("test", "1")
	}
	reply, err := d.call(ctx, op, "send", params)
	if err != nil {
		return nil, err
	}

	batch := uuid.NewString()
	records := make([]DispatchRecord, 0, len(numbers))
	for _, phone := range numbers {
		rec := DispatchRecord{BatchID: batch, Phone: phone, StatusCode: CodeUnknown}
		if e, ok := reply.SMS[phone]; ok {
			rec.StatusCode = e.StatusCode
			rec.StatusText = e.StatusText
			rec.SMSID = rawID(e.SMSID)
		}
		records = append(records, rec)
	}
	return records, nil
}

// NormalizePhone turns a Russian mobile number written as 9XXXXXXXXX,
// 8XXXXXXXXXX or 7XXXXXXXXXX into 7XXXXXXXXXX, the key the gateway reports
// it under. Other input is returned trimmed.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	switch {
	case len(phone) == 10 && phone[0] == '9':
		return "7" + phone
	case len(phone) == 11 && phone[0] == '8':
		return "7" + phone[1:]
	}
	return phone
}

// PollDeliveryStatus asks for the status of rec. While the message is still
// pending it asks again with a growing delay, up to the configured attempts.
func (d *Dispatcher) PollDeliveryStatus(ctx context.Context, rec DispatchRecord) (DeliveryStatus, error) {
	const op = "notify.status"
	if rec.SMSID == "" {
		return DeliveryStatus{Code: rec.StatusCode, Text: rec.StatusText, State: rec.State()}, nil
	}

	var st DeliveryStatus
	for attempt := 1; attempt <= d.cfg.PollAttempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, d.cfg.PollDelay*time.Duration(attempt-1)); err != nil {
				return st, apperr.Transport(op, err)
			}
		}
		reply, err := d.call(ctx, op, "status", url.Values{"sms_id": {rec.SMSID}})
		if err != nil {
			return st, err
		}
		e, ok := reply.SMS[rec.SMSID]
		if !ok {
			return st, apperr.Transport(op, fmt.Errorf("no status for sms %s", rec.SMSID))
		}
		st = DeliveryStatus{Code: e.StatusCode, Text: e.StatusText, State: Classify(e.StatusCode), Polls: attempt}
		if st.State != StatePending {
			break
		}
	}
	return st, nil
}

// Notify sends text to phone and waits for a delivery verdict. Failure to
// send or a failed delivery is a notification error. A message still pending
// after the last poll is not treated as failed.
func (d *Dispatcher) Notify(ctx context.Context, phone, text string) (DeliveryStatus, error) {
	const op = "notify"
	start := time.Now()
	st, err := d.notify(ctx, phone, text)
	if d.record != nil {
		state := st.State
		if err != nil {
			state = StateFailed
		}
		d.record(state)
	}

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("outcome", string(st.State)),
		slog.Int("status_code", st.Code),
		slog.Int("attempts", st.Polls),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 200)))
		logger.Warn(ctx, "notify", "sms.fail", attrs...)
		return st, apperr.New(apperr.KindNotification, op, err)
	}
	logger.Info(ctx, "notify", "sms.done", attrs...)
	return st, nil
}

func (d *Dispatcher) notify(ctx context.Context, phone, text string) (DeliveryStatus, error) {
	records, err := d.Send(ctx, []string{phone}, text)
	if err != nil {
		return DeliveryStatus{State: StateFailed}, err
	}
	if len(records) == 0 {
		return DeliveryStatus{State: StateFailed}, fmt.Errorf("no dispatch record")
	}
	rec := records[0]
	if rec.State() == StateFailed {
		st := DeliveryStatus{Code: rec.StatusCode, Text: rec.StatusText, State: StateFailed}
		return st, fmt.Errorf("send rejected for %s: %d %s", rec.Phone, rec.StatusCode, rec.StatusText)
	}
	st, err := d.PollDeliveryStatus(ctx, rec)
	if err != nil {
		return st, err
	}
	if st.State == StateFailed {
		return st, fmt.Errorf("delivery failed for %s: %d %s", rec.Phone, st.Code, st.Text)
	}
	return st, nil
}

func (d *Dispatcher) call(ctx context.Context, op, method string, params url.Values) (gatewayReply, error) {
	var out gatewayReply
	params.Set("api_id", d.cfg.APIID)
	params.Set("json", "1")

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return out, apperr.New(apperr.KindInternal, op, err)
	}
	res, err := d.http.Do(req)
	if err != nil {
		return out, apperr.Transport(op, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return out, apperr.Transport(op, err)
	}
	if res.StatusCode != http.StatusOK {
		return out, apperr.Transport(op, fmt.Errorf("http %d: %s", res.StatusCode, logger.SanitizeLimit(string(raw), 120)))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperr.Transport(op, fmt.Errorf("decode body: %w", err))
	}
	if !strings.EqualFold(out.Status, "OK") {
		return out, apperr.Transport(op, fmt.Errorf("gateway error %d: %s", out.StatusCode, out.StatusText))
	}
	return out, nil
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return string(raw)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
