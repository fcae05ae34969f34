package netutil

import (
	"net"
	"net/http"
	"time"
)

// ClientOptions tunes NewClient. Zero values pick the defaults below.
type ClientOptions struct {
	// Timeout bounds a whole request including retries.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	Backoff time.Duration
}

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultClientTimeout   = 30 * time.Second
	defaultRetryBackoff    = 2 * time.Second
)

// NewClient returns an HTTP client with bounded dial/TLS timeouts and an
// optional retry transport for transient network failures.
func NewClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultClientTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultRetryBackoff
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ExpectContinueTimeout: time.Second,
	}
	var rt http.RoundTripper = base
	if opts.Retries > 0 {
		rt = &RetryTransport{Base: base, MaxRetries: opts.Retries, Backoff: opts.Backoff}
	}
	return &http.Client{Timeout: opts.Timeout, Transport: rt}
}

// RetryTransport repeats a request on transient network errors with linear backoff.
// Requests whose body cannot be replayed are attempted once.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	Backoff    time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.MaxRetries + 1
	if req.Body != nil && req.GetBody == nil {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		curr := req
		if attempt > 1 {
			curr = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				curr.Body = body
			}
		}

		resp, err := base.RoundTrip(curr)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !ShouldRetry(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(t.Backoff * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}
