package handle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/netutil"
	"github.com/m3rciful/drawbot/internal/apperr"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Public checks handles against the public search endpoint.
type Public struct {
	searchURL string
	timeout   time.Duration
	http      *http.Client
}

// NewPublic builds the public strategy. A nil hc gets a client with retries.
func NewPublic(searchURL string, timeout time.Duration, hc *http.Client) *Public {
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if hc == nil {
		hc = netutil.NewClient(netutil.ClientOptions{Timeout: timeout, Retries: 1})
	}
	return &Public{searchURL: searchURL, timeout: timeout, http: hc}
}

// Strategy implements Verifier.
func (p *Public) Strategy() string { return StrategyPublic }

type searchResult struct {
	Users []struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"users"`
}

// Verify reports whether the search results hold an account whose username
// equals the handle exactly.
func (p *Public) Verify(ctx context.Context, handle string) (bool, error) {
	const op = "handle.public"
	name := Username(handle)
	if name == "" {
		return false, nil
	}

	u, err := url.Parse(p.searchURL)
	if err != nil {
		return false, apperr.New(apperr.KindInternal, op, err)
	}
	q := u.Query()
	q.Set("query", name)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, apperr.New(apperr.KindInternal, op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := p.http.Do(req)
	if err != nil {
		return false, apperr.Transport(op, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if err != nil {
		return false, apperr.Transport(op, err)
	}
	if res.StatusCode != http.StatusOK {
		return false, apperr.Transport(op, fmt.Errorf("http %d: %s", res.StatusCode, logger.SanitizeLimit(string(raw), 120)))
	}

	var out searchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, apperr.Transport(op, fmt.Errorf("decode body: %w", err))
	}
	for _, cand := range out.Users {
		if cand.User.Username == name {
			return true, nil
		}
	}
	return false, nil
}
