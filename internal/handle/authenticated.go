package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
	"github.com/m3rciful/drawbot/core/netutil"
	"github.com/m3rciful/drawbot/internal/apperr"
)

// ErrUnknownUser is returned by a Session for a handle with no account.
var ErrUnknownUser = errors.New("handle: unknown user")

// Session is a logged-in automation session.
type Session interface {
	ResolveUserID(ctx context.Context, username string) (string, error)
}

// Authenticated resolves handles through a logged-in Session.
type Authenticated struct {
	sess    Session
	timeout time.Duration
}

// NewAuthenticated wraps sess.
func NewAuthenticated(sess Session, timeout time.Duration) *Authenticated {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Authenticated{sess: sess, timeout: timeout}
}

// Strategy implements Verifier.
func (a *Authenticated) Strategy() string { return StrategyAuthenticated }

// Verify succeeds when the session resolves the handle to a user id.
func (a *Authenticated) Verify(ctx context.Context, handle string) (bool, error) {
	name := Username(handle)
	if name == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	id, err := a.sess.ResolveUserID(ctx, name)
	switch {
	case errors.Is(err, ErrUnknownUser):
		return false, nil
	case err != nil:
		return false, apperr.Transport("handle.authenticated", err)
	}
	return id != "", nil
}

// HTTPSession keeps the cookies of a form login and resolves users through
// the profile lookup endpoint.
type HTTPSession struct {
	lookupURL string
	http      *http.Client
}

// HTTPLogin returns a LoginFunc that posts cfg's credentials to cfg.LoginURL.
func HTTPLogin(cfg Config) LoginFunc {
	return func(ctx context.Context) (Session, error) {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc := netutil.NewClient(netutil.ClientOptions{Timeout: cfg.Timeout})
		hc.Jar = jar

		form := url.Values{"username": {cfg.Username}, "password": {cfg.Password}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.LoginURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", userAgent)

		res, err := hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		defer res.Body.Close()
		var out struct {
			Authenticated bool `json:"authenticated"`
		}
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("login: http %d", res.StatusCode)
		}
		if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
			return nil, fmt.Errorf("login: decode: %w", err)
		}
		if !out.Authenticated {
			return nil, fmt.Errorf("login: rejected for %s", cfg.Username)
		}
		return &HTTPSession{lookupURL: cfg.LookupURL, http: hc}, nil
	}
}

// ResolveUserID implements Session.
func (s *HTTPSession) ResolveUserID(ctx context.Context, username string) (string, error) {
	u, err := url.Parse(s.lookupURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("username", username)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	res, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if err != nil {
		return "", err
	}
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrUnknownUser
	default:
		return "", fmt.Errorf("lookup: http %d: %s", res.StatusCode, logger.SanitizeLimit(string(raw), 120))
	}

	var out struct {
		Data struct {
			User *struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("lookup: decode: %w", err)
	}
	if out.Data.User == nil || out.Data.User.ID == "" {
		return "", ErrUnknownUser
	}
	return out.Data.User.ID, nil
}
