// Package handle checks that an Instagram handle belongs to a real account.
package handle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/drawbot/core/logger"
)

// Strategy names reported in logs and metrics.
const (
	StrategyPublic        = "public"
	StrategyAuthenticated = "authenticated"
)

// Modes accepted by Config.Mode.
const (
	ModeAuto          = "auto"
	ModePublic        = "public"
	ModeAuthenticated = "authenticated"
)

const (
	defaultSearchURL    = "https://www.instagram.com/web/search/topsearch/"
	defaultTimeout      = 10 * time.Second
	defaultLoginTimeout = 30 * time.Second
)

// Config selects and configures the verification strategy.
type Config struct {
	Mode         string        `yaml:"mode" envconfig:"HANDLE_MODE"`
	SearchURL    string        `yaml:"search_url" envconfig:"HANDLE_SEARCH_URL"`
	LoginURL     string        `yaml:"login_url" envconfig:"HANDLE_LOGIN_URL"`
	LookupURL    string        `yaml:"lookup_url" envconfig:"HANDLE_LOOKUP_URL"`
	Username     string        `yaml:"username" envconfig:"HANDLE_USERNAME"`
	Password     string        `yaml:"password" envconfig:"HANDLE_PASSWORD"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"HANDLE_TIMEOUT"`
	LoginTimeout time.Duration `yaml:"login_timeout" envconfig:"HANDLE_LOGIN_TIMEOUT"`
}

// Normalize fills defaults and validates the mode.
func (c *Config) Normalize() error {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	switch c.Mode {
	case "":
		c.Mode = ModeAuto
	case ModeAuto, ModePublic, ModeAuthenticated:
	default:
		return fmt.Errorf("handle: invalid mode %q; allowed: auto, public, authenticated", c.Mode)
	}
	if c.SearchURL == "" {
		c.SearchURL = defaultSearchURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = defaultLoginTimeout
	}
	if c.Mode == ModeAuthenticated && (c.LoginURL == "" || c.LookupURL == "" || c.Username == "") {
		return fmt.Errorf("handle: authenticated mode needs login_url, lookup_url and username")
	}
	return nil
}

func (c Config) hasCredentials() bool {
	return c.LoginURL != "" && c.LookupURL != "" && c.Username != ""
}

// Verifier reports whether a handle resolves to an existing account.
// An unknown handle is (false, nil); errors are transport failures.
type Verifier interface {
	Verify(ctx context.Context, handle string) (bool, error)
	Strategy() string
}

// Username strips the leading @ from a handle.
func Username(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// Selector serves the public strategy until the authenticated session is
// established, then switches to it for good.
type Selector struct {
	current atomic.Pointer[verifierBox]
	ready   chan struct{}
}

type verifierBox struct{ v Verifier }

// Verify delegates to the active strategy.
func (s *Selector) Verify(ctx context.Context, handle string) (bool, error) {
	return s.current.Load().v.Verify(ctx, handle)
}

// Strategy reports the active strategy.
func (s *Selector) Strategy() string { return s.current.Load().v.Strategy() }

// Ready is closed once strategy selection is final.
func (s *Selector) Ready() <-chan struct{} { return s.ready }

// LoginFunc establishes an authenticated session.
type LoginFunc func(ctx context.Context) (Session, error)

// Select picks the strategy for cfg. Login, when configured, runs in its own
// goroutine bounded by cfg.LoginTimeout; until it succeeds, and for good if it
// fails, the public strategy answers. login may be nil to use HTTPLogin.
func Select(ctx context.Context, cfg Config, public Verifier, login LoginFunc) *Selector {
	s := &Selector{ready: make(chan struct{})}
	s.current.Store(&verifierBox{v: public})

	if cfg.Mode == ModePublic || (cfg.Mode == ModeAuto && !cfg.hasCredentials()) {
		logger.Info(ctx, "handle", "strategy.selected", slog.String("strategy", public.Strategy()))
		close(s.ready)
		return s
	}
	if login == nil {
		login = HTTPLogin(cfg)
	}

	go func() {
		defer close(s.ready)
		start := time.Now()
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.LoginTimeout)
		defer cancel()

		sess, err := login(lctx)
		if err != nil {
			logger.Warn(ctx, "handle", "login.fail",
				slog.String("strategy", public.Strategy()),
				slog.Duration("duration", logger.Took(start)),
				slog.String("err", logger.SanitizeLimit(err.Error(), 200)),
			)
			return
		}
		s.current.Store(&verifierBox{v: NewAuthenticated(sess, cfg.Timeout)})
		logger.Info(ctx, "handle", "strategy.selected",
			slog.String("strategy", StrategyAuthenticated),
			slog.Duration("duration", logger.Took(start)),
		)
	}()
	return s
}
