// Package admin serves the operator HTTP endpoints: welcome settings
// updates, health and metrics.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/drawbot/core/logger"
)

const (
	maxTextBytes  = 64 << 10
	maxImageBytes = 10 << 20

	// StartupImageName is the file the uploaded image is stored as.
	StartupImageName = "startupImage.png"
)

// Config configures the admin listener. An empty Listen disables the server.
type Config struct {
	Listen string `yaml:"listen" envconfig:"ADMIN_LISTEN"`
	Token  string `yaml:"token" envconfig:"ADMIN_TOKEN"`
}

// WelcomeEditor changes the /start greeting.
type WelcomeEditor interface {
	SetIntroduction(text string) error
	SaveStartupImage(name string, data []byte) error
}

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// Server is the admin HTTP server.
type Server struct {
	cfg      Config
	editor   WelcomeEditor
	gatherer prometheus.Gatherer
	health   map[string]HealthFunc
	router   *chi.Mux
}

// Option customizes a Server.
type Option func(*Server)

// WithGatherer serves g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHealth adds a named check to /healthz.
func WithHealth(name string, fn HealthFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.health[name] = fn
		}
	}
}

// New builds the server and its routes.
func New(cfg Config, editor WelcomeEditor, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		editor:   editor,
		gatherer: prometheus.DefaultGatherer,
		health:   make(map[string]HealthFunc),
		router:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/config/introduction", s.handleIntroduction)
		r.Post("/config/startup-image", s.handleStartupImage)
		// Path used by the earlier admin page.
		r.Post("/updateConfig/{name}", s.handleLegacyUpdate)
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Listen == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "admin", "listen", slog.String("listen", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(ctx, "admin", "stopped")
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	status := http.StatusOK
	for name, fn := range s.health {
		if err := fn(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "checks": checks})
}

func (s *Server) handleIntroduction(w http.ResponseWriter, r *http.Request) {
	text, err := readIntroduction(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if err := s.editor.SetIntroduction(text); err != nil {
		logger.Error(r.Context(), "admin", "introduction.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "save failed"})
		return
	}
	logger.Info(r.Context(), "admin", "introduction.updated", slog.Int("bytes", len(text)))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStartupImage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "error": "image too large"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "empty image"})
		return
	}
	if err := s.editor.SaveStartupImage(StartupImageName, data); err != nil {
		logger.Error(r.Context(), "admin", "image.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "save failed"})
		return
	}
	logger.Info(r.Context(), "admin", "image.updated", slog.Int("bytes", len(data)))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLegacyUpdate(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "name") {
	case "introduction":
		s.handleIntroduction(w, r)
	case "startupImage":
		s.handleStartupImage(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "unknown setting"})
	}
}

// readIntroduction takes the text form field, or the raw body decoded once.
func readIntroduction(r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxTextBytes)
	var text string
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return "", errors.New("bad form")
		}
		text = r.PostForm.Get("text")
	} else {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return "", errors.New("body too large")
		}
		text = string(raw)
		if rest, ok := strings.CutPrefix(text, "text="); ok {
			text = rest
		}
		if decoded, err := url.QueryUnescape(text); err == nil {
			text = decoded
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text is required")
	}
	return text, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug(r.Context(), "admin", "http.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_code", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("duration", logger.Took(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
