// Package app wires the prize-draw registration bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/drawbot/core/bootstrap"
	corecmd "github.com/m3rciful/drawbot/core/cmd"
	"github.com/m3rciful/drawbot/core/logger"
	coretelegram "github.com/m3rciful/drawbot/core/telegram"
	"github.com/m3rciful/drawbot/core/telegram/router"
	"github.com/m3rciful/drawbot/core/telegram/state"
	"github.com/m3rciful/drawbot/core/telegram/ui"
	"github.com/m3rciful/drawbot/internal/admin"
	"github.com/m3rciful/drawbot/internal/bot"
	"github.com/m3rciful/drawbot/internal/cleanup"
	"github.com/m3rciful/drawbot/internal/conversation"
	"github.com/m3rciful/drawbot/internal/handle"
	"github.com/m3rciful/drawbot/internal/metrics"
	"github.com/m3rciful/drawbot/internal/notify"
	"github.com/m3rciful/drawbot/internal/registration"
	"github.com/m3rciful/drawbot/internal/welcome"
)

const redisConnectTimeout = 10 * time.Second

// App owns the long-lived components of the bot.
type App struct {
	cfg *Config

	boot  *bootstrap.Result
	redis *redis.Client
	store state.Store

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	verifier *handle.Selector
	welcome  *welcome.Store
	engine   *conversation.Engine
	handlers *bot.Handlers
	admin    *admin.Server
}

// Bootstrap implements cmd.Options.Bootstrap.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	a, err := New(cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// New initializes logging and storage as boot describes, then builds the
// conversation around them. boot.Config and boot.Database are set from cfg.
func New(cfg *Config, boot bootstrap.Options) (a *App, err error) {
	boot.Config = &cfg.Config
	if cfg.Storage.Backend == StoragePostgres {
		db := cfg.Database
		boot.Database = &db
	}
	res, err := bootstrap.Run(boot)
	if err != nil {
		return nil, err
	}
	a = &App{cfg: cfg, boot: res}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStore(); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.metrics = metrics.New(a.registry)

	backend, err := registration.New(cfg.Registration)
	if err != nil {
		return nil, err
	}
	sms, err := notify.New(cfg.SMS, notify.WithRecorder(func(s notify.State) {
		a.metrics.RecordSMS(string(s))
	}))
	if err != nil {
		return nil, err
	}
	public := handle.NewPublic(cfg.Handle.SearchURL, cfg.Handle.Timeout, nil)
	a.verifier = handle.Select(logger.Background(), cfg.Handle, public, nil)

	a.welcome, err = welcome.Open(cfg.Welcome)
	if err != nil {
		return nil, err
	}

	transport := &bot.Transport{}
	a.engine, err = conversation.New(conversation.Deps{
		Store:        a.store,
		Transport:    transport,
		Registry:     backend,
		Verifier:     a.verifier,
		Notifier:     sms,
		Tracker:      cleanup.New(transport, cfg.Conversation.CleanupDelay),
		Welcome:      a.welcome,
		Interceptors: []conversation.Interceptor{conversation.WithObserver(a.metrics.ObserveStep)},
	}, conversation.Options{
		DocumentLength: cfg.Conversation.DocumentLength,
		StepTimeout:    cfg.Conversation.StepTimeout,
	})
	if err != nil {
		return nil, err
	}

	a.handlers = bot.NewHandlers(a.engine, bot.Options{
		AdminID:   cfg.Telegram.AdminID,
		Transport: transport,
		Sessions:  a.store,
		Strategy:  a.verifier.Strategy,
		Recorder:  a.metrics,
	})

	a.admin = admin.New(cfg.Admin, a.welcome,
		admin.WithGatherer(a.registry),
		admin.WithHealth("storage", a.storageHealth),
	)
	logger.Info(logger.Background(), "app", "built",
		slog.String("storage", cfg.Storage.Backend),
		slog.String("strategy", a.verifier.Strategy()),
		slog.String("listen", cfg.Admin.Listen),
	)
	return a, nil
}

func (a *App) openStore() error {
	switch a.cfg.Storage.Backend {
	case StoragePostgres:
		if a.boot.DB == nil {
			return errors.New("app: postgres backend without a database connection")
		}
		a.store = state.NewPostgresStore(a.boot.DB)
	case StorageMemory:
		a.store = state.NewMemoryStore()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		defer cancel()
		client, err := state.OpenRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.redis = client
		a.store = state.NewRedisStore(client,
			state.WithKeyPrefix(a.cfg.Redis.KeyPrefix),
			state.WithTTL(a.cfg.Redis.TTL),
		)
	}
	return nil
}

func (a *App) storageHealth(ctx context.Context) error {
	switch {
	case a.redis != nil:
		return a.redis.Ping(ctx).Err()
	case a.boot != nil && a.boot.DB != nil:
		return a.boot.DB.PingContext(ctx)
	}
	return nil
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	if err := a.handlers.Register(reg); err != nil {
		return coretelegram.RunOptions{}, err
	}
	var fallbacks ui.FallbackProvider = a.handlers

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: a.cfg.Telegram.AdminID})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{NotFound: fallbacks.UnknownCallback()}))
	routes = append(routes, router.TextRoutes(a.handlers, reg, router.TextOptions{
		UnknownText:     fallbacks.UnknownText(),
		UnknownDocument: fallbacks.UnknownDocument(),
	})...)

	return coretelegram.RunOptions{
		Config:   &a.cfg.Config,
		Registry: reg,
		Middlewares: coretelegram.DefaultMiddlewares(&a.cfg.Config, coretelegram.MiddlewareOptions{
			Observe: a.metrics.ObserveUpdate,
		}),
		Routes: routes,
		Background: []func(ctx context.Context) error{
			a.admin.Run,
			a.watchWelcome,
		},
		OnStart: a.handlers.Bind,
		OnStop: func(context.Context, coretelegram.Runtime) error {
			a.engine.Wait()
			return nil
		},
	}, nil
}

// watchWelcome keeps the greeting in sync with its file. Losing the watch
// only stops hot reload; the admin endpoints still update the greeting.
func (a *App) watchWelcome(ctx context.Context) error {
	if err := a.welcome.Watch(ctx); err != nil {
		logger.Warn(ctx, "app", "welcome.watch.fail", slog.String("err", err.Error()))
	}
	return nil
}

// Close releases storage connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.boot.Close())
	return errors.Join(errs...)
}
