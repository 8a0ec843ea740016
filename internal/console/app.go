// Package console wires configuration, token storage, the session client and the
// domain services into one App.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"eventconsole/console/internal/chat"
	"eventconsole/console/internal/config"
	"eventconsole/console/internal/httpclient"
	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/metrics"
	"eventconsole/console/internal/minutes"
	"eventconsole/console/internal/push"
	"eventconsole/console/internal/session"
	"eventconsole/console/internal/tokenstore"
)

// Options override parts of the wiring. Zero values use the configuration.
type Options struct {
	Logger    *slog.Logger
	Navigator session.Navigator
	// Tokens replaces the configured token store.
	Tokens tokenstore.Store
	Dialer push.Dialer
	// Registry receives the metrics. nil uses a private registry.
	Registry *prometheus.Registry
}

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Tokens   tokenstore.Store
	Client   *httpclient.Client
	Session  *session.Manager
	Minutes  *minutes.Service
	Chat     *chat.Service

	dialer  push.Dialer
	closers []func() error
}

func New(cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.LogLevel),
			Format: logging.ParseFormat(cfg.LogFormat),
		})
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics.New(registry),
		Registry: registry,
		dialer:   opts.Dialer,
	}
	if app.dialer == nil {
		app.dialer = push.WSDialer{HandshakeTimeout: cfg.RequestTimeout}
	}

	tokens := opts.Tokens
	if tokens == nil {
		var err error
		tokens, err = app.openTokenStore()
		if err != nil {
			return nil, err
		}
	}
	app.Tokens = tokens

	app.Client = httpclient.New(cfg.APIBaseURL, tokens, httpclient.Options{
		Timeout:     cfg.RequestTimeout,
		PushBaseURL: cfg.WSBaseURL,
		Logger:      logger,
		Metrics:     app.Metrics,
	})
	app.Session = session.New(app.Client, session.Options{Navigator: opts.Navigator, Logger: logger})
	app.Minutes = minutes.NewService(app.Client)
	app.Chat = chat.NewService(app.Client)
	return app, nil
}

// openTokenStore pairs an in-memory access slot with the configured durable refresh slot.
func (a *App) openTokenStore() (tokenstore.Store, error) {
	switch strings.ToLower(a.Config.TokenStore) {
	case "memory":
		return tokenstore.NewMemory(), nil
	case "redis":
		store, err := tokenstore.NewRedisStore(a.Config.RedisURL, a.Config.Profile)
		if err != nil {
			return nil, fmt.Errorf("open redis token store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if a.Config.RefreshTTL > 0 {
			store.WithTTL(tokenstore.Refresh, a.Config.RefreshTTL)
		}
		a.Logger.Debug("using redis token store", "profile", a.Config.Profile)
		return tokenstore.NewSplit(tokenstore.NewMemory(), store), nil
	case "", "file":
		store := tokenstore.NewFileStore(a.Config.TokenFile, a.Config.TokenKey)
		a.Logger.Debug("using file token store", "path", a.Config.TokenFile, "sealed", a.Config.TokenKey != "")
		return tokenstore.NewSplit(tokenstore.NewMemory(), store), nil
	default:
		return nil, fmt.Errorf("unknown token store %q", a.Config.TokenStore)
	}
}

// Start recovers a persisted session. It never fails for a missing or rejected
// refresh token; the app is then simply anonymous.
func (a *App) Start(ctx context.Context) error {
	if err := a.Session.Bootstrap(ctx); err != nil {
		a.Logger.Warn("session not recovered", "error", err)
	}
	return a.Session.Wait(ctx)
}

// NewEditor opens a minutes editor using the app's push settings.
func (a *App) NewEditor(ctx context.Context, opts minutes.EditorOptions) *minutes.Editor {
	if opts.Dialer == nil {
		opts.Dialer = a.dialer
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = a.Config.PushMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = a.Logger
	}
	if opts.Metrics == nil {
		opts.Metrics = a.Metrics
	}
	return minutes.NewEditor(ctx, a.Minutes, opts)
}

// NewRoom opens a chat room using the app's push settings.
func (a *App) NewRoom(ctx context.Context, opts chat.RoomOptions) *chat.Room {
	if opts.Dialer == nil {
		opts.Dialer = a.dialer
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = a.Config.PushMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = a.Logger
	}
	if opts.Metrics == nil {
		opts.Metrics = a.Metrics
	}
	return chat.NewRoom(ctx, a.Chat, opts)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
