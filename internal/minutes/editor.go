package minutes

import (
	"context"
	"log/slog"
	"time"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/metrics"
	"eventconsole/console/internal/push"
)

type EditorOptions struct {
	Dialer      push.Dialer
	MaxAttempts int
	Wait        func(ctx context.Context, d time.Duration) error
	OnChange    func(local *Document, dirty bool)
	OnState     func(push.State)
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Editor edits one document at a time and keeps it in sync over the minutes push
// channel. Opening another document resets the channel.
type Editor struct {
	svc    *Service
	rec    *Reconciler
	keyed  *push.Keyed
	opts   EditorOptions
	logger *slog.Logger
}

func NewEditor(ctx context.Context, svc *Service, opts EditorOptions) *Editor {
	e := &Editor{
		svc:    svc,
		opts:   opts,
		logger: logging.Component(opts.Logger, "minutes"),
		rec:    NewReconciler(svc, ReconcilerOptions{OnChange: opts.OnChange, Logger: opts.Logger}),
	}
	e.keyed = push.NewKeyed(ctx, e.channelConfig)
	return e
}

// Open loads id and subscribes to its changes.
func (e *Editor) Open(ctx context.Context, id string) error {
	if err := e.rec.Load(ctx, id); err != nil {
		return err
	}
	e.keyed.Set(id)
	return nil
}

func (e *Editor) channelConfig(id string) push.Config {
	return push.Config{
		Name: "minutes",
		URL: func(ctx context.Context) (string, error) {
			return e.svc.Client().PushURL(ctx, PushPath)
		},
		Dialer:      e.opts.Dialer,
		MaxAttempts: e.opts.MaxAttempts,
		Wait:        e.opts.Wait,
		OnState:     e.opts.OnState,
		Logger:      e.opts.Logger,
		Metrics:     e.opts.Metrics,
		Handler: func(ctx context.Context, event push.Event) {
			if err := e.rec.HandleEvent(ctx, event); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Warn("minutes event not applied", "document_id", id, "type", event.Type, "error", err)
			}
		},
	}
}

func (e *Editor) Reconciler() *Reconciler { return e.rec }

// Channel returns the live push channel, or nil before Open.
func (e *Editor) Channel() *push.Channel {
	_, ch := e.keyed.Current()
	return ch
}

// Reconnect reopens the push channel for the open document with a fresh attempt budget.
func (e *Editor) Reconnect() *push.Channel {
	return e.keyed.Reset()
}

func (e *Editor) Close() {
	e.keyed.Close()
}
