package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/metrics"
	"eventconsole/console/internal/push"
)

const historyPageSize = 50

// RoomOptions tune the push channel behind a Room.
type RoomOptions struct {
	Dialer      push.Dialer
	MaxAttempts int
	Wait        func(ctx context.Context, d time.Duration) error
	// OnChange receives the full message list after every change.
	OnChange func(channelID string, messages []Message)
	OnState  func(push.State)
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Room follows one selected chat channel at a time.
type Room struct {
	svc    *Service
	opts   RoomOptions
	logger *slog.Logger
	keyed  *push.Keyed

	mu    sync.RWMutex
	id    string
	cache *Cache
}

func NewRoom(ctx context.Context, svc *Service, opts RoomOptions) *Room {
	r := &Room{
		svc:    svc,
		opts:   opts,
		logger: logging.Component(opts.Logger, "chat"),
	}
	r.keyed = push.NewKeyed(ctx, r.channelConfig)
	return r
}

// Select switches to channelID: history is loaded first, then the push channel
// for the previous selection is torn down and a new one opened.
func (r *Room) Select(ctx context.Context, channelID string) error {
	if channelID == "" {
		r.keyed.Set("")
		r.mu.Lock()
		r.id, r.cache = "", nil
		r.mu.Unlock()
		return nil
	}
	history, err := r.svc.Messages(ctx, channelID, historyPageSize, 0)
	if err != nil {
		return fmt.Errorf("select channel: %w", err)
	}
	cache := NewCache(func(messages []Message) {
		if r.opts.OnChange != nil {
			r.opts.OnChange(channelID, messages)
		}
	})
	cache.Load(history)

	r.mu.Lock()
	r.id, r.cache = channelID, cache
	r.mu.Unlock()
	r.keyed.Set(channelID)
	return nil
}

func (r *Room) channelConfig(channelID string) push.Config {
	return push.Config{
		Name: "chat",
		URL: func(ctx context.Context) (string, error) {
			return r.svc.Client().PushURL(ctx, WatchPath(channelID))
		},
		Dialer:      r.opts.Dialer,
		MaxAttempts: r.opts.MaxAttempts,
		Wait:        r.opts.Wait,
		OnState:     r.opts.OnState,
		Logger:      r.opts.Logger,
		Metrics:     r.opts.Metrics,
		Handler: func(_ context.Context, event push.Event) {
			cache := r.cacheFor(channelID)
			if cache == nil {
				return
			}
			if _, err := cache.Apply(event); err != nil {
				r.logger.Warn("ignoring chat event", "type", event.Type, "error", err)
			}
		},
	}
}

func (r *Room) cacheFor(channelID string) *Cache {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.id != channelID {
		return nil
	}
	return r.cache
}

// Messages returns the selected channel's messages, oldest first.
func (r *Room) Messages() []Message {
	r.mu.RLock()
	cache := r.cache
	r.mu.RUnlock()
	if cache == nil {
		return nil
	}
	return cache.Messages()
}

// Send posts content to the selected channel and adds the stored message locally.
// The echo arriving over the push channel is de-duplicated by id.
func (r *Room) Send(ctx context.Context, content string) (*Message, error) {
	r.mu.RLock()
	id, cache := r.id, r.cache
	r.mu.RUnlock()
	if id == "" {
		return nil, fmt.Errorf("no channel selected")
	}
	msg, err := r.svc.Send(ctx, id, content)
	if err != nil {
		return nil, err
	}
	cache.Add(*msg)
	return msg, nil
}

// Channel returns the live push channel, or nil when nothing is selected.
func (r *Room) Channel() *push.Channel {
	_, ch := r.keyed.Current()
	return ch
}

// Reconnect reopens the push channel for the selected chat channel.
func (r *Room) Reconnect() *push.Channel {
	return r.keyed.Reset()
}

func (r *Room) Close() {
	r.keyed.Close()
}
