package push

import (
	"context"
	"sync"
)

// Keyed owns at most one channel tied to a dependency key, such as a chat channel id.
// Changing the key closes the old channel and opens a fresh one with a new attempt budget.
type Keyed struct {
	ctx   context.Context
	build func(key string) Config

	mu      sync.Mutex
	key     string
	channel *Channel
}

func NewKeyed(ctx context.Context, build func(key string) Config) *Keyed {
	return &Keyed{ctx: ctx, build: build}
}

// Set switches to key. Setting the current key again is a no-op; an empty key only
// closes the current channel.
func (k *Keyed) Set(key string) *Channel {
	k.mu.Lock()
	defer k.mu.Unlock()
	if key == k.key && k.channel != nil {
		return k.channel
	}
	k.closeLocked()
	k.key = key
	if key == "" {
		return nil
	}
	k.channel = Open(k.ctx, k.build(key))
	return k.channel
}

// Reset reopens the channel for the current key, e.g. after it gave up.
func (k *Keyed) Reset() *Channel {
	k.mu.Lock()
	key := k.key
	k.closeLocked()
	k.mu.Unlock()
	return k.Set(key)
}

// Current returns the active key and channel, if any.
func (k *Keyed) Current() (string, *Channel) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key, k.channel
}

func (k *Keyed) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closeLocked()
	k.key = ""
}

func (k *Keyed) closeLocked() {
	if k.channel != nil {
		k.channel.Close()
		k.channel = nil
	}
}
