// Package tokenstore persists the access and refresh tokens of a console session.
//
// Stores are plain get/set/clear containers. They never validate tokens. The refresh
// token must outlive the process, so production setups pair an in-memory access slot
// with a durable refresh slot (see Split).
package tokenstore

import (
	"context"
	"fmt"
	"sync"
)

// Kind identifies a token slot.
type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

// Kinds lists every slot, in clear order.
var Kinds = []Kind{Access, Refresh}

// Store persists tokens. Get returns "" with a nil error when the slot is empty.
type Store interface {
	Get(ctx context.Context, kind Kind) (string, error)
	Set(ctx context.Context, kind Kind, value string) error
	Clear(ctx context.Context, kind Kind) error
}

// ClearAll empties every slot and returns the first error encountered.
func ClearAll(ctx context.Context, s Store) error {
	var first error
	for _, kind := range Kinds {
		if err := s.Clear(ctx, kind); err != nil && first == nil {
			first = fmt.Errorf("clear %s token: %w", kind, err)
		}
	}
	return first
}

// Memory keeps tokens in process memory only.
type Memory struct {
	mu     sync.RWMutex
	tokens map[Kind]string
}

func NewMemory() *Memory {
	return &Memory{tokens: make(map[Kind]string)}
}

func (m *Memory) Get(_ context.Context, kind Kind) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[kind], nil
}

func (m *Memory) Set(_ context.Context, kind Kind, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[kind] = value
	return nil
}

func (m *Memory) Clear(_ context.Context, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, kind)
	return nil
}

// Split routes the access token to one store and the refresh token to another.
type Split struct {
	access  Store
	refresh Store
}

func NewSplit(access, refresh Store) *Split {
	return &Split{access: access, refresh: refresh}
}

func (s *Split) route(kind Kind) Store {
	if kind == Refresh {
		return s.refresh
	}
	return s.access
}

func (s *Split) Get(ctx context.Context, kind Kind) (string, error) {
	return s.route(kind).Get(ctx, kind)
}

func (s *Split) Set(ctx context.Context, kind Kind, value string) error {
	return s.route(kind).Set(ctx, kind, value)
}

func (s *Split) Clear(ctx context.Context, kind Kind) error {
	return s.route(kind).Clear(ctx, kind)
}
