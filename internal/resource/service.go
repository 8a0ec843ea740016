// Package resource is the generic CRUD contract business entities are consumed through.
// Every call goes through the session client, so callers never handle tokens.
package resource

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"eventconsole/console/internal/httpclient"
)

// ListOptions are the common list filters. Extra holds entity-specific query parameters.
type ListOptions struct {
	Query  string
	Status string
	Limit  int
	Offset int
	Extra  url.Values
}

// Values encodes the options as query parameters.
func (o ListOptions) Values() url.Values {
	values := url.Values{}
	for key, vals := range o.Extra {
		values[key] = append([]string(nil), vals...)
	}
	if o.Query != "" {
		values.Set("query", o.Query)
	}
	if o.Status != "" {
		values.Set("status", o.Status)
	}
	if o.Limit > 0 {
		values.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		values.Set("offset", strconv.Itoa(o.Offset))
	}
	return values
}

// Service performs list/get/create/update/delete for one entity type T under base.
type Service[T any] struct {
	client *httpclient.Client
	base   string
}

func NewService[T any](client *httpclient.Client, base string) *Service[T] {
	return &Service[T]{client: client, base: "/" + strings.Trim(base, "/")}
}

func (s *Service[T]) Client() *httpclient.Client { return s.client }

// Path joins id and optional sub-resources onto the service base.
func (s *Service[T]) Path(id string, parts ...string) string {
	path := s.base
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	for _, part := range parts {
		path += "/" + strings.Trim(part, "/")
	}
	return path
}

func (s *Service[T]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	var items []T
	if err := s.client.Get(ctx, s.base, opts.Values(), &items); err != nil {
		return nil, fmt.Errorf("list %s: %w", s.base, err)
	}
	return items, nil
}

func (s *Service[T]) Get(ctx context.Context, id string) (*T, error) {
	var item T
	if err := s.client.Get(ctx, s.Path(id), nil, &item); err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Path(id), err)
	}
	return &item, nil
}

func (s *Service[T]) Create(ctx context.Context, input any) (*T, error) {
	var item T
	if err := s.client.Post(ctx, s.base, input, &item); err != nil {
		return nil, fmt.Errorf("create %s: %w", s.base, err)
	}
	return &item, nil
}

// Update sends input as the full replacement for id and returns the stored entity.
func (s *Service[T]) Update(ctx context.Context, id string, input any) (*T, error) {
	var item T
	if err := s.client.Put(ctx, s.Path(id), input, &item); err != nil {
		return nil, fmt.Errorf("update %s: %w", s.Path(id), err)
	}
	return &item, nil
}

func (s *Service[T]) Delete(ctx context.Context, id string) error {
	if err := s.client.Delete(ctx, s.Path(id), nil); err != nil {
		return fmt.Errorf("delete %s: %w", s.Path(id), err)
	}
	return nil
}

// Action sends a bodyless PUT to a sub-resource of id, e.g. /notulen/{id}/finalize.
func (s *Service[T]) Action(ctx context.Context, id, action string) (*T, error) {
	var item T
	if err := s.client.Put(ctx, s.Path(id, action), nil, &item); err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, s.Path(id), err)
	}
	return &item, nil
}
