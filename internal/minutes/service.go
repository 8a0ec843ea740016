package minutes

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"eventconsole/console/internal/httpclient"
	"eventconsole/console/internal/resource"
)

// PushPath is the minutes push channel path.
const PushPath = "/ws/notulen"

// Service talks to the /notulen endpoints.
type Service struct {
	docs *resource.Service[Document]
}

func NewService(client *httpclient.Client) *Service {
	return &Service{docs: resource.NewService[Document](client, "/notulen")}
}

func (s *Service) Client() *httpclient.Client { return s.docs.Client() }

func (s *Service) List(ctx context.Context, filters ListFilters) (*ListResponse, error) {
	opts := resource.ListOptions{
		Query:  filters.Query,
		Status: string(filters.Status),
		Limit:  filters.Limit,
		Offset: filters.Offset,
		Extra:  url.Values{},
	}
	if filters.CreatedBy != "" {
		opts.Extra.Set("created_by", filters.CreatedBy)
	}
	if filters.DateFrom != nil {
		opts.Extra.Set("date_from", filters.DateFrom.Format(time.DateOnly))
	}
	if filters.DateTo != nil {
		opts.Extra.Set("date_to", filters.DateTo.Format(time.DateOnly))
	}

	var resp ListResponse
	if err := s.Client().Get(ctx, s.docs.Path(""), opts.Values(), &resp); err != nil {
		return nil, fmt.Errorf("list minutes: %w", err)
	}
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.docs.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Document, error) {
	return s.docs.Create(ctx, req)
}

// Update sends the whole document and returns the stored copy with its new version.
func (s *Service) Update(ctx context.Context, id string, doc *Document) (*Document, error) {
	return s.docs.Update(ctx, id, doc)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, id)
}

func (s *Service) Finalize(ctx context.Context, id string) (*Document, error) {
	return s.docs.Action(ctx, id, "finalize")
}

func (s *Service) Archive(ctx context.Context, id string) (*Document, error) {
	return s.docs.Action(ctx, id, "archive")
}
