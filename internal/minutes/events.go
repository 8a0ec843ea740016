package minutes

import (
	"context"
	"fmt"

	"eventconsole/console/internal/push"
)

const (
	EventDocumentUpdated   = "document_updated"
	EventDocumentFinalized = "document_finalized"
	EventDocumentArchived  = "document_archived"

	legacyUpdated   = "notulen_updated"
	legacyFinalized = "notulen_finalized"
	legacyArchived  = "notulen_archived"
)

// IsDocumentEvent reports whether eventType announces a minutes change.
func IsDocumentEvent(eventType string) bool {
	switch eventType {
	case EventDocumentUpdated, EventDocumentFinalized, EventDocumentArchived,
		legacyUpdated, legacyFinalized, legacyArchived:
		return true
	}
	return false
}

// documentEvent is the payload of a minutes push event. Newer backends send the id
// and version; older ones embed the whole document under data.
type documentEvent struct {
	DocumentID      string    `json:"documentId"`
	DocumentIDSnake string    `json:"document_id"`
	Version         *int      `json:"version"`
	Data            *Document `json:"data"`
}

func (e documentEvent) id() string {
	switch {
	case e.DocumentID != "":
		return e.DocumentID
	case e.DocumentIDSnake != "":
		return e.DocumentIDSnake
	case e.Data != nil:
		return e.Data.ID
	default:
		return ""
	}
}

// HandleEvent reconciles a push event for the loaded document. Events for other
// documents and unknown types are ignored. An embedded document is applied directly;
// otherwise the document is refetched when the announced version is newer.
func (r *Reconciler) HandleEvent(ctx context.Context, event push.Event) error {
	if !IsDocumentEvent(event.Type) {
		return nil
	}
	var payload documentEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}
	current := r.ID()
	if current == "" || payload.id() != current {
		return nil
	}

	switch {
	case payload.Data != nil && payload.Data.ID == current:
		r.Apply(payload.Data)
		return nil
	case payload.Version != nil:
		return r.Refresh(ctx, *payload.Version)
	default:
		doc, err := r.backend.Get(ctx, current)
		if err != nil {
			return fmt.Errorf("refetch minutes %s: %w", current, err)
		}
		r.Apply(doc)
		return nil
	}
}
