package minutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"eventconsole/console/internal/logging"
)

var (
	ErrNoDocument        = errors.New("no document loaded")
	ErrReadOnly          = errors.New("document is read-only")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotConfirmed      = errors.New("transition not confirmed")
	ErrUnsavedChanges    = errors.New("document has unsaved changes")
)

// Backend is the part of Service the reconciler needs.
type Backend interface {
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, id string, doc *Document) (*Document, error)
	Finalize(ctx context.Context, id string) (*Document, error)
	Archive(ctx context.Context, id string) (*Document, error)
}

// Confirm asks the user to approve a one-way status transition.
type Confirm func(to Status, doc *Document) bool

// Reconciler holds the last known server copy and the local working copy of one
// document. Incoming server copies replace the local copy when it is clean, or when
// it is dirty and the incoming version is newer. Local edits are never merged field
// by field: the newer server copy wins outright.
type Reconciler struct {
	backend  Backend
	logger   *slog.Logger
	onChange func(local *Document, dirty bool)

	mu     sync.Mutex
	server *Document
	local  *Document
	dirty  bool
	// edits counts local edits so Save can tell whether the user typed while it ran.
	edits uint64
}

type ReconcilerOptions struct {
	// OnChange receives a copy of the local document after every change.
	OnChange func(local *Document, dirty bool)
	Logger   *slog.Logger
}

func NewReconciler(backend Backend, opts ReconcilerOptions) *Reconciler {
	return &Reconciler{
		backend:  backend,
		logger:   logging.Component(opts.Logger, "minutes"),
		onChange: opts.OnChange,
	}
}

// Load fetches id and applies it as a server copy.
func (r *Reconciler) Load(ctx context.Context, id string) error {
	doc, err := r.backend.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load minutes %s: %w", id, err)
	}
	r.mu.Lock()
	if r.server != nil && r.server.ID != doc.ID {
		r.server, r.local, r.dirty = nil, nil, false
	}
	r.mu.Unlock()
	r.Apply(doc)
	return nil
}

// Apply records doc as the latest server copy and reconciles the local copy.
// It reports whether the local copy was replaced.
func (r *Reconciler) Apply(doc *Document) bool {
	if doc == nil {
		return false
	}
	r.mu.Lock()
	replaced := r.applyLocked(doc)
	local, dirty := r.local.Clone(), r.dirty
	r.mu.Unlock()
	if replaced {
		r.notify(local, dirty)
	}
	return replaced
}

func (r *Reconciler) applyLocked(doc *Document) bool {
	if r.server != nil && r.server.ID != doc.ID {
		return false
	}
	// The server copy never moves back to an older version.
	if r.server == nil || doc.Version >= r.server.Version {
		r.server = doc.Clone()
	}
	switch {
	case r.local == nil || !r.dirty:
		r.local = doc.Clone()
		return true
	case doc.Version > r.local.Version:
		r.logger.Info("newer server copy replaces unsaved local edits",
			"document_id", doc.ID, "local_version", r.local.Version, "server_version", doc.Version)
		r.local = doc.Clone()
		r.dirty = false
		return true
	default:
		return false
	}
}

// Edit applies fn to the local copy and marks it dirty. Only drafts can be edited.
func (r *Reconciler) Edit(fn func(doc *Document)) error {
	r.mu.Lock()
	if r.local == nil {
		r.mu.Unlock()
		return ErrNoDocument
	}
	if !r.local.Status.Editable() {
		r.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrReadOnly, r.local.Status)
	}
	id, version, status := r.local.ID, r.local.Version, r.local.Status
	fn(r.local)
	// Identity fields belong to the server.
	r.local.ID, r.local.Version, r.local.Status = id, version, status
	r.dirty = true
	r.edits++
	local := r.local.Clone()
	r.mu.Unlock()
	r.notify(local, true)
	return nil
}

// Save sends the whole local copy. On success both copies become the server's
// response; on failure the local copy stays dirty and the error is returned.
func (r *Reconciler) Save(ctx context.Context) error {
	r.mu.Lock()
	if r.local == nil {
		r.mu.Unlock()
		return ErrNoDocument
	}
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	if !r.local.Status.Editable() {
		r.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrReadOnly, r.local.Status)
	}
	sent := r.local.Clone()
	edits := r.edits
	r.mu.Unlock()

	saved, err := r.backend.Update(ctx, sent.ID, sent)
	if err != nil {
		return fmt.Errorf("save minutes %s: %w", sent.ID, err)
	}

	r.mu.Lock()
	switch {
	case r.local == nil || r.local.ID != saved.ID:
		r.mu.Unlock()
		return nil
	case r.server != nil && saved.Version < r.server.Version:
		// A newer copy arrived while the save was in flight.
		r.local = r.server.Clone()
		r.dirty = false
	case r.edits != edits:
		// Keep what was typed during the save; it is based on the saved version now.
		r.server = saved.Clone()
		r.local.Version = saved.Version
	default:
		r.server = saved.Clone()
		r.local = saved.Clone()
		r.dirty = false
	}
	local, dirty := r.local.Clone(), r.dirty
	r.mu.Unlock()
	r.notify(local, dirty)
	return nil
}

// Finalize moves a saved draft to finalized after confirm approves it.
func (r *Reconciler) Finalize(ctx context.Context, confirm Confirm) error {
	return r.transition(ctx, StatusFinalized, confirm, r.backend.Finalize)
}

// Archive moves a finalized document to archived after confirm approves it.
func (r *Reconciler) Archive(ctx context.Context, confirm Confirm) error {
	return r.transition(ctx, StatusArchived, confirm, r.backend.Archive)
}

func (r *Reconciler) transition(ctx context.Context, to Status, confirm Confirm,
	send func(ctx context.Context, id string) (*Document, error)) error {
	r.mu.Lock()
	if r.local == nil {
		r.mu.Unlock()
		return ErrNoDocument
	}
	if r.dirty {
		r.mu.Unlock()
		return ErrUnsavedChanges
	}
	from := r.local.Status
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	doc := r.local.Clone()
	r.mu.Unlock()

	if confirm == nil || !confirm(to, doc) {
		return ErrNotConfirmed
	}
	updated, err := send(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("%s minutes %s: %w", to, doc.ID, err)
	}

	r.mu.Lock()
	if r.local == nil || r.local.ID != updated.ID {
		r.mu.Unlock()
		return nil
	}
	r.server = updated.Clone()
	r.local = updated.Clone()
	r.dirty = false
	local := r.local.Clone()
	r.mu.Unlock()
	r.notify(local, false)
	return nil
}

// Refresh refetches the document when version is newer than the server copy.
func (r *Reconciler) Refresh(ctx context.Context, version int) error {
	r.mu.Lock()
	if r.server == nil {
		r.mu.Unlock()
		return ErrNoDocument
	}
	id, known := r.server.ID, r.server.Version
	r.mu.Unlock()
	if version <= known {
		return nil
	}
	doc, err := r.backend.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("refetch minutes %s: %w", id, err)
	}
	r.Apply(doc)
	return nil
}

// ID returns the loaded document id, or "".
func (r *Reconciler) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil {
		return ""
	}
	return r.server.ID
}

// Local returns a copy of the working copy.
func (r *Reconciler) Local() *Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local.Clone()
}

// Server returns a copy of the last known server copy.
func (r *Reconciler) Server() *Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.server.Clone()
}

func (r *Reconciler) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// ReadOnly reports whether edits are refused.
func (r *Reconciler) ReadOnly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local == nil || !r.local.Status.Editable()
}

func (r *Reconciler) notify(local *Document, dirty bool) {
	if r.onChange != nil {
		r.onChange(local, dirty)
	}
}
