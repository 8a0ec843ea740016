package minutes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/push"
)

// memBackend stores documents and bumps the version on every update.
type memBackend struct {
	mu        sync.Mutex
	docs      map[string]*Document
	failSave  error
	gets      int
	beforeSet func()
}

func newMemBackend(docs ...*Document) *memBackend {
	b := &memBackend{docs: make(map[string]*Document)}
	for _, d := range docs {
		b.docs[d.ID] = d.Clone()
	}
	return b
}

func (b *memBackend) Get(_ context.Context, id string) (*Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	doc, ok := b.docs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return doc.Clone(), nil
}

func (b *memBackend) Update(_ context.Context, id string, doc *Document) (*Document, error) {
	if b.beforeSet != nil {
		b.beforeSet()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave != nil {
		return nil, b.failSave
	}
	stored := doc.Clone()
	stored.Version = b.docs[id].Version + 1
	b.docs[id] = stored
	return stored.Clone(), nil
}

func (b *memBackend) setStatus(id string, status Status) (*Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc := b.docs[id]
	doc.Status = status
	doc.Version++
	return doc.Clone(), nil
}

func (b *memBackend) Finalize(_ context.Context, id string) (*Document, error) {
	return b.setStatus(id, StatusFinalized)
}

func (b *memBackend) Archive(_ context.Context, id string) (*Document, error) {
	return b.setStatus(id, StatusArchived)
}

func draft(version int) *Document {
	return &Document{
		ID:      "n1",
		Title:   "Board meeting",
		Notes:   "initial",
		Status:  StatusDraft,
		Version: version,
		Agenda:  []AgendaItem{{Title: "Opening"}},
	}
}

func loaded(t *testing.T, backend *memBackend) *Reconciler {
	t.Helper()
	r := NewReconciler(backend, ReconcilerOptions{Logger: logging.Discard()})
	require.NoError(t, r.Load(context.Background(), "n1"))
	return r
}

func yes(Status, *Document) bool { return true }

func TestApplySameSnapshotTwiceIsIdempotent(t *testing.T) {
	r := NewReconciler(newMemBackend(), ReconcilerOptions{Logger: logging.Discard()})
	snapshot := draft(3)

	r.Apply(snapshot)
	first := r.Local()
	r.Apply(snapshot)

	assert.Equal(t, first, r.Local())
	assert.False(t, r.Dirty())
}

func TestCleanLocalAlwaysTakesServerCopy(t *testing.T) {
	r := NewReconciler(newMemBackend(), ReconcilerOptions{Logger: logging.Discard()})
	r.Apply(draft(5))

	older := draft(4)
	older.Notes = "older"
	assert.True(t, r.Apply(older))
	assert.Equal(t, "older", r.Local().Notes)
	assert.Equal(t, 5, r.Server().Version, "an out-of-order snapshot does not lower the known version")
}

func TestDirtyLocalSurvivesSameOrOlderVersion(t *testing.T) {
	r := loaded(t, newMemBackend(draft(3)))

	require.NoError(t, r.Edit(func(d *Document) { d.Notes = "my edit" }))
	assert.True(t, r.Dirty())

	for _, version := range []int{3, 2} {
		incoming := draft(version)
		incoming.Notes = "someone else"
		assert.False(t, r.Apply(incoming))
		assert.Equal(t, "my edit", r.Local().Notes)
		assert.True(t, r.Dirty())
	}
	assert.Equal(t, "someone else", r.Server().Notes)
	assert.Equal(t, 3, r.Server().Version)
}

func TestDirtyLocalLosesToNewerVersion(t *testing.T) {
	r := loaded(t, newMemBackend(draft(3)))
	require.NoError(t, r.Edit(func(d *Document) { d.Notes = "my edit" }))

	newer := draft(4)
	newer.Notes = "saved elsewhere"
	assert.True(t, r.Apply(newer))
	assert.Equal(t, "saved elsewhere", r.Local().Notes)
	assert.Equal(t, 4, r.Local().Version)
	assert.False(t, r.Dirty())
}

func TestEditCannotChangeIdentity(t *testing.T) {
	r := loaded(t, newMemBackend(draft(3)))
	require.NoError(t, r.Edit(func(d *Document) {
		d.Version = 99
		d.Status = StatusArchived
		d.Agenda[0].Title = "Welcome"
	}))
	local := r.Local()
	assert.Equal(t, 3, local.Version)
	assert.Equal(t, StatusDraft, local.Status)
	assert.Equal(t, "Welcome", local.Agenda[0].Title)
	assert.Equal(t, "Opening", r.Server().Agenda[0].Title, "server copy must not alias local edits")
}

func TestSaveReplacesBothCopies(t *testing.T) {
	var changes []bool
	backend := newMemBackend(draft(3))
	r := NewReconciler(backend, ReconcilerOptions{
		Logger:   logging.Discard(),
		OnChange: func(_ *Document, dirty bool) { changes = append(changes, dirty) },
	})
	require.NoError(t, r.Load(context.Background(), "n1"))
	require.NoError(t, r.Edit(func(d *Document) { d.Notes = "agreed" }))

	require.NoError(t, r.Save(context.Background()))
	assert.False(t, r.Dirty())
	assert.Equal(t, 4, r.Local().Version)
	assert.Equal(t, 4, r.Server().Version)
	assert.Equal(t, "agreed", r.Server().Notes)
	assert.Equal(t, []bool{false, true, false}, changes)

	// Nothing to save.
	require.NoError(t, r.Save(context.Background()))
	assert.Equal(t, 4, r.Local().Version)
}

func TestFailedSaveKeepsEdits(t *testing.T) {
	backend := newMemBackend(draft(3))
	r := loaded(t, backend)
	require.NoError(t, r.Edit(func(d *Document) { d.Notes = "precious" }))

	backend.failSave = errors.New("503 service unavailable")
	err := r.Save(context.Background())
	require.Error(t, err)
	assert.True(t, r.Dirty())
	assert.Equal(t, "precious", r.Local().Notes)
	assert.Equal(t, 3, r.Server().Version)

	backend.failSave = nil
	require.NoError(t, r.Save(context.Background()))
	assert.Equal(t, "precious", r.Server().Notes)
}

func TestEditDuringSaveStaysDirty(t *testing.T) {
	backend := newMemBackend(draft(3))
	r := loaded(t, backend)
	require.NoError(t, r.Edit(func(d *Document) { d.Notes = "first" }))

	backend.beforeSet = func() {
		backend.beforeSet = nil
		require.NoError(t, r.Edit(func(d *Document) { d.Title = "typed while saving" }))
	}
	require.NoError(t, r.Save(context.Background()))

	assert.True(t, r.Dirty())
	assert.Equal(t, "typed while saving", r.Local().Title)
	assert.Equal(t, 4, r.Local().Version)
	assert.Equal(t, "first", r.Server().Notes)
}

func TestStatusTransitions(t *testing.T) {
	backend := newMemBackend(draft(3))
	r := loaded(t, backend)
	ctx := context.Background()

	assert.ErrorIs(t, r.Archive(ctx, yes), ErrInvalidTransition)
	assert.ErrorIs(t, r.Finalize(ctx, nil), ErrNotConfirmed)
	assert.ErrorIs(t, r.Finalize(ctx, func(Status, *Document) bool { return false }), ErrNotConfirmed)
	assert.Equal(t, StatusDraft, r.Local().Status)

	require.NoError(t, r.Edit(func(d *Document) { d.Notes = "unsaved" }))
	assert.ErrorIs(t, r.Finalize(ctx, yes), ErrUnsavedChanges)
	require.NoError(t, r.Save(ctx))

	var asked Status
	require.NoError(t, r.Finalize(ctx, func(to Status, doc *Document) bool {
		asked = to
		return doc.ID == "n1"
	}))
	assert.Equal(t, StatusFinalized, asked)
	assert.Equal(t, StatusFinalized, r.Local().Status)
	assert.True(t, r.ReadOnly())

	err := r.Edit(func(d *Document) { d.Notes = "too late" })
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.False(t, r.Dirty())
	assert.ErrorIs(t, r.Finalize(ctx, yes), ErrInvalidTransition)

	require.NoError(t, r.Archive(ctx, yes))
	assert.Equal(t, StatusArchived, r.Local().Status)
	assert.ErrorIs(t, r.Archive(ctx, yes), ErrInvalidTransition)
	assert.ErrorIs(t, r.Finalize(ctx, yes), ErrInvalidTransition)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusFinalized, true},
		{StatusFinalized, StatusArchived, true},
		{StatusDraft, StatusArchived, false},
		{StatusFinalized, StatusDraft, false},
		{StatusArchived, StatusDraft, false},
		{StatusArchived, StatusFinalized, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func parse(t *testing.T, frame string) push.Event {
	t.Helper()
	e, err := push.ParseEvent([]byte(frame))
	require.NoError(t, err)
	return e
}

func TestHandleEventRefetchesNewerVersion(t *testing.T) {
	backend := newMemBackend(draft(3))
	r := loaded(t, backend)
	require.NoError(t, r.Edit(func(d *Document) { d.Notes = "tab B" }))

	// Another tab saved version 4.
	other := draft(4)
	other.Notes = "tab A"
	backend.docs["n1"] = other

	ctx := context.Background()
	require.NoError(t, r.HandleEvent(ctx, parse(t, `{"type":"document_updated","documentId":"n2","version":9}`)))
	assert.True(t, r.Dirty(), "events for other documents are ignored")

	require.NoError(t, r.HandleEvent(ctx, parse(t, `{"type":"document_updated","documentId":"n1","version":3}`)))
	assert.Equal(t, 1, backend.gets, "stale announcement does not refetch")

	require.NoError(t, r.HandleEvent(ctx, parse(t, `{"type":"document_updated","documentId":"n1","version":4,"timestamp":"2026-03-01T12:00:00Z"}`)))
	assert.Equal(t, 2, backend.gets)
	assert.False(t, r.Dirty())
	assert.Equal(t, "tab A", r.Local().Notes)

	// Replaying the same announcement is a no-op.
	require.NoError(t, r.HandleEvent(ctx, parse(t, `{"type":"document_updated","documentId":"n1","version":4}`)))
	assert.Equal(t, 2, backend.gets)
}

func TestHandleEventAcceptsEmbeddedDocument(t *testing.T) {
	r := loaded(t, newMemBackend(draft(3)))
	ctx := context.Background()

	require.NoError(t, r.HandleEvent(ctx, parse(t,
		`{"type":"notulen_finalized","data":{"id":"n1","titel":"Board meeting","status":"finalized","versie":4}}`)))
	assert.Equal(t, StatusFinalized, r.Local().Status)
	assert.True(t, r.ReadOnly())

	require.NoError(t, r.HandleEvent(ctx, parse(t, `{"type":"chat_typing","documentId":"n1"}`)))
	assert.Error(t, r.HandleEvent(ctx, parse(t, `{"type":"document_updated","documentId":"n1","version":"x"}`)))
}
