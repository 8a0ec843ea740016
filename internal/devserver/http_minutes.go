package devserver

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"eventconsole/console/internal/minutes"
	"eventconsole/console/internal/util"
)

type minutesStore struct {
	mu   sync.Mutex
	docs map[string]*minutes.Document
}

func newMinutesStore() *minutesStore {
	return &minutesStore{docs: make(map[string]*minutes.Document)}
}

func (m *minutesStore) get(id string) (*minutes.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

type minutesQuery struct {
	query     string
	status    minutes.Status
	createdBy string
	from, to  *time.Time
}

func (q minutesQuery) match(doc *minutes.Document) bool {
	if q.status != "" && doc.Status != q.status {
		return false
	}
	if q.createdBy != "" && doc.CreatedBy != q.createdBy {
		return false
	}
	if q.from != nil && doc.MeetingDate.Before(*q.from) {
		return false
	}
	if q.to != nil && doc.MeetingDate.After(q.to.Add(24*time.Hour-time.Nanosecond)) {
		return false
	}
	if q.query != "" {
		needle := strings.ToLower(q.query)
		return strings.Contains(strings.ToLower(doc.Title), needle) ||
			strings.Contains(strings.ToLower(doc.Notes), needle)
	}
	return true
}

func (m *minutesStore) list(q minutesQuery) []minutes.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]minutes.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if q.match(doc) {
			out = append(out, *doc.Clone())
		}
	}
	slices.SortFunc(out, func(a, b minutes.Document) int {
		if c := b.MeetingDate.Compare(a.MeetingDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func parseDate(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (s *Server) handleListMinutes(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "notulen", "read") {
		return
	}
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	all := s.minutes.list(minutesQuery{
		query:     strings.TrimSpace(r.URL.Query().Get("query")),
		status:    minutes.Status(r.URL.Query().Get("status")),
		createdBy: r.URL.Query().Get("created_by"),
		from:      parseDate(r, "date_from"),
		to:        parseDate(r, "date_to"),
	})
	writeJSON(w, http.StatusOK, minutes.ListResponse{
		Documents: page(all, offset, limit),
		Total:     len(all),
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *Server) handleGetMinutes(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "notulen", "read") {
		return
	}
	doc, ok := s.minutes.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "minutes not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCreateMinutes(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "notulen", "create") {
		return
	}
	var body minutes.CreateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "titel is required")
		return
	}
	p := principalFrom(r.Context())
	now := time.Now().UTC()
	doc := &minutes.Document{
		ID:          util.NewID("ntl"),
		Title:       body.Title,
		MeetingDate: body.MeetingDate,
		Location:    body.Location,
		Chair:       body.Chair,
		Secretary:   body.Secretary,
		Present:     body.Present,
		Absent:      body.Absent,
		Agenda:      body.Agenda,
		Decisions:   body.Decisions,
		ActionItems: body.ActionItems,
		Notes:       body.Notes,
		Status:      minutes.StatusDraft,
		Version:     1,
		CreatedBy:   p.user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   p.user.ID,
	}
	s.minutes.mu.Lock()
	s.minutes.docs[doc.ID] = doc.Clone()
	s.minutes.mu.Unlock()

	s.announce(minutes.EventDocumentUpdated, doc)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleUpdateMinutes(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "notulen", "update") {
		return
	}
	var body minutes.Document
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	p := principalFrom(r.Context())

	s.minutes.mu.Lock()
	stored, ok := s.minutes.docs[id]
	if !ok {
		s.minutes.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", "minutes not found")
		return
	}
	if !stored.Status.Editable() {
		s.minutes.mu.Unlock()
		writeError(w, http.StatusConflict, "NOT_EDITABLE", "minutes are "+string(stored.Status))
		return
	}
	updated := body.Clone()
	updated.ID = stored.ID
	updated.Status = stored.Status
	updated.Version = stored.Version + 1
	updated.CreatedBy = stored.CreatedBy
	updated.CreatedAt = stored.CreatedAt
	updated.FinalizedAt = stored.FinalizedAt
	updated.FinalizedBy = stored.FinalizedBy
	updated.UpdatedAt = time.Now().UTC()
	updated.UpdatedBy = p.user.ID
	s.minutes.docs[id] = updated
	doc := updated.Clone()
	s.minutes.mu.Unlock()

	s.announce(minutes.EventDocumentUpdated, doc)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteMinutes(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "notulen", "delete") {
		return
	}
	id := chi.URLParam(r, "id")
	s.minutes.mu.Lock()
	_, ok := s.minutes.docs[id]
	delete(s.minutes.docs, id)
	s.minutes.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "minutes not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTransitionMinutes(to minutes.Status) http.HandlerFunc {
	action := "finalize"
	event := minutes.EventDocumentFinalized
	if to == minutes.StatusArchived {
		action = "archive"
		event = minutes.EventDocumentArchived
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r, "notulen", action) {
			return
		}
		id := chi.URLParam(r, "id")
		p := principalFrom(r.Context())

		s.minutes.mu.Lock()
		stored, ok := s.minutes.docs[id]
		if !ok {
			s.minutes.mu.Unlock()
			writeError(w, http.StatusNotFound, "NOT_FOUND", "minutes not found")
			return
		}
		if !minutes.CanTransition(stored.Status, to) {
			s.minutes.mu.Unlock()
			writeError(w, http.StatusConflict, "INVALID_TRANSITION", "cannot "+action+" "+string(stored.Status)+" minutes")
			return
		}
		now := time.Now().UTC()
		stored.Status = to
		stored.Version++
		stored.UpdatedAt = now
		stored.UpdatedBy = p.user.ID
		if to == minutes.StatusFinalized {
			by := p.user.ID
			stored.FinalizedAt = &now
			stored.FinalizedBy = &by
		}
		doc := stored.Clone()
		s.minutes.mu.Unlock()

		s.announce(event, doc)
		writeJSON(w, http.StatusOK, doc)
	}
}

// announce tells minutes subscribers that doc changed. The frame carries the id and
// version only; clients refetch.
func (s *Server) announce(eventType string, doc *minutes.Document) {
	s.hub.publish(topicMinutes, map[string]any{
		"type":       eventType,
		"documentId": doc.ID,
		"version":    doc.Version,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}
