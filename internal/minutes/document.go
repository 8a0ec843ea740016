// Package minutes edits meeting minutes collaboratively: a REST service, the
// reconciler that decides between local edits and incoming server copies, and the
// push channel that delivers document changes made elsewhere.
package minutes

import (
	"slices"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusArchived  Status = "archived"
)

// Editable reports whether fields may still change.
func (s Status) Editable() bool { return s == StatusDraft }

// CanTransition reports whether the status machine allows from -> to.
// draft -> finalized -> archived is the only path and it is one-way.
func CanTransition(from, to Status) bool {
	switch {
	case from == StatusDraft && to == StatusFinalized:
		return true
	case from == StatusFinalized && to == StatusArchived:
		return true
	default:
		return false
	}
}

type AgendaItem struct {
	Title       string `json:"titel"`
	Description string `json:"beschrijving,omitempty"`
	Speaker     string `json:"spreker,omitempty"`
	TimeSlot    string `json:"tijdslot,omitempty"`
}

type Decision struct {
	Description string     `json:"beschrijving"`
	Owner       string     `json:"verantwoordelijke,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

type ActionItem struct {
	Description string     `json:"beschrijving"`
	Owner       string     `json:"verantwoordelijke"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      string     `json:"status"`
}

// Document is one set of meeting minutes. Version is assigned by the server and
// grows on every successful update.
type Document struct {
	ID          string       `json:"id"`
	Title       string       `json:"titel"`
	MeetingDate time.Time    `json:"vergadering_datum"`
	Location    string       `json:"locatie,omitempty"`
	Chair       string       `json:"voorzitter,omitempty"`
	Secretary   string       `json:"notulist,omitempty"`
	Present     []string     `json:"aanwezigen,omitempty"`
	Absent      []string     `json:"afwezigen,omitempty"`
	Agenda      []AgendaItem `json:"agenda_items,omitempty"`
	Decisions   []Decision   `json:"besluiten,omitempty"`
	ActionItems []ActionItem `json:"actiepunten,omitempty"`
	Notes       string       `json:"notities,omitempty"`
	Status      Status       `json:"status"`
	Version     int          `json:"versie"`
	CreatedBy   string       `json:"created_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	UpdatedBy   string       `json:"updated_by_id,omitempty"`
	FinalizedAt *time.Time   `json:"finalized_at,omitempty"`
	FinalizedBy *string      `json:"finalized_by,omitempty"`
}

// Clone returns a deep copy so local edits never alias the server copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Present = slices.Clone(d.Present)
	out.Absent = slices.Clone(d.Absent)
	out.Agenda = slices.Clone(d.Agenda)
	if d.Decisions != nil {
		out.Decisions = make([]Decision, len(d.Decisions))
		for i, dec := range d.Decisions {
			dec.Deadline = cloneTime(dec.Deadline)
			out.Decisions[i] = dec
		}
	}
	if d.ActionItems != nil {
		out.ActionItems = make([]ActionItem, len(d.ActionItems))
		for i, item := range d.ActionItems {
			item.Deadline = cloneTime(item.Deadline)
			out.ActionItems[i] = item
		}
	}
	out.FinalizedAt = cloneTime(d.FinalizedAt)
	if d.FinalizedBy != nil {
		by := *d.FinalizedBy
		out.FinalizedBy = &by
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateRequest is the body of POST /notulen.
type CreateRequest struct {
	Title       string       `json:"titel"`
	MeetingDate time.Time    `json:"vergadering_datum"`
	Location    string       `json:"locatie,omitempty"`
	Chair       string       `json:"voorzitter,omitempty"`
	Secretary   string       `json:"notulist,omitempty"`
	Present     []string     `json:"aanwezigen,omitempty"`
	Absent      []string     `json:"afwezigen,omitempty"`
	Agenda      []AgendaItem `json:"agenda_items,omitempty"`
	Decisions   []Decision   `json:"besluiten,omitempty"`
	ActionItems []ActionItem `json:"actiepunten,omitempty"`
	Notes       string       `json:"notities,omitempty"`
}

type ListFilters struct {
	Query     string
	Status    Status
	CreatedBy string
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
	Offset    int
}

type ListResponse struct {
	Documents []Document `json:"notulen"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}
