package models

import "time"

// EntityType identifies which kind of practice record a payload carries.
// The set is closed; the sync engine processes clients before appointments
// and notes because the latter resolve their owning client through the ledger.
type EntityType string

const (
	EntityClient      EntityType = "client"
	EntityAppointment EntityType = "appointment"
	EntityNote        EntityType = "note"
)

// AllEntityTypes lists every entity type in dependency order:
// clients first, then the record kinds that reference them.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityClient, EntityAppointment, EntityNote}
}

// Valid reports whether t is a member of the closed enumeration.
func (t EntityType) Valid() bool {
	switch t {
	case EntityClient, EntityAppointment, EntityNote:
		return true
	}
	return false
}

// Record is an immutable snapshot of one source-system record.
// SourceID and EntityType identify it; Fields is the opaque payload
// fetched fresh each run. The engine never mutates a record.
type Record struct {
	Fields     map[string]any `json:"fields"`
	SourceID   string         `json:"source_id"`
	EntityType EntityType     `json:"entity_type"`
}

// clientRefField is the payload key under which appointments and notes
// carry the sourceId of their owning client.
const clientRefField = "client_source_id"

// ClientRef returns the sourceId of the client this record belongs to,
// or "" for records that carry no client reference (clients themselves).
func (r Record) ClientRef() string {
	v, ok := r.Fields[clientRefField]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// DateRange optionally narrows appointment-like fetches.
// Zero values mean "unbounded" on that side.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsZero reports whether no bounds are set.
func (d DateRange) IsZero() bool {
	return d.From.IsZero() && d.To.IsZero()
}
