// Package source fetches the current state of practice records from the
// system of record.
package source

import (
	"context"

	"github.com/practsync/practsync/internal/models"
)

// FetchOptions narrows one fetch.
type FetchOptions struct {
	// EntityTypes selects which record kinds to fetch. Empty means all.
	EntityTypes []models.EntityType

	// DateRange bounds appointment fetches; ignored for other kinds.
	DateRange models.DateRange
}

// RecordSet groups one fetch's records by entity type.
type RecordSet struct {
	Clients      []models.Record
	Appointments []models.Record
	Notes        []models.Record
}

// ByType returns the records of one entity type.
func (s *RecordSet) ByType(t models.EntityType) []models.Record {
	switch t {
	case models.EntityClient:
		return s.Clients
	case models.EntityAppointment:
		return s.Appointments
	case models.EntityNote:
		return s.Notes
	}
	return nil
}

// Put appends a record under its entity type.
func (s *RecordSet) Put(r models.Record) {
	switch r.EntityType {
	case models.EntityClient:
		s.Clients = append(s.Clients, r)
	case models.EntityAppointment:
		s.Appointments = append(s.Appointments, r)
	case models.EntityNote:
		s.Notes = append(s.Notes, r)
	}
}

// Total returns the record count across all entity types.
func (s *RecordSet) Total() int {
	return len(s.Clients) + len(s.Appointments) + len(s.Notes)
}

// Provider fetches the full current state of the selected record kinds.
// Implementations own pagination and retry; a fetch failure surfaces as a
// single error and aborts the run before any destination work starts.
type Provider interface {
	FetchAll(ctx context.Context, opts FetchOptions) (*RecordSet, error)
}

// StaticProvider serves records supplied inline with the trigger request.
// Used for runs that carry their own data instead of source credentials.
type StaticProvider struct {
	records []models.Record
}

// NewStaticProvider wraps a fixed record list as a Provider.
func NewStaticProvider(records []models.Record) *StaticProvider {
	return &StaticProvider{records: records}
}

// FetchAll groups the inline records by entity type. EntityTypes filtering
// applies; the date range does not (inline data is taken as given).
func (p *StaticProvider) FetchAll(_ context.Context, opts FetchOptions) (*RecordSet, error) {
	selected := make(map[models.EntityType]bool)
	for _, t := range opts.EntityTypes {
		selected[t] = true
	}

	set := &RecordSet{}
	for _, r := range p.records {
		if len(selected) > 0 && !selected[r.EntityType] {
			continue
		}
		set.Put(r)
	}

	return set, nil
}
