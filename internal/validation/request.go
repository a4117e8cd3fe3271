package validation

import (
	"fmt"
	"time"

	"github.com/practsync/practsync/internal/models"
)

// ValidateEntityTypes checks that every requested type is a member of the
// closed enumeration and returns the typed selection. An empty selection
// is valid and means "all types".
func ValidateEntityTypes(raw []string) ([]models.EntityType, error) {
	types := make([]models.EntityType, 0, len(raw))
	seen := make(map[models.EntityType]bool)

	for _, s := range raw {
		t := models.EntityType(s)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown entity type %q", s)
		}
		if seen[t] {
			return nil, fmt.Errorf("entity type %q listed twice", s)
		}
		seen[t] = true
		types = append(types, t)
	}

	return types, nil
}

// ValidateDateRange parses optional RFC 3339 bounds and checks their order.
func ValidateDateRange(from, to string) (models.DateRange, error) {
	var r models.DateRange

	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return r, fmt.Errorf("invalid from date: %w", err)
		}
		r.From = t
	}

	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return r, fmt.Errorf("invalid to date: %w", err)
		}
		r.To = t
	}

	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return r, fmt.Errorf("date range end precedes start")
	}

	return r, nil
}
