// Package fingerprint produces stable content hashes of practice records.
//
// A fingerprint covers what a record contains, never where it came from:
// identity and provenance fields are stripped before hashing so that they
// cannot cause a spurious "changed" classification between runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/practsync/practsync/internal/models"
)

// identityFields are stripped from the payload before hashing. They are
// stable across runs by definition and say nothing about record content.
var identityFields = map[string]struct{}{
	"id":        {},
	"source":    {},
	"sourceId":  {},
	"source_id": {},
}

// Record hashes the semantic fields of a record as lowercase SHA-256 hex.
// Two structurally equal records yield the same hash regardless of map
// iteration order: encoding/json serializes map keys sorted, and nil
// values encode as an explicit JSON null.
func Record(r models.Record) (string, error) {
	canonical := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		if _, skip := identityFields[k]; skip {
			continue
		}
		if v == nil {
			canonical[k] = nil
			continue
		}
		canonical[k] = v
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to serialize record %s/%s: %w", r.EntityType, r.SourceID, err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
