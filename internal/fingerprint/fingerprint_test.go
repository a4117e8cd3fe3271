package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practsync/practsync/internal/models"
)

func clientRecord(fields map[string]any) models.Record {
	return models.Record{
		SourceID:   "c-1",
		EntityType: models.EntityClient,
		Fields:     fields,
	}
}

func TestRecord_Deterministic(t *testing.T) {
	a := clientRecord(map[string]any{
		"first_name": "Ada",
		"last_name":  "Yang",
		"email":      "ada@example.com",
		"address": map[string]any{
			"city": "Lisbon",
			"zip":  "1100",
		},
	})
	// Same content assembled in a different order.
	fields := map[string]any{}
	fields["address"] = map[string]any{"zip": "1100", "city": "Lisbon"}
	fields["email"] = "ada@example.com"
	fields["last_name"] = "Yang"
	fields["first_name"] = "Ada"
	b := clientRecord(fields)

	hashA, err := Record(a)
	require.NoError(t, err)
	hashB, err := Record(b)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 64) // sha256 hex
}

func TestRecord_IgnoresIdentityFields(t *testing.T) {
	base := clientRecord(map[string]any{
		"first_name": "Ada",
	})
	baseHash, err := Record(base)
	require.NoError(t, err)

	tests := []struct {
		extra map[string]any
		name  string
	}{
		{name: "id", extra: map[string]any{"id": "42", "first_name": "Ada"}},
		{name: "source", extra: map[string]any{"source": "ehr-a", "first_name": "Ada"}},
		{name: "sourceId", extra: map[string]any{"sourceId": "abc", "first_name": "Ada"}},
		{name: "source_id", extra: map[string]any{"source_id": "abc", "first_name": "Ada"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := Record(clientRecord(tt.extra))
			require.NoError(t, err)
			assert.Equal(t, baseHash, hash, "identity field %s must not affect the hash", tt.name)
		})
	}
}

func TestRecord_SensitiveToContent(t *testing.T) {
	a, err := Record(clientRecord(map[string]any{"first_name": "Ada"}))
	require.NoError(t, err)

	b, err := Record(clientRecord(map[string]any{"first_name": "Eva"}))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestRecord_NilValueIsExplicitNull(t *testing.T) {
	withNil, err := Record(clientRecord(map[string]any{"first_name": "Ada", "phone": nil}))
	require.NoError(t, err)

	without, err := Record(clientRecord(map[string]any{"first_name": "Ada"}))
	require.NoError(t, err)

	// An explicit null is part of the content; its presence is hashed.
	assert.NotEqual(t, withNil, without)

	again, err := Record(clientRecord(map[string]any{"phone": nil, "first_name": "Ada"}))
	require.NoError(t, err)
	assert.Equal(t, withNil, again)
}

func TestRecord_UnserializablePayload(t *testing.T) {
	_, err := Record(clientRecord(map[string]any{"bad": make(chan int)}))
	assert.Error(t, err)
}
