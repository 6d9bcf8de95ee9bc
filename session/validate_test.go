package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ripple/grid"
)

func TestValidateAcceptsMinimalRecord(t *testing.T) {
	assert.True(t, Validate([]byte(`{"id":"x","name":"","saves":[]}`)))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"null", `null`},
		{"empty", ``},
		{"not an object", `[1,2]`},
		{"missing id", `{"name":"a","saves":[]}`},
		{"empty id", `{"id":"","name":"a","saves":[]}`},
		{"non-string name", `{"id":"x","name":5,"saves":[]}`},
		{"missing name", `{"id":"x","saves":[]}`},
		{"missing saves", `{"id":"x","name":"a"}`},
		{"saves not a list", `{"id":"x","name":"a","saves":{}}`},
		{"save without id", `{"id":"x","name":"a","saves":[{"name":"s","tuning":"major","tempo":120,"activeGridItems":[]}]}`},
		{"save with non-numeric tempo", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"major","tempo":"fast","activeGridItems":[]}]}`},
		{"save with zero tempo", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"major","tempo":0,"activeGridItems":[]}]}`},
		{"save with unknown tuning", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"lydian","tempo":120,"activeGridItems":[]}]}`},
		{"save with coordinate out of range", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"major","tempo":120,"activeGridItems":[[0,16]]}]}`},
		{"save with negative coordinate", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"major","tempo":120,"activeGridItems":[[-1,3]]}]}`},
		{"save with non-integer coordinate", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"major","tempo":120,"activeGridItems":[[1.5,3]]}]}`},
		{"save with triple", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"major","tempo":120,"activeGridItems":[[1,2,3]]}]}`},
		{"save without cells", `{"id":"x","name":"a","saves":[{"id":"s","name":"s","tuning":"major","tempo":120}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Validate([]byte(tt.raw)))
			_, err := Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestParseFullRecord(t *testing.T) {
	raw := `{
		"id": "rec-1",
		"name": "ana",
		"saves": [{"id":"s1","name":"intro","tuning":"blues","tempo":95.5,"activeGridItems":[[0,0],[15,15]]}],
		"blocks": [{"name":"bob","address":"abc"}]
	}`
	rec, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "ana", rec.Name)
	require.Len(t, rec.Saves, 1)
	assert.Equal(t, 95.5, rec.Saves[0].Tempo)
	assert.Equal(t, []grid.Cell{{Row: 0, Col: 0}, {Row: 15, Col: 15}}, rec.Saves[0].ActiveGridItems)
	assert.Equal(t, []Block{{Name: "bob", Address: "abc"}}, rec.Blocks)
}

func TestParseLenientBlocks(t *testing.T) {
	rec, err := Parse([]byte(`{"id":"x","name":"a","saves":[],"blocks":"oops"}`))
	require.NoError(t, err)
	assert.Empty(t, rec.Blocks)

	rec, err = Parse([]byte(`{"id":"x","name":"a","saves":[],"blocks":null}`))
	require.NoError(t, err)
	assert.Empty(t, rec.Blocks)
}

func TestValidateRecordRoundTrip(t *testing.T) {
	rec := NewRecord("me")
	rec.Saves = append(rec.Saves, NewSave("a", grid.TuningMinor, 100, []grid.Cell{{Row: 1, Col: 1}, {Row: 1, Col: 1}}))
	assert.True(t, ValidateRecord(rec))
	assert.Len(t, rec.Saves[0].ActiveGridItems, 1)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	back, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, rec.Saves, back.Saves)

	assert.False(t, ValidateRecord(nil))
	bad := rec.Clone()
	bad.Saves[0].Tempo = -1
	assert.False(t, ValidateRecord(bad))
	assert.True(t, ValidateRecord(rec), "clone must not alias the original")
}

func TestMergeSavesKeepsFirst(t *testing.T) {
	held := []Save{{ID: "a", Name: "held-a"}}
	incoming := []Save{{ID: "a", Name: "incoming-a"}, {ID: "b", Name: "b"}}

	merged := mergeSaves(held, incoming)
	require.Len(t, merged, 2)
	assert.Equal(t, "held-a", merged[0].Name)
	assert.Equal(t, "b", merged[1].ID)
}
