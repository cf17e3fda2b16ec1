package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key    string
		domain string
		field  string
		ok     bool
	}{
		{"brand.positioning", "brand", "positioning", true},
		{"website.seo.title", "website", "seo.title", true},
		{" website.score ", "website", "score", true},
		{"nodomain", "", "", false},
		{".field", "", "", false},
		{"domain.", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			d, f, ok := SplitKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.domain, d)
			assert.Equal(t, tt.field, f)
		})
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "brand", Domain("brand.voice"))
	assert.Equal(t, "", Domain("voice"))
}

func TestFieldStatus_Valid(t *testing.T) {
	t.Parallel()
	assert.True(t, FieldStatusProposed.Valid())
	assert.True(t, FieldStatusConfirmed.Valid())
	assert.True(t, FieldStatusRejected.Valid())
	assert.False(t, FieldStatus("pending").Valid())
}

func newTestStore() *FieldStore {
	fs := NewFieldStore("acme")
	fs.Put(&FieldRecord{Key: "website.score", Value: 72.0, Status: FieldStatusProposed})
	fs.Put(&FieldRecord{Key: "brand.voice", Value: "bold", Status: FieldStatusConfirmed})
	fs.Put(&FieldRecord{Key: "brand.tagline", Value: "x", Status: FieldStatusRejected})
	return fs
}

func TestFieldStore_CountByStatus(t *testing.T) {
	t.Parallel()

	c := newTestStore().CountByStatus()
	assert.Equal(t, StatusCounts{Proposed: 1, Confirmed: 1, Rejected: 1, Total: 3}, c)

	var nilStore *FieldStore
	assert.Equal(t, StatusCounts{}, nilStore.CountByStatus())
}

func TestFieldStore_Satisfied(t *testing.T) {
	t.Parallel()

	fs := newTestStore()
	assert.True(t, fs.Satisfied("website.score"))
	assert.True(t, fs.Satisfied("brand.voice"))
	assert.False(t, fs.Satisfied("brand.tagline"), "rejected is not satisfied")
	assert.False(t, fs.Satisfied("offer.price"))
}

func TestFieldStore_KeysSorted(t *testing.T) {
	t.Parallel()

	fs := newTestStore()
	assert.Equal(t, []string{"brand.tagline", "brand.voice", "website.score"}, fs.Keys())
	assert.Equal(t, []string{"brand.voice"}, fs.KeysWithStatus(FieldStatusConfirmed))
}

func TestFieldStore_CloneIsolatesRecords(t *testing.T) {
	t.Parallel()

	fs := newTestStore()
	fs.Get("brand.voice").Evidence = &Evidence{Source: "user"}

	cp := fs.Clone()
	cp.Get("brand.voice").Status = FieldStatusRejected
	cp.Get("brand.voice").Evidence.Source = "changed"
	cp.Put(&FieldRecord{Key: "offer.price", Status: FieldStatusProposed})

	assert.Equal(t, FieldStatusConfirmed, fs.Get("brand.voice").Status)
	assert.Equal(t, "user", fs.Get("brand.voice").Evidence.Source)
	assert.Nil(t, fs.Get("offer.price"))
}

func TestFieldRecord_PushHistoryBounded(t *testing.T) {
	t.Parallel()

	rec := &FieldRecord{Key: "website.score", Evidence: &Evidence{Source: "diag", SourceID: "run-1"}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxHistory+5; i++ {
		rec.Value = float64(i)
		rec.PushHistory("replaced", now)
	}

	require.Len(t, rec.History, maxHistory)
	assert.Equal(t, float64(5), rec.History[0].Value)
	assert.Equal(t, "run-1", rec.History[0].SourceID)
}

func TestFieldStore_JSONShape(t *testing.T) {
	t.Parallel()

	fs := NewFieldStore("acme")
	fs.Put(&FieldRecord{
		Key:        "website.score",
		Value:      map[string]any{"mobile": 60.0},
		Status:     FieldStatusProposed,
		Confidence: 0.8,
		Evidence:   &Evidence{Source: "website_diagnostic", SourceID: "run-9"},
	})

	data, err := json.Marshal(fs)
	require.NoError(t, err)

	var back FieldStore
	require.NoError(t, json.Unmarshal(data, &back))
	rec := back.Get("website.score")
	require.NotNil(t, rec)
	assert.Equal(t, FieldStatusProposed, rec.Status)
	assert.Equal(t, "run-9", rec.Evidence.SourceID)
}

func TestRequiredFieldSpec_Paths(t *testing.T) {
	t.Parallel()

	s := RequiredFieldSpec{Path: "brand.positioning", Alternatives: []string{"brand.value_proposition"}}
	assert.Equal(t, []string{"brand.positioning", "brand.value_proposition"}, s.Paths())
}
