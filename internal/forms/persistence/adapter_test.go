package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/forms/broadcast"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/localstore"
)

const draftKey = "applicationFormData"

func newTestAdapter(t *testing.T, store localstore.Store, b broadcast.Broadcaster) *Adapter {
	t.Helper()
	if store == nil {
		store = localstore.NewMemoryStore()
	}
	return NewAdapter(AdapterConfig{Key: draftKey}, store, b, logger.NewTestLogger(t))
}

func TestAdapter_LoadEmpty(t *testing.T) {
	a := newTestAdapter(t, nil, nil)

	rec, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = a.LoadOrNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Metadata.CurrentStep)
	assert.Equal(t, 6, rec.Metadata.TotalSteps)
	assert.Equal(t, models.StatusDraft, rec.Metadata.Status)
}

func TestAdapter_SaveLoadRoundTrip(t *testing.T) {
	a := newTestAdapter(t, nil, nil)
	ctx := context.Background()

	rec := a.NewRecord()
	rec.Sections["personalInfo"].(map[string]interface{})["firstName"] = "Ada"
	rec.Metadata.CurrentStep = 2
	rec.SetCompletedSteps([]int{1, 6})
	saved := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec.Metadata.LastSaved = &saved

	require.NoError(t, a.Save(ctx, rec))

	loaded, err := a.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Ada", loaded.Section("personalInfo")["firstName"])
	assert.Equal(t, 2, loaded.Metadata.CurrentStep)
	assert.Equal(t, []int{1, 6}, loaded.Metadata.CompletedSteps)
	assert.True(t, saved.Equal(loaded.LastSavedAt()))
}

func TestAdapter_LoadCorrupted(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"personalInfo": {`},
		{"wrong shape", `{"metadata": {"currentStep": "three", "totalSteps": 6}}`},
		{"no metadata", `{"personalInfo": {"firstName": "Ada"}}`},
		{"unknown step count", `{"metadata": {"currentStep": 1, "totalSteps": 9}}`},
		{"future version", `{"metadata": {"currentStep": 1, "totalSteps": 7, "schemaVersion": 3}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := localstore.NewMemoryStore()
			require.NoError(t, store.Set(context.Background(), draftKey, []byte(tt.raw)))
			a := newTestAdapter(t, store, nil)

			rec, err := a.Load(context.Background())
			assert.NoError(t, err)
			assert.Nil(t, rec)

			rec, err = a.LoadOrNew(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, rec.Metadata.CurrentStep)
		})
	}
}

// A five-step record saved on the References-less form keeps every value and lands on the
// same semantic step after References is inserted.
func TestAdapter_LoadMigratesLegacyRecord(t *testing.T) {
	legacy := `{
		"personalInfo": {"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com", "referees": [{"name": "Babbage"}], "nickname": "Enchantress"},
		"education": {"institution": "Analytical College"},
		"metadata": {"currentStep": 5, "totalSteps": 5, "completedSteps": [1, 5], "status": "draft"}
	}`
	store := localstore.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), draftKey, []byte(legacy)))
	a := newTestAdapter(t, store, nil)

	rec, err := a.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 6, rec.Metadata.TotalSteps)
	assert.Equal(t, 6, rec.Metadata.CurrentStep, "Review moved from 5 to 6")
	assert.Equal(t, []int{1, 6}, rec.Metadata.CompletedSteps)
	assert.Equal(t, 2, rec.Metadata.SchemaVersion)

	personal := rec.Section("personalInfo")
	assert.Equal(t, "Ada", personal["firstName"])
	assert.Equal(t, "Enchantress", personal["nickname"], "unknown fields survive")
	assert.NotNil(t, personal["referees"])
	assert.Equal(t, "", personal["phone"], "new default fields appear")
	assert.Equal(t, "Analytical College", rec.Section("education")["institution"])
	assert.Len(t, rec.Section("references")["contacts"], 1)

	// written back in the current shape
	raw, err := store.Get(context.Background(), draftKey)
	require.NoError(t, err)
	var meta struct {
		Metadata models.Metadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, 2, meta.Metadata.SchemaVersion)
}

func TestAdapter_LoadIsIdempotent(t *testing.T) {
	a := newTestAdapter(t, nil, nil)
	ctx := context.Background()
	rec := a.NewRecord()
	rec.Sections["essays"] = map[string]interface{}{"personalStatement": "Poetical science"}
	rec.Metadata.CurrentStep = 4
	require.NoError(t, a.Save(ctx, rec))

	first, err := a.Load(ctx)
	require.NoError(t, err)
	second, err := a.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 4, second.Metadata.CurrentStep)
}

func TestAdapter_SaveBroadcasts(t *testing.T) {
	hub := broadcast.NewHub()
	var got []broadcast.Message
	_, _ = hub.Endpoint("tab-b").Subscribe(context.Background(), func(m broadcast.Message) { got = append(got, m) })

	a := newTestAdapter(t, nil, hub.Endpoint("tab-a"))
	require.NoError(t, a.Save(context.Background(), a.NewRecord()))

	require.Len(t, got, 1)
	assert.Equal(t, draftKey, got[0].StorageKey)
	decoded, err := a.Decode(got[0].NewValue)
	require.NoError(t, err)
	assert.Equal(t, 6, decoded.Metadata.TotalSteps)
}

func TestAdapter_SaveQuotaExceeded(t *testing.T) {
	a := newTestAdapter(t, localstore.NewMemoryStore(localstore.WithMaxValueBytes(16)), nil)

	err := a.Save(context.Background(), a.NewRecord())
	assert.ErrorIs(t, err, apperrors.PersistenceFailed)
}

func TestAdapter_DecodeRejectsGarbage(t *testing.T) {
	a := newTestAdapter(t, nil, nil)

	_, err := a.Decode([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, apperrors.LoadCorrupted)
}

func TestDeepMerge(t *testing.T) {
	base := map[string]interface{}{
		"a": map[string]interface{}{"x": "", "y": ""},
		"b": "default",
	}
	overlay := map[string]interface{}{
		"a": map[string]interface{}{"x": "kept", "z": 1.0},
		"c": []interface{}{"new"},
	}

	out := deepMerge(base, overlay)

	assert.Equal(t, map[string]interface{}{"x": "kept", "y": "", "z": 1.0}, out["a"])
	assert.Equal(t, "default", out["b"])
	assert.Equal(t, []interface{}{"new"}, out["c"])
	assert.Equal(t, "", base["a"].(map[string]interface{})["x"], "base untouched")
}
