package formstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/forms/broadcast"
	"admissions-portal/internal/forms/persistence"
	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/forms/stepvalidator"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/localstore"
)

type recordingSaver struct {
	saved []*models.FormRecord
	err   error
}

func (r *recordingSaver) Save(_ context.Context, rec *models.FormRecord) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, rec)
	return nil
}

func newTestStore(t *testing.T, saver Saver) *Store {
	t.Helper()
	rec := models.NewFormRecord(6, steps.VersionCurrent)
	rec.Sections = steps.DefaultSections()
	return New(rec, stepvalidator.New(steps.Current()), saver, logger.NewTestLogger(t))
}

func fillPersonal(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), "personalInfo", map[string]interface{}{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"email":     "ada@example.com",
	}))
}

func TestStore_Update_StampsAndRevalidates(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestStore(t, saver)

	assert.Equal(t, []int{6}, s.CompletedSteps(), "optional review step starts complete")

	fillPersonal(t, s)

	snap := s.Snapshot()
	assert.Equal(t, []int{1, 6}, snap.Metadata.CompletedSteps)
	require.NotNil(t, snap.Metadata.LastSaved)
	require.Len(t, saver.saved, 1)
	assert.Equal(t, "Ada", saver.saved[0].Section("personalInfo")["firstName"])
}

func TestStore_Update_WithUpdater(t *testing.T) {
	s := newTestStore(t, nil)
	fillPersonal(t, s)

	err := s.Update(context.Background(), "personalInfo", Updater(func(prev interface{}) interface{} {
		m := prev.(map[string]interface{})
		m["firstName"] = "Augusta Ada"
		return m
	}))
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "Augusta Ada", snap.Section("personalInfo")["firstName"])
	assert.Equal(t, "Lovelace", snap.Section("personalInfo")["lastName"])
}

func TestStore_Update_UpdaterGetsPrivateCopy(t *testing.T) {
	s := newTestStore(t, nil)
	fillPersonal(t, s)
	before := s.Snapshot()

	err := s.Update(context.Background(), "personalInfo", func(prev interface{}) interface{} {
		prev.(map[string]interface{})["firstName"] = ""
		return map[string]interface{}{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"}
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada", before.Section("personalInfo")["firstName"])
}

func TestStore_LastSavedStrictlyIncreases(t *testing.T) {
	s := newTestStore(t, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.SetField(context.Background(), "personalInfo.firstName", "A"))
	first := s.Snapshot().LastSavedAt()
	require.NoError(t, s.SetField(context.Background(), "personalInfo.firstName", "Ad"))

	assert.True(t, s.Snapshot().LastSavedAt().After(first))
}

func TestStore_Next_GuardsIncompleteStep(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.SetField(context.Background(), "personalInfo.firstName", "Ada"))

	ok, errs, err := s.Next(context.Background())
	require.NoError(t, err)

	assert.False(t, ok)
	assert.Equal(t, 1, s.CurrentStep())
	require.Len(t, errs, 2)
	assert.Equal(t, "personalInfo.lastName", errs[0].Field)
	assert.Equal(t, "Last name is required", errs[0].Message)
	assert.Equal(t, "personalInfo.email", errs[1].Field)
}

func TestStore_Next_AdvancesAndStopsAtEnd(t *testing.T) {
	s := newTestStore(t, nil)
	fillPersonal(t, s)

	ok, errs, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.Equal(t, 2, s.CurrentStep())

	require.NoError(t, s.GoToStep(context.Background(), 6))
	ok, _, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, s.CurrentStep())
}

func TestStore_GoToStepAndPrevious_Clamp(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.GoToStep(ctx, 99))
	assert.Equal(t, 6, s.CurrentStep())
	require.NoError(t, s.GoToStep(ctx, -3))
	assert.Equal(t, 1, s.CurrentStep())
	require.NoError(t, s.Previous(ctx))
	assert.Equal(t, 1, s.CurrentStep())

	require.NoError(t, s.GoToStep(ctx, 3))
	require.NoError(t, s.Previous(ctx))
	assert.Equal(t, 2, s.CurrentStep())
}

func TestStore_ProgressPercent(t *testing.T) {
	s := newTestStore(t, nil)
	assert.Equal(t, 17, s.ProgressPercent())

	fillPersonal(t, s)
	assert.Equal(t, 33, s.ProgressPercent())

	require.NoError(t, s.Update(context.Background(), "education", map[string]interface{}{
		"institution": "Analytical College", "degree": "BSc", "fieldOfStudy": "Mathematics",
	}))
	assert.Equal(t, 50, s.ProgressPercent())
}

func TestStore_ImmutableAfterSubmission(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestStore(t, saver)
	require.NoError(t, s.MarkSubmitted(context.Background(), "APP-1"))

	err := s.SetField(context.Background(), "personalInfo.firstName", "Eve")
	assert.ErrorIs(t, err, apperrors.RecordImmutable)
	err = s.Update(context.Background(), "essays", map[string]interface{}{})
	assert.ErrorIs(t, err, apperrors.RecordImmutable)

	snap := s.Snapshot()
	assert.Equal(t, models.StatusSubmitted, snap.Metadata.Status)
	assert.Equal(t, "APP-1", snap.Metadata.ApplicationID)
	assert.Len(t, saver.saved, 1)
}

func TestStore_Update_RejectsMetadataSection(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestStore(t, saver)

	err := s.Update(context.Background(), models.MetadataKey, map[string]interface{}{"status": "accepted"})
	assert.ErrorIs(t, err, ErrReservedSection)
	err = s.SetField(context.Background(), "metadata.status", "accepted")
	assert.ErrorIs(t, err, ErrReservedSection)

	snap := s.Snapshot()
	_, ok := snap.Sections[models.MetadataKey]
	assert.False(t, ok)
	assert.Equal(t, models.StatusDraft, snap.Metadata.Status)
	assert.Empty(t, saver.saved)
}

func TestStore_SaveErrorPropagates(t *testing.T) {
	s := newTestStore(t, &recordingSaver{err: errors.New("disk full")})

	err := s.SetField(context.Background(), "personalInfo.firstName", "Ada")
	assert.Error(t, err)
}

func TestStore_Replace_OnlyNewer(t *testing.T) {
	s := newTestStore(t, nil)
	fillPersonal(t, s)
	mine := s.Snapshot()

	older := mine.Clone()
	past := mine.LastSavedAt().Add(-time.Minute)
	older.Metadata.LastSaved = &past
	older.Sections["personalInfo"] = map[string]interface{}{"firstName": "Stale"}
	assert.False(t, s.Replace(older))

	newer := mine.Clone()
	future := mine.LastSavedAt().Add(time.Minute)
	newer.Metadata.LastSaved = &future
	newer.Sections["education"] = map[string]interface{}{"institution": "Analytical College", "degree": "BSc", "fieldOfStudy": "Maths"}
	assert.True(t, s.Replace(newer))
	assert.Equal(t, []int{1, 2, 6}, s.CompletedSteps())
}

func TestStore_EditGuard(t *testing.T) {
	s := newTestStore(t, nil)
	assert.False(t, s.EditInProgress())

	s.BeginEdit()
	s.BeginEdit()
	s.EndEdit()
	assert.True(t, s.EditInProgress())
	s.EndEdit()
	s.EndEdit()
	assert.False(t, s.EditInProgress())
}

// Two views on one device: a save in A reaches B before Save returns.
func TestStore_Follow_CrossViewSync(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	hub := broadcast.NewHub()
	log := logger.NewTestLogger(t)
	validator := stepvalidator.New(steps.Current())

	adapterA := persistence.NewAdapter(persistence.AdapterConfig{Key: "applicationFormData"}, store, hub.Endpoint("tab-a"), log)
	adapterB := persistence.NewAdapter(persistence.AdapterConfig{Key: "applicationFormData"}, store, hub.Endpoint("tab-b"), log)

	viewA := New(adapterA.NewRecord(), validator, adapterA, log)
	viewB := New(adapterB.NewRecord(), validator, adapterB, log)

	off, err := viewB.Follow(ctx, hub.Endpoint("tab-b"), adapterB.Key(), adapterB.Decode)
	require.NoError(t, err)
	defer off()

	require.NoError(t, viewA.SetField(ctx, "personalInfo.firstName", "Ada"))

	assert.Equal(t, "Ada", viewB.Snapshot().Section("personalInfo")["firstName"])
}
