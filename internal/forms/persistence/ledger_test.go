package persistence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/localstore"
)

const submissionPrefix = "applicationSubmissions:"

func createTestSubmission(id string, submitted time.Time) *models.SubmissionRecord {
	form := models.NewFormRecord(6, 2)
	form.Sections["essays"] = map[string]interface{}{"personalStatement": "A long statement about engines."}
	form.Metadata.Status = models.StatusSubmitted
	return &models.SubmissionRecord{
		ApplicationID:  id,
		ApplicantName:  "Ada Lovelace",
		ApplicantEmail: "ada@example.com",
		Status:         models.StatusSubmitted,
		SubmittedAt:    submitted,
		UpdatedAt:      submitted,
		SyncStatus:     models.SyncStatusPending,
		Form:           form,
	}
}

func TestLedger_UpsertIsIdempotent(t *testing.T) {
	store := localstore.NewMemoryStore()
	l := NewLedger(store, submissionPrefix, logger.NewTestLogger(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := l.Upsert(ctx, createTestSubmission("APP-1", now))
	require.NoError(t, err)

	retry := createTestSubmission("APP-1", now.Add(time.Minute))
	retry.ApplicantName = "Someone Else"
	stored, err := l.Upsert(ctx, retry)
	require.NoError(t, err)

	keys, err := store.Keys(ctx, submissionPrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Equal(t, "Ada Lovelace", stored.ApplicantName, "original content is immutable")
	assert.True(t, now.Equal(stored.SubmittedAt))
}

func TestLedger_UpsertNeverMovesStatusBackward(t *testing.T) {
	l := NewLedger(localstore.NewMemoryStore(), submissionPrefix, logger.NewTestLogger(t))
	ctx := context.Background()
	now := time.Now().UTC()

	reviewed := createTestSubmission("APP-1", now)
	reviewed.Status = models.StatusAccepted
	_, err := l.Upsert(ctx, reviewed)
	require.NoError(t, err)

	stored, err := l.Upsert(ctx, createTestSubmission("APP-1", now))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, stored.Status)
}

func TestLedger_UpsertFallsBackToMinimal(t *testing.T) {
	store := localstore.NewMemoryStore(localstore.WithMaxValueBytes(400))
	l := NewLedger(store, submissionPrefix, logger.NewTestLogger(t))
	ctx := context.Background()

	rec := createTestSubmission("APP-1", time.Now().UTC())
	rec.Form.Sections["essays"] = map[string]interface{}{"personalStatement": strings.Repeat("engines ", 100)}
	stored, err := l.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, stored.Minimal)
	assert.Nil(t, stored.Form)

	got, err := l.Get(ctx, "APP-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ada@example.com", got.ApplicantEmail)
}

func TestLedger_UpsertPersistenceFailed(t *testing.T) {
	l := NewLedger(localstore.NewMemoryStore(localstore.WithMaxValueBytes(10)), submissionPrefix, logger.NewTestLogger(t))

	_, err := l.Upsert(context.Background(), createTestSubmission("APP-1", time.Now().UTC()))
	assert.ErrorIs(t, err, apperrors.PersistenceFailed)
}

func TestLedger_ListPendingAndMarkSynced(t *testing.T) {
	store := localstore.NewMemoryStore()
	l := NewLedger(store, submissionPrefix, logger.NewTestLogger(t))
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := l.Upsert(ctx, createTestSubmission("APP-B", t0.Add(time.Hour)))
	require.NoError(t, err)
	_, err = l.Upsert(ctx, createTestSubmission("APP-A", t0))
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, submissionPrefix+"APP-BROKEN", []byte(`{"status":"draft"}`)))
	require.NoError(t, store.Set(ctx, "applicationFormData", []byte(`{}`)))

	all, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "APP-A", all[0].ApplicationID)

	require.NoError(t, l.MarkSynced(ctx, "APP-A"))
	pending, err := l.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "APP-B", pending[0].ApplicationID)

	assert.Error(t, l.MarkSynced(ctx, "APP-MISSING"))
}

func TestLedger_GetUnknown(t *testing.T) {
	l := NewLedger(localstore.NewMemoryStore(), submissionPrefix, logger.NewTestLogger(t))

	rec, err := l.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, submissionPrefix+"nope", l.Key("nope"))
}
