package remotestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, logger.NewTestLogger(t)), mock
}

func createTestSubmission() *models.SubmissionRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	form := models.NewFormRecord(6, 2)
	form.Sections["personalInfo"] = map[string]interface{}{"firstName": "Ada"}
	return &models.SubmissionRecord{
		ApplicationID:  "APP-1772366400000-abc123",
		ApplicantName:  "Ada Lovelace",
		ApplicantEmail: "ada@example.com",
		Status:         models.StatusSubmitted,
		SubmittedAt:    now,
		UpdatedAt:      now,
		Form:           form,
	}
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newTestStore(t)
	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertUserByEmail(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "ada@example.com", "Ada Lovelace", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))

	id, err := store.UpsertUserByEmail(context.Background(), "  Ada@Example.com ", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertUserByEmail_Empty(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.UpsertUserByEmail(context.Background(), " ", "x")
	assert.ErrorIs(t, err, ErrDatabaseInsertFailed)
}

func TestPostgresStore_InsertSubmission_Success(t *testing.T) {
	store, mock := newTestStore(t)
	rec := createTestSubmission()

	mock.ExpectExec("INSERT INTO applications").
		WithArgs(rec.ApplicationID, "user-1", rec.ApplicantName, rec.ApplicantEmail, "submitted", sqlmock.AnyArg(), rec.SubmittedAt, rec.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("application_submitted", "application", rec.ApplicationID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	inserted, err := store.InsertSubmission(context.Background(), "user-1", rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSubmission_NormalizesEmail(t *testing.T) {
	store, mock := newTestStore(t)
	rec := createTestSubmission()
	rec.ApplicantEmail = " Ada@Example.com"

	mock.ExpectExec("INSERT INTO applications").
		WithArgs(rec.ApplicationID, "user-1", rec.ApplicantName, "ada@example.com", "submitted", sqlmock.AnyArg(), rec.SubmittedAt, rec.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT application_id .* WHERE applicant_email = \$1`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "applicant_name", "applicant_email", "status", "form_data", "submitted_at", "updated_at"}).
			AddRow(rec.ApplicationID, rec.ApplicantName, "ada@example.com", "submitted", nil, rec.SubmittedAt, rec.UpdatedAt))

	inserted, err := store.InsertSubmission(context.Background(), "user-1", rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	recs, err := store.SelectSubmissions(context.Background(), Filter{ApplicantEmail: rec.ApplicantEmail})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ApplicationID, recs[0].ApplicationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSubmission_DuplicateIsNoop(t *testing.T) {
	store, mock := newTestStore(t)
	rec := createTestSubmission()

	mock.ExpectExec("INSERT INTO applications").WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := store.InsertSubmission(context.Background(), "user-1", rec)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSubmission_AuditFailureIgnored(t *testing.T) {
	store, mock := newTestStore(t)
	rec := createTestSubmission()

	mock.ExpectExec("INSERT INTO applications").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").WillReturnError(errors.New("audit table missing"))

	inserted, err := store.InsertSubmission(context.Background(), "", rec)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestPostgresStore_InsertSubmission_Error(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO applications").WillReturnError(errors.New("connection reset"))

	_, err := store.InsertSubmission(context.Background(), "user-1", createTestSubmission())
	assert.ErrorIs(t, err, ErrDatabaseInsertFailed)
}

func TestPostgresStore_SelectSubmissions(t *testing.T) {
	store, mock := newTestStore(t)
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"application_id", "applicant_name", "applicant_email", "status", "form_data", "submitted_at", "updated_at"}).
		AddRow("APP-1", "Ada Lovelace", "ada@example.com", "under_review", []byte(`{"personalInfo":{"firstName":"Ada"},"metadata":{"currentStep":6,"totalSteps":6,"completedSteps":[1,2],"status":"submitted"}}`), submitted, submitted.Add(time.Hour)).
		AddRow("APP-0", "Ada Lovelace", "ada@example.com", "submitted", nil, submitted, submitted)

	mock.ExpectQuery(`SELECT application_id .* FROM applications WHERE applicant_email = \$1 AND updated_at > \$2 ORDER BY submitted_at DESC LIMIT \$3`).
		WithArgs("ada@example.com", since, 10).
		WillReturnRows(rows)

	recs, err := store.SelectSubmissions(context.Background(), Filter{ApplicantEmail: "Ada@example.com", UpdatedSince: since, Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.StatusUnderReview, recs[0].Status)
	assert.Equal(t, models.SyncStatusSynced, recs[0].SyncStatus)
	require.NotNil(t, recs[0].Form)
	assert.Equal(t, "Ada", recs[0].Form.Section("personalInfo")["firstName"])
	assert.Equal(t, models.StatusUnderReview, recs[0].Form.Metadata.Status)
	assert.Nil(t, recs[1].Form)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSubmission_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT application_id").
		WithArgs("APP-404", 1).
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "applicant_name", "applicant_email", "status", "form_data", "submitted_at", "updated_at"}))

	_, err := store.GetSubmission(context.Background(), "APP-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_UpdateStatus(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"applied", 1, nil},
		{"stale from status", 0, ErrStatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newTestStore(t)

			mock.ExpectExec(`UPDATE applications\s+SET status = \$1,\s+updated_at = \$2,\s+form_data = CASE .*jsonb_set\(form_data, '\{metadata,status\}', to_jsonb\(\$1::text\)\)`).
				WithArgs("under_review", sqlmock.AnyArg(), "APP-1", "submitted").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected > 0 {
				mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
			}

			ts, err := store.UpdateStatus(context.Background(), "APP-1", models.StatusSubmitted, models.StatusUnderReview, "")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, ts.IsZero())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
