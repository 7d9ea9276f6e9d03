// Package remotestore mirrors submitted applications into PostgreSQL.
package remotestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"

	"github.com/google/uuid"
)

var (
	ErrDatabaseInsertFailed = errors.New("DATABASE_INSERT_FAILED")
	ErrQueryFailed          = errors.New("QUERY_EXECUTION_FAILED")
	ErrNotFound             = errors.New("APPLICATION_NOT_FOUND")
	ErrStatusConflict       = errors.New("STATUS_CONFLICT")
)

// Filter narrows SelectSubmissions. Zero fields are ignored.
type Filter struct {
	ApplicantEmail string
	ApplicationID  string
	UpdatedSince   time.Time
	Limit          int
}

type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "remotestore"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS applications (
		application_id TEXT PRIMARY KEY,
		user_id UUID REFERENCES users(id),
		applicant_name TEXT NOT NULL,
		applicant_email TEXT NOT NULL,
		status TEXT NOT NULL,
		form_data JSONB,
		submitted_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_email ON applications(applicant_email)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables if they are missing. Every statement is idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertUserByEmail resolves the owning user, creating it on first sight.
func (s *PostgresStore) UpsertUserByEmail(ctx context.Context, email, fullName string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: applicant email is empty", ErrDatabaseInsertFailed)
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, full_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (email) DO UPDATE
		SET full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), users.full_name),
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		uuid.New().String(), email, fullName, s.now(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%w: upsert user: %v", ErrDatabaseInsertFailed, err)
	}
	return id, nil
}

// InsertSubmission stores rec once. A second insert for the same application id is a
// no-op and reports inserted=false.
func (s *PostgresStore) InsertSubmission(ctx context.Context, userID string, rec *models.SubmissionRecord) (bool, error) {
	email := models.NormalizeEmail(rec.ApplicantEmail)
	var formJSON []byte
	if rec.Form != nil {
		var err error
		formJSON, err = json.Marshal(rec.Form)
		if err != nil {
			return false, fmt.Errorf("%w: marshal form data: %v", ErrDatabaseInsertFailed, err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (
			application_id, user_id, applicant_name, applicant_email,
			status, form_data, submitted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (application_id) DO NOTHING`,
		rec.ApplicationID,
		nullIfEmpty(userID),
		rec.ApplicantName,
		email,
		string(rec.Status),
		formJSON,
		rec.SubmittedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("%w: insert failed: %v", ErrDatabaseInsertFailed, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", ErrDatabaseInsertFailed, err)
	}
	if affected == 0 {
		return false, nil
	}

	s.audit(ctx, "application_submitted", rec.ApplicationID, map[string]interface{}{
		"applicantEmail": email,
		"status":         rec.Status,
	})
	return true, nil
}

// SelectSubmissions returns matching applications, newest submission first.
func (s *PostgresStore) SelectSubmissions(ctx context.Context, filter Filter) ([]*models.SubmissionRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ApplicantEmail != "" {
		args = append(args, models.NormalizeEmail(filter.ApplicantEmail))
		where = append(where, fmt.Sprintf("applicant_email = $%d", len(args)))
	}
	if filter.ApplicationID != "" {
		args = append(args, filter.ApplicationID)
		where = append(where, fmt.Sprintf("application_id = $%d", len(args)))
	}
	if !filter.UpdatedSince.IsZero() {
		args = append(args, filter.UpdatedSince)
		where = append(where, fmt.Sprintf("updated_at > $%d", len(args)))
	}

	query := `SELECT application_id, applicant_name, applicant_email, status, form_data, submitted_at, updated_at FROM applications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select submissions: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []*models.SubmissionRecord
	for rows.Next() {
		var (
			rec      models.SubmissionRecord
			status   string
			formData []byte
		)
		if err := rows.Scan(&rec.ApplicationID, &rec.ApplicantName, &rec.ApplicantEmail, &status, &formData, &rec.SubmittedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan submission: %v", ErrQueryFailed, err)
		}
		rec.Status = models.Status(status)
		rec.SyncStatus = models.SyncStatusSynced
		if len(formData) > 0 {
			var form models.FormRecord
			if err := json.Unmarshal(formData, &form); err != nil {
				s.logger.Warn("skipping unreadable form data", map[string]interface{}{
					"applicationId": rec.ApplicationID,
					"error":         err,
				})
			} else {
				// the status column is authoritative for rows written before form_data tracked it
				form.Metadata.Status = rec.Status
				rec.Form = &form
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate submissions: %v", ErrQueryFailed, err)
	}
	return out, nil
}

// GetSubmission loads one application by id.
func (s *PostgresStore) GetSubmission(ctx context.Context, applicationID string) (*models.SubmissionRecord, error) {
	recs, err := s.SelectSubmissions(ctx, Filter{ApplicationID: applicationID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, applicationID)
	}
	return recs[0], nil
}

// UpdateStatus moves an application from one status to another, keeping the status
// inside form_data in step. It fails with ErrStatusConflict if the stored status is no
// longer from.
func (s *PostgresStore) UpdateStatus(ctx context.Context, applicationID string, from, to models.Status, reason string) (time.Time, error) {
	updatedAt := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET status = $1,
			updated_at = $2,
			form_data = CASE
				WHEN form_data -> 'metadata' IS NULL THEN form_data
				ELSE jsonb_set(form_data, '{metadata,status}', to_jsonb($1::text))
			END
		WHERE application_id = $3 AND status = $4`,
		string(to), updatedAt, applicationID, string(from),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: update status: %v", ErrDatabaseInsertFailed, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: rows affected: %v", ErrDatabaseInsertFailed, err)
	}
	if affected == 0 {
		return time.Time{}, fmt.Errorf("%w: %s is no longer %s", ErrStatusConflict, applicationID, from)
	}

	s.audit(ctx, "application_status_changed", applicationID, map[string]interface{}{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
	return updatedAt, nil
}

// audit is non-critical: failures are logged and swallowed.
func (s *PostgresStore) audit(ctx context.Context, eventType, resourceID string, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("failed to marshal audit log details", map[string]interface{}{
			"error": err,
		})
		detailsJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, resource_type, resource_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		eventType,
		"application",
		resourceID,
		detailsJSON,
		s.now(),
	)
	if err != nil {
		s.logger.Warn("audit log insert failed", map[string]interface{}{
			"error":         err,
			"applicationId": resourceID,
		})
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
