package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/validation"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/localstore"
)

// Ledger is the local submissions collection, one key per application id.
type Ledger struct {
	store  localstore.Store
	prefix string
	schema *validation.Schema
	logger logger.Logger
}

func NewLedger(store localstore.Store, prefix string, log logger.Logger) *Ledger {
	return &Ledger{
		store:  store,
		prefix: prefix,
		schema: validation.SubmissionSchema(),
		logger: log.WithFields(map[string]interface{}{"component": "ledger"}),
	}
}

func (l *Ledger) Key(applicationID string) string {
	return l.prefix + applicationID
}

// Get returns nil without error when the id is unknown or its entry is unreadable.
func (l *Ledger) Get(ctx context.Context, applicationID string) (*models.SubmissionRecord, error) {
	data, err := l.store.Get(ctx, l.Key(applicationID))
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read submission %s: %w", applicationID, err)
	}
	return l.decode(applicationID, data), nil
}

// Upsert inserts rec or, if the id is already stored, keeps the stored content and only
// advances status, updatedAt and sync state. When the full record does not fit, the
// identifying fields are stored instead. It returns what was written.
func (l *Ledger) Upsert(ctx context.Context, rec *models.SubmissionRecord) (*models.SubmissionRecord, error) {
	key := l.Key(rec.ApplicationID)
	existing, err := l.Get(ctx, rec.ApplicationID)
	if err != nil {
		return nil, apperrors.NewPersistenceFailedError(key, err)
	}
	merged := rec.MergeExisting(existing)

	err = l.write(ctx, key, merged)
	if err == nil {
		return merged, nil
	}
	if !errors.Is(err, localstore.ErrQuotaExceeded) {
		l.logger.Error("submission write failed", map[string]interface{}{"applicationId": rec.ApplicationID, "error": err})
		return nil, apperrors.NewPersistenceFailedError(key, err)
	}

	l.logger.Warn("local quota exceeded, storing minimal submission", map[string]interface{}{"applicationId": rec.ApplicationID})
	minimal := merged.MinimalProjection()
	if err := l.write(ctx, key, minimal); err != nil {
		l.logger.Error("minimal submission write failed", map[string]interface{}{"applicationId": rec.ApplicationID, "error": err})
		return nil, apperrors.NewPersistenceFailedError(key, err)
	}
	return minimal, nil
}

// MarkSynced records that the remote mirror has the submission.
func (l *Ledger) MarkSynced(ctx context.Context, applicationID string) error {
	rec, err := l.Get(ctx, applicationID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("submission %s is not stored locally", applicationID)
	}
	if rec.SyncStatus == models.SyncStatusSynced {
		return nil
	}
	rec.SyncStatus = models.SyncStatusSynced
	return l.write(ctx, l.Key(applicationID), rec)
}

// List returns every readable submission, oldest first.
func (l *Ledger) List(ctx context.Context) ([]*models.SubmissionRecord, error) {
	keys, err := l.store.Keys(ctx, l.prefix)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	out := make([]*models.SubmissionRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := l.Get(ctx, strings.TrimPrefix(key, l.prefix))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// Pending lists submissions the remote mirror has not confirmed.
func (l *Ledger) Pending(ctx context.Context) ([]*models.SubmissionRecord, error) {
	all, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.SubmissionRecord
	for _, rec := range all {
		if rec.SyncStatus != models.SyncStatusSynced {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *Ledger) write(ctx context.Context, key string, rec *models.SubmissionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, data)
}

func (l *Ledger) decode(applicationID string, data []byte) *models.SubmissionRecord {
	result, err := l.schema.ValidateBytes(data)
	if err == nil && !result.Valid {
		err = errors.New(result.Error())
	}
	var rec models.SubmissionRecord
	if err == nil {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		l.logger.Warn("ignoring unreadable submission", map[string]interface{}{
			"applicationId": applicationID,
			"error":         apperrors.NewLoadCorruptedError(l.Key(applicationID), err),
		})
		return nil
	}
	return &rec
}
