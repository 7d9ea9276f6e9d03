// Package persistence stores the in-progress draft and the local submissions collection.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/metrics"
	"admissions-portal/internal/common/validation"
	"admissions-portal/internal/forms/broadcast"
	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/localstore"
)

// Adapter saves and loads the draft under a single key.
type Adapter struct {
	store       localstore.Store
	key         string
	catalog     *steps.Catalog
	migrations  *MigrationTable
	schema      *validation.Schema
	broadcaster broadcast.Broadcaster
	defaults    func() map[string]interface{}
	logger      logger.Logger
}

type AdapterConfig struct {
	Key        string
	Catalog    *steps.Catalog
	Migrations *MigrationTable
	// Defaults builds the empty sections of a fresh record.
	Defaults func() map[string]interface{}
}

// NewAdapter wires the draft slot. broadcaster may be nil.
func NewAdapter(config AdapterConfig, store localstore.Store, broadcaster broadcast.Broadcaster, log logger.Logger) *Adapter {
	if config.Catalog == nil {
		config.Catalog = steps.Current()
	}
	if config.Migrations == nil {
		config.Migrations = DefaultMigrations()
	}
	if config.Defaults == nil {
		config.Defaults = steps.DefaultSections
	}
	return &Adapter{
		store:       store,
		key:         config.Key,
		catalog:     config.Catalog,
		migrations:  config.Migrations,
		schema:      validation.RecordSchema(),
		broadcaster: broadcaster,
		defaults:    config.Defaults,
		logger:      log.WithFields(map[string]interface{}{"component": "persistence", "key": config.Key}),
	}
}

func (a *Adapter) Key() string { return a.key }

// NewRecord returns a default draft for the current catalog.
func (a *Adapter) NewRecord() *models.FormRecord {
	r := models.NewFormRecord(a.catalog.TotalSteps(), a.migrations.Current())
	r.Sections = a.defaults()
	return r
}

// Save writes the draft and tells other views about it. Broadcast failures are logged only.
func (a *Adapter) Save(ctx context.Context, record *models.FormRecord) error {
	if record.Metadata.SchemaVersion == 0 {
		record.Metadata.SchemaVersion = a.migrations.Current()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.NewPersistenceFailedError(a.key, err)
	}
	if err := a.store.Set(ctx, a.key, data); err != nil {
		a.logger.Error("draft save failed", map[string]interface{}{"error": err})
		return apperrors.NewPersistenceFailedError(a.key, err)
	}
	metrics.DraftsSaved.Inc()

	if a.broadcaster != nil {
		if err := a.broadcaster.Publish(ctx, broadcast.TopicDraft, a.key, data); err != nil {
			a.logger.Warn("draft broadcast failed", map[string]interface{}{"error": err})
		}
	}
	return nil
}

// Load returns the stored draft upgraded to the current shape, or nil when nothing usable
// is stored. Unreadable drafts are logged as LOAD_CORRUPTED and reported as nil.
func (a *Adapter) Load(ctx context.Context) (*models.FormRecord, error) {
	data, err := a.store.Get(ctx, a.key)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	record, migrated, err := a.decode(data)
	if err != nil {
		metrics.DraftsLoadCorrupted.Inc()
		a.logger.Warn("discarding unreadable draft", map[string]interface{}{
			"error": apperrors.NewLoadCorruptedError(a.key, err),
		})
		return nil, nil
	}

	if migrated {
		if data, err := json.Marshal(record); err == nil {
			if err := a.store.Set(ctx, a.key, data); err != nil {
				a.logger.Warn("failed to write back migrated draft", map[string]interface{}{"error": err})
			}
		}
	}
	return record, nil
}

// LoadOrNew falls back to a default record when nothing usable is stored.
func (a *Adapter) LoadOrNew(ctx context.Context) (*models.FormRecord, error) {
	record, err := a.Load(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return a.NewRecord(), nil
	}
	return record, nil
}

// Decode runs a raw value (for example a broadcast payload) through the same checks,
// migrations and default merge as Load.
func (a *Adapter) Decode(data []byte) (*models.FormRecord, error) {
	record, _, err := a.decode(data)
	if err != nil {
		return nil, apperrors.NewLoadCorruptedError(a.key, err)
	}
	return record, nil
}

// Clear removes the draft, typically after submission.
func (a *Adapter) Clear(ctx context.Context) error {
	return a.store.Delete(ctx, a.key)
}

func (a *Adapter) decode(data []byte) (*models.FormRecord, bool, error) {
	result, err := a.schema.ValidateBytes(data)
	if err != nil {
		return nil, false, err
	}
	if !result.Valid {
		return nil, false, fmt.Errorf("stored draft has invalid shape: %s", result.Error())
	}

	var stored models.FormRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, false, err
	}

	applied, err := a.migrations.Apply(&stored)
	if err != nil {
		return nil, false, err
	}
	for _, m := range applied {
		a.logger.Info("migrated draft", map[string]interface{}{"from": m.From, "to": m.To})
	}

	return a.mergeDefaults(&stored), len(applied) > 0, nil
}

// mergeDefaults lays stored values over a fresh default record so new fields appear
// without losing anything that was entered.
func (a *Adapter) mergeDefaults(stored *models.FormRecord) *models.FormRecord {
	out := a.NewRecord()
	out.Sections = deepMerge(out.Sections, stored.Sections)

	meta := stored.Metadata
	meta.TotalSteps = a.catalog.TotalSteps()
	meta.CurrentStep = a.catalog.ClampStep(meta.CurrentStep)
	if meta.Status == "" {
		meta.Status = models.StatusDraft
	}
	out.Metadata = meta

	valid := make([]int, 0, len(meta.CompletedSteps))
	for _, id := range meta.CompletedSteps {
		if id >= 1 && id <= meta.TotalSteps {
			valid = append(valid, id)
		}
	}
	out.SetCompletedSteps(valid)
	return out
}

// deepMerge returns base overlaid with overlay. Nested objects merge; any other
// overlay value, including nil, replaces the base value.
func deepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		baseMap, baseIsMap := out[k].(map[string]interface{})
		overlayMap, overlayIsMap := v.(map[string]interface{})
		if baseIsMap && overlayIsMap {
			out[k] = deepMerge(baseMap, overlayMap)
			continue
		}
		out[k] = v
	}
	return out
}
