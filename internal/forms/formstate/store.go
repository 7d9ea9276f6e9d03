// Package formstate holds the draft being edited along with its derived step completion.
package formstate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/forms/broadcast"
	"admissions-portal/internal/forms/fieldpath"
	"admissions-portal/internal/forms/stepvalidator"
	"admissions-portal/internal/models"
)

// ErrReservedSection rejects writes to the key that carries the record metadata.
var ErrReservedSection = errors.New("section name is reserved")

// Updater derives a new section value from the previous one. prev is a private copy.
type Updater func(prev interface{}) interface{}

// Saver persists the draft after each mutation.
type Saver interface {
	Save(ctx context.Context, record *models.FormRecord) error
}

// Store serializes every mutation of one draft. Completion is always recomputed from
// the validator, never edited directly.
type Store struct {
	mu        sync.Mutex
	record    *models.FormRecord
	validator *stepvalidator.Validator
	saver     Saver
	logger    logger.Logger
	now       func() time.Time
	editing   int
	revision  uint64

	// saveMu orders autosaves, which run outside mu so broadcast delivery never holds it.
	saveMu    sync.Mutex
	persisted uint64
}

func New(record *models.FormRecord, validator *stepvalidator.Validator, saver Saver, log logger.Logger) *Store {
	s := &Store{
		record:    record.Clone(),
		validator: validator,
		saver:     saver,
		logger:    log.WithFields(map[string]interface{}{"component": "formstate"}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.record.Metadata.TotalSteps = validator.Catalog().TotalSteps()
	s.record.Metadata.CurrentStep = validator.Catalog().ClampStep(s.record.Metadata.CurrentStep)
	s.recompute()
	return s
}

// Snapshot returns a copy callers may keep.
func (s *Store) Snapshot() *models.FormRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// Update replaces a section with value, or with value(prev) when value is an Updater,
// then stamps lastSaved, revalidates every step and autosaves.
func (s *Store) Update(ctx context.Context, section string, value interface{}) error {
	if section == models.MetadataKey {
		return fmt.Errorf("%w: %s", ErrReservedSection, section)
	}
	s.mu.Lock()
	if err := s.ensureEditable(); err != nil {
		s.mu.Unlock()
		return err
	}

	var next interface{}
	switch fn := value.(type) {
	case Updater:
		next = fn(models.DeepCopy(s.record.Sections[section]))
	case func(interface{}) interface{}:
		next = fn(models.DeepCopy(s.record.Sections[section]))
	default:
		next = models.DeepCopy(value)
	}
	s.record.Sections[section] = next
	rev, snap := s.touch()
	s.mu.Unlock()
	return s.persist(ctx, rev, snap)
}

// SetField writes a single dotted path, creating intermediate objects.
func (s *Store) SetField(ctx context.Context, path string, value interface{}) error {
	if fieldpath.Section(path) == models.MetadataKey {
		return fmt.Errorf("%w: %s", ErrReservedSection, path)
	}
	s.mu.Lock()
	if err := s.ensureEditable(); err != nil {
		s.mu.Unlock()
		return err
	}
	sections := models.DeepCopy(s.record.Sections).(map[string]interface{})
	if err := fieldpath.Set(sections, path, models.DeepCopy(value)); err != nil {
		s.mu.Unlock()
		return err
	}
	s.record.Sections = sections
	rev, snap := s.touch()
	s.mu.Unlock()
	return s.persist(ctx, rev, snap)
}

// GoToStep moves to n, clamped to the valid range. It does not check completion.
func (s *Store) GoToStep(ctx context.Context, n int) error {
	s.mu.Lock()
	s.record.Metadata.CurrentStep = s.validator.Catalog().ClampStep(n)
	rev, snap := s.snapshot()
	s.mu.Unlock()
	return s.persist(ctx, rev, snap)
}

// Next advances one step when the current step is complete. Otherwise it stays put and
// returns the current step's field errors.
func (s *Store) Next(ctx context.Context) (bool, []models.ValidationError, error) {
	s.mu.Lock()
	catalog := s.validator.Catalog()
	step, ok := catalog.Step(s.record.Metadata.CurrentStep)
	if !ok {
		s.mu.Unlock()
		return false, nil, fmt.Errorf("current step %d is out of range", s.record.Metadata.CurrentStep)
	}
	if errs := s.validator.ErrorsFor(step, s.record); len(errs) > 0 {
		s.mu.Unlock()
		return false, errs, nil
	}
	if s.record.Metadata.CurrentStep >= catalog.TotalSteps() {
		s.mu.Unlock()
		return true, nil, nil
	}
	s.record.Metadata.CurrentStep++
	rev, snap := s.snapshot()
	s.mu.Unlock()
	return true, nil, s.persist(ctx, rev, snap)
}

// Previous moves back one step, stopping at the first.
func (s *Store) Previous(ctx context.Context) error {
	s.mu.Lock()
	if s.record.Metadata.CurrentStep <= 1 {
		s.mu.Unlock()
		return nil
	}
	s.record.Metadata.CurrentStep--
	rev, snap := s.snapshot()
	s.mu.Unlock()
	return s.persist(ctx, rev, snap)
}

// ProgressPercent is round(100 * completed / total).
func (s *Store) ProgressPercent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.record.Metadata.TotalSteps
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(len(s.record.Metadata.CompletedSteps)) / float64(total)))
}

func (s *Store) CurrentStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Metadata.CurrentStep
}

func (s *Store) CompletedSteps() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.record.Metadata.CompletedSteps...)
}

// Replace adopts a record written by another view when it is newer than ours. It does
// not autosave, so the change is not echoed back.
func (s *Store) Replace(incoming *models.FormRecord) bool {
	if incoming == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !incoming.LastSavedAt().After(s.record.LastSavedAt()) {
		return false
	}
	s.record = incoming.Clone()
	s.revision++
	s.record.Metadata.TotalSteps = s.validator.Catalog().TotalSteps()
	s.record.Metadata.CurrentStep = s.validator.Catalog().ClampStep(s.record.Metadata.CurrentStep)
	s.recompute()
	return true
}

// MarkSubmitted freezes the draft after a successful submission.
func (s *Store) MarkSubmitted(ctx context.Context, applicationID string) error {
	s.mu.Lock()
	if !s.record.Metadata.Status.IsDraft() {
		s.mu.Unlock()
		return nil
	}
	s.record.Metadata.Status = models.StatusSubmitted
	s.record.Metadata.ApplicationID = applicationID
	rev, snap := s.touch()
	s.mu.Unlock()
	return s.persist(ctx, rev, snap)
}

// BeginEdit marks an edit UI as open. Calls nest; each needs a matching EndEdit.
func (s *Store) BeginEdit() {
	s.mu.Lock()
	s.editing++
	s.mu.Unlock()
}

func (s *Store) EndEdit() {
	s.mu.Lock()
	if s.editing > 0 {
		s.editing--
	}
	s.mu.Unlock()
}

// EditInProgress lets the remote poller stand down while the applicant is typing.
func (s *Store) EditInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing > 0
}

// Follow applies draft broadcasts for key from other views. decode should run the
// persistence migrations, see persistence.Adapter.Decode.
func (s *Store) Follow(ctx context.Context, b broadcast.Broadcaster, key string, decode func([]byte) (*models.FormRecord, error)) (func(), error) {
	return b.Subscribe(ctx, func(msg broadcast.Message) {
		if msg.Topic != broadcast.TopicDraft || msg.StorageKey != key {
			return
		}
		record, err := decode(msg.NewValue)
		if err != nil {
			s.logger.Warn("ignoring unreadable draft broadcast", map[string]interface{}{
				"origin": msg.OriginID,
				"error":  err,
			})
			return
		}
		if s.Replace(record) {
			s.logger.Debug("draft refreshed from another view", map[string]interface{}{"origin": msg.OriginID})
		}
	})
}

func (s *Store) ensureEditable() error {
	if status := s.record.Metadata.Status; !status.IsDraft() {
		return apperrors.NewRecordImmutableError(string(status))
	}
	return nil
}

// touch stamps lastSaved and revalidates. Callers hold mu.
func (s *Store) touch() (uint64, *models.FormRecord) {
	now := s.now()
	// lastSaved must strictly increase so other views can order our writes.
	if last := s.record.LastSavedAt(); !now.After(last) {
		now = last.Add(time.Millisecond)
	}
	s.record.Metadata.LastSaved = &now
	s.recompute()
	return s.snapshot()
}

func (s *Store) snapshot() (uint64, *models.FormRecord) {
	s.revision++
	return s.revision, s.record.Clone()
}

func (s *Store) recompute() {
	s.record.SetCompletedSteps(s.validator.CompletedSteps(s.record))
}

// persist saves snap unless a later revision was already written.
func (s *Store) persist(ctx context.Context, rev uint64, snap *models.FormRecord) error {
	if s.saver == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if rev <= s.persisted {
		return nil
	}
	if err := s.saver.Save(ctx, snap); err != nil {
		s.logger.Error("autosave failed", map[string]interface{}{"error": err})
		return err
	}
	s.persisted = rev
	return nil
}
