// Package submission turns a completed draft into an immutable submission and writes it
// locally first, then to the remote mirror on a best-effort basis.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/metrics"
	"admissions-portal/internal/common/observability"
	"admissions-portal/internal/forms/broadcast"
	"admissions-portal/internal/forms/fieldpath"
	"admissions-portal/internal/forms/stepvalidator"
	"admissions-portal/internal/models"
)

// Ledger is the local submissions collection.
type Ledger interface {
	Upsert(ctx context.Context, rec *models.SubmissionRecord) (*models.SubmissionRecord, error)
	MarkSynced(ctx context.Context, applicationID string) error
	Pending(ctx context.Context) ([]*models.SubmissionRecord, error)
	Key(applicationID string) string
}

// RemoteStore is the write side of the remote mirror.
type RemoteStore interface {
	UpsertUserByEmail(ctx context.Context, email, fullName string) (string, error)
	InsertSubmission(ctx context.Context, userID string, rec *models.SubmissionRecord) (bool, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(eventType models.EventType, payload interface{})
}

// DegradedNotifier is told when a submission could not be mirrored remotely.
type DegradedNotifier interface {
	SyncDegraded(applicationID string, err error)
}

type Config struct {
	// Strict blocks submission while a required step is incomplete. When false the
	// submission proceeds and the incomplete steps are returned as warnings.
	Strict        bool
	RemoteTimeout time.Duration
}

// Result is a successful submission. RemoteSync settles independently of Submit.
type Result struct {
	Submission *models.SubmissionRecord
	RemoteSync *RemoteSync
	Warnings   []string
}

// RemoteSync reports the outcome of the background remote write.
type RemoteSync struct {
	done chan struct{}
	err  error
}

func newRemoteSync() *RemoteSync {
	return &RemoteSync{done: make(chan struct{})}
}

func (r *RemoteSync) finish(err error) {
	r.err = err
	close(r.done)
}

// Done is closed once the remote write finished or gave up.
func (r *RemoteSync) Done() <-chan struct{} { return r.done }

// Err is nil on success and a REMOTE_SYNC_DEGRADED error otherwise. Only valid after Done.
func (r *RemoteSync) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the remote write settles or ctx ends.
func (r *RemoteSync) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Pipeline struct {
	config      Config
	validator   *stepvalidator.Validator
	ledger      Ledger
	remote      RemoteStore
	bus         Emitter
	broadcaster broadcast.Broadcaster
	notifier    DegradedNotifier
	newID       IDGenerator
	now         func() time.Time
	tracer      trace.Tracer
	obs         *observability.Observability
	logger      logger.Logger
	inflight    sync.WaitGroup
}

type Option func(*Pipeline)

func WithIDGenerator(g IDGenerator) Option { return func(p *Pipeline) { p.newID = g } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithDegradedNotifier(n DegradedNotifier) Option { return func(p *Pipeline) { p.notifier = n } }

// WithObservability mirrors submission and sync results into the OpenTelemetry meter.
func WithObservability(o *observability.Observability) Option { return func(p *Pipeline) { p.obs = o } }

// New builds a pipeline. remote may be nil when no remote store is configured; every
// submission then settles as degraded. broadcaster may be nil.
func New(config Config, validator *stepvalidator.Validator, ledger Ledger, remote RemoteStore, bus Emitter, broadcaster broadcast.Broadcaster, log logger.Logger, opts ...Option) *Pipeline {
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = 15 * time.Second
	}
	p := &Pipeline{
		config:      config,
		validator:   validator,
		ledger:      ledger,
		remote:      remote,
		bus:         bus,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
		tracer:      observability.Tracer("admissions-portal/submission"),
		logger:      log.WithFields(map[string]interface{}{"component": "submission"}),
	}
	p.newID = func() string { return NewApplicationID(p.now()) }
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit validates record, stores the submission locally and starts the remote write.
// It fails only with VALIDATION_FAILED or PERSISTENCE_FAILED; remote trouble is reported
// through Result.RemoteSync. Submitting a record that already carries an application id
// reuses that id, so retries never create a second submission.
func (p *Pipeline) Submit(ctx context.Context, record *models.FormRecord) (*Result, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "submit")
	defer span.End()

	warnings, err := p.validate(record)
	if err != nil {
		metrics.Submissions.WithLabelValues(metrics.ResultRejected).Inc()
		p.obs.RecordSubmission(ctx, metrics.ResultRejected)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	rec := p.build(record, warnings)
	span.SetAttributes(attribute.String("application.id", rec.ApplicationID))

	stored, err := p.writeLocal(ctx, rec)
	if err != nil {
		metrics.Submissions.WithLabelValues(metrics.ResultFailed).Inc()
		p.obs.RecordSubmission(ctx, metrics.ResultFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "local write failed")
		return nil, err
	}
	metrics.SubmissionDuration.Observe(time.Since(start).Seconds())

	remoteSync := p.startRemote(ctx, stored)

	if p.bus != nil {
		p.bus.Emit(models.EventApplicationSubmitted, models.ApplicationSubmitted{
			ApplicationID:  stored.ApplicationID,
			ApplicantName:  stored.ApplicantName,
			ApplicantEmail: stored.ApplicantEmail,
		})
	}
	p.publish(ctx, stored)

	metrics.Submissions.WithLabelValues(metrics.ResultOK).Inc()
	p.obs.RecordSubmission(ctx, metrics.ResultOK)
	p.logger.Info("application submitted", map[string]interface{}{
		"applicationId": stored.ApplicationID,
		"warnings":      len(warnings),
	})
	return &Result{Submission: stored, RemoteSync: remoteSync, Warnings: warnings}, nil
}

// SyncPending retries the remote write for every local submission still pending and
// returns how many landed. It is meant for the poller, not for Submit.
func (p *Pipeline) SyncPending(ctx context.Context) (int, error) {
	if p.remote == nil {
		return 0, nil
	}
	pending, err := p.ledger.Pending(ctx)
	if err != nil {
		return 0, err
	}
	synced := 0
	for _, rec := range pending {
		if rec.Minimal {
			continue
		}
		if err := p.syncRemote(ctx, rec); err == nil {
			synced++
		}
	}
	return synced, nil
}

// Wait blocks until background remote writes have finished.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

func (p *Pipeline) validate(record *models.FormRecord) ([]string, error) {
	incomplete, messages := p.validator.IncompleteRequired(record)
	if len(incomplete) == 0 {
		return nil, nil
	}
	titles := make([]string, len(incomplete))
	for i, s := range incomplete {
		titles[i] = s.Title
	}
	if p.config.Strict {
		return nil, apperrors.NewValidationFailedError(titles, messages)
	}
	p.logger.Warn("submitting with incomplete steps", map[string]interface{}{"incompleteSteps": titles})
	return titles, nil
}

func (p *Pipeline) build(record *models.FormRecord, warnings []string) *models.SubmissionRecord {
	now := p.now()
	form := record.Clone()

	id := form.Metadata.ApplicationID
	if id == "" {
		id = p.newID()
	}
	form.Metadata.ApplicationID = id
	form.Metadata.Status = models.Furthest(form.Metadata.Status, models.StatusSubmitted)
	form.Metadata.LastSaved = &now
	form.SetCompletedSteps(p.validator.CompletedSteps(form))

	return &models.SubmissionRecord{
		ApplicationID:  id,
		ApplicantName:  applicantName(form),
		ApplicantEmail: models.NormalizeEmail(textAt(form, "personalInfo.email")),
		Status:         form.Metadata.Status,
		SubmittedAt:    now,
		UpdatedAt:      now,
		SyncStatus:     models.SyncStatusPending,
		Warnings:       warnings,
		Form:           form,
	}
}

func (p *Pipeline) writeLocal(ctx context.Context, rec *models.SubmissionRecord) (*models.SubmissionRecord, error) {
	ctx, span := p.tracer.Start(ctx, "local-write")
	defer span.End()
	return p.ledger.Upsert(ctx, rec)
}

func (p *Pipeline) startRemote(ctx context.Context, rec *models.SubmissionRecord) *RemoteSync {
	result := newRemoteSync()
	if p.remote == nil {
		err := apperrors.NewRemoteSyncDegradedError(rec.ApplicationID, "remote store is not configured")
		p.degraded(ctx, rec.ApplicationID, err)
		result.finish(err)
		return result
	}
	if rec.SyncStatus == models.SyncStatusSynced {
		result.finish(nil)
		return result
	}

	snapshot := *rec
	bg := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		result.finish(p.syncRemote(bg, &snapshot))
	}()
	return result
}

// syncRemote never retries; failures stay pending for SyncPending.
func (p *Pipeline) syncRemote(ctx context.Context, rec *models.SubmissionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.RemoteTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "remote-write")
	defer span.End()

	userID, err := p.remote.UpsertUserByEmail(ctx, rec.ApplicantEmail, rec.ApplicantName)
	if err == nil {
		synced := *rec
		synced.SyncStatus = models.SyncStatusSynced
		_, err = p.remote.InsertSubmission(ctx, userID, &synced)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote write failed")
		degraded := apperrors.NewRemoteSyncDegradedError(rec.ApplicationID, err.Error())
		p.degraded(ctx, rec.ApplicationID, degraded)
		return degraded
	}

	if err := p.ledger.MarkSynced(ctx, rec.ApplicationID); err != nil {
		p.logger.Warn("failed to mark submission synced", map[string]interface{}{
			"applicationId": rec.ApplicationID,
			"error":         err,
		})
	}
	metrics.RemoteSync.WithLabelValues(metrics.ResultOK).Inc()
	p.obs.RecordRemoteSync(ctx, metrics.ResultOK)
	return nil
}

func (p *Pipeline) degraded(ctx context.Context, applicationID string, err error) {
	metrics.RemoteSync.WithLabelValues(metrics.ResultDegraded).Inc()
	p.obs.RecordRemoteSync(ctx, metrics.ResultDegraded)
	p.logger.Warn("remote sync degraded", map[string]interface{}{
		"applicationId": applicationID,
		"error":         err,
	})
	if p.notifier != nil {
		p.notifier.SyncDegraded(applicationID, err)
	}
}

func (p *Pipeline) publish(ctx context.Context, rec *models.SubmissionRecord) {
	if p.broadcaster == nil {
		return
	}
	value, err := json.Marshal(rec)
	if err == nil {
		err = p.broadcaster.Publish(ctx, broadcast.TopicSubmission, p.ledger.Key(rec.ApplicationID), value)
	}
	if err != nil {
		p.logger.Warn("submission broadcast failed", map[string]interface{}{
			"applicationId": rec.ApplicationID,
			"error":         err,
		})
	}
}

func applicantName(form *models.FormRecord) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", textAt(form, "personalInfo.firstName"), textAt(form, "personalInfo.lastName")))
}

func textAt(form *models.FormRecord, path string) string {
	v, _ := fieldpath.Get(form.Sections, path)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
