package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/metrics"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/remotestore"
)

// RemoteSource is the read side of the remote mirror.
type RemoteSource interface {
	SelectSubmissions(ctx context.Context, filter remotestore.Filter) ([]*models.SubmissionRecord, error)
}

// LocalSubmissions is the device-local submissions collection.
type LocalSubmissions interface {
	Get(ctx context.Context, applicationID string) (*models.SubmissionRecord, error)
	Upsert(ctx context.Context, rec *models.SubmissionRecord) (*models.SubmissionRecord, error)
	Key(applicationID string) string
}

// PendingSyncer replays submissions whose remote write did not land.
type PendingSyncer interface {
	SyncPending(ctx context.Context) (int, error)
}

// EditGuard reports whether an edit UI is open; polling pauses while it is.
type EditGuard interface {
	EditInProgress() bool
}

type EditGuardFunc func() bool

func (f EditGuardFunc) EditInProgress() bool { return f() }

type PollerConfig struct {
	Interval       time.Duration
	ApplicantEmail string
}

// Poller refreshes local submissions from the remote mirror on a fixed interval.
type Poller struct {
	config      PollerConfig
	remote      RemoteSource
	local       LocalSubmissions
	broadcaster Broadcaster
	guard       EditGuard
	syncer      PendingSyncer
	logger      logger.Logger
}

func NewPoller(config PollerConfig, remote RemoteSource, local LocalSubmissions, broadcaster Broadcaster, guard EditGuard, syncer PendingSyncer, log logger.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if guard == nil {
		guard = EditGuardFunc(func() bool { return false })
	}
	return &Poller{
		config:      config,
		remote:      remote,
		local:       local,
		broadcaster: broadcaster,
		guard:       guard,
		syncer:      syncer,
		logger:      log.WithFields(map[string]interface{}{"component": "poller"}),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Warn("remote poll failed", map[string]interface{}{"error": err})
			}
		}
	}
}

// PollOnce runs a single cycle and returns how many local records it replaced.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if p.guard.EditInProgress() {
		metrics.PollCycles.WithLabelValues(metrics.ResultSkipped).Inc()
		p.logger.Debug("edit in progress, skipping poll", nil)
		return 0, nil
	}

	if p.syncer != nil {
		if n, err := p.syncer.SyncPending(ctx); err != nil {
			p.logger.Warn("pending sync replay failed", map[string]interface{}{"error": err})
		} else if n > 0 {
			p.logger.Info("replayed pending submissions", map[string]interface{}{"count": n})
		}
	}

	remote, err := p.remote.SelectSubmissions(ctx, remotestore.Filter{ApplicantEmail: p.config.ApplicantEmail})
	if err != nil {
		metrics.PollCycles.WithLabelValues(metrics.ResultFailed).Inc()
		return 0, err
	}

	applied := 0
	for _, rec := range remote {
		ok, err := p.apply(ctx, rec)
		if err != nil {
			p.logger.Warn("failed to apply remote submission", map[string]interface{}{
				"applicationId": rec.ApplicationID,
				"error":         err,
			})
			continue
		}
		if ok {
			applied++
		}
	}
	metrics.PollCycles.WithLabelValues(metrics.ResultOK).Inc()
	return applied, nil
}

// apply replaces the local copy only when the remote one is strictly newer.
func (p *Poller) apply(ctx context.Context, remote *models.SubmissionRecord) (bool, error) {
	local, err := p.local.Get(ctx, remote.ApplicationID)
	if err != nil {
		return false, err
	}
	if local != nil && !remote.UpdatedAt.After(local.UpdatedAt) {
		return false, nil
	}

	stored, err := p.local.Upsert(ctx, remote)
	if err != nil {
		return false, err
	}

	if p.broadcaster != nil {
		value, err := json.Marshal(stored)
		if err == nil {
			err = p.broadcaster.Publish(ctx, TopicSubmission, p.local.Key(stored.ApplicationID), value)
		}
		if err != nil {
			p.logger.Warn("broadcast after remote refresh failed", map[string]interface{}{
				"applicationId": stored.ApplicationID,
				"error":         err,
			})
		}
	}
	return true, nil
}
