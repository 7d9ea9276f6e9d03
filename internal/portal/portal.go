// Package portal assembles the application form engine and its observers from config.
package portal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	awsclient "admissions-portal/internal/common/aws"
	"admissions-portal/internal/common/config"
	"admissions-portal/internal/common/eventbus"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/observability"
	"admissions-portal/internal/forms/broadcast"
	"admissions-portal/internal/forms/formstate"
	"admissions-portal/internal/forms/persistence"
	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/forms/stepvalidator"
	"admissions-portal/internal/forms/submission"
	"admissions-portal/internal/notification"
	"admissions-portal/internal/review"
	"admissions-portal/internal/statustracker"
	"admissions-portal/internal/storage/localstore"
	"admissions-portal/internal/storage/remotestore"
	"admissions-portal/pkg/registry"
)

// Deps are the connections the portal runs on. Every field is optional: without Redis
// the local store and broadcasts stay in memory, without a DB submissions settle as
// degraded, and without a process starter no review process is opened.
type Deps struct {
	Redis   *redis.Client
	DB      *sql.DB
	SES     awsclient.SESService
	SNS     awsclient.SNSService
	Process review.ProcessStarter
	Obs     *observability.Observability
}

type Portal struct {
	Config        config.FormsConfig
	Catalog       *steps.Catalog
	Validator     *stepvalidator.Validator
	Local         localstore.Store
	Remote        *remotestore.PostgresStore
	Bus           *eventbus.Bus
	Ledger        *persistence.Ledger
	Pipeline      *submission.Pipeline
	Notifications *notification.Service
	Tracker       *statustracker.Tracker
	Review        *review.Starter

	redis  *redis.Client
	hub    *broadcast.Hub
	logger logger.Logger

	mu   sync.Mutex
	offs []func()
}

// New builds the engine. The catalog comes from the step registry file when one is
// configured.
func New(ctx context.Context, cfg *config.Config, deps Deps, log logger.Logger) (*Portal, error) {
	forms := cfg.Forms

	catalog, err := registry.LoadCatalog(forms.StepRegistryPath)
	if err != nil {
		return nil, fmt.Errorf("load step registry: %w", err)
	}
	if forms.StepRegistryPath == "" && forms.MinReferenceCount > 0 {
		catalog = catalog.WithMinItems("references.contacts", forms.MinReferenceCount)
	}

	p := &Portal{
		Config:    forms,
		Catalog:   catalog,
		Validator: stepvalidator.New(catalog),
		Bus:       eventbus.New(log),
		redis:     deps.Redis,
		hub:       broadcast.NewHub(),
		logger:    log.WithFields(map[string]interface{}{"component": "portal"}),
	}

	if deps.Redis != nil {
		p.Local = localstore.NewRedisStore(deps.Redis, forms.MaxValueBytes)
	} else {
		p.Local = localstore.NewMemoryStore(localstore.WithMaxValueBytes(forms.MaxValueBytes))
	}
	p.Ledger = persistence.NewLedger(p.Local, forms.SubmissionPrefix, log)

	var remote submission.RemoteStore
	if deps.DB != nil {
		p.Remote = remotestore.NewPostgresStore(deps.DB, log)
		if err := p.Remote.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		remote = p.Remote
	}

	p.Notifications = notification.NewService(notification.Config{
		EmailEnabled: cfg.Notifications.Email.Enabled,
		SMSEnabled:   cfg.Notifications.SMS.Enabled,
		FromEmail:    cfg.Notifications.Email.FromEmail,
		SMSSenderID:  cfg.Notifications.SMS.SenderID,
	}, deps.SES, deps.SNS, log)
	p.Tracker = statustracker.New(log)

	p.Pipeline = submission.New(
		submission.Config{Strict: forms.StrictSubmission, RemoteTimeout: forms.RemoteTimeout()},
		p.Validator,
		p.Ledger,
		remote,
		p.Bus,
		p.Broadcaster("submission-pipeline"),
		log,
		submission.WithDegradedNotifier(p.Notifications),
		submission.WithObservability(deps.Obs),
	)

	p.offs = append(p.offs, p.Notifications.Subscribe(p.Bus), p.Tracker.Subscribe(p.Bus))
	if deps.Process != nil {
		p.Review = review.NewStarter(review.Config{ProcessID: cfg.Camunda.ReviewProcessID}, deps.Process, log)
		p.offs = append(p.offs, p.Review.Subscribe(p.Bus))
	}

	if known, err := p.Ledger.List(ctx); err == nil {
		p.Tracker.Seed(known)
	} else {
		p.logger.Warn("could not seed status tracker", map[string]interface{}{"error": err})
	}
	return p, nil
}

// Broadcaster returns a broadcast endpoint for one view. Views of the same portal see
// each other; with Redis, so do views in other processes.
func (p *Portal) Broadcaster(originID string) broadcast.Broadcaster {
	if p.redis != nil {
		return broadcast.NewRedisBroadcaster(p.redis, p.Config.BroadcastChannel, originID, p.logger)
	}
	return p.hub.Endpoint(originID)
}

// DraftKey is the storage key of an applicant's draft; an empty applicant id gives the
// single shared slot.
func (p *Portal) DraftKey(applicantID string) string {
	if applicantID == "" {
		return p.Config.DraftKey
	}
	return p.Config.DraftKey + ":" + applicantID
}

// Session is one view onto an applicant's draft.
type Session struct {
	Form        *formstate.Store
	Adapter     *persistence.Adapter
	Broadcaster broadcast.Broadcaster
	unfollow    func()
}

// Close stops following other views.
func (s *Session) Close() {
	if s.unfollow != nil {
		s.unfollow()
	}
}

// OpenDraft loads (or starts) the applicant's draft and follows changes from other views.
func (p *Portal) OpenDraft(ctx context.Context, applicantID, originID string) (*Session, error) {
	b := p.Broadcaster(originID)
	adapter := persistence.NewAdapter(persistence.AdapterConfig{
		Key:     p.DraftKey(applicantID),
		Catalog: p.Catalog,
	}, p.Local, b, p.logger)

	record, err := adapter.LoadOrNew(ctx)
	if err != nil {
		return nil, err
	}
	form := formstate.New(record, p.Validator, adapter, p.logger)
	unfollow, err := form.Follow(ctx, b, adapter.Key(), adapter.Decode)
	if err != nil {
		return nil, fmt.Errorf("follow draft broadcasts: %w", err)
	}
	return &Session{Form: form, Adapter: adapter, Broadcaster: b, unfollow: unfollow}, nil
}

// Submit sends the session's draft through the pipeline and locks the draft.
func (p *Portal) Submit(ctx context.Context, s *Session) (*submission.Result, error) {
	result, err := p.Pipeline.Submit(ctx, s.Form.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := s.Form.MarkSubmitted(ctx, result.Submission.ApplicationID); err != nil {
		p.logger.Warn("draft not marked submitted", map[string]interface{}{
			"applicationId": result.Submission.ApplicationID,
			"error":         err,
		})
	}
	return result, nil
}

// NewPoller returns a poller for one applicant's submissions, or nil when there is no
// remote store.
func (p *Portal) NewPoller(applicantEmail string, guard broadcast.EditGuard) *broadcast.Poller {
	if p.Remote == nil {
		return nil
	}
	return broadcast.NewPoller(broadcast.PollerConfig{
		Interval:       p.Config.PollInterval(),
		ApplicantEmail: applicantEmail,
	}, p.Remote, p.Ledger, p.Broadcaster("poller:"+applicantEmail), guard, p.Pipeline, p.logger)
}

// Close unsubscribes observers and waits for background work.
func (p *Portal) Close() {
	p.mu.Lock()
	offs := p.offs
	p.offs = nil
	p.mu.Unlock()

	for _, off := range offs {
		off()
	}
	p.Pipeline.Wait()
	p.Notifications.Wait()
	if p.Review != nil {
		p.Review.Wait()
	}
}
