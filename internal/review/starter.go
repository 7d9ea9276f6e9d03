// Package review hands submitted applications to the reviewer workflow.
package review

import (
	"context"
	"sync"
	"time"

	"admissions-portal/internal/common/eventbus"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

// ProcessStarter starts a workflow instance; *camunda.Client implements it.
type ProcessStarter interface {
	StartProcess(ctx context.Context, processID string, variables interface{}) (int64, error)
}

type Subscriber interface {
	On(eventType models.EventType, handler eventbus.Handler) func()
}

type Config struct {
	ProcessID string
	Timeout   time.Duration
}

// Variables seed the review process instance.
type Variables struct {
	ApplicationID  string `json:"applicationId"`
	ApplicantName  string `json:"applicantName"`
	ApplicantEmail string `json:"applicantEmail"`
	Status         string `json:"status"`
}

// Starter opens one review process per APPLICATION_SUBMITTED event. It runs off the
// emitting goroutine; a failed start is logged and left for an operator.
type Starter struct {
	config   Config
	starter  ProcessStarter
	logger   logger.Logger
	inflight sync.WaitGroup

	mu      sync.Mutex
	started map[string]int64
}

func NewStarter(config Config, starter ProcessStarter, log logger.Logger) *Starter {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Starter{
		config:  config,
		starter: starter,
		logger:  log.WithFields(map[string]interface{}{"component": "review", "processId": config.ProcessID}),
		started: make(map[string]int64),
	}
}

func (s *Starter) Subscribe(bus Subscriber) func() {
	return bus.On(models.EventApplicationSubmitted, s.handle)
}

// InstanceKey returns the process instance started for applicationID, if any.
func (s *Starter) InstanceKey(applicationID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.started[applicationID]
	return key, ok
}

func (s *Starter) Wait() {
	s.inflight.Wait()
}

func (s *Starter) handle(event models.DomainEvent) {
	p, ok := event.Payload.(models.ApplicationSubmitted)
	if !ok || p.ApplicationID == "" {
		return
	}

	s.mu.Lock()
	_, seen := s.started[p.ApplicationID]
	if !seen {
		s.started[p.ApplicationID] = 0
	}
	s.mu.Unlock()
	if seen {
		s.logger.Debug("review already started", map[string]interface{}{"applicationId": p.ApplicationID})
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()
		s.start(ctx, p)
	}()
}

func (s *Starter) start(ctx context.Context, p models.ApplicationSubmitted) {
	key, err := s.starter.StartProcess(ctx, s.config.ProcessID, Variables{
		ApplicationID:  p.ApplicationID,
		ApplicantName:  p.ApplicantName,
		ApplicantEmail: p.ApplicantEmail,
		Status:         string(models.StatusSubmitted),
	})

	s.mu.Lock()
	if err != nil {
		delete(s.started, p.ApplicationID)
	} else {
		s.started[p.ApplicationID] = key
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to start review process", map[string]interface{}{
			"applicationId": p.ApplicationID,
			"error":         err,
		})
		return
	}
	s.logger.Info("review process started", map[string]interface{}{
		"applicationId":      p.ApplicationID,
		"processInstanceKey": key,
	})
}
