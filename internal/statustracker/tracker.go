// Package statustracker follows application status changes for status views.
package statustracker

import (
	"sort"
	"sync"
	"time"

	"admissions-portal/internal/common/eventbus"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

type Subscriber interface {
	On(eventType models.EventType, handler eventbus.Handler) func()
}

// Entry is the latest known status of one application.
type Entry struct {
	ApplicationID  string        `json:"applicationId"`
	ApplicantName  string        `json:"applicantName,omitempty"`
	ApplicantEmail string        `json:"applicantEmail,omitempty"`
	Status         models.Status `json:"status"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

var tracked = map[models.EventType]models.Status{
	models.EventApplicationSubmitted:   models.StatusSubmitted,
	models.EventApplicationUnderReview: models.StatusUnderReview,
	models.EventApplicationApproved:    models.StatusAccepted,
	models.EventApplicationRejected:    models.StatusRejected,
}

// Tracker never moves an application backwards, so a late APPLICATION_SUBMITTED cannot
// hide a decision that already arrived.
type Tracker struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	listeners []func(Entry)
	logger    logger.Logger
}

func New(log logger.Logger) *Tracker {
	return &Tracker{
		entries: make(map[string]Entry),
		logger:  log.WithFields(map[string]interface{}{"component": "statustracker"}),
	}
}

// Subscribe starts tracking. The returned func stops it.
func (t *Tracker) Subscribe(bus Subscriber) func() {
	var offs []func()
	for eventType := range tracked {
		offs = append(offs, bus.On(eventType, t.handle))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// OnChange registers fn to run whenever an entry changes.
func (t *Tracker) OnChange(fn func(Entry)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Tracker) Get(applicationID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[applicationID]
	return e, ok
}

// List returns all entries, most recently updated first.
func (t *Tracker) List() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ApplicationID < out[j].ApplicationID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Seed loads entries known from storage, e.g. the local submissions ledger at startup.
func (t *Tracker) Seed(recs []*models.SubmissionRecord) {
	for _, r := range recs {
		t.apply(Entry{
			ApplicationID:  r.ApplicationID,
			ApplicantName:  r.ApplicantName,
			ApplicantEmail: r.ApplicantEmail,
			Status:         r.Status,
			UpdatedAt:      r.UpdatedAt,
		})
	}
}

func (t *Tracker) handle(event models.DomainEvent) {
	status := tracked[event.Type]
	entry := Entry{Status: status, UpdatedAt: event.OccurredAt}

	switch p := event.Payload.(type) {
	case models.ApplicationSubmitted:
		entry.ApplicationID, entry.ApplicantName, entry.ApplicantEmail = p.ApplicationID, p.ApplicantName, p.ApplicantEmail
	case models.ApplicationStatusChanged:
		entry.ApplicationID, entry.ApplicantName, entry.ApplicantEmail = p.ApplicationID, p.ApplicantName, p.ApplicantEmail
	default:
		t.logger.Warn("unexpected event payload", map[string]interface{}{"eventType": event.Type})
		return
	}
	t.apply(entry)
}

func (t *Tracker) apply(entry Entry) {
	if entry.ApplicationID == "" {
		return
	}

	t.mu.Lock()
	prev, ok := t.entries[entry.ApplicationID]
	if ok {
		if models.Furthest(prev.Status, entry.Status) != entry.Status || prev.Status == entry.Status {
			t.mu.Unlock()
			return
		}
		if entry.ApplicantName == "" {
			entry.ApplicantName = prev.ApplicantName
		}
		if entry.ApplicantEmail == "" {
			entry.ApplicantEmail = prev.ApplicantEmail
		}
	}
	t.entries[entry.ApplicationID] = entry
	listeners := append([]func(Entry){}, t.listeners...)
	t.mu.Unlock()

	t.logger.Debug("status changed", map[string]interface{}{
		"applicationId": entry.ApplicationID,
		"status":        entry.Status,
	})
	for _, l := range listeners {
		l(entry)
	}
}
