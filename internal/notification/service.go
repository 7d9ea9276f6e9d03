package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	awsclient "admissions-portal/internal/common/aws"
	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/eventbus"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
	DeliveryDisabled = "disabled"
)

// Subscriber is the part of the event bus the service listens on.
type Subscriber interface {
	On(eventType models.EventType, handler eventbus.Handler) func()
}

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	FromEmail    string
	SMSSenderID  string
	Timeout      time.Duration
}

type template struct {
	kind    models.NotificationKind
	title   string
	subject string
	body    string
	sms     bool
}

var templates = map[models.EventType]template{
	models.EventApplicationSubmitted: {
		kind:    models.NotificationSuccess,
		title:   "Application submitted",
		subject: "Application Submitted Successfully",
		body:    "Thank you {{applicantName}}! Your application {{applicationId}} has been submitted.",
	},
	models.EventApplicationUnderReview: {
		kind:    models.NotificationInfo,
		title:   "Application under review",
		subject: "Your Application Is Under Review",
		body:    "Your application {{applicationId}} is now being reviewed by the admissions committee.",
	},
	models.EventApplicationApproved: {
		kind:    models.NotificationSuccess,
		title:   "Application accepted",
		subject: "Admission Decision: Accepted",
		body:    "Congratulations {{applicantName}}, your application {{applicationId}} has been accepted. {{reason}}",
		sms:     true,
	},
	models.EventApplicationRejected: {
		kind:    models.NotificationError,
		title:   "Application decision",
		subject: "Admission Decision",
		body:    "A decision has been made on your application {{applicationId}}. {{reason}}",
		sms:     true,
	},
}

// Service turns domain events into alerts. It owns the alert State and sends email and
// SMS in the background so event emitters are never blocked on delivery.
type Service struct {
	config Config
	ses    awsclient.SESService
	sns    awsclient.SNSService
	logger logger.Logger
	newID  func() string
	now    func() time.Time

	mu         sync.Mutex
	state      State
	deliveries []models.Delivery
	listeners  []func(State)
	inflight   sync.WaitGroup
}

// NewService builds the service. ses and sns may be nil, which disables that channel.
func NewService(config Config, ses awsclient.SESService, sns awsclient.SNSService, log logger.Logger) *Service {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Service{
		config: config,
		ses:    ses,
		sns:    sns,
		logger: log.WithFields(map[string]interface{}{"component": "notification"}),
		newID:  func() string { return uuid.New().String() },
		now:    func() time.Time { return time.Now().UTC() },
		state:  State{Items: []models.Notification{}},
	}
}

// Subscribe listens for every application event on bus. The returned func unsubscribes.
func (s *Service) Subscribe(bus Subscriber) func() {
	var offs []func()
	for eventType := range templates {
		offs = append(offs, bus.On(eventType, s.handle))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Dispatch applies cmd and returns the new state.
func (s *Service) Dispatch(cmd Command) State {
	s.mu.Lock()
	s.state = Reduce(s.state, cmd)
	state := s.state
	listeners := append([]func(State){}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
	return state
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers fn to be called after every dispatch.
func (s *Service) OnChange(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) Deliveries() []models.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Delivery(nil), s.deliveries...)
}

// Wait blocks until background deliveries have finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// SyncDegraded tells the applicant their submission is only stored on this device for now.
func (s *Service) SyncDegraded(applicationID string, err error) {
	s.logger.Debug("remote sync degraded alert", map[string]interface{}{
		"applicationId": applicationID,
		"error":         err,
	})
	s.Dispatch(Add{Notification: models.Notification{
		ID:            s.newID(),
		Kind:          models.NotificationWarning,
		Title:         "Saved on this device",
		Message:       fmt.Sprintf("Application %s was saved locally and will be uploaded when the connection recovers.", applicationID),
		ApplicationID: applicationID,
		CreatedAt:     s.now(),
	}})
}

type recipient struct {
	applicationID string
	name          string
	email         string
	phone         string
	reason        string
}

func recipientOf(payload interface{}) (recipient, bool) {
	switch p := payload.(type) {
	case models.ApplicationSubmitted:
		return recipient{applicationID: p.ApplicationID, name: p.ApplicantName, email: p.ApplicantEmail}, true
	case *models.ApplicationSubmitted:
		return recipientOf(*p)
	case models.ApplicationStatusChanged:
		return recipient{
			applicationID: p.ApplicationID,
			name:          p.ApplicantName,
			email:         p.ApplicantEmail,
			phone:         p.ApplicantPhone,
			reason:        p.Reason,
		}, true
	case *models.ApplicationStatusChanged:
		return recipientOf(*p)
	}
	return recipient{}, false
}

func (s *Service) handle(event models.DomainEvent) {
	tmpl, ok := templates[event.Type]
	if !ok {
		return
	}
	to, ok := recipientOf(event.Payload)
	if !ok {
		s.logger.Warn("unexpected event payload", map[string]interface{}{
			"eventType": event.Type,
			"payload":   fmt.Sprintf("%T", event.Payload),
		})
		return
	}

	data := map[string]interface{}{
		"applicationId": to.applicationID,
		"applicantName": to.name,
		"reason":        to.reason,
	}
	body := strings.TrimSpace(renderTemplate(tmpl.body, data))

	n := models.Notification{
		ID:            s.newID(),
		Kind:          tmpl.kind,
		Title:         tmpl.title,
		Message:       body,
		ApplicationID: to.applicationID,
		CreatedAt:     s.now(),
	}
	s.Dispatch(Add{Notification: n})

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()
		s.deliver(ctx, n.ID, tmpl, to, body)
	}()
}

func (s *Service) deliver(ctx context.Context, notificationID string, tmpl template, to recipient, body string) {
	if to.email != "" {
		status := DeliveryDisabled
		if s.config.EmailEnabled && s.ses != nil {
			status = DeliverySent
			_, err := s.ses.SendEmail(ctx, awsclient.TextEmail(s.config.FromEmail, to.email, tmpl.subject, body))
			if err != nil {
				status = DeliveryFailed
				s.logger.Error("email send failed", map[string]interface{}{
					"error":         apperrors.NewNotificationSendFailedError(ChannelEmail, err),
					"applicationId": to.applicationID,
				})
			}
		}
		s.record(notificationID, ChannelEmail, status)
	}

	// SMS only for decisions and only when a phone is on file.
	if tmpl.sms && to.phone != "" {
		status := DeliveryDisabled
		if s.config.SMSEnabled && s.sns != nil {
			status = DeliverySent
			_, err := s.sns.Publish(ctx, awsclient.SMS(to.phone, body, s.config.SMSSenderID))
			if err != nil {
				status = DeliveryFailed
				s.logger.Error("SMS send failed", map[string]interface{}{
					"error":         apperrors.NewNotificationSendFailedError(ChannelSMS, err),
					"applicationId": to.applicationID,
				})
			}
		}
		s.record(notificationID, ChannelSMS, status)
	}
}

func (s *Service) record(notificationID, channel, status string) {
	s.mu.Lock()
	s.deliveries = append(s.deliveries, models.Delivery{
		NotificationID: notificationID,
		Channel:        channel,
		Status:         status,
		SentAt:         s.now().Format(time.RFC3339),
	})
	s.mu.Unlock()
}

// renderTemplate replaces {{key}} placeholders and drops any left unresolved.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}
	return result
}
