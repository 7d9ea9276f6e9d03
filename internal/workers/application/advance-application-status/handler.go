// Package advanceapplicationstatus applies a reviewer decision to a stored application.
package advanceapplicationstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/metrics"
	"admissions-portal/internal/common/observability"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/remotestore"
)

const (
	TaskType = "advance-application-status"
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
)

// Store is the part of the remote store the worker needs.
type Store interface {
	GetSubmission(ctx context.Context, applicationID string) (*models.SubmissionRecord, error)
	UpdateStatus(ctx context.Context, applicationID string, from, to models.Status, reason string) (time.Time, error)
}

type Emitter interface {
	Emit(eventType models.EventType, payload interface{})
}

type Handler struct {
	config       *Config
	store        Store
	bus          Emitter
	obs          *observability.Observability
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

// NewHandler builds the handler. bus and obs may be nil.
func NewHandler(config *Config, store Store, bus Emitter, obs *observability.Observability, log logger.Logger) *Handler {
	if config == nil {
		config = LoadConfig()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		store:        store,
		bus:          bus,
		obs:          obs,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, start, apperrors.NewBusinessRuleError("Invalid job variables", fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, start, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordJobProcessed(ctx, metrics.ResultOK)
	h.obs.RecordJobDuration(ctx, time.Since(start), metrics.ResultOK)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	to := models.Status(input.Status)
	if input.ApplicationID == "" {
		return nil, apperrors.NewBusinessRuleError("Invalid job variables", fmt.Sprintf("%v: applicationId is required", ErrInvalidInput))
	}
	if !to.Valid() {
		return nil, apperrors.NewBusinessRuleError("Invalid job variables", fmt.Sprintf("%v: unknown status %q", ErrInvalidInput, input.Status))
	}

	current, err := h.store.GetSubmission(ctx, input.ApplicationID)
	if err != nil {
		if errors.Is(err, remotestore.ErrNotFound) {
			return nil, apperrors.NewApplicationNotFoundError(input.ApplicationID)
		}
		return nil, apperrors.NewQueryExecutionFailedError("get_submission", err)
	}

	// Zeebe redelivers jobs; a repeat of an applied decision completes without side effects.
	if current.Status == to {
		h.logger.Info("status already applied", map[string]interface{}{
			"applicationId": input.ApplicationID,
			"status":        to,
		})
		return &Output{
			ApplicationID:     input.ApplicationID,
			PreviousStatus:    string(current.Status),
			ApplicationStatus: string(to),
			UpdatedAt:         current.UpdatedAt.UTC().Format(time.RFC3339),
		}, nil
	}

	if !current.Status.CanTransitionTo(to) {
		return nil, apperrors.NewInvalidTransitionError(string(current.Status), string(to))
	}

	updatedAt, err := h.store.UpdateStatus(ctx, input.ApplicationID, current.Status, to, input.Reason)
	if err != nil {
		if errors.Is(err, remotestore.ErrStatusConflict) {
			return nil, apperrors.NewInvalidTransitionError(string(current.Status), string(to))
		}
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}

	h.emit(current, to, input)

	h.logger.Info("application status advanced", map[string]interface{}{
		"applicationId": input.ApplicationID,
		"from":          current.Status,
		"to":            to,
	})

	return &Output{
		ApplicationID:     input.ApplicationID,
		PreviousStatus:    string(current.Status),
		ApplicationStatus: string(to),
		UpdatedAt:         updatedAt.UTC().Format(time.RFC3339),
		Changed:           true,
	}, nil
}

func (h *Handler) emit(current *models.SubmissionRecord, to models.Status, input *Input) {
	if h.bus == nil {
		return
	}
	eventType, ok := models.EventForStatus(to)
	if !ok {
		return
	}
	h.bus.Emit(eventType, models.ApplicationStatusChanged{
		ApplicationID:  current.ApplicationID,
		ApplicantName:  current.ApplicantName,
		ApplicantEmail: current.ApplicantEmail,
		ApplicantPhone: input.ApplicantPhone,
		From:           current.Status,
		To:             to,
		Reason:         input.Reason,
	})
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey": job.Key,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, start time.Time, err error) {
	stdErr := apperrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordJobProcessed(ctx, metrics.ResultFailed)
	h.obs.RecordJobDuration(ctx, time.Since(start), metrics.ResultFailed)
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
