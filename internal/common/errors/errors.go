// Package errors provides standardized error handling for the application form engine
// and its reviewer workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Form engine errors
const (
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodePersistenceFailed   ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeRemoteSyncDegraded  ErrorCode = "REMOTE_SYNC_DEGRADED"
	ErrCodeLoadCorrupted       ErrorCode = "LOAD_CORRUPTED"
	ErrCodeRecordImmutable     ErrorCode = "RECORD_IMMUTABLE"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeApplicationNotFound ErrorCode = "APPLICATION_NOT_FOUND"
)

// Infrastructure errors
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeExternalService          ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout                  ErrorCode = "TIMEOUT_ERROR"
	ErrCodeResourceNotFound         ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeBusinessRule             ErrorCode = "BUSINESS_RULE_ERROR"
	ErrCodeAuthentication           ErrorCode = "AUTHENTICATION_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches any StandardError carrying the same code, so callers can write
// errors.Is(err, errors.ValidationFailed).
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Code-only targets for errors.Is.
var (
	ValidationFailed   = &StandardError{Code: ErrCodeValidationFailed}
	PersistenceFailed  = &StandardError{Code: ErrCodePersistenceFailed}
	RemoteSyncDegraded = &StandardError{Code: ErrCodeRemoteSyncDegraded}
	LoadCorrupted      = &StandardError{Code: ErrCodeLoadCorrupted}
	RecordImmutable    = &StandardError{Code: ErrCodeRecordImmutable}
	InvalidTransition  = &StandardError{Code: ErrCodeInvalidTransition}

	DatabaseConnectionFailed = &StandardError{Code: ErrCodeDatabaseConnectionFailed}
	SearchQueryFailed        = &StandardError{Code: ErrCodeSearchQueryFailed}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationFailedError lists the steps that block submission. fieldErrors maps a
// step title to its missing-field messages.
func NewValidationFailedError(incompleteSteps []string, fieldErrors map[string][]string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Required steps are incomplete",
		Details:   strings.Join(incompleteSteps, ", "),
		Retryable: false,
		Metadata: map[string]interface{}{
			"incompleteSteps": incompleteSteps,
			"fieldErrors":     fieldErrors,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceFailedError is raised once every local write fallback is exhausted.
func NewPersistenceFailedError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Local write failed, your work may be lost",
		Details:   fmt.Sprintf("key: %s, error: %v", key, err),
		Retryable: false,
		Metadata:  map[string]interface{}{"key": key},
		Timestamp: time.Now().UTC(),
	}
}

// NewRemoteSyncDegradedError is informational: the local copy is authoritative.
func NewRemoteSyncDegradedError(applicationID, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteSyncDegraded,
		Message:   "Submission saved locally, remote sync pending",
		Details:   reason,
		Retryable: true,
		Metadata:  map[string]interface{}{"applicationId": applicationID},
		Timestamp: time.Now().UTC(),
	}
}

// NewLoadCorruptedError reports an unreadable stored draft.
func NewLoadCorruptedError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLoadCorrupted,
		Message:   "Stored draft is unreadable and was reset",
		Details:   fmt.Sprintf("key: %s, error: %v", key, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRecordImmutableError rejects edits to a submitted record.
func NewRecordImmutableError(status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRecordImmutable,
		Message:   "Record can no longer be edited",
		Details:   fmt.Sprintf("status: %s", status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError rejects a status change that moves backwards or skips a state.
func NewInvalidTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Status transition not allowed",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewApplicationNotFoundError creates a non-retryable lookup error.
func NewApplicationNotFoundError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable search query error.
func NewSearchQueryFailedError(index string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Elasticsearch query error",
		Details:   fmt.Sprintf("index: %s, error: %s", index, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewBusinessRuleError(message, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBusinessRule,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service %s failed", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Timeout calling %s", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResourceNotFound,
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewAuthenticationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthentication,
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Policy helpers
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeApplicationNotFound:      "APPLICATION_NOT_FOUND",
	ErrCodeInvalidTransition:        "INVALID_STATUS_TRANSITION",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeDatabaseInsertFailed:     "DATABASE_INSERT_FAILED",
	ErrCodeQueryExecutionFailed:     "QUERY_EXECUTION_FAILED",
	ErrCodeNotificationSendFailed:   "NOTIFICATION_SEND_FAILED",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeExternalService:
		return 3
	case ErrCodeTimeout:
		return 2
	default:
		return 0 // business errors: no retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsFatal reports whether the error must interrupt the applicant with a blocking message.
func IsFatal(err error) bool {
	var se *StandardError
	return stderrors.As(err, &se) && se.Code == ErrCodePersistenceFailed
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeValidationFailed || code == ErrCodeInvalidTransition:
		return "VALIDATION"
	case code == ErrCodePersistenceFailed || code == ErrCodeLoadCorrupted || code == ErrCodeRecordImmutable:
		return "LOCAL_STORAGE"
	case code == ErrCodeRemoteSyncDegraded:
		return "SYNC"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	default:
		return "OTHER"
	}
}
