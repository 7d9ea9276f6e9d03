package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewValidationFailedError([]string{"Documents"}, nil))

	assert.True(t, stderrors.Is(err, ValidationFailed))
	assert.False(t, stderrors.Is(err, PersistenceFailed))
}

func TestNewValidationFailedError_Metadata(t *testing.T) {
	err := NewValidationFailedError(
		[]string{"Educational Background", "Documents"},
		map[string][]string{"Documents": {"Transcript is required"}},
	)

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "Educational Background, Documents", err.Details)
	assert.Equal(t, []string{"Educational Background", "Documents"}, err.Metadata["incompleteSteps"])
	assert.False(t, err.Retryable)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewPersistenceFailedError("k", stderrors.New("full"))))
	assert.False(t, IsFatal(NewRemoteSyncDegradedError("APP-1", "offline")))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.True(t, IsFatal(fmt.Errorf("save draft: %w", NewPersistenceFailedError("k", stderrors.New("full")))))
}

func TestIsRetryableErrorCode(t *testing.T) {
	assert.True(t, IsRetryableErrorCode(ErrCodeDatabaseConnectionFailed))
	assert.True(t, IsRetryableErrorCode(ErrCodeSearchQueryFailed))
	assert.True(t, IsRetryableErrorCode(ErrCodeTimeout))
	assert.False(t, IsRetryableErrorCode(ErrCodeInvalidTransition))
	assert.False(t, IsRetryableErrorCode(ErrCodeValidationFailed))
}

func TestSearchQueryFailed_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("refresh: %w", NewSearchQueryFailedError("announcements", stderrors.New("503")))

	assert.True(t, stderrors.Is(err, SearchQueryFailed))
	assert.Equal(t, "SEARCH", GetErrorCategory(Normalize(err).Code))
}

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrCodeValidationFailed, "VALIDATION"},
		{ErrCodePersistenceFailed, "LOCAL_STORAGE"},
		{ErrCodeLoadCorrupted, "LOCAL_STORAGE"},
		{ErrCodeRemoteSyncDegraded, "SYNC"},
		{ErrCodeDatabaseInsertFailed, "DATABASE"},
		{ErrCodeSearchQueryFailed, "SEARCH"},
		{ErrCodeNotificationSendFailed, "NOTIFICATION"},
		{ErrCodeAuthentication, "OTHER"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCategory(tt.code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	bpmn := ConvertToBPMNError(NewDatabaseInsertFailedError(stderrors.New("conn reset")))
	assert.Equal(t, "DATABASE_INSERT_FAILED", bpmn.Code)
	assert.Equal(t, 3, bpmn.Retries)
	assert.Equal(t, "DATABASE_INSERT_FAILED", bpmn.ToErrorVariables()["originalErrorCode"])

	bpmn = ConvertToBPMNError(NewInvalidTransitionError("accepted", "draft"))
	assert.Equal(t, "INVALID_STATUS_TRANSITION", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)
}

func TestNormalize(t *testing.T) {
	wrapped := fmt.Errorf("ctx: %w", NewApplicationNotFoundError("APP-9"))
	assert.Equal(t, ErrCodeApplicationNotFound, Normalize(wrapped).Code)
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), Normalize(stderrors.New("boom")).Code)
}
