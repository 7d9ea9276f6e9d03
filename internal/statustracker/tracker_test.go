package statustracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-portal/internal/common/eventbus"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

func TestTracker_FollowsLifecycle(t *testing.T) {
	log := logger.NewTestLogger(t)
	bus := eventbus.New(log)
	tracker := New(log)
	defer tracker.Subscribe(bus)()

	var changes []models.Status
	tracker.OnChange(func(e Entry) { changes = append(changes, e.Status) })

	bus.Emit(models.EventApplicationSubmitted, models.ApplicationSubmitted{ApplicationID: "APP-1", ApplicantName: "Ada Lovelace"})
	bus.Emit(models.EventApplicationUnderReview, models.ApplicationStatusChanged{ApplicationID: "APP-1", To: models.StatusUnderReview})
	bus.Emit(models.EventApplicationApproved, models.ApplicationStatusChanged{ApplicationID: "APP-1", To: models.StatusAccepted})

	entry, ok := tracker.Get("APP-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, entry.Status)
	assert.Equal(t, "Ada Lovelace", entry.ApplicantName)
	assert.Equal(t, []models.Status{models.StatusSubmitted, models.StatusUnderReview, models.StatusAccepted}, changes)
}

func TestTracker_IgnoresBackwardMoves(t *testing.T) {
	log := logger.NewTestLogger(t)
	bus := eventbus.New(log)
	tracker := New(log)
	defer tracker.Subscribe(bus)()

	bus.Emit(models.EventApplicationRejected, models.ApplicationStatusChanged{ApplicationID: "APP-2"})
	bus.Emit(models.EventApplicationSubmitted, models.ApplicationSubmitted{ApplicationID: "APP-2"})

	entry, _ := tracker.Get("APP-2")
	assert.Equal(t, models.StatusRejected, entry.Status)
}

func TestTracker_SeedAndList(t *testing.T) {
	tracker := New(logger.NewNoOpLogger())
	now := time.Now()
	tracker.Seed([]*models.SubmissionRecord{
		{ApplicationID: "APP-A", Status: models.StatusSubmitted, UpdatedAt: now.Add(-time.Hour)},
		{ApplicationID: "APP-B", Status: models.StatusUnderReview, UpdatedAt: now},
	})

	list := tracker.List()
	require.Len(t, list, 2)
	assert.Equal(t, "APP-B", list[0].ApplicationID)
	assert.Equal(t, "APP-A", list[1].ApplicationID)
}

func TestTracker_Unsubscribe(t *testing.T) {
	log := logger.NewTestLogger(t)
	bus := eventbus.New(log)
	tracker := New(log)
	tracker.Subscribe(bus)()

	bus.Emit(models.EventApplicationSubmitted, models.ApplicationSubmitted{ApplicationID: "APP-3"})
	_, ok := tracker.Get("APP-3")
	assert.False(t, ok)
	assert.Equal(t, 0, bus.HandlerCount(models.EventApplicationSubmitted))
}
