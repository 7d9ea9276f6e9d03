package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
	"admissions-portal/internal/storage/remotestore"
)

type fakeRemote struct {
	recs   []*models.SubmissionRecord
	err    error
	filter remotestore.Filter
}

func (f *fakeRemote) SelectSubmissions(_ context.Context, filter remotestore.Filter) ([]*models.SubmissionRecord, error) {
	f.filter = filter
	return f.recs, f.err
}

type fakeLocal struct {
	recs map[string]*models.SubmissionRecord
}

func (f *fakeLocal) Get(_ context.Context, id string) (*models.SubmissionRecord, error) {
	return f.recs[id], nil
}

func (f *fakeLocal) Upsert(_ context.Context, rec *models.SubmissionRecord) (*models.SubmissionRecord, error) {
	f.recs[rec.ApplicationID] = rec
	return rec, nil
}

func (f *fakeLocal) Key(id string) string { return "applicationSubmissions:" + id }

type fakeSyncer struct{ calls int }

func (f *fakeSyncer) SyncPending(context.Context) (int, error) {
	f.calls++
	return 0, nil
}

func submissionAt(id string, status models.Status, updated time.Time) *models.SubmissionRecord {
	return &models.SubmissionRecord{ApplicationID: id, Status: status, SubmittedAt: updated, UpdatedAt: updated}
}

func TestPoller_PollOnce_AppliesOnlyNewer(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := &fakeLocal{recs: map[string]*models.SubmissionRecord{
		"APP-1": submissionAt("APP-1", models.StatusSubmitted, t0),
		"APP-2": submissionAt("APP-2", models.StatusSubmitted, t0.Add(time.Hour)),
	}}
	remote := &fakeRemote{recs: []*models.SubmissionRecord{
		submissionAt("APP-1", models.StatusUnderReview, t0.Add(time.Minute)),
		submissionAt("APP-2", models.StatusUnderReview, t0),
		submissionAt("APP-3", models.StatusSubmitted, t0),
	}}

	hub := NewHub()
	var heard []string
	_, _ = hub.Endpoint("other-tab").Subscribe(context.Background(), func(m Message) { heard = append(heard, m.StorageKey) })
	syncer := &fakeSyncer{}

	p := NewPoller(PollerConfig{ApplicantEmail: "ada@example.com"}, remote, local, hub.Endpoint("poller"), nil, syncer, logger.NewTestLogger(t))

	applied, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, applied)
	assert.Equal(t, models.StatusUnderReview, local.recs["APP-1"].Status)
	assert.Equal(t, models.StatusSubmitted, local.recs["APP-2"].Status, "local copy is newer")
	assert.Contains(t, local.recs, "APP-3")
	assert.ElementsMatch(t, []string{"applicationSubmissions:APP-1", "applicationSubmissions:APP-3"}, heard)
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, "ada@example.com", remote.filter.ApplicantEmail)
}

func TestPoller_PollOnce_SkipsWhileEditing(t *testing.T) {
	remote := &fakeRemote{recs: []*models.SubmissionRecord{submissionAt("APP-1", models.StatusAccepted, time.Now())}}
	local := &fakeLocal{recs: map[string]*models.SubmissionRecord{}}
	editing := true

	p := NewPoller(PollerConfig{}, remote, local, nil, EditGuardFunc(func() bool { return editing }), nil, logger.NewTestLogger(t))

	applied, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Empty(t, local.recs)

	editing = false
	applied, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

func TestPoller_PollOnce_RemoteError(t *testing.T) {
	remote := &fakeRemote{err: errors.New("network down")}
	p := NewPoller(PollerConfig{}, remote, &fakeLocal{recs: map[string]*models.SubmissionRecord{}}, nil, nil, nil, logger.NewTestLogger(t))

	_, err := p.PollOnce(context.Background())
	assert.Error(t, err)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	remote := &fakeRemote{}
	p := NewPoller(PollerConfig{Interval: 5 * time.Millisecond}, remote, &fakeLocal{recs: map[string]*models.SubmissionRecord{}}, nil, nil, nil, logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
