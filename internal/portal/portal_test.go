package portal

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-portal/internal/common/config"
	apperrors "admissions-portal/internal/common/errors"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Forms = config.FormsConfig{
		DraftKey:          config.DefaultDraftKey,
		SubmissionPrefix:  config.DefaultSubmissionPrefix,
		BroadcastChannel:  config.DefaultBroadcastChannel,
		MaxValueBytes:     1 << 20,
		PollIntervalMs:    1000,
		RemoteTimeoutMs:   1000,
		StrictSubmission:  true,
		MinReferenceCount: 2,
	}
	cfg.Camunda.ReviewProcessID = "application-review"
	return cfg
}

type fakeProcess struct {
	mu      sync.Mutex
	started []string
}

func (f *fakeProcess) StartProcess(_ context.Context, processID string, _ interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, processID)
	return int64(len(f.started)), nil
}

func fillDraft(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	sections := map[string]interface{}{
		"personalInfo": map[string]interface{}{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"},
		"education":    map[string]interface{}{"institution": "Analytical College", "degree": "BSc", "fieldOfStudy": "Mathematics"},
		"documents": map[string]interface{}{
			"transcript":     map[string]interface{}{"name": "transcript.pdf", "size": 2048.0},
			"identification": map[string]interface{}{"name": "passport.png", "size": 1024.0},
		},
		"essays": map[string]interface{}{"personalStatement": "Poetical science."},
		"references": map[string]interface{}{"contacts": []interface{}{
			map[string]interface{}{"name": "Charles Babbage"},
			map[string]interface{}{"name": "Augustus De Morgan"},
		}},
	}
	for section, value := range sections {
		require.NoError(t, s.Form.Update(ctx, section, value))
	}
}

func TestPortal_OpenDraft_ViewsFollowEachOther(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, testConfig(), Deps{}, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer p.Close()

	a, err := p.OpenDraft(ctx, "applicant-1", "view-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := p.OpenDraft(ctx, "applicant-1", "view-b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Form.SetField(ctx, "personalInfo.firstName", "Ada"))

	personal := b.Form.Snapshot().Sections["personalInfo"].(map[string]interface{})
	assert.Equal(t, "Ada", personal["firstName"])
	assert.Equal(t, "applicationFormData:applicant-1", a.Adapter.Key())
}

func TestPortal_Submit_InMemory(t *testing.T) {
	ctx := context.Background()
	process := &fakeProcess{}
	p, err := New(ctx, testConfig(), Deps{Process: process}, logger.NewTestLogger(t))
	require.NoError(t, err)

	s, err := p.OpenDraft(ctx, "", "view-a")
	require.NoError(t, err)
	defer s.Close()

	_, err = p.Submit(ctx, s)
	assert.ErrorIs(t, err, apperrors.ValidationFailed)

	fillDraft(t, s)
	res, err := p.Submit(ctx, s)
	require.NoError(t, err)
	id := res.Submission.ApplicationID

	p.Close()

	assert.ErrorIs(t, res.RemoteSync.Err(), apperrors.RemoteSyncDegraded)
	assert.Equal(t, models.StatusSubmitted, s.Form.Snapshot().Metadata.Status)
	assert.Equal(t, id, s.Form.Snapshot().Metadata.ApplicationID)

	entry, ok := p.Tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusSubmitted, entry.Status)

	_, ok = p.Review.InstanceKey(id)
	assert.True(t, ok)
	assert.Equal(t, []string{"application-review"}, process.started)

	// one alert for the submission, one for the degraded remote write
	assert.Len(t, p.Notifications.State().Items, 2)
}

func TestPortal_New_SeedsTrackerFromRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	first, err := New(ctx, testConfig(), Deps{Redis: client}, logger.NewTestLogger(t))
	require.NoError(t, err)
	s, err := first.OpenDraft(ctx, "applicant-1", "view-a")
	require.NoError(t, err)
	fillDraft(t, s)
	res, err := first.Submit(ctx, s)
	require.NoError(t, err)
	s.Close()
	first.Close()

	second, err := New(ctx, testConfig(), Deps{Redis: client}, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer second.Close()

	entry, ok := second.Tracker.Get(res.Submission.ApplicationID)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", entry.ApplicantName)

	reopened, err := second.OpenDraft(ctx, "applicant-1", "view-b")
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, models.StatusSubmitted, reopened.Form.Snapshot().Metadata.Status)
}

func TestPortal_New_EnsuresRemoteSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 4; i++ {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	p, err := New(context.Background(), testConfig(), Deps{DB: db}, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer p.Close()

	assert.NotNil(t, p.Remote)
	assert.NotNil(t, p.NewPoller("ada@example.com", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPortal_NewPoller_NilWithoutRemote(t *testing.T) {
	p, err := New(context.Background(), testConfig(), Deps{}, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer p.Close()

	assert.Nil(t, p.NewPoller("ada@example.com", nil))
}
