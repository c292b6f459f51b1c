package polling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/inkflow-ai/inkflow/internal/completion"
	"github.com/inkflow-ai/inkflow/internal/config"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"github.com/inkflow-ai/inkflow/internal/generation/repository"
	"github.com/inkflow-ai/inkflow/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeJobsAPI struct {
	submitID  string
	submitErr error

	checks    int
	responses []checkResponse
}

type checkResponse struct {
	job *RemoteJob
	err error
}

func (f *fakeJobsAPI) Submit(ctx context.Context, req *generationdomain.GenerationRequest) (string, error) {
	return f.submitID, f.submitErr
}

func (f *fakeJobsAPI) Check(ctx context.Context, externalJobID string) (*RemoteJob, error) {
	idx := f.checks
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.checks++
	resp := f.responses[idx]
	return resp.job, resp.err
}

func newTestMonitor(t *testing.T, api JobsAPI, cfg config.PollingConfig) (*Monitor, *gorm.DB, generationdomain.Repository) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&generationdomain.GenerationRequest{}, &generationdomain.GenerationJob{}))

	repo := repository.Provide()
	applier := completion.NewApplier(completion.Params{
		DB:   db,
		Log:  zap.NewNop(),
		Repo: repo,
	})

	queues := queue.NewManager(zap.NewNop())
	queues.Polling.Start()
	t.Cleanup(queues.Polling.Stop)

	monitor := NewMonitor(Params{
		Log:     zap.NewNop(),
		Config:  config.Config{Polling: cfg},
		DB:      db,
		Repo:    repo,
		Applier: applier,
		Queues:  queues,
		API:     api,
	}).(*Monitor)
	return monitor, db, repo
}

func seedPending(t *testing.T, db *gorm.DB, repo generationdomain.Repository, id snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repo.Insert(context.Background(), db,
		&generationdomain.GenerationRequest{
			ID:        id,
			UserID:    snowflake.ID(7),
			Type:      generationdomain.TypeSlideDeck,
			Status:    generationdomain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		&generationdomain.GenerationJob{
			GenerationRequestID: id,
			UserID:              snowflake.ID(7),
			Type:                generationdomain.TypeSlideDeck,
			Status:              generationdomain.StatusPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		}))
}

func pollingConfig() config.PollingConfig {
	return config.PollingConfig{
		Interval:       time.Millisecond,
		MaxAttempts:    3,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestCheck_CompletedAppliesResult(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{job: &RemoteJob{Status: "completed", Result: map[string]any{"gammaUrl": "https://g/1"}}},
	}}
	monitor, db, repo := newTestMonitor(t, api, pollingConfig())
	id := snowflake.ID(6001)
	seedPending(t, db, repo, id)

	monitor.check(context.Background(), id, "job-1", 1)

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
	assert.Equal(t, "https://g/1", req.Result["gammaUrl"])
}

func TestCheck_RemoteFailureFailsRequest(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{job: &RemoteJob{Status: "failed", Error: "render crashed"}},
	}}
	monitor, db, repo := newTestMonitor(t, api, pollingConfig())
	id := snowflake.ID(6002)
	seedPending(t, db, repo, id)

	monitor.check(context.Background(), id, "job-1", 1)

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
	require.NotNil(t, req.Error)
	assert.Equal(t, "render crashed", *req.Error)
}

func TestCheck_AttemptBudgetExhaustedTimesOut(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{job: &RemoteJob{Status: "processing"}},
	}}
	cfg := pollingConfig()
	monitor, db, repo := newTestMonitor(t, api, cfg)
	id := snowflake.ID(6003)
	seedPending(t, db, repo, id)

	// The final attempt observes a non-terminal status and must time out
	// instead of scheduling another check.
	monitor.check(context.Background(), id, "job-1", cfg.MaxAttempts)

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
	require.NotNil(t, req.Error)
	assert.Contains(t, *req.Error, "timed out")
}

func TestCheck_UnknownStatusKeepsPolling(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{job: &RemoteJob{Status: "warming_up"}},
	}}
	cfg := pollingConfig()
	cfg.MaxAttempts = 1000
	monitor, db, repo := newTestMonitor(t, api, cfg)
	id := snowflake.ID(6004)
	seedPending(t, db, repo, id)

	monitor.check(context.Background(), id, "job-1", 1)

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusPending, req.Status, "unknown status is never terminal")
}

func TestCheck_PartialResultStoredWhilePending(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{job: &RemoteJob{Status: "processing", Result: map[string]any{"progress": "3/10"}}},
	}}
	cfg := pollingConfig()
	cfg.MaxAttempts = 1000
	monitor, db, repo := newTestMonitor(t, api, cfg)
	id := snowflake.ID(6005)
	seedPending(t, db, repo, id)

	monitor.check(context.Background(), id, "job-1", 1)

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusPending, req.Status)
	assert.Equal(t, "3/10", req.Result["progress"])
}

func TestCheck_TerminalAPIErrorFailsRequest(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{err: &apiError{Status: http.StatusNotFound, Message: "job not found"}},
	}}
	monitor, db, repo := newTestMonitor(t, api, pollingConfig())
	id := snowflake.ID(6006)
	seedPending(t, db, repo, id)

	monitor.check(context.Background(), id, "job-1", 1)

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
}

func TestCheckWithRetry_TransientErrorsRetryInline(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{err: &apiError{Status: http.StatusInternalServerError, Message: "blip"}},
		{job: &RemoteJob{Status: "processing"}},
	}}
	monitor, _, _ := newTestMonitor(t, api, pollingConfig())

	job, err := monitor.checkWithRetry(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "processing", job.Status)
	assert.Equal(t, 2, api.checks)
}

func TestCheckWithRetry_GivesUpAfterBudget(t *testing.T) {
	api := &fakeJobsAPI{responses: []checkResponse{
		{err: errors.New("connection reset")},
	}}
	cfg := pollingConfig()
	monitor, _, _ := newTestMonitor(t, api, cfg)

	_, err := monitor.checkWithRetry(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, cfg.RetryAttempts, api.checks)
}

func TestLaunch_SubmitFailureFailsRequest(t *testing.T) {
	api := &fakeJobsAPI{submitErr: errors.New("gateway unreachable")}
	monitor, db, repo := newTestMonitor(t, api, pollingConfig())
	monitor.queues.Dispatch.Start()
	t.Cleanup(monitor.queues.Dispatch.Stop)

	id := snowflake.ID(6007)
	seedPending(t, db, repo, id)

	monitor.Launch(&generationdomain.GenerationRequest{ID: id, Type: generationdomain.TypeSlideDeck})

	require.Eventually(t, func() bool {
		req, err := repo.FindByID(context.Background(), db, id)
		return err == nil && req.Status == generationdomain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	require.NotNil(t, req.Error)
	assert.Contains(t, *req.Error, "dispatch failed")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, isTransient(&apiError{Status: http.StatusTooManyRequests}))
	assert.True(t, isTransient(&apiError{Status: http.StatusBadGateway}))
	assert.False(t, isTransient(&apiError{Status: http.StatusNotFound}))
	assert.False(t, isTransient(&apiError{Status: http.StatusBadRequest}))
}
