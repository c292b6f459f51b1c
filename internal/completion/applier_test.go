package completion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"github.com/inkflow-ai/inkflow/internal/generation/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingScheduler struct {
	scheduled []snowflake.ID
}

func (s *recordingScheduler) Schedule(requestID snowflake.ID) {
	s.scheduled = append(s.scheduled, requestID)
}

func newTestApplier(t *testing.T, scheduler DeliveryScheduler) (*Applier, *gorm.DB, generationdomain.Repository) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&generationdomain.GenerationRequest{}, &generationdomain.GenerationJob{}))

	repo := repository.Provide()
	applier := NewApplier(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Repo:      repo,
		Scheduler: scheduler,
	})
	return applier, db, repo
}

func seedPending(t *testing.T, db *gorm.DB, repo generationdomain.Repository, id snowflake.ID, chatID int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repo.Insert(context.Background(), db,
		&generationdomain.GenerationRequest{
			ID:        id,
			UserID:    snowflake.ID(42),
			Type:      generationdomain.TypeVideo,
			Status:    generationdomain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		&generationdomain.GenerationJob{
			GenerationRequestID: id,
			UserID:              snowflake.ID(42),
			Type:                generationdomain.TypeVideo,
			Status:              generationdomain.StatusPending,
			ChatID:              chatID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}))
}

func TestApply_FirstOutcomeWins(t *testing.T) {
	applier, db, repo := newTestApplier(t, nil)
	id := snowflake.ID(5001)
	seedPending(t, db, repo, id, 0)

	require.NoError(t, applier.Apply(context.Background(), id, Success(map[string]any{"content": "done"})))
	// A late failure report must not overwrite the completed state.
	require.NoError(t, applier.Apply(context.Background(), id, Failure("upstream gave up")))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
	assert.Equal(t, "done", req.Result["content"])
	assert.Nil(t, req.Error)

	job, err := repo.FindJob(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, job.Status)
	assert.Equal(t, "done", job.Result["content"])
}

func TestApply_FailureThenSuccessStaysFailed(t *testing.T) {
	applier, db, repo := newTestApplier(t, nil)
	id := snowflake.ID(5002)
	seedPending(t, db, repo, id, 0)

	require.NoError(t, applier.Apply(context.Background(), id, Failure("timed out")))
	require.NoError(t, applier.Apply(context.Background(), id, Success(map[string]any{"content": "too late"})))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
	require.NotNil(t, req.Error)
	assert.Equal(t, "timed out", *req.Error)
	assert.Empty(t, req.Result)
}

func TestApply_ConcurrentOutcomesSingleWinner(t *testing.T) {
	applier, db, repo := newTestApplier(t, nil)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	id := snowflake.ID(5006)
	seedPending(t, db, repo, id, 0)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = applier.Apply(context.Background(), id, Success(map[string]any{"content": "made it"}))
	}()
	go func() {
		defer wg.Done()
		results[1] = applier.Apply(context.Background(), id, Failure("upstream crashed"))
	}()
	wg.Wait()
	require.NoError(t, results[0])
	require.NoError(t, results[1])

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	require.True(t, req.Status.Terminal(), "one of the racing outcomes must land")

	job, err := repo.FindJob(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, req.Status, job.Status, "both views must agree on the winner")

	// Whichever outcome won, the loser must not have left any trace.
	if req.Status == generationdomain.StatusCompleted {
		assert.Equal(t, "made it", req.Result["content"])
		assert.Nil(t, req.Error)
	} else {
		require.NotNil(t, req.Error)
		assert.Equal(t, "upstream crashed", *req.Error)
		assert.Empty(t, req.Result)
	}
}

func TestApply_SchedulesDeliveryOnceForChatRequests(t *testing.T) {
	scheduler := &recordingScheduler{}
	applier, db, repo := newTestApplier(t, scheduler)
	id := snowflake.ID(5003)
	seedPending(t, db, repo, id, 123456)

	require.NoError(t, applier.Apply(context.Background(), id, Success(map[string]any{"content": "hi"})))
	require.NoError(t, applier.Apply(context.Background(), id, Success(map[string]any{"content": "again"})))

	require.Len(t, scheduler.scheduled, 1, "only the winning completion schedules delivery")
	assert.Equal(t, id, scheduler.scheduled[0])
}

func TestApply_NoDeliveryWithoutChatOrigin(t *testing.T) {
	scheduler := &recordingScheduler{}
	applier, db, repo := newTestApplier(t, scheduler)
	id := snowflake.ID(5004)
	seedPending(t, db, repo, id, 0)

	require.NoError(t, applier.Apply(context.Background(), id, Success(map[string]any{"content": "hi"})))
	assert.Empty(t, scheduler.scheduled)
}

func TestApply_FailureNeverSchedulesDelivery(t *testing.T) {
	scheduler := &recordingScheduler{}
	applier, db, repo := newTestApplier(t, scheduler)
	id := snowflake.ID(5005)
	seedPending(t, db, repo, id, 123456)

	require.NoError(t, applier.Apply(context.Background(), id, Failure("broken")))
	assert.Empty(t, scheduler.scheduled)
}
