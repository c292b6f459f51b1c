// Package polling drives multi-part generations through an external job API:
// submit once, then check status on a fixed cadence until the job lands or
// the attempt budget runs out. Checks ride the single-flight polling queue,
// so a "wait" between checks is a delayed re-enqueue rather than a parked
// worker.
package polling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkflow-ai/inkflow/internal/completion"
	"github.com/inkflow-ai/inkflow/internal/config"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	obsmetrics "github.com/inkflow-ai/inkflow/internal/observability/metrics"
	"github.com/inkflow-ai/inkflow/internal/queue"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	DB      *gorm.DB
	Repo    generationdomain.Repository
	Applier *completion.Applier
	Queues  *queue.Manager
	API     JobsAPI
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Monitor struct {
	log     *zap.Logger
	cfg     config.PollingConfig
	db      *gorm.DB
	repo    generationdomain.Repository
	applier *completion.Applier
	queues  *queue.Manager
	api     JobsAPI
	metrics *obsmetrics.Metrics
}

func NewMonitor(p Params) generationdomain.PollingLauncher {
	return &Monitor{
		log:     p.Log.Named("executor.polling"),
		cfg:     p.Config.Polling,
		db:      p.DB,
		repo:    p.Repo,
		applier: p.Applier,
		queues:  p.Queues,
		api:     p.API,
		metrics: p.Metrics,
	}
}

// Launch submits the job asynchronously and, on success, schedules the first
// status check. A submission that cannot be placed fails the request; nothing
// remote exists to poll for.
func (m *Monitor) Launch(req *generationdomain.GenerationRequest) {
	m.queues.Dispatch.Enqueue(func(ctx context.Context) {
		jobID, err := m.api.Submit(ctx, req)
		if err != nil {
			m.log.Warn("job submission failed",
				zap.String("request_id", req.ID.String()), zap.Error(err))
			m.fail(ctx, req.ID, "dispatch failed: "+err.Error())
			return
		}
		m.log.Info("job submitted",
			zap.String("request_id", req.ID.String()),
			zap.String("job_id", jobID),
			zap.String("type", string(req.Type)))
		m.scheduleCheck(req.ID, jobID, 1)
	})
}

func (m *Monitor) scheduleCheck(requestID snowflake.ID, jobID string, attempt int) {
	m.queues.Polling.EnqueueAfter(m.cfg.Interval, func(ctx context.Context) {
		m.check(ctx, requestID, jobID, attempt)
	})
}

// check consumes one poll attempt. Transient check errors retry inline with
// doubling delays before the attempt counts; terminal errors and remote
// failures end the request.
func (m *Monitor) check(ctx context.Context, requestID snowflake.ID, jobID string, attempt int) {
	if m.metrics != nil {
		m.metrics.PollChecks.Inc()
	}

	job, err := m.checkWithRetry(ctx, jobID)
	if err != nil {
		if !isTransient(err) {
			m.fail(ctx, requestID, "job check failed: "+err.Error())
			return
		}
		// Retries exhausted; spend the attempt and fall through to the
		// budget check like any other non-terminal observation.
		m.log.Warn("job check retries exhausted",
			zap.String("request_id", requestID.String()),
			zap.String("job_id", jobID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		m.next(ctx, requestID, jobID, attempt)
		return
	}

	switch normalizeStatus(job.Status) {
	case remoteCompleted:
		if err := m.applier.Apply(ctx, requestID, completion.Success(job.Result)); err != nil {
			m.log.Error("failed to apply polled completion",
				zap.String("request_id", requestID.String()), zap.Error(err))
		}
	case remoteFailed:
		message := job.Error
		if message == "" {
			message = "job provider reported failure"
		}
		m.fail(ctx, requestID, message)
	default:
		// Still running, or a status value this engine does not know. Both
		// keep polling; an unknown status is never treated as terminal.
		if len(job.Result) > 0 {
			if err := m.repo.UpdateProgress(ctx, m.db, requestID, job.Result); err != nil {
				m.log.Warn("failed to record partial result",
					zap.String("request_id", requestID.String()), zap.Error(err))
			}
		}
		m.next(ctx, requestID, jobID, attempt)
	}
}

// next either schedules the following attempt or times the request out.
func (m *Monitor) next(ctx context.Context, requestID snowflake.ID, jobID string, attempt int) {
	if attempt >= m.cfg.MaxAttempts {
		m.fail(ctx, requestID, fmt.Sprintf("generation timed out after %d status checks", m.cfg.MaxAttempts))
		return
	}
	m.scheduleCheck(requestID, jobID, attempt+1)
}

// checkWithRetry wraps a single status check with inline retries for
// transient failures: RetryAttempts tries with RetryBaseDelay doubling each
// time. The last error is returned once the budget is spent.
func (m *Monitor) checkWithRetry(ctx context.Context, jobID string) (*RemoteJob, error) {
	var lastErr error
	delay := m.cfg.RetryBaseDelay
	for i := 0; i < m.cfg.RetryAttempts; i++ {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		job, err := m.api.Check(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (m *Monitor) fail(ctx context.Context, requestID snowflake.ID, message string) {
	if err := m.applier.Apply(ctx, requestID, completion.Failure(message)); err != nil {
		m.log.Error("failed to apply polling failure",
			zap.String("request_id", requestID.String()), zap.Error(err))
	}
}

type remoteStatus string

const (
	remoteCompleted remoteStatus = "completed"
	remoteFailed    remoteStatus = "failed"
	remoteRunning   remoteStatus = "running"
)

func normalizeStatus(raw string) remoteStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "succeeded", "success", "done":
		return remoteCompleted
	case "failed", "error", "cancelled", "canceled":
		return remoteFailed
	default:
		return remoteRunning
	}
}

var Module = fx.Module("executor.polling",
	fx.Provide(NewJobsAPI),
	fx.Provide(NewMonitor),
)
