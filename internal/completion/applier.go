// Package completion is the single choke point that moves a generation
// request into a terminal state. Direct returns, inbound callbacks and
// polling checks all land here; the first caller to flip the pending status
// wins and every later caller is a silent no-op.
package completion

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	obsmetrics "github.com/inkflow-ai/inkflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome is a completed or failed result reported by any channel.
type Outcome struct {
	Success bool
	Result  map[string]any
	Error   string
}

func Success(result map[string]any) Outcome {
	return Outcome{Success: true, Result: result}
}

func Failure(message string) Outcome {
	if message == "" {
		message = "generation failed"
	}
	return Outcome{Success: false, Error: message}
}

// DeliveryScheduler enqueues the secondary-channel push for a completed
// request. Implemented by the delivery worker.
type DeliveryScheduler interface {
	Schedule(requestID snowflake.ID)
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      generationdomain.Repository
	Metrics   *obsmetrics.Metrics `optional:"true"`
	Scheduler DeliveryScheduler   `optional:"true"`
}

type Applier struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      generationdomain.Repository
	metrics   *obsmetrics.Metrics
	scheduler DeliveryScheduler
}

func NewApplier(p Params) *Applier {
	return &Applier{
		db:        p.DB,
		log:       p.Log.Named("completion.applier"),
		repo:      p.Repo,
		metrics:   p.Metrics,
		scheduler: p.Scheduler,
	}
}

// Apply transitions the request to completed or failed. Safe to call
// concurrently and redundantly for the same request: losers observe the
// already-terminal state and mutate nothing. The ledger is never touched
// here; admission happened before creation and failures are not refunded.
func (a *Applier) Apply(ctx context.Context, requestID snowflake.ID, outcome Outcome) error {
	status := generationdomain.StatusCompleted
	var errMsg *string
	if !outcome.Success {
		status = generationdomain.StatusFailed
		message := outcome.Error
		errMsg = &message
	}

	var applied bool
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = a.repo.CompletePending(ctx, tx, requestID, status, outcome.Result, errMsg)
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		a.log.Debug("request already terminal, completion ignored",
			zap.String("request_id", requestID.String()),
			zap.String("status", string(status)))
		return nil
	}

	job, err := a.repo.FindJob(ctx, a.db, requestID)
	if err != nil {
		// The transition itself committed; the rest is bookkeeping.
		a.log.Warn("completed request but could not load projection",
			zap.String("request_id", requestID.String()), zap.Error(err))
		return nil
	}

	if a.metrics != nil {
		a.metrics.GenerationsFinished.WithLabelValues(string(job.Type), string(status)).Inc()
		a.metrics.CompletionLatency.Observe(time.Since(job.CreatedAt).Seconds())
	}

	a.log.Info("generation request finished",
		zap.String("request_id", requestID.String()),
		zap.String("type", string(job.Type)),
		zap.String("status", string(status)))

	if outcome.Success && job.SupportsDelivery() && a.scheduler != nil {
		a.scheduler.Schedule(requestID)
	}
	return nil
}

var Module = fx.Module("completion",
	fx.Provide(NewApplier),
)
