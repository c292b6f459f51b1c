package service

import (
	"context"
	"time"

	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	obsmetrics "github.com/inkflow-ai/inkflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Relay-dispatched requests have no completion timeout, so the only guard
// against a callback that never arrives is operational visibility: a gauge
// tracking the age of the oldest pending request.
const pendingGaugeInterval = 30 * time.Second

type pendingGaugeParams struct {
	fx.In

	Lc      fx.Lifecycle
	DB      *gorm.DB
	Log     *zap.Logger
	Repo    generationdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func RunPendingGauge(p pendingGaugeParams) {
	if p.Metrics == nil {
		return
	}
	log := p.Log.Named("generation.pending_gauge")
	ctx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(pendingGaugeInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						age, err := p.Repo.OldestPendingAgeSeconds(ctx, p.DB)
						if err != nil {
							log.Warn("pending age sweep failed", zap.Error(err))
							continue
						}
						p.Metrics.OldestPendingSeconds.Set(age)
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
