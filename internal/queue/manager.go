package queue

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Manager owns the engine's named queues. The polling queue is single-flight
// so successive sub-steps of one multi-part job keep their ordering.
type Manager struct {
	Dispatch *Queue
	Polling  *Queue
	Delivery *Queue
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		Dispatch: New("dispatch", 4, log),
		Polling:  New("polling", 1, log),
		Delivery: New("delivery", 2, log),
	}
}

var Module = fx.Module("queue",
	fx.Provide(NewManager),
	fx.Invoke(runManager),
)

func runManager(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			m.Dispatch.Start()
			m.Polling.Start()
			m.Delivery.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			m.Dispatch.Stop()
			m.Polling.Stop()
			m.Delivery.Stop()
			return nil
		},
	})
}
