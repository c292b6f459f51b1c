package delivery

import (
	"github.com/inkflow-ai/inkflow/internal/completion"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery",
	fx.Provide(NewTransport),
	fx.Provide(NewWorker),
	fx.Provide(func(w *Worker) completion.DeliveryScheduler { return w }),
)
