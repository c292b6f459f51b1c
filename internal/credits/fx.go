package credits

import (
	"github.com/inkflow-ai/inkflow/internal/credits/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credits.service",
	fx.Provide(service.ProvideCostTable),
	fx.Provide(service.NewService),
)
