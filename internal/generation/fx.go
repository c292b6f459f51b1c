package generation

import (
	"github.com/inkflow-ai/inkflow/internal/generation/repository"
	"github.com/inkflow-ai/inkflow/internal/generation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("generation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(service.RunPendingGauge),
)
