package migration

import (
	"github.com/inkflow-ai/inkflow/internal/config"
	creditsdomain "github.com/inkflow-ai/inkflow/internal/credits/domain"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres deployments (sqlite for local runs) fall back to
		// gorm's schema sync.
		return conn.AutoMigrate(
			&creditsdomain.CreditBalance{},
			&creditsdomain.CreditTransaction{},
			&generationdomain.GenerationRequest{},
			&generationdomain.GenerationJob{},
		)
	}),
)
