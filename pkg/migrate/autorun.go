package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/db"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

// autoRunEnabled gates startup migrations to local dev with FARMLINK_AUTO_MIGRATE
// set. Deployed environments run cmd/migrate as a release step instead.
func autoRunEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate
}

// MaybeRunDev applies pending embedded migrations when autoRunEnabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !autoRunEnabled(cfg) {
		return nil
	}
	pool, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	return upAndReport(logg.WithField(ctx, "env", cfg.App.Env), logg, pool)
}

func upAndReport(ctx context.Context, logg *logger.Logger, pool *sql.DB) error {
	before := schemaVersion(pool)
	if err := Run(ctx, pool, DefaultDir, "up"); err != nil {
		return fmt.Errorf("dev auto-migrate: %w", err)
	}
	after := schemaVersion(pool)

	ctx = logg.WithFields(ctx, map[string]any{"from_version": before, "to_version": after})
	if before == after {
		logg.Info(ctx, "schema already current")
		return nil
	}
	logg.Info(ctx, "dev migrations applied")
	return nil
}

// schemaVersion returns -1 before goose has created its version table.
func schemaVersion(pool *sql.DB) int64 {
	v, err := goose.GetDBVersion(pool)
	if err != nil {
		return -1
	}
	return v
}
