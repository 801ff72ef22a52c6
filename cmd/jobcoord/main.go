// Command jobcoord runs the coordination services selected by SERVICES:
// the single worker, the interval scheduler, and the stalled-run reaper.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "jobcoord exited", "error", err)
		os.Exit(1) //nolint:forbidigo // entrypoint exit status
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger = bootstrap.ConfigureLogger(&cfg)
	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}
	announce(ctx, logger, &cfg)

	// A bad handler set fails before any connection is opened.
	registry, err := bootstrap.NewRegistry()
	if err != nil {
		return err
	}

	infra, err := bootstrap.OpenInfrastructure(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			logger.ErrorContext(ctx, "closing connections", "error", cerr)
		}
	}()

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          infra.DB,
		RedisClient: infra.Redis,
		Registry:    registry,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      &cfg,
		Services:    services,
		DB:          infra.DB,
		RedisClient: infra.Redis,
		Logger:      logger,
	})
}

func announce(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting jobcoord",
		"services", bootstrap.GetEnabledServices(cfg),
		"worker_pool", cfg.Worker.Pool,
		"enforce_dependencies", cfg.Worker.EnforceDependencies,
		"db", cfg.Postgres.Host+"/"+cfg.Postgres.Name,
		"redis", cfg.Redis.Enabled,
	)
}
