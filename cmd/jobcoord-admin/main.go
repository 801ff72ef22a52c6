// Command jobcoord-admin is the operator CLI for runs, workers and schedules.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/bootstrap"
	"github.com/target/mmk-jobcoord/internal/domain/job"
)

func main() {
	logger := bootstrap.InitLogger()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	app := &adminApp{logger: bootstrap.ConfigureLogger(&cfg), cfg: cfg}
	err = newRootCmd(app).ExecuteContext(ctx)
	if closeErr := app.Close(); closeErr != nil {
		logger.Error("close infrastructure", "error", closeErr)
	}
	stop()
	if err != nil {
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

// adminApp holds lazily connected infrastructure shared by every subcommand.
type adminApp struct {
	logger *slog.Logger
	cfg    config.AppConfig
	output outputOptions

	registry *job.Registry
	db       *sql.DB
	redis    redis.UniversalClient
	services *bootstrap.ServiceContainer
}

func newRootCmd(app *adminApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobcoord-admin",
		Short:         "Operate job runs, workers and schedules",
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return app.output.validate()
		},
	}

	root.PersistentFlags().BoolVar(&app.output.JSON, "json", false, "Output as JSON")
	root.PersistentFlags().StringVar(&app.output.Query, "query", "", "JMESPath expression applied to the JSON output")

	root.AddCommand(
		newEnqueueCmd(app),
		newCancelCmd(app),
		newRunsCmd(app),
		newCleanupStalledCmd(app),
		newWorkerCmd(app),
		newJobsCmd(app),
		newSchedulesCmd(app),
		newMigrateCmd(app),
	)
	return root
}

// Registry returns the validated handler registry.
func (a *adminApp) Registry() (*job.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	reg, err := bootstrap.NewRegistry()
	if err != nil {
		return nil, err
	}
	a.registry = reg
	return reg, nil
}

// DB connects to Postgres on first use.
func (a *adminApp) DB(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := bootstrap.ConnectDB(ctx, a.cfg.Postgres, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	a.db = db
	return db, nil
}

// Services wires the coordination services on first use.
func (a *adminApp) Services(ctx context.Context) (*bootstrap.ServiceContainer, error) {
	if a.services != nil {
		return a.services, nil
	}
	reg, err := a.Registry()
	if err != nil {
		return nil, err
	}
	db, err := a.DB(ctx)
	if err != nil {
		return nil, err
	}
	if a.redis == nil {
		client, redisErr := bootstrap.ConnectRedis(ctx, a.cfg.Redis, a.logger)
		if redisErr != nil {
			// The cancel signal is an accelerator; the database flag alone is enough.
			a.logger.Warn("redis unavailable; continuing without cancel signal", "error", redisErr)
		}
		a.redis = client
	}

	svcs, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &a.cfg,
		DB:          db,
		RedisClient: a.redis,
		Registry:    reg,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.services = &svcs
	return a.services, nil
}

// Close releases any connections opened by the command.
func (a *adminApp) Close() error {
	var closeErr error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}
