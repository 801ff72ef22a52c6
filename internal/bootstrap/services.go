package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/adapters/jobrunner"
	"github.com/target/mmk-jobcoord/internal/adapters/reaper"
	"github.com/target/mmk-jobcoord/internal/adapters/scheduler"
	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/data"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/observability/prom"
	"github.com/target/mmk-jobcoord/internal/service"
)

const cancelSignalPrefix = "jobcoord:cancel:"

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Registry *job.Registry
	Runs     *service.RunService
	Enqueue  *service.EnqueueService
	Cancel   *service.CancelCoordinator
	Workers  *service.WorkerRegistryService
	Logs     core.JobLogRepository
	// Signal is the Redis cancel side channel; nil when Redis is disabled.
	Signal        *data.RedisCancelSignal
	Observability ObservabilityContainer
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Registry    *job.Registry
	Logger      *slog.Logger
}

type serviceRepositories struct {
	Runs    *data.JobRunRepo
	Workers *data.WorkerRepo
	Logs    *data.JobLogRepo
}

func buildRepositories(db *sql.DB, logger *slog.Logger) *serviceRepositories {
	tp := data.RealTimeProvider{}
	return &serviceRepositories{
		Runs:    data.NewJobRunRepo(db, data.RunRepoConfig{Logger: logger, TimeProvider: tp}),
		Workers: data.NewWorkerRepo(db, data.WorkerRepoConfig{Logger: logger, TimeProvider: tp}),
		Logs:    data.NewJobLogRepo(db, tp),
	}
}

// NewServices wires repositories, observability and the coordination services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database connection is required")
	}
	if deps.Registry == nil {
		return ServiceContainer{}, errors.New("job registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, deps.Config.Observability)
	repos := buildRepositories(deps.DB, logger)

	runs, err := service.NewRunService(service.RunServiceOptions{
		Repo:     repos.Runs,
		Registry: deps.Registry,
		Logger:   logger,
		Metrics:  obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire run service: %w", err)
	}

	enqueue, err := service.NewEnqueueService(service.EnqueueServiceOptions{Runs: runs, Logger: logger})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire enqueue service: %w", err)
	}

	cancelOpts := service.CancelCoordinatorOptions{Runs: runs, Logger: logger}
	var cancelSignal *data.RedisCancelSignal
	if deps.RedisClient != nil {
		cancelSignal = data.NewRedisCancelSignal(data.RedisCancelSignalOptions{
			Client: deps.RedisClient,
			Prefix: cancelSignalPrefix,
			TTL:    deps.Config.Reaper.StallThreshold,
		})
		cancelOpts.Signal = cancelSignal
	}
	cancel, err := service.NewCancelCoordinator(cancelOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire cancel coordinator: %w", err)
	}

	workers, err := service.NewWorkerRegistryService(service.WorkerRegistryServiceOptions{
		Repo:    repos.Workers,
		Logger:  logger,
		Metrics: obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire worker registry: %w", err)
	}

	return ServiceContainer{
		Registry:      deps.Registry,
		Runs:          runs,
		Enqueue:       enqueue,
		Cancel:        cancel,
		Workers:       workers,
		Logs:          repos.Logs,
		Signal:        cancelSignal,
		Observability: obs,
	}, nil
}

// ServiceOrchestrationConfig groups what RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode    config.ServiceMode
	name    string
	enabled bool
	start   func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !descriptor.enabled {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{mode: svc.mode, name: svc.name, done: done})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode:    config.ServiceModeWorker,
		name:    "worker",
		enabled: deps.enabledServices[config.ServiceModeWorker],
		start: func(ctx context.Context) error {
			return RunWorker(ctx, deps.cfg)
		},
	}
}

// RunWorker supervises this process's worker for the configured pool until ctx
// ends or the worker exits on its own after a stop request, a lost lease or a runner error.
func RunWorker(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svcs := cfg.Services
	notifier, err := job.NewNotifier(job.NotifierOptions{Waiter: svcs.Runs})
	if err != nil {
		return fmt.Errorf("build run notifier: %w", err)
	}
	defer notifier.StopAll()

	sup, err := jobrunner.NewWorkerSupervisor(jobrunner.SupervisorOptions{
		Workers: svcs.Workers,
		Runner: jobrunner.RunnerOptions{
			Runs:            svcs.Runs,
			Cancel:          svcs.Cancel,
			Logs:            svcs.Logs,
			Workers:         svcs.Workers,
			Notifier:        notifier,
			FailureNotifier: svcs.Observability.FailureNotifier,
			Metrics:         svcs.Observability.MetricsSink,
			Logger:          logger,
		},
		Config: cfg.Config.Worker,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}

	waitErr := sup.Wait(ctx)
	if ctx.Err() == nil {
		return waitErr
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWaitTimeout)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		// The worker may have exited on its own between Wait and Stop.
		logger.DebugContext(stopCtx, "worker stop", "error", err)
	}
	return nil
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode:    config.ServiceModeScheduler,
		name:    "scheduler",
		enabled: deps.enabledServices[config.ServiceModeScheduler],
		start: func(ctx context.Context) error {
			runner, err := scheduler.NewRunner(scheduler.RunnerOptions{
				DB:      deps.cfg.DB,
				Runs:    deps.cfg.Services.Runs,
				Config:  deps.cfg.Config.Scheduler,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode:    config.ServiceModeReaper,
		name:    "reaper",
		enabled: deps.enabledServices[config.ServiceModeReaper],
		start: func(ctx context.Context) error {
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				DB:              deps.cfg.DB,
				Config:          deps.cfg.Config.Reaper,
				Logger:          deps.logger,
				Metrics:         deps.cfg.Services.Observability.MetricsSink,
				FailureNotifier: deps.cfg.Services.Observability.FailureNotifier,
				CancelBlocked:   deps.cfg.Config.Worker.EnforceDependencies,
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newMetricsBackgroundService(deps *serviceStartupDeps) backgroundService {
	obs := deps.cfg.Services.Observability
	return backgroundService{
		mode:    "metrics",
		name:    "metrics server",
		enabled: obs.Prometheus != nil && obs.MetricsConfig.PrometheusEnabled(),
		start: func(ctx context.Context) error {
			health := map[string]prom.HealthFunc{}
			if db := deps.cfg.DB; db != nil {
				health["postgres"] = db.PingContext
			}
			if sig := deps.cfg.Services.Signal; sig != nil {
				health["redis"] = sig.Health
			}
			srv := prom.NewServer(prom.ServerOptions{
				Address:  obs.MetricsConfig.PrometheusAddress,
				Gatherer: obs.Prometheus,
				Health:   health,
				Logger:   deps.logger,
			})
			return srv.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil || deps.cfg == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newSchedulerBackgroundService(deps),
		newReaperBackgroundService(deps),
		newMetricsBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
	}
	services := buildBackgroundServices(deps)
	deps.errCh = make(chan error, errorChannelBufferSize(services))

	handles := startBackgroundServices(deps, services)

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       deps.errCh,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelCapacity(services []backgroundService) int {
	count := 0
	for _, svc := range services {
		if svc.enabled {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(services []backgroundService) int {
	return errorChannelCapacity(services) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for every background service to finish.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
