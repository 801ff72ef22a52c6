package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and Redis configuration
//   - services.go: Service mode, worker, reaper and scheduler configuration
//   - observability.go: Metrics and failure notification configuration
type AppConfig struct {
	// IsDev switches logging to text output and enables debug level.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel overrides the default log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"worker,reaper,scheduler"`

	Worker    WorkerConfig    `envPrefix:"WORKER_"`
	Reaper    ReaperConfig    `envPrefix:"REAPER_"`
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Redis.Sanitize()
	c.Worker.Sanitize()
	c.Reaper.Sanitize()
	c.Scheduler.Sanitize()
	c.Observability.Sanitize()
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	c.detectDevMode()
}

// detectDevMode checks both DEV and GO_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		goEnv := strings.ToLower(os.Getenv("GO_ENV"))
		c.IsDev = goEnv == "development" || goEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// IsWorkerEnabled returns true if the job worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool { return c.serviceEnabled(ServiceModeWorker) }

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool { return c.serviceEnabled(ServiceModeReaper) }

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool { return c.serviceEnabled(ServiceModeScheduler) }
