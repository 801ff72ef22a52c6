package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job worker for one pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeScheduler runs the interval scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs the stalled-run reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeScheduler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeScheduler, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, scheduler, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker configuration.
type WorkerConfig struct {
	// Pool is the worker pool this process serves. Only one live worker may hold a pool.
	Pool string `env:"POOL" envDefault:"job_worker"`

	// Concurrency is the number of runs executed at once by the worker.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`

	// HeartbeatInterval is how often the worker instance heartbeats and renews its pool lease.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`

	// RunHeartbeatInterval is how often an executing run heartbeats.
	RunHeartbeatInterval time.Duration `env:"RUN_HEARTBEAT_INTERVAL" envDefault:"10s"`

	// LeaseTTL is how long a pool lease survives without renewal.
	LeaseTTL time.Duration `env:"LEASE_TTL" envDefault:"30s"`

	// PollInterval is the idle poll period when no notification arrives.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`

	// CancelPollInterval is how often an executing run checks for a cancellation request.
	CancelPollInterval time.Duration `env:"CANCEL_POLL_INTERVAL" envDefault:"5s"`

	// EnforceDependencies gates claims on declared dependencies having succeeded.
	EnforceDependencies bool `env:"ENFORCE_DEPENDENCIES" envDefault:"false"`

	// Jobs restricts the worker to these job names; empty means every registered job.
	Jobs []string `env:"JOBS" envDefault:""`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	w.Pool = strings.TrimSpace(w.Pool)
	if w.Pool == "" {
		w.Pool = "job_worker"
	}
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.HeartbeatInterval < time.Second {
		w.HeartbeatInterval = time.Second
	}
	if w.RunHeartbeatInterval < time.Second {
		w.RunHeartbeatInterval = time.Second
	}
	// A lease must survive one missed renewal.
	if w.LeaseTTL < 2*w.HeartbeatInterval {
		w.LeaseTTL = 2 * w.HeartbeatInterval
	}
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 100 * time.Millisecond
	}
	if w.CancelPollInterval < time.Second {
		w.CancelPollInterval = time.Second
	}
	jobs := w.Jobs[:0]
	for _, j := range w.Jobs {
		if j = strings.TrimSpace(j); j != "" {
			jobs = append(jobs, j)
		}
	}
	w.Jobs = jobs
}

// ReaperConfig contains stalled-run reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`

	// StallThreshold is how long a running run may go without a heartbeat before it is failed.
	StallThreshold time.Duration `env:"STALL_THRESHOLD" envDefault:"5m"`

	// StaleWorkerAfter is how long a worker instance may go without a heartbeat before it is marked stopped.
	StaleWorkerAfter time.Duration `env:"STALE_WORKER_AFTER" envDefault:"30s"`

	// BatchSize caps rows reaped per statement; the sweep repeats until nothing is left.
	BatchSize int `env:"BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	switch {
	case r.Interval <= 0:
		r.Interval = time.Minute
	case r.Interval < 5*time.Second:
		r.Interval = 5 * time.Second
	}
	switch {
	case r.StallThreshold <= 0:
		r.StallThreshold = 5 * time.Minute
	case r.StallThreshold < 30*time.Second:
		r.StallThreshold = 30 * time.Second
	}
	if r.StaleWorkerAfter < 5*time.Second {
		r.StaleWorkerAfter = 5 * time.Second
	}
	if r.BatchSize < 1 {
		r.BatchSize = 500
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// SchedulerConfig contains interval scheduler configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"15s"`

	// File is an optional YAML file of schedules upserted at startup.
	File string `env:"FILE" envDefault:""`

	// BatchSize is the number of due schedules handled per tick.
	BatchSize int `env:"BATCH_SIZE" envDefault:"25"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < time.Second {
		s.Interval = time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	s.File = strings.TrimSpace(s.File)
}
