package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - worker",
			input:    "worker",
			expected: map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:     "single service - reaper",
			input:    "reaper",
			expected: map[ServiceMode]bool{ServiceModeReaper: true},
		},
		{
			name:  "all services",
			input: "worker,reaper,scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:    true,
				ServiceModeReaper:    true,
				ServiceModeScheduler: true,
			},
		},
		{
			name:  "services with spaces",
			input: " worker , scheduler ",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:    true,
				ServiceModeScheduler: true,
			},
		},
		{
			name:     "duplicate services",
			input:    "reaper,reaper",
			expected: map[ServiceMode]bool{ServiceModeReaper: true},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "worker,http",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name      string
		services  string
		worker    bool
		reaper    bool
		scheduler bool
	}{
		{name: "worker only", services: "worker", worker: true},
		{name: "reaper and scheduler", services: "reaper,scheduler", reaper: true, scheduler: true},
		{name: "all", services: "worker,reaper,scheduler", worker: true, reaper: true, scheduler: true},
		{name: "invalid config disables everything", services: "worker,bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			if got := cfg.IsWorkerEnabled(); got != tt.worker {
				t.Errorf("IsWorkerEnabled(): expected %v, got %v", tt.worker, got)
			}
			if got := cfg.IsReaperEnabled(); got != tt.reaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.reaper, got)
			}
			if got := cfg.IsSchedulerEnabled(); got != tt.scheduler {
				t.Errorf("IsSchedulerEnabled(): expected %v, got %v", tt.scheduler, got)
			}
		})
	}
}

func TestAppConfig_ParseEnvDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Worker.Pool != "job_worker" {
		t.Errorf("expected default pool job_worker, got %q", cfg.Worker.Pool)
	}
	if cfg.Worker.LeaseTTL != 30*time.Second {
		t.Errorf("expected lease ttl 30s, got %v", cfg.Worker.LeaseTTL)
	}
	if cfg.Worker.EnforceDependencies {
		t.Error("expected dependency gating to be off by default")
	}
	if cfg.Reaper.StallThreshold != 5*time.Minute {
		t.Errorf("expected stall threshold 5m, got %v", cfg.Reaper.StallThreshold)
	}
	if cfg.Reaper.StaleWorkerAfter != 30*time.Second {
		t.Errorf("expected stale worker window 30s, got %v", cfg.Reaper.StaleWorkerAfter)
	}
	if cfg.Postgres.Name != "jobcoord" {
		t.Errorf("expected db name jobcoord, got %q", cfg.Postgres.Name)
	}
	if cfg.Redis.Enabled {
		t.Error("expected redis to be disabled by default")
	}
}

func TestAppConfig_ParseEnvPrefixes(t *testing.T) {
	t.Setenv("WORKER_POOL", "reports")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("WORKER_ENFORCE_DEPENDENCIES", "true")
	t.Setenv("WORKER_JOBS", "a,b")
	t.Setenv("REAPER_STALL_THRESHOLD", "10m")
	t.Setenv("SCHEDULER_FILE", " /etc/jobcoord/schedules.yaml ")
	t.Setenv("METRICS_PROMETHEUS_ADDRESS", ":9090")
	t.Setenv("NOTIFY_SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/test")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDRS", "r1:6379, r2:6379")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Worker.Pool != "reports" || cfg.Worker.Concurrency != 4 || !cfg.Worker.EnforceDependencies {
		t.Fatalf("unexpected worker config: %#v", cfg.Worker)
	}
	if len(cfg.Worker.Jobs) != 2 {
		t.Fatalf("expected two job filters, got %v", cfg.Worker.Jobs)
	}
	if cfg.Reaper.StallThreshold != 10*time.Minute {
		t.Fatalf("expected 10m threshold, got %v", cfg.Reaper.StallThreshold)
	}
	if cfg.Scheduler.File != "/etc/jobcoord/schedules.yaml" {
		t.Fatalf("expected trimmed scheduler file, got %q", cfg.Scheduler.File)
	}
	if !cfg.Observability.Metrics.PrometheusEnabled() {
		t.Fatal("expected prometheus listener to be enabled")
	}
	if !cfg.Observability.Notifications.Slack.Enabled() {
		t.Fatal("expected slack notifications to be enabled")
	}
	if !cfg.Redis.Enabled || len(cfg.Redis.Addrs) != 2 || cfg.Redis.Addrs[1] != "r2:6379" {
		t.Fatalf("unexpected redis config: %#v", cfg.Redis)
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{ServiceModeWorker, ServiceModeScheduler, ServiceModeReaper}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	cfg := WorkerConfig{
		Pool:              "  ",
		Concurrency:       0,
		HeartbeatInterval: 20 * time.Second,
		LeaseTTL:          10 * time.Second,
	}
	cfg.Sanitize()

	if cfg.Pool != "job_worker" {
		t.Errorf("expected default pool, got %q", cfg.Pool)
	}
	if cfg.Concurrency != 1 {
		t.Errorf("expected concurrency clamped to 1, got %d", cfg.Concurrency)
	}
	if cfg.LeaseTTL != 40*time.Second {
		t.Errorf("expected lease ttl raised to two heartbeats, got %v", cfg.LeaseTTL)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, StallThreshold: time.Second, BatchSize: 50000}
	cfg.Sanitize()

	if cfg.Interval != 5*time.Second {
		t.Errorf("expected interval clamped to 5s, got %v", cfg.Interval)
	}
	if cfg.StallThreshold != 30*time.Second {
		t.Errorf("expected threshold clamped to 30s, got %v", cfg.StallThreshold)
	}
	if cfg.BatchSize != 10000 {
		t.Errorf("expected batch size clamped to 10000, got %d", cfg.BatchSize)
	}
}

func TestNotificationsConfig_Sanitize(t *testing.T) {
	cfg := NotificationsConfig{
		Timeout:    0,
		RetryLimit: -1,
		Slack:      SlackConfig{WebhookURL: " ", Username: ""},
		PagerDuty:  PagerDutyConfig{RoutingKey: " "},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit != 0 {
		t.Fatalf("expected retry limit to be clamped to 0, got %d", cfg.RetryLimit)
	}
	if cfg.Enabled() {
		t.Fatal("expected notifications to be disabled without destinations")
	}
	if cfg.Slack.Username != "jobcoord" {
		t.Fatalf("expected slack username default, got %q", cfg.Slack.Username)
	}
	if cfg.PagerDuty.Source != "jobcoord" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}
}

func TestDBConfig_DSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5433, User: "u", Password: "p@ss", Name: "jobs", SSLMode: "require"}
	want := "postgres://u:p%40ss@db:5433/jobs?sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
