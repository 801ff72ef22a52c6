package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
)

func newTestRegistry() *prometheus.Registry { return prometheus.NewRegistry() }

func startupDeps(services string, obs ObservabilityContainer) *serviceStartupDeps {
	cfg := &config.AppConfig{Services: services}
	enabled, _ := cfg.GetEnabledServices()
	return &serviceStartupDeps{
		ctx: context.Background(),
		cfg: &ServiceOrchestrationConfig{
			Config:   cfg,
			Services: ServiceContainer{Observability: obs},
		},
		logger:          slog.Default(),
		enabledServices: enabled,
	}
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name     string
		services string
		obs      ObservabilityContainer
		want     int
	}{
		{name: "worker only", services: "worker", want: 1},
		{name: "worker and reaper", services: "worker,reaper", want: 2},
		{name: "all services enabled", services: "worker,scheduler,reaper", want: 3},
		{
			name:     "metrics listener counts as a service",
			services: "reaper",
			obs: ObservabilityContainer{
				Prometheus:    newTestRegistry(),
				MetricsConfig: config.MetricsConfig{PrometheusAddress: "127.0.0.1:0"},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			services := buildBackgroundServices(startupDeps(tt.services, tt.obs))
			assert.Equal(t, tt.want, errorChannelCapacity(services))
			assert.Equal(t, tt.want+1, errorChannelBufferSize(services))
		})
	}
}

func TestErrorChannelBufferSize_NoServices(t *testing.T) {
	assert.Equal(t, 1, errorChannelBufferSize(nil))
}

func TestLaunchBackground_ForwardsError(t *testing.T) {
	deps := startupDeps("worker", ObservabilityContainer{})
	deps.errCh = make(chan error, 1)
	boom := errors.New("boom")

	done := launchBackground(deps.ctx, deps, backgroundService{
		mode:    config.ServiceModeWorker,
		name:    "worker",
		enabled: true,
		start:   func(context.Context) error { return boom },
	})
	require.NotNil(t, done)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background service did not finish")
	}
	err := <-deps.errCh
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "worker failed")
}

func TestLaunchBackground_SkipsDisabled(t *testing.T) {
	deps := startupDeps("worker", ObservabilityContainer{})
	done := launchBackground(deps.ctx, deps, backgroundService{
		name:  "scheduler",
		start: func(context.Context) error { t.Fatal("disabled service started"); return nil },
	})
	assert.Nil(t, done)
}

func TestGracefulStop_WaitsForBackgrounds(t *testing.T) {
	done := make(chan struct{})
	close(done)
	gracefulStop(shutdownConfig{
		logger:      slog.Default(),
		backgrounds: []backgroundServiceHandle{{name: "reaper", done: done}, {name: "noop"}},
	})
}

func TestNewServices_Validation(t *testing.T) {
	_, err := NewServices(nil)
	require.Error(t, err)

	_, err = NewServices(&ServiceDeps{Config: &config.AppConfig{}})
	require.ErrorContains(t, err, "database connection is required")
}

func TestBuildObservability_Defaults(t *testing.T) {
	obs := buildObservability(slog.Default(), config.ObservabilityConfig{})
	assert.Equal(t, statsd.Nop{}, obs.MetricsSink)
	assert.Nil(t, obs.Prometheus)
	require.NotNil(t, obs.FailureNotifier)
	assert.False(t, obs.FailureNotifier.Enabled())
}

func TestBuildObservability_Prometheus(t *testing.T) {
	obs := buildObservability(slog.Default(), config.ObservabilityConfig{
		Metrics: config.MetricsConfig{PrometheusAddress: "127.0.0.1:0", StatsdPrefix: "jobcoord"},
	})
	require.NotNil(t, obs.Prometheus)

	obs.MetricsSink.Count("runs.claimed", 1, map[string]string{"job": "noop"})
	families, err := obs.Prometheus.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "jobcoord_runs_claimed_total" {
			found = true
		}
	}
	assert.True(t, found, "counter should be exported through the registry")
}

func TestBuildFailureNotifier_Slack(t *testing.T) {
	n := buildFailureNotifier(slog.Default(), config.NotificationsConfig{
		Timeout: time.Second,
		Slack:   config.SlackConfig{WebhookURL: "https://hooks.slack.test/services/T000/B000/XXX"},
	})
	assert.True(t, n.Enabled())
}
