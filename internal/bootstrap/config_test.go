package bootstrap

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/domain/job"
)

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: ""}))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: "http"}))
	require.NoError(t, ValidateServiceConfig(&config.AppConfig{Services: "worker"}))
}

func TestGetEnabledServices_StableOrder(t *testing.T) {
	got := GetEnabledServices(&config.AppConfig{Services: "reaper, worker,scheduler"})
	assert.Equal(t, []string{"worker", "scheduler", "reaper"}, got)

	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("SERVICES", "worker")
	t.Setenv("WORKER_POOL", "nightly")
	t.Setenv("REAPER_STALL_THRESHOLD", "10m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.Services)
	assert.Equal(t, "nightly", cfg.Worker.Pool)
	assert.Equal(t, "10m0s", cfg.Reaper.StallThreshold.String())
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "noop")

	_, err = NewRegistry(job.HandlerFunc{Def: job.Definition{Name: "noop"}})
	require.Error(t, err, "duplicate names are rejected")

	_, err = NewRegistry(job.HandlerFunc{Def: job.Definition{Name: "report", Dependencies: []string{"missing"}}})
	require.Error(t, err, "unknown dependencies fail validation")
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	prod := newHandler(&buf, &config.AppConfig{LogLevel: "warn"})
	assert.False(t, prod.Enabled(ctx, slog.LevelInfo))
	slog.New(prod).Warn("lease lost", "pool", "job_worker")
	assert.Contains(t, buf.String(), `"msg":"lease lost"`)

	buf.Reset()
	dev := newHandler(&buf, &config.AppConfig{IsDev: true, LogLevel: "error"})
	assert.True(t, dev.Enabled(ctx, slog.LevelDebug), "dev mode always logs debug")
	slog.New(dev).Debug("claimed", "run_id", 7)
	assert.Contains(t, buf.String(), "msg=claimed run_id=7")
}
