package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedules(t *testing.T) {
	defs, err := ParseSchedules([]byte(`
schedules:
  - job: report
    every: 1h
    params:
      region: eu
  - job: " extract "
    every: 15m
    enabled: false
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "report", defs[0].Job)
	assert.Equal(t, time.Hour, defs[0].Every)
	assert.Equal(t, map[string]any{"region": "eu"}, defs[0].Params)
	assert.True(t, defs[0].IsEnabled())

	assert.Equal(t, "extract", defs[1].Job)
	assert.False(t, defs[1].IsEnabled())
}

func TestParseSchedules_Empty(t *testing.T) {
	defs, err := ParseSchedules(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestParseSchedules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "missing job", yaml: "schedules:\n  - every: 1m\n", want: "job is required"},
		{name: "interval too short", yaml: "schedules:\n  - job: a\n    every: 10ms\n", want: "at least 1s"},
		{name: "duplicate", yaml: "schedules:\n  - job: a\n    every: 1m\n  - job: a\n    every: 2m\n", want: "more than once"},
		{name: "unknown field", yaml: "schedules:\n  - job: a\n    cron: '* * * * *'\n", want: "cron"},
		{name: "bad duration", yaml: "schedules:\n  - job: a\n    every: soon\n", want: "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedules([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScheduleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schedules:\n  - job: report\n    every: 30m\n"), 0o600))

	defs, err := LoadScheduleFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 30*time.Minute, defs[0].Every)

	_, err = LoadScheduleFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
