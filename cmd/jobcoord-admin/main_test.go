package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/bootstrap"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

func executeAdmin(t *testing.T, args ...string) (string, error) {
	t.Helper()
	reg, err := bootstrap.NewRegistry()
	require.NoError(t, err)

	app := &adminApp{
		logger:   slog.New(slog.DiscardHandler),
		cfg:      config.AppConfig{Worker: config.WorkerConfig{Pool: "job_worker"}},
		registry: reg,
	}
	root := newRootCmd(app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), err
}

func TestJobsList_Text(t *testing.T) {
	out, err := executeAdmin(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "noop")
	assert.Contains(t, out, "sleep")
}

func TestJobsList_MatchAndQuery(t *testing.T) {
	out, err := executeAdmin(t, "jobs", "list", "--match", "sl*", "--query", "[].name")
	require.NoError(t, err)

	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Equal(t, []string{"sleep"}, names)
}

func TestJobsList_JSON(t *testing.T) {
	out, err := executeAdmin(t, "jobs", "list", "--json")
	require.NoError(t, err)

	var defs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &defs))
	assert.Len(t, defs, 2)
}

func TestRoot_RejectsInvalidQuery(t *testing.T) {
	_, err := executeAdmin(t, "jobs", "list", "--query", "[?")
	require.ErrorContains(t, err, "invalid --query")
}

func TestEnqueue_RequiresOneMode(t *testing.T) {
	_, err := executeAdmin(t, "enqueue")
	require.ErrorContains(t, err, "exactly one of")

	_, err = executeAdmin(t, "enqueue", "noop", "--all")
	require.ErrorContains(t, err, "exactly one of")

	_, err = executeAdmin(t, "enqueue", "--group", "builtin", "--params", `{"a":1}`)
	require.ErrorContains(t, err, "single job")

	_, err = executeAdmin(t, "enqueue", "noop", "--params", `{bad`)
	require.ErrorContains(t, err, "valid JSON")
}

func TestCancel_RejectsBadID(t *testing.T) {
	_, err := executeAdmin(t, "cancel", "abc")
	require.ErrorContains(t, err, "invalid run id")

	_, err = executeAdmin(t, "runs", "get", "0")
	require.ErrorContains(t, err, "invalid run id")
}

func TestCleanupStalled_RejectsNonPositiveThreshold(t *testing.T) {
	_, err := executeAdmin(t, "cleanup-stalled", "--threshold", "0s")
	require.ErrorContains(t, err, "--threshold must be positive")
}

func TestRunsListOptions_ToModel(t *testing.T) {
	opts, err := runsListOptions{Name: "noop", Status: "Running", Limit: 10}.toModel()
	require.NoError(t, err)
	require.NotNil(t, opts.JobName)
	assert.Equal(t, "noop", *opts.JobName)
	require.NotNil(t, opts.Status)
	assert.Equal(t, model.RunStatusRunning, *opts.Status)
	assert.Equal(t, 10, opts.Limit)

	_, err = runsListOptions{Status: "paused"}.toModel()
	require.Error(t, err)
}

func TestPrintPoolStatus(t *testing.T) {
	by := "alice"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := printPoolStatus(&buf, model.WorkerPoolStatus{
		Pool:        "job_worker",
		ActiveCount: 1,
		Lease: &model.WorkerLease{
			Pool: "job_worker", WorkerID: "w-1", ExpiresAt: now,
			StopRequestedAt: &now, StopRequestedBy: &by,
		},
		Instances: []model.WorkerInstance{{ID: "w-1", Hostname: "host-a", PID: 42, Status: "running"}},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "lease: w-1 (expires 2026-03-01T12:00:00Z, stop requested by alice)")
	assert.Contains(t, out, "host-a")
}

func TestRender_QueryOverridesText(t *testing.T) {
	var buf bytes.Buffer
	opts := outputOptions{Query: "result"}
	err := opts.render(&buf, cancelResult{RunID: 7, Result: model.CancelResultRequested}, func(io.Writer) error {
		t.Fatal("text output used with --query")
		return nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"cancellation_requested"`, buf.String())
}
