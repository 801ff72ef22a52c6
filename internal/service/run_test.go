package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/mmk-jobcoord/internal/data"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
	"github.com/target/mmk-jobcoord/internal/mocks"
)

func newRunServiceForTest(t *testing.T) (*RunService, *mocks.MockRunRepository, *metricRecorder) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRunRepository(ctrl)
	rec := &metricRecorder{}
	svc := MustNewRunService(RunServiceOptions{
		Repo:     repo,
		Registry: newTestRegistry(t),
		Metrics:  rec,
	})
	return svc, repo, rec
}

func TestNewRunService_RequiresDependencies(t *testing.T) {
	_, err := NewRunService(RunServiceOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	_, err = NewRunService(RunServiceOptions{Repo: mocks.NewMockRunRepository(ctrl)})
	require.Error(t, err)
}

func TestRunService_Create(t *testing.T) {
	t.Run("fills definition fields and merges params", func(t *testing.T) {
		svc, repo, rec := newRunServiceForTest(t)
		ctx := context.Background()

		var captured *model.CreateRunRequest
		repo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
			func(_ context.Context, req *model.CreateRunRequest) (*model.JobRun, error) {
				captured = req
				return &model.JobRun{ID: 7, JobName: req.JobName, Status: model.RunStatusQueued, Trigger: req.Trigger}, nil
			})

		run, err := svc.Create(ctx, &model.CreateRunRequest{
			JobName:     " report ",
			Params:      json.RawMessage(`{"region":"eu"}`),
			TriggeredBy: "alice",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), run.ID)

		require.NotNil(t, captured)
		assert.Equal(t, "report", captured.JobName)
		assert.Equal(t, model.TriggerManual, captured.Trigger)
		assert.Equal(t, "2024.1", captured.Version)
		assert.JSONEq(t, `{"region":"eu","limit":10}`, string(captured.Params))
		assert.Empty(t, captured.DependsOn)

		events := rec.named("run.transition")
		require.Len(t, events, 1)
		assert.Equal(t, "enqueued", events[0].tags["transition"])
	})

	t.Run("snapshots dependencies", func(t *testing.T) {
		svc, repo, _ := newRunServiceForTest(t)
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *model.CreateRunRequest) (*model.JobRun, error) {
				assert.Equal(t, []string{"transform"}, req.DependsOn)
				return &model.JobRun{ID: 1, JobName: req.JobName}, nil
			})

		_, err := svc.Create(context.Background(), &model.CreateRunRequest{JobName: "load", TriggeredBy: "t"})
		require.NoError(t, err)
	})

	t.Run("unknown job", func(t *testing.T) {
		svc, _, _ := newRunServiceForTest(t)
		_, err := svc.Create(context.Background(), &model.CreateRunRequest{JobName: "missing"})
		require.Error(t, err)
		assert.True(t, apperrors.IsUnknownJob(err))
	})

	t.Run("params must be an object", func(t *testing.T) {
		svc, _, _ := newRunServiceForTest(t)
		_, err := svc.Create(context.Background(), &model.CreateRunRequest{
			JobName: "report",
			Params:  json.RawMessage(`[1,2]`),
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidParameters(err))
		assert.Equal(t, "params", apperrors.GetField(err))
	})

	t.Run("invalid trigger", func(t *testing.T) {
		svc, _, _ := newRunServiceForTest(t)
		_, err := svc.Create(context.Background(), &model.CreateRunRequest{JobName: "report", Trigger: "cron"})
		require.Error(t, err)
		assert.Equal(t, "trigger", apperrors.GetField(err))
	})

	t.Run("storage failure is wrapped", func(t *testing.T) {
		svc, repo, _ := newRunServiceForTest(t)
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

		_, err := svc.Create(context.Background(), &model.CreateRunRequest{JobName: "report"})
		require.Error(t, err)
		assert.True(t, apperrors.IsStorage(err))
	})
}

func TestRunService_CreateBatch_ValidatesEveryRequestFirst(t *testing.T) {
	svc, _, _ := newRunServiceForTest(t)

	_, err := svc.CreateBatch(context.Background(), []*model.CreateRunRequest{
		{JobName: "extract"},
		{JobName: "nope"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnknownJob(err))

	_, err = svc.CreateBatch(context.Background(), nil)
	assert.True(t, apperrors.IsInvalidParameters(err))
}

func TestRunService_Claim(t *testing.T) {
	t.Run("requires worker id", func(t *testing.T) {
		svc, _, _ := newRunServiceForTest(t)
		_, err := svc.Claim(context.Background(), model.ClaimParams{})
		assert.True(t, apperrors.IsInvalidParameters(err))
	})

	t.Run("no runs available passes through", func(t *testing.T) {
		svc, repo, rec := newRunServiceForTest(t)
		repo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil, model.ErrNoRunsAvailable)

		run, err := svc.Claim(context.Background(), model.ClaimParams{WorkerID: "w1"})
		assert.Nil(t, run)
		assert.ErrorIs(t, err, model.ErrNoRunsAvailable)
		assert.Empty(t, rec.named("run.transition"))
	})

	t.Run("emits queue delay", func(t *testing.T) {
		svc, repo, rec := newRunServiceForTest(t)
		queued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
		started := queued.Add(1500 * time.Millisecond)
		params := model.ClaimParams{WorkerID: "w1", EnforceDependencies: true}
		repo.EXPECT().Claim(gomock.Any(), params).Return(&model.JobRun{
			ID: 3, JobName: "extract", Status: model.RunStatusRunning, QueuedAt: queued, StartedAt: &started,
		}, nil)

		run, err := svc.Claim(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, int64(3), run.ID)

		delays := rec.named("run.queue_delay")
		require.Len(t, delays, 1)
		assert.InDelta(t, float64(1500*time.Millisecond), delays[0].value, 0)
		require.Len(t, rec.named("run.transition"), 1)
	})
}

func TestRunService_Finish(t *testing.T) {
	t.Run("rejects non-terminal outcome", func(t *testing.T) {
		svc, _, _ := newRunServiceForTest(t)
		_, err := svc.Finish(context.Background(), model.FinishParams{
			RunID:   1,
			Outcome: model.Outcome{Status: model.RunStatusRunning},
		})
		assert.Equal(t, "outcome", apperrors.GetField(err))
	})

	t.Run("second finish is a no-op", func(t *testing.T) {
		svc, repo, _ := newRunServiceForTest(t)
		params := model.FinishParams{RunID: 1, WorkerID: "w1", Outcome: model.Outcome{Status: model.RunStatusSucceeded}}
		gomock.InOrder(
			repo.EXPECT().Finish(gomock.Any(), params).Return(true, nil),
			repo.EXPECT().Finish(gomock.Any(), params).Return(false, nil),
		)

		ok, err := svc.Finish(context.Background(), params)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.Finish(context.Background(), params)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRunService_RequestCancel(t *testing.T) {
	t.Run("queued run is cancelled", func(t *testing.T) {
		svc, repo, rec := newRunServiceForTest(t)
		repo.EXPECT().RequestCancel(gomock.Any(), model.CancelParams{RunID: 9, RequestedBy: "bob"}).
			Return(model.CancelResultCancelled, &model.JobRun{ID: 9, JobName: "report", Status: model.RunStatusCancelled}, nil)

		result, run, err := svc.RequestCancel(context.Background(), 9, " bob ")
		require.NoError(t, err)
		assert.Equal(t, model.CancelResultCancelled, result)
		assert.Equal(t, model.RunStatusCancelled, run.Status)

		events := rec.named("run.transition")
		require.Len(t, events, 1)
		assert.Equal(t, "cancelled", events[0].tags["transition"])
	})

	t.Run("running run is flagged", func(t *testing.T) {
		svc, repo, rec := newRunServiceForTest(t)
		repo.EXPECT().RequestCancel(gomock.Any(), gomock.Any()).
			Return(model.CancelResultRequested, &model.JobRun{ID: 9, Status: model.RunStatusRunning}, nil)

		result, _, err := svc.RequestCancel(context.Background(), 9, "bob")
		require.NoError(t, err)
		assert.Equal(t, model.CancelResultRequested, result)
		assert.Empty(t, rec.named("run.transition"))
	})

	t.Run("terminal run is invalid state", func(t *testing.T) {
		svc, repo, _ := newRunServiceForTest(t)
		repo.EXPECT().RequestCancel(gomock.Any(), gomock.Any()).
			Return(model.CancelResult(""), &model.JobRun{ID: 9, Status: model.RunStatusSucceeded}, data.ErrRunTerminal)

		_, _, err := svc.RequestCancel(context.Background(), 9, "bob")
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidState(err))
		assert.Contains(t, err.Error(), "succeeded")
	})

	t.Run("unknown run is not found", func(t *testing.T) {
		svc, repo, _ := newRunServiceForTest(t)
		repo.EXPECT().RequestCancel(gomock.Any(), gomock.Any()).
			Return(model.CancelResult(""), nil, data.ErrRunNotFound)

		_, _, err := svc.RequestCancel(context.Background(), 404, "bob")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("validates input", func(t *testing.T) {
		svc, _, _ := newRunServiceForTest(t)
		_, _, err := svc.RequestCancel(context.Background(), 0, "bob")
		assert.Equal(t, "run_id", apperrors.GetField(err))
		_, _, err = svc.RequestCancel(context.Background(), 1, "  ")
		assert.Equal(t, "requested_by", apperrors.GetField(err))
	})
}

func TestRunService_List(t *testing.T) {
	svc, repo, _ := newRunServiceForTest(t)

	repo.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, opts model.RunListOptions) ([]*model.JobRun, error) {
			assert.Equal(t, maxRunListLimit, opts.Limit)
			return []*model.JobRun{{ID: 1}}, nil
		})
	runs, err := svc.List(context.Background(), model.RunListOptions{Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	bad := model.RunStatus("paused")
	_, err = svc.List(context.Background(), model.RunListOptions{Status: &bad})
	assert.Equal(t, "status", apperrors.GetField(err))

	_, err = svc.List(context.Background(), model.RunListOptions{Offset: -1})
	assert.Equal(t, "offset", apperrors.GetField(err))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0, 50, 100))
	assert.Equal(t, 50, clampLimit(-3, 50, 100))
	assert.Equal(t, 100, clampLimit(500, 50, 100))
	assert.Equal(t, 7, clampLimit(7, 50, 100))
}
