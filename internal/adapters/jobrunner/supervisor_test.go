package jobrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/data"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
	"github.com/target/mmk-jobcoord/internal/mocks"
	"github.com/target/mmk-jobcoord/internal/service"
)

type supervisorFixture struct {
	sup     *WorkerSupervisor
	workers *mocks.MockWorkerRepository
	runs    *mocks.MockRunRepository
}

func newSupervisorFixture(t *testing.T) supervisorFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := supervisorFixture{
		workers: mocks.NewMockWorkerRepository(ctrl),
		runs:    mocks.NewMockRunRepository(ctrl),
	}

	reg := job.NewRegistry()
	reg.MustRegister(job.HandlerFunc{Def: job.Definition{Name: "sync-inventory"}})
	runs := service.MustNewRunService(service.RunServiceOptions{Repo: f.runs, Registry: reg})
	cancel, err := service.NewCancelCoordinator(service.CancelCoordinatorOptions{Runs: runs})
	require.NoError(t, err)
	workers, err := service.NewWorkerRegistryService(service.WorkerRegistryServiceOptions{Repo: f.workers})
	require.NoError(t, err)

	f.sup, err = NewWorkerSupervisor(SupervisorOptions{
		Workers: workers,
		Runner:  RunnerOptions{Runs: runs, Cancel: cancel},
		Config: config.WorkerConfig{
			Pool:              "job_worker",
			HeartbeatInterval: time.Second,
			PollInterval:      100 * time.Millisecond,
		},
		Hostname: "host-a",
		PID:      4242,
	})
	require.NoError(t, err)

	f.runs.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil, model.ErrNoRunsAvailable).AnyTimes()
	return f
}

func (f supervisorFixture) expectRegister() {
	f.workers.EXPECT().CountActive(gomock.Any(), "job_worker", model.DefaultLivenessWindow).Return(0, nil)
	f.workers.EXPECT().Register(gomock.Any(), &model.RegisterWorkerRequest{
		Pool: "job_worker", Hostname: "host-a", PID: 4242,
	}).Return(&model.WorkerInstance{ID: "w-1", Pool: "job_worker"}, nil)
}

func (f supervisorFixture) expectCleanup() {
	f.workers.EXPECT().ReleaseLease(gomock.Any(), "job_worker", "w-1").Return(true, nil)
	f.workers.EXPECT().Deregister(gomock.Any(), "w-1").Return(true, nil)
}

func TestNewWorkerSupervisor_Validation(t *testing.T) {
	_, err := NewWorkerSupervisor(SupervisorOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	workers, err := service.NewWorkerRegistryService(service.WorkerRegistryServiceOptions{
		Repo: mocks.NewMockWorkerRepository(ctrl),
	})
	require.NoError(t, err)
	_, err = NewWorkerSupervisor(SupervisorOptions{Workers: workers})
	require.Error(t, err)
}

func TestWorkerSupervisor_StartRefusedWhenPoolActive(t *testing.T) {
	f := newSupervisorFixture(t)
	f.workers.EXPECT().CountActive(gomock.Any(), "job_worker", model.DefaultLivenessWindow).Return(1, nil)

	err := f.sup.Start(context.Background())
	assert.True(t, apperrors.IsInvalidState(err))
	assert.False(t, f.sup.Running())
}

func TestWorkerSupervisor_StartRefusedWhenLeaseHeld(t *testing.T) {
	f := newSupervisorFixture(t)
	f.expectRegister()
	f.workers.EXPECT().AcquireLease(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req model.LeaseRequest) (bool, error) {
			assert.Equal(t, "w-1", req.WorkerID)
			assert.Equal(t, 2*time.Second, req.TTL)
			return false, nil
		})
	f.workers.EXPECT().Deregister(gomock.Any(), "w-1").Return(true, nil)

	err := f.sup.Start(context.Background())
	assert.True(t, apperrors.IsInvalidState(err))
	assert.False(t, f.sup.Running())
}

func TestWorkerSupervisor_StartStop(t *testing.T) {
	f := newSupervisorFixture(t)
	f.expectRegister()
	f.workers.EXPECT().AcquireLease(gomock.Any(), gomock.Any()).Return(true, nil)
	f.workers.EXPECT().Heartbeat(gomock.Any(), "w-1").Return(true, nil).AnyTimes()
	f.workers.EXPECT().RenewLease(gomock.Any(), gomock.Any()).Return(model.LeaseRenewal{Held: true}, nil).AnyTimes()
	f.expectCleanup()

	ctx := context.Background()
	require.NoError(t, f.sup.Start(ctx))
	assert.True(t, f.sup.Running())

	err := f.sup.Start(ctx)
	assert.True(t, apperrors.IsInvalidState(err), "second start in the same process is refused")

	f.workers.EXPECT().CountActive(gomock.Any(), "job_worker", model.DefaultLivenessWindow).Return(1, nil)
	f.workers.EXPECT().GetLease(gomock.Any(), "job_worker").Return(nil, data.ErrLeaseNotFound)
	f.workers.EXPECT().List(gomock.Any(), gomock.Any()).Return([]*model.WorkerInstance{{ID: "w-1"}}, nil)
	status, err := f.sup.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.LocalRunning)
	assert.Equal(t, 1, status.ActiveCount)
	require.Len(t, status.Instances, 1)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Stop(stopCtx))
	assert.False(t, f.sup.Running())
	require.NoError(t, f.sup.Wait(stopCtx))

	err = f.sup.Stop(stopCtx)
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestWorkerSupervisor_ExitsOnStopRequest(t *testing.T) {
	f := newSupervisorFixture(t)
	f.expectRegister()
	f.workers.EXPECT().AcquireLease(gomock.Any(), gomock.Any()).Return(true, nil)
	f.workers.EXPECT().Heartbeat(gomock.Any(), "w-1").Return(true, nil)
	f.workers.EXPECT().RenewLease(gomock.Any(), gomock.Any()).
		Return(model.LeaseRenewal{Held: true, StopRequested: true}, nil)
	f.expectCleanup()

	require.NoError(t, f.sup.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.sup.Wait(ctx)
	require.ErrorIs(t, err, ErrStopRequested)
	assert.False(t, f.sup.Running())
}

func TestWorkerSupervisor_ExitsOnLeaseLost(t *testing.T) {
	f := newSupervisorFixture(t)
	f.expectRegister()
	f.workers.EXPECT().AcquireLease(gomock.Any(), gomock.Any()).Return(true, nil)
	f.workers.EXPECT().Heartbeat(gomock.Any(), "w-1").Return(true, nil)
	f.workers.EXPECT().RenewLease(gomock.Any(), gomock.Any()).Return(model.LeaseRenewal{Held: false}, nil)
	f.expectCleanup()

	require.NoError(t, f.sup.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.ErrorIs(t, f.sup.Wait(ctx), ErrLeaseLost)
}

func TestWorkerSupervisor_ExitsWhenInstanceStopped(t *testing.T) {
	f := newSupervisorFixture(t)
	f.expectRegister()
	f.workers.EXPECT().AcquireLease(gomock.Any(), gomock.Any()).Return(true, nil)
	f.workers.EXPECT().Heartbeat(gomock.Any(), "w-1").Return(false, nil)
	f.workers.EXPECT().RenewLease(gomock.Any(), gomock.Any()).Times(0)
	f.workers.EXPECT().ReleaseLease(gomock.Any(), "job_worker", "w-1").Return(true, nil)
	f.workers.EXPECT().Deregister(gomock.Any(), "w-1").Return(false, nil)

	require.NoError(t, f.sup.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.ErrorIs(t, f.sup.Wait(ctx), ErrInstanceStopped)
	assert.False(t, f.sup.Running(), "a stopped instance row must not keep the lease")
}
