package service

import (
	"context"
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

func newWorkerRegistryForTest(t *testing.T) (*WorkerRegistryService, *mocks.MockWorkerRepository, *metricRecorder) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockWorkerRepository(ctrl)
	rec := &metricRecorder{}
	svc, err := NewWorkerRegistryService(WorkerRegistryServiceOptions{Repo: repo, Metrics: rec})
	require.NoError(t, err)
	return svc, repo, rec
}

func TestWorkerRegistryService_Register(t *testing.T) {
	svc, repo, rec := newWorkerRegistryForTest(t)
	req := &model.RegisterWorkerRequest{Pool: "job_worker", Hostname: "host-a", PID: 1234}
	repo.EXPECT().Register(gomock.Any(), req).Return(&model.WorkerInstance{
		ID: "w-1", Pool: "job_worker", Hostname: "host-a", PID: 1234, Status: model.WorkerStatusRunning,
	}, nil)

	w, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "w-1", w.ID)
	assert.Len(t, rec.named("worker.registered"), 1)

	_, err = svc.Register(context.Background(), &model.RegisterWorkerRequest{Pool: "job_worker"})
	assert.True(t, apperrors.IsInvalidParameters(err))
}

func TestWorkerRegistryService_CountActiveDefaults(t *testing.T) {
	svc, repo, _ := newWorkerRegistryForTest(t)
	repo.EXPECT().CountActive(gomock.Any(), model.DefaultWorkerPool, model.DefaultLivenessWindow).Return(2, nil)

	n, err := svc.CountActive(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWorkerRegistryService_AcquireLease(t *testing.T) {
	t.Run("validates", func(t *testing.T) {
		svc, _, _ := newWorkerRegistryForTest(t)
		_, err := svc.AcquireLease(context.Background(), model.LeaseRequest{TTL: time.Second})
		assert.Equal(t, "worker_id", apperrors.GetField(err))
		_, err = svc.AcquireLease(context.Background(), model.LeaseRequest{WorkerID: "w"})
		assert.Equal(t, "ttl", apperrors.GetField(err))
	})

	t.Run("acquired and refused", func(t *testing.T) {
		svc, repo, rec := newWorkerRegistryForTest(t)
		want := model.LeaseRequest{Pool: model.DefaultWorkerPool, WorkerID: "w-1", TTL: 30 * time.Second}
		gomock.InOrder(
			repo.EXPECT().AcquireLease(gomock.Any(), want).Return(true, nil),
			repo.EXPECT().AcquireLease(gomock.Any(), want).Return(false, nil),
		)

		ok, err := svc.AcquireLease(context.Background(), model.LeaseRequest{WorkerID: "w-1", TTL: 30 * time.Second})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.AcquireLease(context.Background(), model.LeaseRequest{WorkerID: "w-1", TTL: 30 * time.Second})
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Len(t, rec.named("worker.lease_acquired"), 1)
		assert.Len(t, rec.named("worker.lease_refused"), 1)
	})
}

func TestWorkerRegistryService_RenewLeaseLost(t *testing.T) {
	svc, repo, rec := newWorkerRegistryForTest(t)
	repo.EXPECT().RenewLease(gomock.Any(), gomock.Any()).Return(model.LeaseRenewal{Held: false}, nil)

	renewal, err := svc.RenewLease(context.Background(), model.LeaseRequest{WorkerID: "w-1", TTL: time.Minute})
	require.NoError(t, err)
	assert.False(t, renewal.Held)
	assert.Len(t, rec.named("worker.lease_lost"), 1)
}

func TestWorkerRegistryService_RequestStop(t *testing.T) {
	svc, repo, _ := newWorkerRegistryForTest(t)

	_, err := svc.RequestStop(context.Background(), "", "")
	assert.True(t, apperrors.IsInvalidParameters(err))

	repo.EXPECT().RequestStop(gomock.Any(), model.DefaultWorkerPool, "ops").Return(true, nil)
	ok, err := svc.RequestStop(context.Background(), "", "ops")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkerRegistryService_PoolStatus(t *testing.T) {
	svc, repo, _ := newWorkerRegistryForTest(t)
	now := time.Now()

	repo.EXPECT().CountActive(gomock.Any(), "reports", model.DefaultLivenessWindow).Return(1, nil)
	repo.EXPECT().GetLease(gomock.Any(), "reports").Return(&model.WorkerLease{
		Pool: "reports", WorkerID: "w-1", ExpiresAt: now.Add(time.Minute),
	}, nil)
	repo.EXPECT().List(gomock.Any(), model.WorkerListOptions{Pool: "reports", Limit: defaultInstanceListLimit}).
		Return([]*model.WorkerInstance{{ID: "w-1", Pool: "reports"}}, nil)

	status, err := svc.PoolStatus(context.Background(), "reports", 0)
	require.NoError(t, err)
	assert.Equal(t, "reports", status.Pool)
	assert.Equal(t, 1, status.ActiveCount)
	require.NotNil(t, status.Lease)
	assert.Equal(t, "w-1", status.Lease.WorkerID)
	require.Len(t, status.Instances, 1)
	assert.False(t, status.LocalRunning)
}

func TestWorkerRegistryService_GetLeaseMissing(t *testing.T) {
	svc, repo, _ := newWorkerRegistryForTest(t)
	repo.EXPECT().GetLease(gomock.Any(), model.DefaultWorkerPool).Return(nil, data.ErrLeaseNotFound)

	lease, err := svc.GetLease(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, lease)
}
