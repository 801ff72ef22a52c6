package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/internal/domain/model"
	"github.com/target/mmk-jobcoord/internal/testutil"
)

func TestWorkerRepo_RegisterHeartbeatDeregister(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewWorkerRepo(db, WorkerRepoConfig{TimeProvider: clock})
		ctx := context.Background()

		w, err := repo.Register(ctx, testutil.NewWorkerRequest(model.DefaultWorkerPool))
		require.NoError(t, err)
		assert.Equal(t, model.WorkerStatusRunning, w.Status)
		assert.Equal(t, clock.Now(), w.StartedAt)
		_, err = uuid.Parse(w.ID)
		require.NoError(t, err)

		clock.AddTime(5 * time.Second)
		ok, err := repo.Heartbeat(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, repo.IncrementProcessed(ctx, w.ID))

		ok, err = repo.Deregister(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Deregister(ctx, w.ID)
		require.NoError(t, err)
		assert.False(t, ok, "second deregister is a no-op")

		ok, err = repo.Heartbeat(ctx, w.ID)
		require.NoError(t, err)
		assert.False(t, ok, "stopped workers do not heartbeat")

		list, err := repo.List(ctx, model.WorkerListOptions{Pool: model.DefaultWorkerPool})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, model.WorkerStatusStopped, list[0].Status)
		assert.Equal(t, int64(1), list[0].JobsProcessed)
		require.NotNil(t, list[0].StoppedAt)
	})
}

func TestWorkerRepo_CountActiveLivenessWindow(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewWorkerRepo(db, WorkerRepoConfig{TimeProvider: clock})
		ctx := context.Background()

		_, err := repo.Register(ctx, testutil.NewWorkerRequest(model.DefaultWorkerPool))
		require.NoError(t, err)
		_, err = repo.Register(ctx, testutil.NewWorkerRequest("other_pool"))
		require.NoError(t, err)

		clock.AddTime(10 * time.Second)
		n, err := repo.CountActive(ctx, model.DefaultWorkerPool, model.DefaultLivenessWindow)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		clock.AddTime(21 * time.Second)
		n, err = repo.CountActive(ctx, model.DefaultWorkerPool, model.DefaultLivenessWindow)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		ids, err := repo.MarkStaleStopped(ctx, 30*time.Second)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
	})
}

func TestWorkerRepo_Lease(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewWorkerRepo(db, WorkerRepoConfig{TimeProvider: clock})
		ctx := context.Background()
		pool := model.DefaultWorkerPool
		a, b := uuid.NewString(), uuid.NewString()
		ttl := 30 * time.Second

		ok, err := repo.AcquireLease(ctx, model.LeaseRequest{Pool: pool, WorkerID: a, TTL: ttl})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.AcquireLease(ctx, model.LeaseRequest{Pool: pool, WorkerID: b, TTL: ttl})
		require.NoError(t, err)
		assert.False(t, ok, "live lease refuses a second worker")

		ok, err = repo.AcquireLease(ctx, model.LeaseRequest{Pool: pool, WorkerID: a, TTL: ttl})
		require.NoError(t, err)
		assert.True(t, ok, "holder may re-acquire")

		ok, err = repo.RequestStop(ctx, pool, "ops")
		require.NoError(t, err)
		assert.True(t, ok)

		renewal, err := repo.RenewLease(ctx, model.LeaseRequest{Pool: pool, WorkerID: a, TTL: ttl})
		require.NoError(t, err)
		assert.Equal(t, model.LeaseRenewal{Held: true, StopRequested: true}, renewal)

		lease, err := repo.GetLease(ctx, pool)
		require.NoError(t, err)
		assert.Equal(t, a, lease.WorkerID)
		assert.Equal(t, "ops", *lease.StopRequestedBy)
		assert.True(t, lease.Live(clock.Now()))

		// After expiry another worker takes over and the stop request is cleared.
		clock.AddTime(ttl + time.Second)
		ok, err = repo.AcquireLease(ctx, model.LeaseRequest{Pool: pool, WorkerID: b, TTL: ttl})
		require.NoError(t, err)
		require.True(t, ok)

		renewal, err = repo.RenewLease(ctx, model.LeaseRequest{Pool: pool, WorkerID: a, TTL: ttl})
		require.NoError(t, err)
		assert.False(t, renewal.Held)

		lease, err = repo.GetLease(ctx, pool)
		require.NoError(t, err)
		assert.Nil(t, lease.StopRequestedAt)

		released, err := repo.ReleaseLease(ctx, pool, a)
		require.NoError(t, err)
		assert.False(t, released)
		released, err = repo.ReleaseLease(ctx, pool, b)
		require.NoError(t, err)
		assert.True(t, released)

		_, err = repo.GetLease(ctx, pool)
		require.ErrorIs(t, err, ErrLeaseNotFound)

		ok, err = repo.RequestStop(ctx, pool, "ops")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestWorkerRepo_ConcurrentAcquireSingleHolder(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewWorkerRepo(db, WorkerRepoConfig{})
		runner := testutil.NewConcurrentTestRunner(t)

		const contenders = 8
		results := make(chan bool, contenders)
		funcs := make([]func() error, contenders)
		for i := range funcs {
			funcs[i] = func() error {
				ok, err := repo.AcquireLease(context.Background(), model.LeaseRequest{
					Pool: "race_pool", WorkerID: uuid.NewString(), TTL: time.Minute,
				})
				results <- ok
				return err
			}
		}
		errs := runner.RunConcurrent(funcs...)
		close(results)

		won := 0
		for ok := range results {
			if ok {
				won++
			}
		}
		runner.AssertNoErrors(errs)
		assert.Equal(t, 1, won)
	})
}
