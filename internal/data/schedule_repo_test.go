package data

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/internal/domain/model"
	"github.com/target/mmk-jobcoord/internal/testutil"
)

func TestScheduleRepo_UpsertFindDueMark(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewScheduleRepo(db, clock)
		ctx := context.Background()

		s, err := repo.Upsert(ctx, &model.UpsertScheduleRequest{JobName: "recalc-scores", Interval: time.Hour, Enabled: true})
		require.NoError(t, err)
		assert.Equal(t, time.Hour, s.Interval)
		assert.Nil(t, s.LastQueuedAt)

		_, err = repo.Upsert(ctx, &model.UpsertScheduleRequest{JobName: "disabled", Interval: time.Minute})
		require.NoError(t, err)

		due, err := repo.FindDue(ctx, clock.Now(), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "recalc-scores", due[0].JobName)

		ok, err := repo.MarkQueued(ctx, model.MarkScheduleQueuedParams{ID: s.ID, Now: clock.Now()})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkQueued(ctx, model.MarkScheduleQueuedParams{ID: s.ID, Now: clock.Now()})
		require.NoError(t, err)
		assert.False(t, ok, "stale prev value loses")

		due, err = repo.FindDue(ctx, clock.Now().Add(30*time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = repo.FindDue(ctx, clock.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		// Interval change keeps last_queued_at.
		s, err = repo.Upsert(ctx, &model.UpsertScheduleRequest{JobName: "recalc-scores", Interval: 2 * time.Hour, Enabled: true})
		require.NoError(t, err)
		assert.Equal(t, 2*time.Hour, s.Interval)
		require.NotNil(t, s.LastQueuedAt)

		require.NoError(t, repo.SetEnabled(ctx, "recalc-scores", false))
		require.ErrorIs(t, repo.SetEnabled(ctx, "missing", false), ErrScheduleNotFound)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestScheduleRepo_TryWithJobLock(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScheduleRepo(db, nil)
		ctx := context.Background()

		boom := errors.New("boom")
		locked, err := repo.TryWithJobLock(ctx, "recalc-scores", func(context.Context) error { return boom })
		assert.True(t, locked)
		require.ErrorIs(t, err, boom)

		ran := false
		locked, err = repo.TryWithJobLock(ctx, "recalc-scores", func(inner context.Context) error {
			// A second attempt on the same job from another session must be refused.
			nested, nestedErr := repo.TryWithJobLock(inner, "recalc-scores", func(context.Context) error {
				ran = true
				return nil
			})
			require.NoError(t, nestedErr)
			assert.False(t, nested)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, locked)
		assert.False(t, ran)
	})
}

func TestJobLockKeyIsStable(t *testing.T) {
	assert.Equal(t, jobLockKey("recalc-scores"), jobLockKey("recalc-scores"))
	assert.NotEqual(t, jobLockKey("recalc-scores"), jobLockKey("export-users"))
	assert.GreaterOrEqual(t, jobLockKey("anything"), int32(0))
}
