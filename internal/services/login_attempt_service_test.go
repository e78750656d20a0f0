package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sessionguard/internal/models"
)

func TestLoginAttemptService_OnFailure_LocksAtThreshold(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	ctx := context.Background()

	for want := 4; want >= 1; want-- {
		res, err := env.lockout.OnFailure(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, res.Locked)
		assert.Equal(t, want, res.AttemptsRemaining)
	}

	res, err := env.lockout.OnFailure(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, res.Locked)
	assert.Equal(t, env.clock.Now().Add(testLockoutTime), *res.LockedUntil)

	stored := env.users.get(user.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts, "counter resets when the lock is set")
	assert.True(t, stored.IsLockedAt(env.clock.Now()))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LockoutsTotal))
}

func TestLoginAttemptService_RemainingForUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const email = "nobody@example.com"

	assert.Equal(t, 4, env.lockout.RemainingForUnknown(ctx, email))

	for i := 0; i < 4; i++ {
		env.lockout.RecordAttempt(ctx, models.LoginAttempt{Email: email})
	}
	assert.Equal(t, 1, env.lockout.RemainingForUnknown(ctx, email), "never reaches zero")

	env.lockout.RecordAttempt(ctx, models.LoginAttempt{Email: email})
	assert.Equal(t, 4, env.lockout.RemainingForUnknown(ctx, email), "a full round starts a fresh countdown")

	env.lockout.RecordAttempt(ctx, models.LoginAttempt{Email: email, Successful: true})
	assert.Equal(t, 4, env.lockout.RemainingForUnknown(ctx, email), "successes are not counted")
}

func TestLoginAttemptService_OnFailure_WhileLockedDoesNotExtend(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.lockout.OnFailure(ctx, user.ID)
		require.NoError(t, err)
	}
	lockedUntil := *env.users.get(user.ID).LockedUntil

	env.clock.Advance(10 * time.Minute)
	res, err := env.lockout.OnFailure(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.Equal(t, lockedUntil, *res.LockedUntil)
	assert.Equal(t, 0, env.users.get(user.ID).FailedLoginAttempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LockoutsTotal))
}

func TestLoginAttemptService_OnSuccess_ResetsCounter(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.lockout.OnFailure(ctx, user.ID)
		require.NoError(t, err)
	}
	require.NoError(t, env.lockout.OnSuccess(ctx, user.ID))
	assert.Equal(t, 0, env.users.get(user.ID).FailedLoginAttempts)

	res, err := env.lockout.OnFailure(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.AttemptsRemaining)
}

func TestLoginAttemptService_OnSuccess_KeepsLock(t *testing.T) {
	env := newTestEnv(t)
	until := env.clock.Now().Add(time.Minute)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	user.LockedUntil = &until
	user.FailedLoginAttempts = 2
	env.users.put(user)

	require.NoError(t, env.lockout.OnSuccess(context.Background(), user.ID))

	stored := env.users.get(user.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, until, *stored.LockedUntil)
}

func TestLoginAttemptService_IsLocked(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	ctx := context.Background()

	status, err := env.lockout.IsLocked(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	for i := 0; i < 5; i++ {
		_, err := env.lockout.OnFailure(ctx, user.ID)
		require.NoError(t, err)
	}

	status, err = env.lockout.IsLocked(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, env.clock.Now().Add(testLockoutTime), *status.LockedUntil)

	env.clock.Advance(testLockoutTime + time.Second)
	status, err = env.lockout.IsLocked(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	stored := env.users.get(user.ID)
	assert.Nil(t, stored.LockedUntil, "expired lock is cleared on check")
	assert.Equal(t, 0, stored.FailedLoginAttempts)
}

func TestLoginAttemptService_OnFailure_AfterExpiredLockStartsFresh(t *testing.T) {
	env := newTestEnv(t)
	past := env.clock.Now().Add(-time.Minute)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	user.LockedUntil = &past
	env.users.put(user)

	res, err := env.lockout.OnFailure(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, res.Locked)
	assert.Equal(t, 4, res.AttemptsRemaining)
	assert.Nil(t, env.users.get(user.ID).LockedUntil)
}

func TestLoginAttemptService_OnFailure_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locked int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.lockout.OnFailure(ctx, user.ID)
			assert.NoError(t, err)
			if res.Locked {
				mu.Lock()
				locked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, locked, "exactly one of five concurrent failures sets the lock")
	assert.True(t, env.users.get(user.ID).IsLockedAt(env.clock.Now()))
}

func TestLoginAttemptService_Unlock(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ada@example.com", "Garden2024")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.lockout.OnFailure(ctx, user.ID)
		require.NoError(t, err)
	}
	require.NoError(t, env.lockout.Unlock(ctx, user.ID))

	status, err := env.lockout.IsLocked(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLoginAttemptService_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.users.failErr = errors.New("connection reset")

	_, err := env.lockout.OnFailure(context.Background(), "missing")
	assert.Equal(t, models.KindStorageFailure, models.KindOf(err))

	_, err = env.lockout.IsLocked(context.Background(), "missing")
	assert.Equal(t, models.KindStorageFailure, models.KindOf(err))
}

func TestLoginAttemptService_RecordAttemptAndCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.lockout.RecordAttempt(ctx, models.LoginAttempt{Email: "old@example.com"})
	env.clock.Advance(91 * 24 * time.Hour)
	env.lockout.RecordAttempt(ctx, models.LoginAttempt{Email: "new@example.com", Successful: true})

	n, err := env.lockout.CleanupOldAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows := env.attempts.all()
	require.Len(t, rows, 1)
	assert.Equal(t, "new@example.com", rows[0].Email)
	assert.Equal(t, env.clock.Now(), rows[0].CreatedAt)
}
