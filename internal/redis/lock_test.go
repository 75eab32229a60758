package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration, opts ...LockOption) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSlotLocker(client, ttl, opts...), mr
}

func TestWithLock_RunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)

	called := false
	err := locker.WithLock(context.Background(), "p:l:2026-10-19", func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists("lock:calendar:p:l:2026-10-19"), "key should be held while fn runs")
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists("lock:calendar:p:l:2026-10-19"), "key should be released after fn")
}

func TestWithLock_HeldKeyIsNotAcquired(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	require.NoError(t, mr.Set("lock:calendar:busy", "someone-else"))

	err := locker.WithLock(context.Background(), "busy", func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	got, _ := mr.Get("lock:calendar:busy")
	assert.Equal(t, "someone-else", got, "a foreign token must not be deleted")
}

func TestWithLock_PropagatesFnError(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:calendar:k"))
}

func TestWithLock_OnlyOneConcurrentHolder(t *testing.T) {
	locker, _ := newTestLocker(t, 5*time.Second)

	var wg sync.WaitGroup
	var acquired, rejected int32
	start := make(chan struct{})
	release := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := locker.WithLock(context.Background(), "same", func(ctx context.Context) error {
				atomic.AddInt32(&acquired, 1)
				<-release
				return nil
			})
			if errors.Is(err, ErrLockNotAcquired) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}

	close(start)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&acquired)+atomic.LoadInt32(&rejected) == 8
	}, 2*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), acquired)
	assert.Equal(t, int32(7), rejected)
}

func TestWithLock_WaitsForRelease(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second, WithWait(2*time.Second))
	require.NoError(t, mr.Set(LockKey("day"), "someone-else"))

	go func() {
		time.Sleep(100 * time.Millisecond)
		mr.Del(LockKey("day"))
	}()

	called := false
	err := locker.WithLock(context.Background(), "day", func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists(LockKey("day")))
}

func TestWithLock_WaitGivesUp(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second, WithWait(80*time.Millisecond))
	require.NoError(t, mr.Set(LockKey("day"), "someone-else"))

	start := time.Now()
	err := locker.WithLock(context.Background(), "day", func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWithLock_WaitHonoursContext(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second, WithWait(5*time.Second))
	require.NoError(t, mr.Set(LockKey("day"), "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := locker.WithLock(ctx, "day", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLock_RedisDown(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second, WithWait(50*time.Millisecond))
	mr.Close()

	err := locker.WithLock(context.Background(), "day", func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
}
