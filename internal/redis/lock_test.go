package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisSlotLockerRejectsSecondHolder(t *testing.T) {
	_, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, 5*time.Second)
	ctx := context.Background()

	err := locker.WithSlotLock(ctx, "2026-02-10T09:00", func(ctx context.Context) error {
		inner := locker.WithSlotLock(ctx, "2026-02-10T09:00", func(context.Context) error {
			t.Fatal("second holder must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		// A different slot is independent.
		return locker.WithSlotLock(ctx, "2026-02-10T10:00", func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestRedisSlotLockerReleasesKey(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, 5*time.Second)

	err := locker.WithSlotLock(context.Background(), "2026-02-10T09:00", func(context.Context) error {
		assert.True(t, mr.Exists("lock:slot:2026-02-10T09:00"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:slot:2026-02-10T09:00"))
}

func TestRedisSlotLockerKeepsForeignToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, 5*time.Second)

	err := locker.WithSlotLock(context.Background(), "2026-02-10T09:00", func(context.Context) error {
		// Simulate expiry and takeover by another instance.
		require.NoError(t, mr.Set("lock:slot:2026-02-10T09:00", "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get("lock:slot:2026-02-10T09:00")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocalSlotLockerSerialises(t *testing.T) {
	locker := NewLocalSlotLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithSlotLock(context.Background(), "2026-02-10T09:00", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocalSlotLockerHonoursContext(t *testing.T) {
	locker := NewLocalSlotLocker()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithSlotLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locker.WithSlotLock(ctx, "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	rdb, err := NewRedisClient(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}
