package locking_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-engine/locking"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := locking.NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "property:p1")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, km.Held())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := locking.NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_HonoursDeadline(t *testing.T) {
	km := locking.NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutex_UnlockIsIdempotent(t *testing.T) {
	km := locking.NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
	unlock()

	assert.Equal(t, 0, km.Held())
}

func TestLockAll_SortsAndDeduplicates(t *testing.T) {
	km := locking.NewKeyedMutex()
	ctx := context.Background()

	release, err := locking.LockAll(ctx, km, "tenant:t1", "property:p1", "", "tenant:t1")
	require.NoError(t, err)
	assert.Equal(t, 2, km.Held())
	release()
	assert.Equal(t, 0, km.Held())
}

func TestLockAll_ReleasesOnFailure(t *testing.T) {
	km := locking.NewKeyedMutex()

	hold, err := km.Lock(context.Background(), "tenant:t1")
	require.NoError(t, err)
	defer hold()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locking.LockAll(ctx, km, "property:p1", "tenant:t1")
	require.Error(t, err)

	// property:p1 was taken first and must have been released.
	unlock, err := km.Lock(context.Background(), "property:p1")
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_NotConfigured(t *testing.T) {
	assert.Nil(t, locking.NewRedisLocker(nil, "lease:", time.Second))

	var l *locking.RedisLocker
	_, _, err := l.TryLock(context.Background(), "a")
	assert.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "a", "token"))
}

func TestRedisLocker_EmptyKey(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	l := locking.NewRedisLocker(client, "lease:", time.Second)

	_, _, err := l.TryLock(context.Background(), "")
	assert.EqualError(t, err, "lock key is empty")
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	l := locking.NewRedisLocker(client, "lease:", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := l.Lock(ctx, "property:p1")
	assert.Error(t, err)
}

func TestRedisLocker_LiveServer(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	l := locking.NewRedisLocker(client, "lease-test:", 5*time.Second)
	ctx := context.Background()
	key := "property:" + time.Now().Format("150405.000000000")

	// GIVEN: the key is held
	token, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: a second holder tries
	_, ok, err = l.TryLock(ctx, key)
	require.NoError(t, err)

	// THEN: it is refused until the first releases
	assert.False(t, ok)
	require.NoError(t, l.Release(ctx, key, token))
	token, ok, err = l.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(ctx, key, token))
}
