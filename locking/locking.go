/*
Package locking serializes writes per entity.

PURPOSE:
  Service operations that touch a property or a tenant take the entity's key
  first, so concurrent writers on the same property observe each other's
  effects in a total order. Different keys proceed in parallel.

IMPLEMENTATIONS:
  KeyedMutex   in-process, one channel per held key, released keys are dropped
  RedisLocker  cross-process, SET NX with a random token, released by a script
               that deletes the key only if the token still matches

DEADLOCK AVOIDANCE:
  LockAll acquires keys in sorted order and releases them in reverse.

SEE ALSO:
  - service/service.go: key naming ("property:<id>", "tenant:<id>")
*/
package locking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Locker acquires an exclusive hold on key until unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PropertyKey and TenantKey name the lock for one entity.
func PropertyKey(id string) string { return "property:" + id }
func TenantKey(id string) string   { return "tenant:" + id }

// LockAll takes every key in sorted order. Duplicates and empty keys are skipped.
func LockAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	uniq := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := uniq[k]; ok {
			continue
		}
		uniq[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	unlocks := make([]func(), 0, len(ordered))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range ordered {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// =============================================================================
// IN-PROCESS
// =============================================================================

type heldKey struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is a map of mutexes that honours context cancellation.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*heldKey
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*heldKey)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	h, ok := k.keys[key]
	if !ok {
		h = &heldKey{ch: make(chan struct{}, 1)}
		k.keys[key] = h
	}
	h.refs++
	k.mu.Unlock()

	select {
	case h.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, h)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-h.ch
			k.drop(key, h)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, h *heldKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	h.refs--
	if h.refs == 0 {
		delete(k.keys, key)
	}
}

// Held reports how many keys have holders or waiters.
func (k *KeyedMutex) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// =============================================================================
// REDIS
// =============================================================================

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker holds keys in Redis for at most ttl, polling every retry while contended.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		prefix: prefix,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
	}
}

// TryLock makes one attempt. The returned token is needed to release.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes the key if token still owns it.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}

// Lock polls TryLock until it succeeds or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
				defer cancel()
				_ = l.Release(ctx, key, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
