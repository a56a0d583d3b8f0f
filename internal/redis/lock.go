package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

// Locker serialises commands that target the same slot. Keys are
// "YYYY-MM-DDTHH:MM".
type Locker interface {
	WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSlotLocker creates a locker that uses a per slot Redis key, shared
// by every API instance. A busy slot fails fast with ErrLockNotAcquired.
func NewRedisSlotLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:slot:%s", slotKey)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// Release even when the caller's context is already cancelled.
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// localSlotLocker is the single-process fallback used when no Redis is
// configured. Callers queue on a busy slot instead of failing.
type localSlotLocker struct {
	mu    sync.Mutex
	slots map[string]*slotGate
}

type slotGate struct {
	ch   chan struct{}
	refs int
}

func NewLocalSlotLocker() Locker {
	return &localSlotLocker{slots: make(map[string]*slotGate)}
}

func (l *localSlotLocker) WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error {
	gate := l.acquireRef(slotKey)
	defer l.releaseRef(slotKey, gate)

	select {
	case gate.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire slot lock: %w", ctx.Err())
	}
	defer func() { <-gate.ch }()

	return fn(ctx)
}

func (l *localSlotLocker) acquireRef(key string) *slotGate {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.slots[key]
	if !ok {
		g = &slotGate{ch: make(chan struct{}, 1)}
		l.slots[key] = g
	}
	g.refs++
	return g
}

func (l *localSlotLocker) releaseRef(key string, g *slotGate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g.refs--
	if g.refs == 0 {
		delete(l.slots, key)
	}
}
