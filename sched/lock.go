/*
lock.go - Re-entrancy guard for the accrual sweep

PURPOSE:
  The sweep must never overlap itself. In a single process a
  mutex-guarded flag owned by the Sweeper is enough; in a horizontally
  scaled deployment the flag is upgraded to a Redis lease so only one
  instance runs the sweep per day.

LEASE SEMANTICS:
  The Redis lock is a SET NX with TTL. Release compares the stored
  token before deleting, so an expired lease taken over by another
  instance is never released by the original holder.
*/
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepLock serializes accrual sweeps. TryAcquire never blocks: an
// overlapping trigger is rejected, not queued.
type SweepLock interface {
	// TryAcquire returns (release, true) when the lock was taken, or
	// (nil, false) when a sweep already holds it.
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// =============================================================================
// PROCESS-LOCAL LOCK
// =============================================================================

type localLock struct {
	mu   sync.Mutex
	held bool
}

// NewLocalLock returns the in-process lock used in single-instance
// deployments.
func NewLocalLock() SweepLock { return &localLock{} }

func (l *localLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	release := func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}
	return release, true, nil
}

// =============================================================================
// REDIS LEASE LOCK
// =============================================================================

// Release only deletes the key while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

type redisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock returns a lease-based lock for multi-instance
// deployments. The TTL bounds how long a crashed holder can block the
// next sweep.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) SweepLock {
	return &redisLock{client: client, key: key, ttl: ttl}
}

func (l *redisLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		l.client.Eval(context.Background(), releaseScript, []string{l.key}, token)
	}
	return release, true, nil
}
