package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DefaultLockPrefix namespaces fern's lock keys.
const DefaultLockPrefix = "fern:lock:"

const (
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = 500 * time.Millisecond
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

// compare-and-delete so a lock that expired and was taken by someone else is
// left alone
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock is a held distributed lock.
type Lock struct {
	client *Client
	key    string
	value  string
	ttl    time.Duration
}

// Locker provides distributed locking operations
type Locker struct {
	client    *Client
	keyPrefix string
}

// NewLocker creates a new Locker
func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = DefaultLockPrefix
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// TenantKey is the lock key serializing writes for one tenant.
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

// Key returns the full Redis key for a lock name.
func (l *Locker) Key(name string) string {
	return l.keyPrefix + name
}

// Acquire attempts to acquire a lock once.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	lockKey := l.Key(name)
	lockValue := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	return &Lock{
		client: l.client,
		key:    lockKey,
		value:  lockValue,
		ttl:    ttl,
	}, nil
}

// TryAcquire retries Acquire with capped exponential backoff until timeout.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl, timeout time.Duration) (*Lock, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.Locker.TryAcquire")
	defer span.End()

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		lock, err := l.Acquire(ctx, name, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff = nextBackoff(backoff)
		}
	}
}

// Release releases the lock if it is still held by this owner.
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Extend resets the lock's TTL.
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.ttl = ttl
	return nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// DefaultTenantLockTTL applies when no positive TTL is configured.
const DefaultTenantLockTTL = 30 * time.Second

// TenantLocker serializes batch processing per tenant.
type TenantLocker struct {
	locker *Locker
	ttl    time.Duration
	wait   time.Duration
}

// NewTenantLocker creates a TenantLocker. ttl bounds how long a crashed
// holder blocks the tenant; wait bounds how long a caller queues.
func NewTenantLocker(locker *Locker, ttl, wait time.Duration) *TenantLocker {
	if ttl <= 0 {
		ttl = DefaultTenantLockTTL
	}
	return &TenantLocker{locker: locker, ttl: ttl, wait: wait}
}

// LockTenant acquires the tenant's lock and returns its release function.
// The lock's TTL is refreshed every half TTL until release, so batches that
// outlast the TTL keep the tenant.
func (t *TenantLocker) LockTenant(ctx context.Context, tenantID string) (func(context.Context) error, error) {
	lock, err := t.locker.TryAcquire(ctx, TenantKey(tenantID), t.ttl, t.wait)
	if err != nil {
		return nil, fmt.Errorf("failed to lock tenant %s: %w", tenantID, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go t.keepAlive(context.WithoutCancel(ctx), lock, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		return lock.Release(ctx)
	}, nil
}

func (t *TenantLocker) keepAlive(ctx context.Context, lock *Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, t.ttl); err != nil {
				lock.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to extend lock: %s", lock.key)
				return
			}
		}
	}
}
