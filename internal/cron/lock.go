package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SweeperLockName is the lock shared by every process that runs the sweeper.
const SweeperLockName = "reservation-sweeper"

const defaultLockTTL = 5 * time.Minute

// ErrLockLost is returned by Release when the key expired during the tick and
// another process may have run concurrently. Raise the lock TTL if it shows up.
var ErrLockLost = errors.New("cron lock expired before release")

type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a single-key lease. Each acquisition stores a fresh token and
// release is a compare-and-delete on that token.
type RedisLock struct {
	store redisStore
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLock(store redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.key, err)
	}
	if won {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return won, nil
}

// Release is a no-op when the lock is not held by this instance.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}

	deleted, err := l.store.DeleteIfValue(ctx, l.key, token)
	switch {
	case err != nil:
		return fmt.Errorf("release lock %s: %w", l.key, err)
	case !deleted:
		return fmt.Errorf("release lock %s: %w", l.key, ErrLockLost)
	}
	return nil
}
