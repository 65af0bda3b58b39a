package lock

import (
	"context"
	"errors"
	"time"

	"github.com/romnatson3/copy-trade/internal/constant"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyLocked means another worker holds the key. Callers skip the
	// unit of work, they never wait it out unless Blocking is set.
	ErrAlreadyLocked = errors.New("lock is already held")
	// ErrLimitUsage means the rate-limit breaker flag is set; exchange-calling
	// work must be skipped until the flag expires.
	ErrLimitUsage = errors.New("limit usage is too high")
)

const blockingPollInterval = time.Millisecond

// ExecutionLock is a distributed mutual-exclusion guard over one key. The TTL
// bounds how long a crashed holder can block the fleet.
type ExecutionLock struct {
	store Store
	key   string
	ttl   time.Duration
}

type Options struct {
	// Blocking makes Acquire poll until the lock is free or the deadline hits.
	Blocking bool
	Deadline time.Duration
	// GuardLimitUsage refuses the lock while the rate-limit breaker is set.
	GuardLimitUsage bool
}

func NewExecutionLock(store Store, key string, ttl time.Duration) *ExecutionLock {
	return &ExecutionLock{store: store, key: key, ttl: ttl}
}

func (l *ExecutionLock) Acquire(ctx context.Context) (bool, error) {
	return l.store.SetNX(ctx, l.key, "1", l.ttl)
}

func (l *ExecutionLock) Release(ctx context.Context) {
	if err := l.store.Del(ctx, l.key); err != nil {
		logrus.WithField("lock_key", l.key).WithError(err).Error("failed to release lock")
	}
}

// WithLock runs fn while holding the key. Contention returns ErrAlreadyLocked
// (or blocks when opts.Blocking); a set breaker flag returns ErrLimitUsage
// before any lock attempt.
func WithLock(ctx context.Context, store Store, key string, ttl time.Duration, opts Options, fn func(ctx context.Context) error) error {
	if opts.GuardLimitUsage {
		tooHigh, err := store.Exists(ctx, constant.CacheKeyLimitUsageTooHigh)
		if err != nil {
			return err
		}
		if tooHigh {
			return ErrLimitUsage
		}
	}

	l := NewExecutionLock(store, key, ttl)

	acquired, err := l.Acquire(ctx)
	if err != nil {
		return err
	}

	if !acquired && opts.Blocking {
		deadline := time.Now().Add(opts.Deadline)
		for !acquired {
			if time.Now().After(deadline) {
				return ErrAlreadyLocked
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(blockingPollInterval):
			}
			acquired, err = l.Acquire(ctx)
			if err != nil {
				return err
			}
		}
	}

	if !acquired {
		return ErrAlreadyLocked
	}

	defer l.Release(ctx)

	return fn(ctx)
}
