package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/pkg/errors"
)

// ErrLockNotHeld is returned by Unlock when the key expired or another owner
// took it.
var ErrLockNotHeld = errors.New(errors.ErrCodeConflict, "lock not held by this owner")

// DistributedLock is a non-blocking mutex shared by every process using the
// same Redis. Scheduled jobs skip a tick rather than queue behind a peer.
type DistributedLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
}

// LockFactory creates named locks.
type LockFactory interface {
	NewMutex(name string, opts ...LockOption) DistributedLock
}

type LockOption func(*lockConfig)

func WithLockTTL(ttl time.Duration) LockOption {
	return func(c *lockConfig) { c.ttl = ttl }
}

// WithWatchdog keeps extending the lock at ttl/3 while it is held.
func WithWatchdog(enabled bool) LockOption {
	return func(c *lockConfig) { c.watchdog = enabled }
}

type lockConfig struct {
	ttl      time.Duration
	watchdog bool
}

type redisLockFactory struct {
	client *Client
	log    logging.Logger
}

func NewLockFactory(client *Client, log logging.Logger) LockFactory {
	return &redisLockFactory{client: client, log: log}
}

func (f *redisLockFactory) NewMutex(name string, opts ...LockOption) DistributedLock {
	cfg := lockConfig{ttl: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &redisMutex{
		rdb:    f.client.GetUnderlyingClient(),
		key:    f.client.Key("lock", name),
		token:  uuid.NewString(),
		cfg:    cfg,
		logger: f.log.With(logging.String("lock", name)),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutex
// ─────────────────────────────────────────────────────────────────────────────

// Both scripts act only when the key still carries this owner's token.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

type redisMutex struct {
	rdb    redis.UniversalClient
	key    string
	token  string
	cfg    lockConfig
	logger logging.Logger

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func (m *redisMutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.key, m.token, m.cfg.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to set lock")
	}
	if ok && m.cfg.watchdog {
		m.startWatchdog()
	}
	return ok, nil
}

func (m *redisMutex) Unlock(ctx context.Context) error {
	m.stopWatchdog()
	n, err := releaseScript.Run(ctx, m.rdb, []string{m.key}, m.token).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release lock")
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (m *redisMutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.rdb, []string{m.key}, m.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to extend lock")
	}
	return n == 1, nil
}

func (m *redisMutex) startWatchdog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	m.stop, m.done = cancel, make(chan struct{})
	go m.watch(ctx, m.done)
}

func (m *redisMutex) stopWatchdog() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (m *redisMutex) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := m.cfg.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.Extend(ctx, m.cfg.ttl)
			switch {
			case err != nil && ctx.Err() == nil:
				m.logger.Error("Watchdog failed to extend lock", logging.Err(err))
				return
			case err == nil && !ok:
				m.logger.Warn("Watchdog lost lock")
				return
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Job guard
// ─────────────────────────────────────────────────────────────────────────────

// RunExclusive runs fn only if the named lock can be taken right away and
// reports whether fn ran. The lock is kept alive for as long as fn runs.
func RunExclusive(ctx context.Context, factory LockFactory, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	lock := factory.NewMutex(name, WithLockTTL(ttl), WithWatchdog(true))
	ok, err := lock.TryLock(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer func() { _ = lock.Unlock(context.Background()) }()
	return true, fn(ctx)
}
