package cache

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/metrics"
)

// Lock manager tuning, per spec.md §4.4.
const (
	lockMaxAttempts     = 3
	lockInitialBackoff  = 500 * time.Millisecond
	lockMaxBackoff      = 1 * time.Second
	lockTimeout         = 30 * time.Second
)

// LockManager implements the cooperative named-lock primitive described in
// spec.md §4.4: stale reclamation, insert-or-fail acquisition, bounded
// exponential-backoff retry, and release-by-(name,holder) to avoid freeing
// a lock a later owner already reacquired. The holder id is the per-
// process random string generated once in NewEngine, the same role the
// teacher's uuid.New().String() session id plays in session.Manager.
type LockManager struct {
	pool     *pool
	holderID string
	log      zerolog.Logger
}

func newLockManager(p *pool, holderID string, log zerolog.Logger) *LockManager {
	return &LockManager{pool: p, holderID: holderID, log: log.With().Str("component", "lock").Logger()}
}

// WithLock acquires name, runs fn, and releases name regardless of how fn
// returns (normal return, error, or panic) — it recovers a panic from fn,
// releases the lock, and re-panics, satisfying "release on every exit
// path" from spec.md §4.4.
func WithLock(ctx context.Context, lm *LockManager, name string, fn func(ctx context.Context) error) (err error) {
	if err := lm.acquire(ctx, name); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			lm.release(context.Background(), name)
			panic(r)
		}
	}()

	defer func() {
		if relErr := lm.release(context.Background(), name); relErr != nil {
			lm.log.Warn().Str("lock", name).Err(relErr).Msg("failed to release lock")
		}
	}()

	return fn(ctx)
}

// acquire attempts up to lockMaxAttempts times, reclaiming any stale row
// for name before each insert-or-fail attempt.
func (lm *LockManager) acquire(ctx context.Context, name string) error {
	backoff := lockInitialBackoff

	for attempt := 1; attempt <= lockMaxAttempts; attempt++ {
		acquired, err := lm.tryAcquireOnce(ctx, name)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if attempt == lockMaxAttempts {
			break
		}
		metrics.LockContention.WithLabelValues(name).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(math.Min(float64(backoff*2), float64(lockMaxBackoff)))
	}

	lm.log.Warn().Str("lock", name).Int("attempts", lockMaxAttempts).Msg("lock acquisition failed")
	metrics.LockAcquisitionFailures.WithLabelValues(name).Inc()
	return WrapLockFailure(name, lockMaxAttempts)
}

func (lm *LockManager) tryAcquireOnce(ctx context.Context, name string) (bool, error) {
	var acquired bool
	err := lm.pool.checkout(ctx, func(db *sql.DB) error {
		nowSec := now()

		if _, err := db.ExecContext(ctx,
			"DELETE FROM locks WHERE name = ? AND expires_at < ?", name, nowSec); err != nil {
			return WrapDatabase("reclaim stale lock", err)
		}

		_, err := db.ExecContext(ctx,
			"INSERT INTO locks (name, holder_id, acquired_at, expires_at) VALUES (?, ?, ?, ?)",
			name, lm.holderID, nowSec, nowSec+int64(lockTimeout.Seconds()))
		if err == nil {
			acquired = true
			return nil
		}

		if isUniqueConstraintErr(err) {
			acquired = false
			return nil
		}
		return WrapDatabase("insert lock row", err)
	})
	return acquired, err
}

func (lm *LockManager) release(ctx context.Context, name string) error {
	return lm.pool.checkout(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"DELETE FROM locks WHERE name = ? AND holder_id = ?", name, lm.holderID)
		if err != nil {
			return WrapDatabase("release lock", err)
		}
		return nil
	})
}

// isUniqueConstraintErr reports whether err is a SQLite primary-key /
// uniqueness violation, the signal that another holder already owns the
// lock row. modernc.org/sqlite surfaces this as a *sqlite.Error whose
// message contains "UNIQUE constraint failed"; matching on the message is
// the portable approach the driver documents since it does not export a
// typed sentinel for this condition.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
