package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine owns the pooled SQLite handle, the per-process lock holder id,
// and the repositories built on top of it. It is the cache-layer
// counterpart of the teacher's core.Engine: one construction point that
// every tool handler shares, generalized from a single-writer config
// store to a multi-reader/single-writer-per-entity workspace cache.
type Engine struct {
	pool     *pool
	path     string
	holderID string
	log      zerolog.Logger

	Users    *UserRepository
	Channels *ChannelRepository
	Locks    *LockManager
}

// Option configures Engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	maxConnections int
	logger         zerolog.Logger
}

// WithMaxConnections overrides the pool size (default DefaultMaxConnections).
func WithMaxConnections(n int) Option {
	return func(o *engineOptions) { o.maxConnections = n }
}

// WithLogger overrides the zerolog.Logger every component logs through.
func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// NewEngine opens (creating if absent) the database at dataPath and
// initializes the schema. If dataPath is empty, it defaults to
// ~/.wscache/cache.db, mirroring spec.md §6's "Persisted state" default.
func NewEngine(dataPath string, opts ...Option) (*Engine, error) {
	o := engineOptions{maxConnections: DefaultMaxConnections, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if dataPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, WrapClock(err)
		}
		dataPath = filepath.Join(home, ".wscache", "cache.db")
	}

	if dir := filepath.Dir(dataPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, WrapDatabase("create data directory", err)
		}
	}

	p, err := openPool(dataPath, o.maxConnections)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		pool:     p,
		path:     dataPath,
		holderID: uuid.New().String(),
		log:      o.logger,
	}

	if err := e.initSchema(context.Background()); err != nil {
		p.close()
		return nil, err
	}

	e.Locks = newLockManager(e.pool, e.holderID, e.log)
	e.Users = newUserRepository(e.pool, e.Locks, e.log)
	e.Channels = newChannelRepository(e.pool, e.Locks, e.log)

	return e, nil
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.path }

// HolderID returns this process's lock-holder identifier.
func (e *Engine) HolderID() string { return e.holderID }

// Close releases the pooled handle, checkpointing the WAL first.
func (e *Engine) Close() error {
	if err := e.pool.checkout(context.Background(), func(db *sql.DB) error {
		_, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return err
	}); err != nil {
		e.log.Warn().Err(err).Msg("wal checkpoint on close failed")
	}
	return e.pool.close()
}

func (e *Engine) initSchema(ctx context.Context) error {
	return e.pool.checkout(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
			return WrapDatabase("init schema", err)
		}

		var existing string
		err := db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", metaSchemaVersion).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			_, err := db.ExecContext(ctx,
				"INSERT INTO metadata (key, value) VALUES (?, ?)",
				metaSchemaVersion, fmt.Sprintf("%d", SchemaVersion))
			if err != nil {
				return WrapDatabase("stamp schema_version", err)
			}
			return nil
		case err != nil:
			return WrapDatabase("read schema_version", err)
		}

		var version int
		if _, err := fmt.Sscanf(existing, "%d", &version); err != nil {
			return WrapDatabase("parse schema_version", err)
		}
		if version != SchemaVersion {
			// Fatal-for-process per spec.md §7: a schema_version mismatch
			// this build has no migration for must stop the process before
			// it enters a serving loop, not attempt to limp along.
			return WrapDatabase("schema_version mismatch",
				fmt.Errorf("on-disk schema_version %d, binary expects %d and has no migration path", version, SchemaVersion))
		}
		return nil
	})
}

// now returns the current wall-clock second, the single place the engine
// reads the clock so a future fake-clock injection point is obvious.
func now() int64 { return time.Now().Unix() }
