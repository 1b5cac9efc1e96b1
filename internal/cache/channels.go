package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/metrics"
)

// Channel is the materialized view of one remote workspace channel.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	IsIM      bool   `json:"is_im"`
	IsMPIM    bool   `json:"is_mpim"`
}

// ChannelRepository mirrors UserRepository for the channels entity: same
// atomic-swap save, point-get, two-phase search, staleness check. Search
// has no email field and no bot exclusion, the two respects in which
// spec.md §4.5 distinguishes the two entities.
type ChannelRepository struct {
	pool  *pool
	locks *LockManager
	log   zerolog.Logger
}

func newChannelRepository(p *pool, lm *LockManager, log zerolog.Logger) *ChannelRepository {
	return &ChannelRepository{pool: p, locks: lm, log: log.With().Str("component", "channels").Logger()}
}

// Save atomically replaces the entire channels table with all.
func (r *ChannelRepository) Save(ctx context.Context, all []Channel) error {
	return WithLock(ctx, r.locks, "refresh_channels", func(ctx context.Context) error {
		return r.saveLocked(ctx, all)
	})
}

// Refresh runs fetch under the "refresh_channels" lock, then saves
// whatever it returns — see UserRepository.Refresh for why the lock must
// span the fetch, not just the swap.
func (r *ChannelRepository) Refresh(ctx context.Context, fetch func(ctx context.Context) ([]Channel, error)) error {
	return WithLock(ctx, r.locks, "refresh_channels", func(ctx context.Context) error {
		all, err := fetch(ctx)
		if err != nil {
			return err
		}
		return r.saveLocked(ctx, all)
	})
}

// RefreshIfStale is the TTL-driven counterpart to Refresh: see
// UserRepository.RefreshIfStale for why the recheck happens inside the
// lock rather than before acquiring it.
func (r *ChannelRepository) RefreshIfStale(ctx context.Context, ttlHours int, fetch func(ctx context.Context) ([]Channel, error)) (bool, error) {
	var didFetch bool
	err := WithLock(ctx, r.locks, "refresh_channels", func(ctx context.Context) error {
		empty, err := r.IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			stale, err := r.IsStale(ctx, ttlHours)
			if err != nil {
				return err
			}
			if !stale {
				return nil
			}
		}

		all, err := fetch(ctx)
		if err != nil {
			return err
		}
		didFetch = true
		return r.saveLocked(ctx, all)
	})
	return didFetch, err
}

func (r *ChannelRepository) saveLocked(ctx context.Context, all []Channel) error {
	return r.pool.checkout(ctx, func(db *sql.DB) error {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return WrapDatabase("begin save(channels) tx", err)
			}
			defer tx.Rollback()

			if _, err := tx.ExecContext(ctx, `
				CREATE TEMP TABLE IF NOT EXISTS channels_staging (
					id TEXT PRIMARY KEY,
					doc TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)
			`); err != nil {
				return WrapDatabase("create channels staging table", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM channels_staging"); err != nil {
				return WrapDatabase("truncate channels staging table", err)
			}

			nowSec := now()
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO channels_staging (id, doc, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
			`)
			if err != nil {
				return WrapDatabase("prepare channels staging insert", err)
			}
			defer stmt.Close()

			for _, c := range all {
				doc, err := json.Marshal(c)
				if err != nil {
					return WrapSerialization("marshal channel "+c.ID, err)
				}
				if _, err := stmt.ExecContext(ctx, c.ID, string(doc), nowSec); err != nil {
					return WrapDatabase("insert channel staging row", err)
				}
			}

			if _, err := tx.ExecContext(ctx, "DELETE FROM channels"); err != nil {
				return WrapDatabase("clear channels table", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO channels (id, doc, updated_at) SELECT id, doc, updated_at FROM channels_staging
			`); err != nil {
				return WrapDatabase("swap channels table", err)
			}

			if err := setMetadataTx(ctx, tx, metaLastChannelsSync, fmt.Sprintf("%d", nowSec)); err != nil {
				return err
			}

			if err := tx.Commit(); err != nil {
				return WrapDatabase("commit save(channels)", err)
			}

		r.log.Info().Int("count", len(all)).Msg("channels snapshot saved")
		return nil
	})
}

// Get returns the channel with id, or found=false if no such row exists.
func (r *ChannelRepository) Get(ctx context.Context, id string) (*Channel, bool, error) {
	var c Channel
	var found bool

	err := r.pool.checkout(ctx, func(db *sql.DB) error {
		var doc string
		err := db.QueryRowContext(ctx, "SELECT doc FROM channels WHERE id = ?", id).Scan(&doc)
		switch {
		case err == sql.ErrNoRows:
			return nil
		case err != nil:
			return WrapDatabase("get channel", err)
		}
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return WrapSerialization("unmarshal channel "+id, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if found {
		metrics.CacheHits.WithLabelValues("channels").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("channels").Inc()
	}
	return &c, found, nil
}

// Search implements the same two-phase strategy as UserRepository.Search,
// against the name column only (channels have no display_name/real_name/
// email fields).
func (r *ChannelRepository) Search(ctx context.Context, query string, limit int) ([]Channel, error) {
	if limit <= 0 {
		limit = 20
	}

	substringTimer := prometheus.NewTimer(metrics.SearchLatency.WithLabelValues("channels", "substring"))
	results, err := r.searchSubstring(ctx, query, limit)
	substringTimer.ObserveDuration()
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	sanitized := Sanitize(query)
	if sanitized == emptySentinel {
		return results, nil
	}

	ftsTimer := prometheus.NewTimer(metrics.SearchLatency.WithLabelValues("channels", "fts"))
	defer ftsTimer.ObserveDuration()
	return r.searchFTS(ctx, sanitized, limit)
}

func (r *ChannelRepository) searchSubstring(ctx context.Context, query string, limit int) ([]Channel, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	const q = `
		SELECT doc FROM (
			SELECT doc, id, name,
				CASE WHEN lower(name) = ? THEN 0
				     WHEN lower(name) LIKE ? ESCAPE '\' THEN 1
				     WHEN lower(name) LIKE ? ESCAPE '\' THEN 2
				     WHEN lower(name) LIKE ? ESCAPE '\' THEN 3
				     ELSE 99
				END AS score
			FROM channels
			WHERE lower(name) LIKE ? ESCAPE '\'
		)
		WHERE score < 99
		ORDER BY score ASC, name ASC, id ASC
		LIMIT ?
	`

	like := "%" + escapeLike(needle) + "%"
	prefixLike := escapeLike(needle) + "%"
	wordLike := "% " + escapeLike(needle) + "%"

	return r.queryChannels(ctx, q, needle, prefixLike, wordLike, like, like, limit)
}

func (r *ChannelRepository) searchFTS(ctx context.Context, matchExpr string, limit int) ([]Channel, error) {
	const q = `
		SELECT c.doc
		FROM channels_fts f
		JOIN channels c ON c.rowid = f.rowid
		WHERE f.channels_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`
	return r.queryChannels(ctx, q, matchExpr, limit)
}

func (r *ChannelRepository) queryChannels(ctx context.Context, query string, args ...any) ([]Channel, error) {
	var out []Channel
	err := r.pool.checkout(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return WrapDatabase("search channels", err)
		}
		defer rows.Close()

		for rows.Next() {
			var doc string
			if err := rows.Scan(&doc); err != nil {
				return WrapDatabase("scan channel search row", err)
			}
			var c Channel
			if err := json.Unmarshal([]byte(doc), &c); err != nil {
				return WrapSerialization("unmarshal search result", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsStale reports whether last_channels_sync is absent or older than
// ttlHours.
func (r *ChannelRepository) IsStale(ctx context.Context, ttlHours int) (bool, error) {
	return isStale(ctx, r.pool, metaLastChannelsSync, ttlHours)
}

// Count returns the number of cached channels.
func (r *ChannelRepository) Count(ctx context.Context) (int, error) {
	return countRows(ctx, r.pool, "channels")
}

// IsEmpty reports whether the channels table currently holds zero rows.
func (r *ChannelRepository) IsEmpty(ctx context.Context) (bool, error) {
	n, err := r.Count(ctx)
	return n == 0, err
}
