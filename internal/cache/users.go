package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/metrics"
)

// User is the materialized view of one remote workspace member. Its JSON
// encoding is exactly what gets persisted as the row's document; Save
// marshals it afresh so the derived columns (name, display_name,
// real_name, email, is_bot) always reflect the fields below.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
	Email       string `json:"email"`
	IsBot       bool   `json:"is_bot"`
}

// UserRepository implements spec.md §4.5 for the users entity: atomic
// snapshot replacement, point-get, two-phase search, and staleness
// checks. Its shape — Exec/Query/QueryRow against a shared handle, plain
// structs decoded from the stored JSON document — follows the teacher's
// session.Manager methods.
type UserRepository struct {
	pool  *pool
	locks *LockManager
	log   zerolog.Logger
}

func newUserRepository(p *pool, lm *LockManager, log zerolog.Logger) *UserRepository {
	return &UserRepository{pool: p, locks: lm, log: log.With().Str("component", "users").Logger()}
}

// Save atomically replaces the entire users table with all, following the
// lock → temp table → delete+insert → metadata upsert → commit protocol
// from spec.md §4.5. Duplicate ids within all are resolved last-wins by
// insertion order.
func (r *UserRepository) Save(ctx context.Context, all []User) error {
	return WithLock(ctx, r.locks, "refresh_users", func(ctx context.Context) error {
		return r.saveLocked(ctx, all)
	})
}

// Refresh runs fetch under the same "refresh_users" lock that guards the
// swap, then saves whatever it returns — the lock → fetch → save flow
// from spec.md §4.7. Holding the lock across the HTTP fetch (not just the
// swap) is what gives scenario S4 its guarantee that only one concurrent
// refresh(all) performs HTTP calls; a plain Save-after-fetch would let
// two callers both fetch before either swaps.
func (r *UserRepository) Refresh(ctx context.Context, fetch func(ctx context.Context) ([]User, error)) error {
	return WithLock(ctx, r.locks, "refresh_users", func(ctx context.Context) error {
		all, err := fetch(ctx)
		if err != nil {
			return err
		}
		return r.saveLocked(ctx, all)
	})
}

// RefreshIfStale is Refresh for the TTL-driven startup path: after the
// "refresh_users" lock is acquired, it rechecks IsEmpty/IsStale before
// fetching. A concurrent caller that was waiting on the same lock while
// another refresh ran to completion will find the snapshot already fresh
// and skip the HTTP fetch entirely instead of repeating it. The explicit
// operator-requested Refresh above intentionally has no such recheck: a
// forced refresh(scope) always fetches.
func (r *UserRepository) RefreshIfStale(ctx context.Context, ttlHours int, fetch func(ctx context.Context) ([]User, error)) (bool, error) {
	var didFetch bool
	err := WithLock(ctx, r.locks, "refresh_users", func(ctx context.Context) error {
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

func (r *UserRepository) saveLocked(ctx context.Context, all []User) error {
	return r.pool.checkout(ctx, func(db *sql.DB) error {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return WrapDatabase("begin save(users) tx", err)
			}
			defer tx.Rollback()

			if _, err := tx.ExecContext(ctx, `
				CREATE TEMP TABLE IF NOT EXISTS users_staging (
					id TEXT PRIMARY KEY,
					doc TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)
			`); err != nil {
				return WrapDatabase("create users staging table", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM users_staging"); err != nil {
				return WrapDatabase("truncate users staging table", err)
			}

			nowSec := now()
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO users_staging (id, doc, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
			`)
			if err != nil {
				return WrapDatabase("prepare users staging insert", err)
			}
			defer stmt.Close()

			for _, u := range all {
				doc, err := json.Marshal(u)
				if err != nil {
					return WrapSerialization("marshal user "+u.ID, err)
				}
				if _, err := stmt.ExecContext(ctx, u.ID, string(doc), nowSec); err != nil {
					return WrapDatabase("insert user staging row", err)
				}
			}

			if _, err := tx.ExecContext(ctx, "DELETE FROM users"); err != nil {
				return WrapDatabase("clear users table", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO users (id, doc, updated_at) SELECT id, doc, updated_at FROM users_staging
			`); err != nil {
				return WrapDatabase("swap users table", err)
			}

			if err := setMetadataTx(ctx, tx, metaLastUsersSync, fmt.Sprintf("%d", nowSec)); err != nil {
				return err
			}

			if err := tx.Commit(); err != nil {
				return WrapDatabase("commit save(users)", err)
			}

		r.log.Info().Int("count", len(all)).Msg("users snapshot saved")
		return nil
	})
}

// Get returns the user with id, or found=false if no such row exists.
// Not-found is not a failing condition per spec.md §4.5.
func (r *UserRepository) Get(ctx context.Context, id string) (*User, bool, error) {
	var u User
	var found bool

	err := r.pool.checkout(ctx, func(db *sql.DB) error {
		var doc string
		err := db.QueryRowContext(ctx, "SELECT doc FROM users WHERE id = ?", id).Scan(&doc)
		switch {
		case err == sql.ErrNoRows:
			return nil
		case err != nil:
			return WrapDatabase("get user", err)
		}
		if err := json.Unmarshal([]byte(doc), &u); err != nil {
			return WrapSerialization("unmarshal user "+id, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if found {
		metrics.CacheHits.WithLabelValues("users").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("users").Inc()
	}
	return &u, found, nil
}

// Search implements the two-phase strategy from spec.md §4.5: a
// substring-with-priority-ranking phase first, falling back to FTS only
// if phase 1 finds nothing and the sanitized query is non-empty. Bots
// are excluded from user search by default.
func (r *UserRepository) Search(ctx context.Context, query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}

	substringTimer := prometheus.NewTimer(metrics.SearchLatency.WithLabelValues("users", "substring"))
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

	ftsTimer := prometheus.NewTimer(metrics.SearchLatency.WithLabelValues("users", "fts"))
	defer ftsTimer.ObserveDuration()
	return r.searchFTS(ctx, sanitized, limit)
}

func (r *UserRepository) searchSubstring(ctx context.Context, query string, limit int) ([]User, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	like := "%" + escapeLike(needle) + "%"

	const q = `
		SELECT doc FROM (
			SELECT doc, id, name,
				CASE WHEN lower(name) = ? OR lower(display_name) = ? OR lower(real_name) = ? OR lower(email) = ? THEN 0
				     WHEN lower(name) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\' OR lower(real_name) LIKE ? ESCAPE '\' THEN 1
				     WHEN lower(name) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\' OR lower(real_name) LIKE ? ESCAPE '\' THEN 2
				     WHEN lower(name) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\' OR lower(real_name) LIKE ? ESCAPE '\' OR lower(email) LIKE ? ESCAPE '\' THEN 3
				     ELSE 99
				END AS score
			FROM users
			WHERE is_bot = 0 AND (
				lower(name) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\' OR
				lower(real_name) LIKE ? ESCAPE '\' OR lower(email) LIKE ? ESCAPE '\'
			)
		)
		WHERE score < 99
		ORDER BY score ASC, name ASC, id ASC
		LIMIT ?
	`

	prefixLike := escapeLike(needle) + "%"
	wordLike := "% " + escapeLike(needle) + "%"

	args := []any{
		needle, needle, needle, needle, // score 0: exact
		prefixLike, prefixLike, prefixLike, // score 1: prefix
		wordLike, wordLike, wordLike, // score 2: word-boundary substring
		like, like, like, like, // score 3: any substring
		like, like, like, like, // WHERE clause filter
		limit,
	}

	return r.queryUsers(ctx, q, args...)
}

func (r *UserRepository) searchFTS(ctx context.Context, matchExpr string, limit int) ([]User, error) {
	const q = `
		SELECT u.doc
		FROM users_fts f
		JOIN users u ON u.rowid = f.rowid
		WHERE f.users_fts MATCH ? AND u.is_bot = 0
		ORDER BY rank
		LIMIT ?
	`
	return r.queryUsers(ctx, q, matchExpr, limit)
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	var out []User
	err := r.pool.checkout(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return WrapDatabase("search users", err)
		}
		defer rows.Close()

		for rows.Next() {
			var doc string
			if err := rows.Scan(&doc); err != nil {
				return WrapDatabase("scan user search row", err)
			}
			var u User
			if err := json.Unmarshal([]byte(doc), &u); err != nil {
				return WrapSerialization("unmarshal search result", err)
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsStale reports whether last_users_sync is absent or older than
// ttlHours.
func (r *UserRepository) IsStale(ctx context.Context, ttlHours int) (bool, error) {
	return isStale(ctx, r.pool, metaLastUsersSync, ttlHours)
}

// Count returns the number of cached users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	return countRows(ctx, r.pool, "users")
}

// IsEmpty reports whether the users table currently holds zero rows.
func (r *UserRepository) IsEmpty(ctx context.Context) (bool, error) {
	n, err := r.Count(ctx)
	return n == 0, err
}

func isStale(ctx context.Context, p *pool, key string, ttlHours int) (bool, error) {
	var stale bool
	err := p.checkout(ctx, func(db *sql.DB) error {
		lastSync, ok, err := getMetadataInt64(ctx, db, key)
		if err != nil {
			return err
		}
		if !ok {
			stale = true
			return nil
		}
		cutoff := time.Now().Add(-time.Duration(ttlHours) * time.Hour).Unix()
		stale = lastSync < cutoff
		return nil
	})
	return stale, err
}

func countRows(ctx context.Context, p *pool, table string) (int, error) {
	var n int
	err := p.checkout(ctx, func(db *sql.DB) error {
		// table is one of a fixed internal set ("users", "channels"), never
		// user input, so string-building the identifier here is safe.
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	})
	if err != nil {
		return 0, WrapDatabase("count "+table, err)
	}
	return n, nil
}

// escapeLike escapes SQLite LIKE wildcard characters (% _ \) in a value
// that will be interpolated into a LIKE pattern via parameter binding, so
// that the query itself (rather than the user's input) controls the
// wildcard positions.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
