package cache

import (
	"context"
	"database/sql"
	"fmt"
)

// getMetadata reads a metadata scalar, returning ("", false, nil) if absent.
func getMetadata(ctx context.Context, db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, WrapDatabase("read metadata "+key, err)
	}
	return value, true, nil
}

// setMetadataTx upserts a metadata scalar within an existing transaction,
// used by save() to stamp last_<entity>_sync atomically with the swap.
func setMetadataTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return WrapDatabase("write metadata "+key, err)
	}
	return nil
}

// getMetadataInt64 reads a metadata scalar as an int64, returning 0, false
// if absent or unparseable.
func getMetadataInt64(ctx context.Context, db *sql.DB, key string) (int64, bool, error) {
	raw, ok, err := getMetadata(ctx, db, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	var v int64
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, false, nil
	}
	return v, true, nil
}
