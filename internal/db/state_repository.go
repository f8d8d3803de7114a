package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/kv"
)

// StateRepository stores named state blobs in the plugin_state table.
// It implements kv.Store.
type StateRepository struct {
	db *DB
}

// NewStateRepository creates a new state repository.
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get returns the blob stored under key, or kv.ErrNotFound.
func (r *StateRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.pool.QueryRow(ctx, `
		SELECT value
		FROM plugin_state
		WHERE key = $1
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		LogQueryError("get_state", err)
		return nil, fmt.Errorf("query state %s: %w", key, err)
	}
	return value, nil
}

// Put upserts the blob stored under key.
func (r *StateRepository) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO plugin_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		LogQueryError("put_state", err)
		return fmt.Errorf("upsert state %s: %w", key, err)
	}
	return nil
}

// Health checks database connectivity.
func (r *StateRepository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Close closes the underlying pool.
func (r *StateRepository) Close() error {
	r.db.Close()
	return nil
}
