package keyvaluepg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEmptyKey indicates that an operation was attempted with a blank key.
var ErrEmptyKey = errors.New("keyvalue.pgx.empty_key")

// PostgresStore persists key-value entries in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Open builds a pool for databaseURL, ensures the schema, and returns the store.
func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("keyvalue.pgx.pool: %w", err)
	}
	if schemaErr := EnsureSchema(ctx, pool); schemaErr != nil {
		pool.Close()
		return nil, fmt.Errorf("keyvalue.pgx.schema: %w", schemaErr)
	}
	return NewPostgresStore(pool), nil
}

// Get returns the value stored under key.
func (store *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("keyvalue.pgx.get: %w", ErrEmptyKey)
	}
	var value string
	row := store.pool.QueryRow(ctx, `
SELECT entry_value
FROM credential_entries
WHERE entry_key = $1
`, key)
	if scanErr := row.Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("keyvalue.pgx.get: %w", scanErr)
	}
	return value, true, nil
}

// Set upserts value under key.
func (store *PostgresStore) Set(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.pgx.set: %w", ErrEmptyKey)
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO credential_entries (entry_key, entry_value, updated_at_unix)
VALUES ($1, $2, $3)
ON CONFLICT (entry_key) DO UPDATE
SET entry_value = EXCLUDED.entry_value, updated_at_unix = EXCLUDED.updated_at_unix
`, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("keyvalue.pgx.set: %w", err)
	}
	return nil
}

// Remove deletes key; removing an absent key succeeds.
func (store *PostgresStore) Remove(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.pgx.remove: %w", ErrEmptyKey)
	}
	if _, err := store.pool.Exec(ctx, `DELETE FROM credential_entries WHERE entry_key = $1`, key); err != nil {
		return fmt.Errorf("keyvalue.pgx.remove: %w", err)
	}
	return nil
}

// Driver reports the backend label.
func (store *PostgresStore) Driver() string {
	return "pgx"
}

// Close releases the pool.
func (store *PostgresStore) Close() error {
	store.pool.Close()
	return nil
}
