package keyvaluepg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the entry table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credential_entries (
    entry_key TEXT PRIMARY KEY,
    entry_value TEXT NOT NULL,
    updated_at_unix BIGINT NOT NULL
);
`)
	return err
}
