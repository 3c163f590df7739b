package keyvalue

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tyemirov/tauthclient/internal/keyvaluepg"
)

// Store is a persistent key-value backend that can be closed.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	Driver() string
	Close() error
}

// Open selects a backend from the store URL scheme: memory://, sqlite://,
// postgres:// (GORM), pgx:// (pgx pool), redis:// or rediss://.
func Open(ctx context.Context, storeURL string) (Store, error) {
	trimmed := strings.TrimSpace(storeURL)
	if trimmed == "" {
		return nil, fmt.Errorf("keyvalue.open: %w", errEmptyStoreURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("keyvalue.open.parse_url: %w", err)
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "":
		return nil, fmt.Errorf("keyvalue.open: %w", errUnsupportedNoScheme)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "postgres", "postgresql":
		store, openErr := NewDatabaseStore(ctx, trimmed)
		if openErr != nil {
			return nil, openErr
		}
		return store, nil
	case "pgx":
		store, openErr := keyvaluepg.Open(ctx, "postgres"+strings.TrimPrefix(trimmed, parsed.Scheme))
		if openErr != nil {
			return nil, openErr
		}
		return store, nil
	case "redis", "rediss":
		store, openErr := NewRedisStoreFromURL(ctx, trimmed)
		if openErr != nil {
			return nil, openErr
		}
		return store, nil
	default:
		return nil, fmt.Errorf("keyvalue.open.%s: %w", scheme, ErrUnsupportedScheme)
	}
}
