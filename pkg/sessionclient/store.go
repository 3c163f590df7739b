package sessionclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// KeyValueStore is the persistent store holding the credential under a single key.
type KeyValueStore interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

// CredentialStore owns the persisted bearer credential.
type CredentialStore struct {
	backend KeyValueStore
	key     string
	logger  *zap.Logger
}

// NewCredentialStore wraps backend; an empty key selects DefaultStorageKey.
func NewCredentialStore(backend KeyValueStore, key string, logger *zap.Logger) *CredentialStore {
	if backend == nil {
		panic("credential store backend is required")
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultStorageKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialStore{backend: backend, key: key, logger: logger}
}

// Put persists the credential, replacing any previous one.
func (store *CredentialStore) Put(ctx context.Context, credentialText string) error {
	if strings.TrimSpace(credentialText) == "" {
		return fmt.Errorf("session.store.put: %w", ErrInvalidCredential)
	}
	if err := store.backend.Set(ctx, store.key, credentialText); err != nil {
		return fmt.Errorf("session.store.put: %w: %w", ErrStorage, err)
	}
	return nil
}

// Get returns the stored credential. Backend read errors are logged and reported as absent.
func (store *CredentialStore) Get(ctx context.Context) (string, bool) {
	value, found, err := store.backend.Get(ctx, store.key)
	if err != nil {
		store.logger.Warn("credential read failed",
			zap.String("code", "session.store.get_failed"),
			zap.Error(err))
		return "", false
	}
	if !found || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// Clear removes the credential. Failures are logged and never returned.
func (store *CredentialStore) Clear(ctx context.Context) {
	if err := store.backend.Remove(ctx, store.key); err != nil {
		store.logger.Error("credential clear failed",
			zap.String("code", "session.store.clear_failed"),
			zap.Error(err))
	}
}
