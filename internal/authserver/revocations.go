package authserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/tauthclient/pkg/credential"
)

// RevocationList records credential ids that must no longer be accepted.
type RevocationList interface {
	// Revoke blocks credentialID until the given instant.
	Revoke(ctx context.Context, credentialID string, until time.Time) error
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

type memoryRevocationList struct {
	mutex   sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationList constructs an in-memory list that forgets entries past their horizon.
func NewMemoryRevocationList(clock credential.Clock) RevocationList {
	if clock == nil {
		clock = credential.SystemClock()
	}
	return &memoryRevocationList{
		entries: make(map[string]time.Time),
		now:     clock.Now,
	}
}

func (list *memoryRevocationList) Revoke(ctx context.Context, credentialID string, until time.Time) error {
	if strings.TrimSpace(credentialID) == "" {
		return nil
	}
	list.mutex.Lock()
	defer list.mutex.Unlock()
	list.purgeExpiredLocked()
	list.entries[credentialID] = until
	return nil
}

func (list *memoryRevocationList) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	list.mutex.Lock()
	defer list.mutex.Unlock()
	list.purgeExpiredLocked()
	_, ok := list.entries[credentialID]
	return ok, nil
}

func (list *memoryRevocationList) purgeExpiredLocked() {
	if len(list.entries) == 0 {
		return
	}
	now := list.now()
	for credentialID, until := range list.entries {
		if now.After(until) {
			delete(list.entries, credentialID)
		}
	}
}

// KeyValueStore is the persistence a StoreRevocationList writes through.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

const revocationKeyPrefix = "revoked."

// StoreRevocationList persists revocations in a key-value backend so they survive restarts.
type StoreRevocationList struct {
	store KeyValueStore
	clock credential.Clock
}

// NewStoreRevocationList wraps store.
func NewStoreRevocationList(store KeyValueStore, clock credential.Clock) *StoreRevocationList {
	if store == nil {
		panic("revocation store is required")
	}
	if clock == nil {
		clock = credential.SystemClock()
	}
	return &StoreRevocationList{store: store, clock: clock}
}

// Revoke records credentialID with its horizon.
func (list *StoreRevocationList) Revoke(ctx context.Context, credentialID string, until time.Time) error {
	if strings.TrimSpace(credentialID) == "" {
		return nil
	}
	if err := list.store.Set(ctx, revocationKeyPrefix+credentialID, strconv.FormatInt(until.Unix(), 10)); err != nil {
		return fmt.Errorf("authserver.revocations.revoke: %w", err)
	}
	return nil
}

// IsRevoked reports whether credentialID is revoked; entries past their horizon are removed.
func (list *StoreRevocationList) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	key := revocationKeyPrefix + credentialID
	value, found, err := list.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("authserver.revocations.lookup: %w", err)
	}
	if !found {
		return false, nil
	}
	untilUnix, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr != nil {
		return true, nil
	}
	if list.clock.Now().After(time.Unix(untilUnix, 0)) {
		_ = list.store.Remove(ctx, key)
		return false, nil
	}
	return true, nil
}
