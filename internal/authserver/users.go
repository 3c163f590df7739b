package authserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// UserStore authenticates subjects and resolves their role.
type UserStore interface {
	Authenticate(ctx context.Context, subject string, secret string) (role string, err error)
	Role(ctx context.Context, subject string) (role string, err error)
}

// InMemoryUsers is a bcrypt-backed user store used for demo and local runs.
type InMemoryUsers struct {
	mutex sync.RWMutex
	users map[string]userRecord
	cost  int
}

type userRecord struct {
	secretHash []byte
	role       string
}

// NewInMemoryUsers constructs an empty store hashing secrets at cost; zero selects bcrypt.DefaultCost.
func NewInMemoryUsers(cost int) *InMemoryUsers {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &InMemoryUsers{users: make(map[string]userRecord), cost: cost}
}

// ParseDevUsers builds a store from "subject:secret:role" entries. The secret may
// itself contain colons.
func ParseDevUsers(entries []string, cost int) (*InMemoryUsers, error) {
	store := NewInMemoryUsers(cost)
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		first := strings.Index(trimmed, ":")
		last := strings.LastIndex(trimmed, ":")
		if first < 0 || first == last {
			return nil, fmt.Errorf("authserver.users.parse: entry %q must be subject:secret:role", trimmed)
		}
		if err := store.Add(trimmed[:first], trimmed[first+1:last], trimmed[last+1:]); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Add registers or replaces a user.
func (store *InMemoryUsers) Add(subject string, secret string, role string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" || secret == "" {
		return fmt.Errorf("authserver.users.add: subject and secret are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), store.cost)
	if err != nil {
		return fmt.Errorf("authserver.users.add: %w", err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.users[subject] = userRecord{secretHash: hash, role: strings.TrimSpace(role)}
	return nil
}

// Authenticate verifies secret against the stored hash.
func (store *InMemoryUsers) Authenticate(ctx context.Context, subject string, secret string) (string, error) {
	store.mutex.RLock()
	record, ok := store.users[subject]
	store.mutex.RUnlock()
	if !ok {
		return "", ErrUnknownUser
	}
	if err := bcrypt.CompareHashAndPassword(record.secretHash, []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return "", ErrSecretMismatch
		}
		return "", fmt.Errorf("authserver.users.authenticate: %w", err)
	}
	return record.role, nil
}

// Role returns the current role of subject.
func (store *InMemoryUsers) Role(ctx context.Context, subject string) (string, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	record, ok := store.users[subject]
	if !ok {
		return "", ErrUnknownUser
	}
	return record.role, nil
}

// Len reports the number of registered users.
func (store *InMemoryUsers) Len() int {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return len(store.users)
}
