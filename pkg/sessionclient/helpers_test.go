package sessionclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/tyemirov/tauthclient/internal/keyvalue"
	"github.com/tyemirov/tauthclient/pkg/credential"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

var testNow = time.Unix(1700000000, 0).UTC()

func mintCredential(t *testing.T, subject string, role string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, credential.TokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte("session-client-test-key"))
	if err != nil {
		t.Fatalf("failed to sign credential: %v", err)
	}
	return signed
}

type memoryBackend struct {
	mutex   sync.Mutex
	values  map[string]string
	removes int
	getErr  error
	setErr  error
	remErr  error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{values: make(map[string]string)}
}

func (backend *memoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if backend.getErr != nil {
		return "", false, backend.getErr
	}
	value, ok := backend.values[key]
	return value, ok, nil
}

func (backend *memoryBackend) Set(ctx context.Context, key string, value string) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if backend.setErr != nil {
		return backend.setErr
	}
	backend.values[key] = value
	return nil
}

func (backend *memoryBackend) Remove(ctx context.Context, key string) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.removes++
	if backend.remErr != nil {
		return backend.remErr
	}
	delete(backend.values, key)
	return nil
}

func (backend *memoryBackend) value(key string) (string, bool) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	value, ok := backend.values[key]
	return value, ok
}

func (backend *memoryBackend) removeCount() int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.removes
}

// gatedBackend pauses the first Set after arm until release is closed.
type gatedBackend struct {
	*memoryBackend
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		memoryBackend: newMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (backend *gatedBackend) arm() {
	backend.armed.Store(true)
}

func (backend *gatedBackend) Set(ctx context.Context, key string, value string) error {
	if backend.armed.CompareAndSwap(true, false) {
		close(backend.entered)
		<-backend.release
	}
	return backend.memoryBackend.Set(ctx, key, value)
}

const redisCredentialKey = "tauthclient:" + DefaultStorageKey

// newRedisBackend returns a Redis-backed store that fails on ended contexts.
func newRedisBackend(t *testing.T) (*keyvalue.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	store := keyvalue.NewRedisStore(redis.NewClient(&redis.Options{Addr: server.Addr()}), "")
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

type fakeAuthService struct {
	loginFunc   func(ctx context.Context, subject string, secret string) (string, error)
	refreshFunc func(ctx context.Context, credentialText string) (string, error)
	logoutFunc  func(ctx context.Context, credentialText string) error

	refreshCalls atomic.Int64
	logoutCalls  atomic.Int64
}

func (service *fakeAuthService) Login(ctx context.Context, subject string, secret string) (string, error) {
	if service.loginFunc != nil {
		return service.loginFunc(ctx, subject, secret)
	}
	return "", errors.New("login_not_configured")
}

func (service *fakeAuthService) Refresh(ctx context.Context, credentialText string) (string, error) {
	service.refreshCalls.Add(1)
	if service.refreshFunc != nil {
		return service.refreshFunc(ctx, credentialText)
	}
	return "", errors.New("refresh_not_configured")
}

func (service *fakeAuthService) Logout(ctx context.Context, credentialText string) error {
	service.logoutCalls.Add(1)
	if service.logoutFunc != nil {
		return service.logoutFunc(ctx, credentialText)
	}
	return nil
}

type sessionFixture struct {
	backend     *memoryBackend
	service     *fakeAuthService
	metrics     *CounterMetrics
	store       *CredentialStore
	inspector   *credential.Inspector
	logout      *LogoutController
	coordinator *RefreshCoordinator
}

func newSessionFixture(t *testing.T, service *fakeAuthService) *sessionFixture {
	t.Helper()
	return newSessionFixtureOn(t, service, newMemoryBackend())
}

func newSessionFixtureOn(t *testing.T, service *fakeAuthService, backend KeyValueStore) *sessionFixture {
	t.Helper()
	metrics := NewCounterMetrics()
	store := NewCredentialStore(backend, DefaultStorageKey, nil)
	inspector := credential.NewInspector(fixedClock{current: testNow})
	logout := NewLogoutController(store, service, nil, metrics)
	coordinator := NewRefreshCoordinator(store, inspector, service, logout, 7*24*time.Hour, nil, metrics)
	memory, _ := backend.(*memoryBackend)
	return &sessionFixture{
		backend:     memory,
		service:     service,
		metrics:     metrics,
		store:       store,
		inspector:   inspector,
		logout:      logout,
		coordinator: coordinator,
	}
}

// waitFor polls condition until it holds or the deadline passes.
func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

// recordedValue hands a string from an HTTP handler goroutine to the test.
type recordedValue struct {
	mutex sync.Mutex
	value string
}

func (recorded *recordedValue) set(value string) {
	recorded.mutex.Lock()
	defer recorded.mutex.Unlock()
	recorded.value = value
}

func (recorded *recordedValue) get() string {
	recorded.mutex.Lock()
	defer recorded.mutex.Unlock()
	return recorded.value
}
