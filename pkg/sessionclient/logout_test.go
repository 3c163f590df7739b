package sessionclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLogoutClearsStoreAndNotifiesRemote(t *testing.T) {
	t.Parallel()

	var presented string
	service := &fakeAuthService{logoutFunc: func(ctx context.Context, credentialText string) error {
		presented = credentialText
		return nil
	}}
	fixture := newSessionFixture(t, service)
	credentialText := mintCredential(t, "user-1", "user", testNow, time.Hour)
	if err := fixture.store.Put(context.Background(), credentialText); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if !fixture.logout.Logout(context.Background(), true) {
		t.Fatalf("expected logout to succeed")
	}
	if _, found := fixture.store.Get(context.Background()); found {
		t.Fatalf("expected credential to be cleared")
	}
	if service.logoutCalls.Load() != 1 {
		t.Fatalf("expected one remote logout, got %d", service.logoutCalls.Load())
	}
	if presented != credentialText {
		t.Fatalf("expected remote logout to receive the cleared credential")
	}
	if fixture.logout.InProgress() {
		t.Fatalf("expected guard to be released")
	}
}

func TestLogoutWithoutRemoteSkipsService(t *testing.T) {
	t.Parallel()

	service := &fakeAuthService{}
	fixture := newSessionFixture(t, service)

	if !fixture.logout.Logout(context.Background(), false) {
		t.Fatalf("expected logout to succeed")
	}
	if service.logoutCalls.Load() != 0 {
		t.Fatalf("expected no remote logout, got %d", service.logoutCalls.Load())
	}
}

func TestRemoteLogoutFailureIsSuppressed(t *testing.T) {
	t.Parallel()

	service := &fakeAuthService{logoutFunc: func(ctx context.Context, credentialText string) error {
		return errors.New("remote down")
	}}
	fixture := newSessionFixture(t, service)
	fixture.backend.remErr = errors.New("disk full")

	if !fixture.logout.Logout(context.Background(), true) {
		t.Fatalf("expected logout to report success despite failures")
	}
	if fixture.metrics.Count(metricLogoutRemoteFailed) != 1 {
		t.Fatalf("expected remote failure to be counted")
	}
}

func TestConcurrentLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	remoteStarted := make(chan struct{})
	releaseRemote := make(chan struct{})
	service := &fakeAuthService{logoutFunc: func(ctx context.Context, credentialText string) error {
		close(remoteStarted)
		<-releaseRemote
		return nil
	}}
	fixture := newSessionFixture(t, service)
	if err := fixture.store.Put(context.Background(), mintCredential(t, "user-1", "user", testNow, time.Hour)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	results := make(chan bool, 2)
	go func() {
		results <- fixture.logout.Logout(context.Background(), true)
	}()
	<-remoteStarted
	if !fixture.logout.InProgress() {
		t.Fatalf("expected guard to be set while remote logout runs")
	}

	go func() {
		results <- fixture.logout.Logout(context.Background(), true)
	}()
	waitFor(t, "second logout to join the first", func() bool {
		return fixture.metrics.Count(metricLogoutCoalesced) == 1
	})
	close(releaseRemote)

	for index := 0; index < 2; index++ {
		if !<-results {
			t.Fatalf("expected both logouts to settle successfully")
		}
	}
	if service.logoutCalls.Load() != 1 {
		t.Fatalf("expected exactly one remote logout, got %d", service.logoutCalls.Load())
	}
	if fixture.backend.removeCount() != 1 {
		t.Fatalf("expected store to be cleared exactly once, got %d", fixture.backend.removeCount())
	}
	if fixture.metrics.Count(metricLogoutStarted) != 1 {
		t.Fatalf("expected one logout episode, got %d", fixture.metrics.Count(metricLogoutStarted))
	}
}

func TestLogoutWaiterHonoursContext(t *testing.T) {
	t.Parallel()

	remoteStarted := make(chan struct{})
	releaseRemote := make(chan struct{})
	service := &fakeAuthService{logoutFunc: func(ctx context.Context, credentialText string) error {
		close(remoteStarted)
		<-releaseRemote
		return nil
	}}
	fixture := newSessionFixture(t, service)

	done := make(chan bool, 1)
	go func() {
		done <- fixture.logout.Logout(context.Background(), true)
	}()
	<-remoteStarted

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if fixture.logout.Logout(cancelled, true) {
		t.Fatalf("expected cancelled waiter to report false")
	}
	close(releaseRemote)
	if !<-done {
		t.Fatalf("expected first logout to succeed")
	}
}

func TestForceLogoutNotifiesSubscribersOncePerSession(t *testing.T) {
	t.Parallel()

	service := &fakeAuthService{}
	fixture := newSessionFixture(t, service)

	var mutex sync.Mutex
	notifications := 0
	fixture.logout.Subscribe(func() {
		mutex.Lock()
		defer mutex.Unlock()
		notifications++
	})
	countNotifications := func() int {
		mutex.Lock()
		defer mutex.Unlock()
		return notifications
	}

	fixture.logout.ForceLogout(context.Background())
	fixture.logout.ForceLogout(context.Background())
	fixture.logout.NotifyHostOnce()
	if countNotifications() != 1 {
		t.Fatalf("expected one notification, got %d", countNotifications())
	}
	if service.logoutCalls.Load() != 0 {
		t.Fatalf("expected forced logout to skip the remote service")
	}

	fixture.logout.ResetNotification()
	fixture.logout.ForceLogout(context.Background())
	if countNotifications() != 2 {
		t.Fatalf("expected notification after reset, got %d", countNotifications())
	}
}

func TestSubscribeUnsubscribeAndPanickingCallback(t *testing.T) {
	t.Parallel()

	fixture := newSessionFixture(t, &fakeAuthService{})

	removedCalls := 0
	unsubscribe := fixture.logout.Subscribe(func() { removedCalls++ })
	fixture.logout.Subscribe(func() { panic("host callback exploded") })
	keptCalls := 0
	fixture.logout.Subscribe(func() { keptCalls++ })

	unsubscribe()
	unsubscribe()
	fixture.logout.NotifyHostOnce()

	if removedCalls != 0 {
		t.Fatalf("expected unsubscribed callback to stay silent")
	}
	if keptCalls != 1 {
		t.Fatalf("expected remaining callback to run despite a panicking peer, got %d", keptCalls)
	}
}

func TestLogoutWithEndedContextStillClearsCredential(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		logout func(controller *LogoutController, ctx context.Context) bool
		remote int64
	}{
		{
			name:   "logout",
			logout: func(controller *LogoutController, ctx context.Context) bool { return controller.Logout(ctx, true) },
			remote: 1,
		},
		{
			name:   "force logout",
			logout: func(controller *LogoutController, ctx context.Context) bool { return controller.ForceLogout(ctx) },
			remote: 0,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			backend, server := newRedisBackend(t)
			service := &fakeAuthService{}
			fixture := newSessionFixtureOn(t, service, backend)
			if err := fixture.store.Put(context.Background(), mintCredential(t, "user-1", "user", testNow, time.Hour)); err != nil {
				t.Fatalf("put failed: %v", err)
			}

			cancelled, cancel := context.WithCancel(context.Background())
			cancel()
			if _, _, err := backend.Get(cancelled, DefaultStorageKey); err == nil {
				t.Fatalf("expected the redis backend to reject an ended context")
			}

			if !testCase.logout(fixture.logout, cancelled) {
				t.Fatalf("expected logout to report success")
			}
			if server.Exists(redisCredentialKey) {
				t.Fatalf("expected credential to be removed despite the ended context")
			}
			if service.logoutCalls.Load() != testCase.remote {
				t.Fatalf("expected %d remote logout calls, got %d", testCase.remote, service.logoutCalls.Load())
			}
		})
	}
}

func TestLogoutDuringRefreshWriteLeavesSessionCleared(t *testing.T) {
	t.Parallel()

	freshCredential := mintCredential(t, "user-1", "user", testNow, time.Hour)
	service := &fakeAuthService{refreshFunc: func(ctx context.Context, credentialText string) (string, error) {
		return freshCredential, nil
	}}
	backend := newGatedBackend()
	fixture := newSessionFixtureOn(t, service, backend)
	if err := fixture.store.Put(context.Background(), mintCredential(t, "user-1", "user", testNow.Add(-time.Hour), time.Minute)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	backend.arm()

	refreshDone := make(chan error, 1)
	go func() {
		_, err := fixture.coordinator.RequestRefresh(context.Background())
		refreshDone <- err
	}()
	<-backend.entered

	logoutDone := make(chan bool, 1)
	go func() {
		logoutDone <- fixture.logout.Logout(context.Background(), false)
	}()
	waitFor(t, "logout to start", fixture.logout.InProgress)
	select {
	case <-logoutDone:
		t.Fatalf("expected logout to wait for the pending credential write")
	default:
	}
	close(backend.release)

	if !<-logoutDone {
		t.Fatalf("expected logout to succeed")
	}
	<-refreshDone
	if _, found := backend.value(DefaultStorageKey); found {
		t.Fatalf("expected the credential to stay cleared after logout completed")
	}
}
