package sessionclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tyemirov/tauthclient/pkg/credential"
	"go.uber.org/zap"
)

type refreshOutcome struct {
	credential string
	err        error
}

// RefreshCoordinator serializes credential refreshes. While one refresh is in
// flight every other caller queues behind it and receives the same outcome.
type RefreshCoordinator struct {
	store     *CredentialStore
	inspector *credential.Inspector
	service   AuthService
	logout    *LogoutController
	maxAge    time.Duration
	logger    *zap.Logger
	metrics   MetricsRecorder

	mutex      sync.Mutex
	refreshing bool
	waiters    []chan refreshOutcome
}

// NewRefreshCoordinator wires the coordinator to its collaborators.
func NewRefreshCoordinator(store *CredentialStore, inspector *credential.Inspector, service AuthService, logout *LogoutController, maxAge time.Duration, logger *zap.Logger, metrics MetricsRecorder) *RefreshCoordinator {
	if store == nil || inspector == nil || service == nil || logout == nil {
		panic("refresh coordinator requires store, inspector, service, and logout controller")
	}
	if maxAge <= 0 {
		maxAge = credential.DefaultRefreshMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RefreshCoordinator{
		store:     store,
		inspector: inspector,
		service:   service,
		logout:    logout,
		maxAge:    maxAge,
		logger:    logger,
		metrics:   metrics,
	}
}

// Refreshing reports whether a refresh is in flight.
func (coordinator *RefreshCoordinator) Refreshing() bool {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return coordinator.refreshing
}

// RequestRefresh returns a fresh credential. Errors wrap ErrSessionEnded,
// ErrForbidden, or ErrRefreshFailed. Only the first caller of an episode
// contacts the remote service. The remote call is detached from every caller's
// ctx; a caller whose ctx ends stops waiting without affecting the others.
func (coordinator *RefreshCoordinator) RequestRefresh(ctx context.Context) (string, error) {
	waiter := make(chan refreshOutcome, 1)
	coordinator.mutex.Lock()
	coordinator.waiters = append(coordinator.waiters, waiter)
	if coordinator.refreshing {
		coordinator.mutex.Unlock()
		coordinator.metrics.Increment(metricRefreshCoalesced)
	} else {
		coordinator.refreshing = true
		coordinator.mutex.Unlock()
		go coordinator.settle(context.WithoutCancel(ctx))
	}

	select {
	case outcome := <-waiter:
		return outcome.credential, outcome.err
	case <-ctx.Done():
		return "", fmt.Errorf("session.refresh.wait: %w: %w", ErrRefreshFailed, ctx.Err())
	}
}

func (coordinator *RefreshCoordinator) settle(ctx context.Context) {
	outcome := coordinator.perform(ctx)

	coordinator.mutex.Lock()
	waiters := coordinator.waiters
	coordinator.waiters = nil
	coordinator.refreshing = false
	coordinator.mutex.Unlock()

	for _, waiter := range waiters {
		waiter <- outcome
	}
}

func (coordinator *RefreshCoordinator) perform(ctx context.Context) refreshOutcome {
	if coordinator.logout.InProgress() {
		return refreshOutcome{err: fmt.Errorf("session.refresh: %w", ErrSessionEnded)}
	}
	epoch := coordinator.logout.Epoch()

	currentCredential, _ := coordinator.store.Get(ctx)
	if !coordinator.inspector.IsEligibleForRefresh(currentCredential, coordinator.maxAge) {
		coordinator.logger.Info("credential not eligible for refresh",
			zap.String("code", "session.refresh.ineligible"))
		return coordinator.fail(ctx, fmt.Errorf("session.refresh.ineligible: %w", ErrRefreshFailed))
	}

	coordinator.metrics.Increment(metricRefreshRemoteCall)
	freshCredential, remoteErr := coordinator.service.Refresh(ctx, currentCredential)
	if remoteErr != nil {
		if isForbidden(remoteErr) {
			return coordinator.fail(ctx, fmt.Errorf("session.refresh.remote: %w", remoteErr))
		}
		return coordinator.fail(ctx, fmt.Errorf("session.refresh.remote: %w: %w", ErrRefreshFailed, remoteErr))
	}
	if _, claimsErr := coordinator.inspector.Claims(freshCredential); claimsErr != nil {
		return coordinator.fail(ctx, fmt.Errorf("session.refresh.claims: %w: %w", ErrRefreshFailed, claimsErr))
	}

	persisted, putErr := coordinator.logout.persistUnlessSuperseded(ctx, epoch, freshCredential)
	if putErr != nil {
		return coordinator.fail(ctx, fmt.Errorf("session.refresh.persist: %w: %w", ErrRefreshFailed, putErr))
	}
	if !persisted {
		return refreshOutcome{err: fmt.Errorf("session.refresh.superseded: %w", ErrSessionEnded)}
	}
	coordinator.metrics.Increment(metricRefreshSucceeded)
	return refreshOutcome{credential: freshCredential}
}

func (coordinator *RefreshCoordinator) fail(ctx context.Context, err error) refreshOutcome {
	coordinator.metrics.Increment(metricRefreshFailed)
	coordinator.logger.Warn("credential refresh failed",
		zap.String("code", "session.refresh.failed"),
		zap.Error(err))
	coordinator.logout.ForceLogout(ctx)
	return refreshOutcome{err: err}
}
