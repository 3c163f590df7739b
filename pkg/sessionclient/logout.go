package sessionclient

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type logoutEpisode struct {
	done chan struct{}
}

// LogoutController ends sessions. At most one logout runs at a time; the guard
// is held from the moment a logout starts until the store is cleared and, for
// forced logouts, subscribers are notified.
type LogoutController struct {
	store   *CredentialStore
	service AuthService
	logger  *zap.Logger
	metrics MetricsRecorder

	// writeMutex orders credential writes from refresh against the clear in run.
	writeMutex sync.Mutex

	mutex            sync.Mutex
	inFlight         *logoutEpisode
	epoch            uint64
	notified         bool
	subscribers      map[uint64]func()
	nextSubscriberID uint64
}

// NewLogoutController builds a controller; service may be nil when remote logout is never requested.
func NewLogoutController(store *CredentialStore, service AuthService, logger *zap.Logger, metrics MetricsRecorder) *LogoutController {
	if store == nil {
		panic("credential store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LogoutController{
		store:       store,
		service:     service,
		logger:      logger,
		metrics:     metrics,
		subscribers: make(map[uint64]func()),
	}
}

// InProgress reports whether the logout guard is set.
func (controller *LogoutController) InProgress() bool {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.inFlight != nil
}

// Epoch counts logout episodes started so far.
func (controller *LogoutController) Epoch() uint64 {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.epoch
}

// Logout clears the session. A call made while another logout is running waits
// for it instead of starting a second one. It returns false only when ctx ends
// before the running logout completes.
func (controller *LogoutController) Logout(ctx context.Context, notifyRemote bool) bool {
	return controller.run(ctx, notifyRemote, false)
}

// ForceLogout clears the session without contacting the remote service and
// notifies subscribers once.
func (controller *LogoutController) ForceLogout(ctx context.Context) bool {
	return controller.run(ctx, false, true)
}

func (controller *LogoutController) run(ctx context.Context, notifyRemote bool, notifyHost bool) bool {
	controller.mutex.Lock()
	if running := controller.inFlight; running != nil {
		controller.mutex.Unlock()
		controller.metrics.Increment(metricLogoutCoalesced)
		if notifyHost {
			controller.NotifyHostOnce()
		}
		select {
		case <-running.done:
			return true
		case <-ctx.Done():
			return false
		}
	}
	episode := &logoutEpisode{done: make(chan struct{})}
	controller.inFlight = episode
	controller.epoch++
	controller.mutex.Unlock()
	controller.metrics.Increment(metricLogoutStarted)

	defer func() {
		controller.mutex.Lock()
		controller.inFlight = nil
		controller.mutex.Unlock()
		close(episode.done)
	}()

	storeCtx := context.WithoutCancel(ctx)
	controller.writeMutex.Lock()
	credentialText, _ := controller.store.Get(storeCtx)
	controller.store.Clear(storeCtx)
	controller.writeMutex.Unlock()

	if notifyRemote && controller.service != nil {
		if err := controller.service.Logout(storeCtx, credentialText); err != nil {
			controller.metrics.Increment(metricLogoutRemoteFailed)
			controller.logger.Warn("remote logout failed",
				zap.String("code", "session.logout.remote_failed"),
				zap.Error(err))
		}
	}
	if notifyHost {
		controller.NotifyHostOnce()
	}
	return true
}

// persistUnlessSuperseded stores credentialText only if no logout has started
// since epoch was observed. A logout that starts while the write is in progress
// clears the store after the write lands.
func (controller *LogoutController) persistUnlessSuperseded(ctx context.Context, epoch uint64, credentialText string) (bool, error) {
	controller.writeMutex.Lock()
	defer controller.writeMutex.Unlock()

	controller.mutex.Lock()
	superseded := controller.inFlight != nil || controller.epoch != epoch
	controller.mutex.Unlock()
	if superseded {
		return false, nil
	}
	if err := controller.store.Put(ctx, credentialText); err != nil {
		return false, err
	}
	return true, nil
}

// NotifyHostOnce invokes the session-ended subscribers at most once until ResetNotification.
func (controller *LogoutController) NotifyHostOnce() {
	controller.mutex.Lock()
	if controller.notified {
		controller.mutex.Unlock()
		return
	}
	controller.notified = true
	callbacks := make([]func(), 0, len(controller.subscribers))
	for _, callback := range controller.subscribers {
		callbacks = append(callbacks, callback)
	}
	controller.mutex.Unlock()

	controller.metrics.Increment(metricHostNotified)
	for _, callback := range callbacks {
		controller.invoke(callback)
	}
}

// ResetNotification re-arms the latch; called when a new session is established.
func (controller *LogoutController) ResetNotification() {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	controller.notified = false
}

// Subscribe registers a session-ended callback and returns its unsubscribe handle.
func (controller *LogoutController) Subscribe(callback func()) func() {
	if callback == nil {
		return func() {}
	}
	controller.mutex.Lock()
	controller.nextSubscriberID++
	subscriberID := controller.nextSubscriberID
	controller.subscribers[subscriberID] = callback
	controller.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			controller.mutex.Lock()
			delete(controller.subscribers, subscriberID)
			controller.mutex.Unlock()
		})
	}
}

func (controller *LogoutController) invoke(callback func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			controller.logger.Error("session ended callback panicked",
				zap.String("code", "session.logout.callback_panic"),
				zap.Any("panic", recovered))
		}
	}()
	callback()
}
