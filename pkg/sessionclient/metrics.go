package sessionclient

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricRefreshRemoteCall         = "refresh.remote_call"
	metricRefreshSucceeded          = "refresh.succeeded"
	metricRefreshFailed             = "refresh.failed"
	metricRefreshCoalesced          = "refresh.coalesced"
	metricLogoutStarted             = "logout.started"
	metricLogoutCoalesced           = "logout.coalesced"
	metricLogoutRemoteFailed        = "logout.remote_failed"
	metricHostNotified              = "session.host_notified"
	metricPipelineRetried           = "pipeline.retried"
	metricPipelineServerUnavailable = "pipeline.server_unavailable"
	metricPipelineSessionEnded      = "pipeline.session_ended"
	metricPipelineNetworkError      = "pipeline.network_error"
)

// MetricsRecorder increments counters for session events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CounterMetrics implements MetricsRecorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}

// PrometheusMetrics implements MetricsRecorder on a labelled Prometheus counter.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers the session event counter with registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(namespace string, registerer prometheus.Registerer) (*PrometheusMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_events_total",
		Help:      "Session subsystem events by kind.",
	}, []string{"event"})
	if err := registerer.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusMetrics{events: events}, nil
}

// Increment increases the counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}
