package authserver

const (
	metricLoginSucceeded   = "auth.login.succeeded"
	metricLoginFailed      = "auth.login.failed"
	metricRefreshSucceeded = "auth.refresh.succeeded"
	metricRefreshRejected  = "auth.refresh.rejected"
	metricLogout           = "auth.logout"
	metricAccessDenied     = "auth.access.denied"
)

// MetricsRecorder increments counters for auth server events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}
