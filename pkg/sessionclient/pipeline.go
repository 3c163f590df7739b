package sessionclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// RequestPipeline attaches the credential to outbound requests and applies the
// refresh-once policy to 403 responses.
type RequestPipeline struct {
	doer        HTTPDoer
	store       *CredentialStore
	coordinator *RefreshCoordinator
	logout      *LogoutController
	excluded    pathMatcher
	logger      *zap.Logger
	metrics     MetricsRecorder
}

// NewRequestPipeline builds a pipeline; a nil doer uses http.DefaultClient.
func NewRequestPipeline(doer HTTPDoer, store *CredentialStore, coordinator *RefreshCoordinator, logout *LogoutController, excludedPaths []string, logger *zap.Logger, metrics MetricsRecorder) *RequestPipeline {
	if store == nil || coordinator == nil || logout == nil {
		panic("request pipeline requires store, coordinator, and logout controller")
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RequestPipeline{
		doer:        doer,
		store:       store,
		coordinator: coordinator,
		logout:      logout,
		excluded:    newPathMatcher(excludedPaths),
		logger:      logger,
		metrics:     metrics,
	}
}

// AttachAndSend sends request with the stored credential. Errors wrap
// ErrSessionEnded, ErrNetwork, ErrServerUnavailable, or ErrForbidden; any other
// status is returned as the response. When the request context ends while the
// refresh is pending, the error wraps ErrRefreshFailed and the context error.
func (pipeline *RequestPipeline) AttachAndSend(request *http.Request) (*http.Response, error) {
	if request == nil || request.URL == nil {
		return nil, fmt.Errorf("session.pipeline: nil request")
	}
	if err := ensureReplayableBody(request); err != nil {
		return nil, fmt.Errorf("session.pipeline.body: %w", err)
	}
	ctx := request.Context()

	if pipeline.logout.InProgress() {
		pipeline.metrics.Increment(metricPipelineSessionEnded)
		return nil, fmt.Errorf("session.pipeline.attach: %w", ErrSessionEnded)
	}
	credentialText, _ := pipeline.store.Get(ctx)

	response, err := pipeline.send(request, credentialText)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusForbidden || pipeline.excluded.matches(request.URL.Path) {
		return response, nil
	}
	drainAndClose(response.Body)

	freshCredential, refreshErr := pipeline.coordinator.RequestRefresh(ctx)
	if refreshErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("session.pipeline.refresh: %w", refreshErr)
		}
		pipeline.logout.NotifyHostOnce()
		return nil, fmt.Errorf("session.pipeline.refresh: %w: %w", ErrForbidden, refreshErr)
	}

	if pipeline.logout.InProgress() {
		pipeline.metrics.Increment(metricPipelineSessionEnded)
		return nil, fmt.Errorf("session.pipeline.retry: %w", ErrSessionEnded)
	}
	pipeline.metrics.Increment(metricPipelineRetried)
	retryResponse, retryErr := pipeline.send(request, freshCredential)
	if retryErr != nil {
		return nil, retryErr
	}
	if retryResponse.StatusCode == http.StatusForbidden {
		drainAndClose(retryResponse.Body)
		pipeline.logger.Warn("request forbidden after refresh",
			zap.String("code", "session.pipeline.forbidden_after_refresh"),
			zap.String("path", request.URL.Path))
		return nil, fmt.Errorf("session.pipeline.retry: %w", ErrForbidden)
	}
	return retryResponse, nil
}

func (pipeline *RequestPipeline) send(request *http.Request, credentialText string) (*http.Response, error) {
	outbound, cloneErr := cloneRequest(request)
	if cloneErr != nil {
		return nil, fmt.Errorf("session.pipeline.clone: %w", cloneErr)
	}
	if strings.TrimSpace(credentialText) != "" {
		outbound.Header.Set("Authorization", bearerPrefix+credentialText)
	} else {
		outbound.Header.Del("Authorization")
	}

	response, err := pipeline.doer.Do(outbound)
	if err != nil {
		pipeline.metrics.Increment(metricPipelineNetworkError)
		return nil, fmt.Errorf("session.pipeline.send: %w: %w", ErrNetwork, err)
	}
	if isServerUnavailableStatus(response.StatusCode) {
		drainAndClose(response.Body)
		pipeline.metrics.Increment(metricPipelineServerUnavailable)
		return nil, fmt.Errorf("session.pipeline.send: %w", &ServerUnavailableError{StatusCode: response.StatusCode})
	}
	return response, nil
}

func cloneRequest(request *http.Request) (*http.Request, error) {
	outbound := request.Clone(request.Context())
	if request.Body == nil || request.Body == http.NoBody {
		return outbound, nil
	}
	body, err := request.GetBody()
	if err != nil {
		return nil, err
	}
	outbound.Body = body
	return outbound, nil
}

func ensureReplayableBody(request *http.Request) error {
	if request.Body == nil || request.Body == http.NoBody || request.GetBody != nil {
		return nil
	}
	buffered, err := io.ReadAll(request.Body)
	_ = request.Body.Close()
	if err != nil {
		return err
	}
	request.Body = io.NopCloser(bytes.NewReader(buffered))
	request.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buffered)), nil
	}
	return nil
}
