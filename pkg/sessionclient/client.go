package sessionclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tyemirov/tauthclient/pkg/credential"
	"go.uber.org/zap"
)

// Dependencies are the collaborators a Client is built from.
type Dependencies struct {
	Backend     KeyValueStore
	AuthService AuthService
	// HTTPClient sends business requests; nil uses http.DefaultClient.
	HTTPClient HTTPDoer
	Clock      credential.Clock
	Logger     *zap.Logger
	Metrics    MetricsRecorder
}

// User describes the signed-in account.
type User struct {
	Subject    string
	Role       string
	Credential string
}

// Client is the session subsystem exposed to business API callers.
type Client struct {
	configuration Config
	store         *CredentialStore
	inspector     *credential.Inspector
	service       AuthService
	logout        *LogoutController
	coordinator   *RefreshCoordinator
	pipeline      *RequestPipeline
	logger        *zap.Logger
}

// New wires the store, inspector, coordinator, logout controller, and pipeline.
func New(configuration Config, dependencies Dependencies) (*Client, error) {
	if dependencies.Backend == nil {
		return nil, fmt.Errorf("session.client.new: key-value backend is required")
	}
	if dependencies.AuthService == nil {
		return nil, fmt.Errorf("session.client.new: auth service is required")
	}
	configuration = configuration.withDefaults()
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	store := NewCredentialStore(dependencies.Backend, configuration.StorageKey, logger)
	inspector := credential.NewInspector(dependencies.Clock)
	logout := NewLogoutController(store, dependencies.AuthService, logger, metrics)
	coordinator := NewRefreshCoordinator(store, inspector, dependencies.AuthService, logout, configuration.RefreshMaxAge, logger, metrics)
	pipeline := NewRequestPipeline(dependencies.HTTPClient, store, coordinator, logout, configuration.ExcludedPaths, logger, metrics)

	return &Client{
		configuration: configuration,
		store:         store,
		inspector:     inspector,
		service:       dependencies.AuthService,
		logout:        logout,
		coordinator:   coordinator,
		pipeline:      pipeline,
		logger:        logger,
	}, nil
}

// AttachAndSend sends request through the pipeline.
func (client *Client) AttachAndSend(request *http.Request) (*http.Response, error) {
	return client.pipeline.AttachAndSend(request)
}

// Login authenticates against the remote service, persists the credential, and
// re-arms the session-ended notification.
func (client *Client) Login(ctx context.Context, subject string, secret string) (string, error) {
	if strings.TrimSpace(subject) == "" || secret == "" {
		return "", fmt.Errorf("session.client.login: %w", ErrInvalidCredential)
	}
	if client.logout.InProgress() {
		return "", fmt.Errorf("session.client.login: %w", ErrSessionEnded)
	}
	credentialText, err := client.service.Login(ctx, subject, secret)
	if err != nil {
		return "", fmt.Errorf("session.client.login: %w", err)
	}
	if _, claimsErr := client.inspector.Claims(credentialText); claimsErr != nil {
		return "", fmt.Errorf("session.client.login: %w", claimsErr)
	}
	if putErr := client.store.Put(ctx, credentialText); putErr != nil {
		return "", fmt.Errorf("session.client.login: %w", putErr)
	}
	client.logout.ResetNotification()
	client.logger.Info("session established",
		zap.String("code", "session.client.login"),
		zap.String("subject", subject))
	return credentialText, nil
}

// Logout ends the session, optionally telling the remote service.
func (client *Client) Logout(ctx context.Context, notifyRemote bool) bool {
	return client.logout.Logout(ctx, notifyRemote)
}

// ForceLogout ends the session locally and notifies session-ended subscribers.
func (client *Client) ForceLogout(ctx context.Context) bool {
	return client.logout.ForceLogout(ctx)
}

// CurrentUser returns the signed-in user, or false when the credential is
// absent, expired, undecodable, or carries a role outside AllowedRoles.
func (client *Client) CurrentUser(ctx context.Context) (User, bool) {
	credentialText, found := client.store.Get(ctx)
	if !found {
		return User{}, false
	}
	if client.inspector.IsExpired(credentialText, client.configuration.ExpirySkew) {
		return User{}, false
	}
	claims, err := client.inspector.Claims(credentialText)
	if err != nil {
		return User{}, false
	}
	if len(client.configuration.AllowedRoles) > 0 && !client.inspector.RoleAllowed(credentialText, client.configuration.AllowedRoles) {
		return User{}, false
	}
	return User{Subject: claims.Subject, Role: claims.Role, Credential: credentialText}, true
}

// RequestRefresh exchanges the stored credential for a new one.
func (client *Client) RequestRefresh(ctx context.Context) (string, error) {
	return client.coordinator.RequestRefresh(ctx)
}

// SubscribeSessionEnded registers callback and returns its unsubscribe handle.
func (client *Client) SubscribeSessionEnded(callback func()) func() {
	return client.logout.Subscribe(callback)
}
