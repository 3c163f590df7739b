package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// AuthService is the remote authentication service.
type AuthService interface {
	Login(ctx context.Context, subject string, secret string) (string, error)
	// Refresh exchanges the current credential for a new one. A conclusive
	// rejection wraps ErrForbidden.
	Refresh(ctx context.Context, credentialText string) (string, error)
	// Logout is best-effort; credentialText may be empty.
	Logout(ctx context.Context, credentialText string) error
}

// HTTPDoer sends HTTP requests; *http.Client satisfies it.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"

	maxAuthResponseBytes = 64 << 10
)

// HTTPAuthService speaks JSON to the remote auth endpoints.
type HTTPAuthService struct {
	baseURL string
	doer    HTTPDoer
}

// NewHTTPAuthService targets baseURL; a nil doer uses http.DefaultClient.
func NewHTTPAuthService(baseURL string, doer HTTPDoer) (*HTTPAuthService, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("session.auth_service.new: invalid base url %q", baseURL)
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &HTTPAuthService{
		baseURL: strings.TrimSuffix(parsed.String(), "/"),
		doer:    doer,
	}, nil
}

type loginRequest struct {
	Subject string `json:"subject"`
	Secret  string `json:"secret"`
}

type refreshRequest struct {
	Credential string `json:"credential"`
}

type credentialResponse struct {
	Credential string `json:"credential"`
}

// Login posts the subject and secret and returns the issued credential.
func (service *HTTPAuthService) Login(ctx context.Context, subject string, secret string) (string, error) {
	response, err := service.postJSON(ctx, loginPath, loginRequest{Subject: subject, Secret: secret}, "")
	if err != nil {
		return "", fmt.Errorf("session.auth_service.login: %w", err)
	}
	defer drainAndClose(response.Body)
	switch {
	case response.StatusCode == http.StatusOK:
		return decodeCredential(response.Body, "session.auth_service.login")
	case response.StatusCode == http.StatusBadRequest, response.StatusCode == http.StatusUnauthorized, response.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("session.auth_service.login: %w", ErrInvalidCredential)
	case isServerUnavailableStatus(response.StatusCode):
		return "", fmt.Errorf("session.auth_service.login: %w", &ServerUnavailableError{StatusCode: response.StatusCode})
	default:
		return "", fmt.Errorf("session.auth_service.login: unexpected status %d", response.StatusCode)
	}
}

// Refresh posts the current credential and returns its replacement.
func (service *HTTPAuthService) Refresh(ctx context.Context, credentialText string) (string, error) {
	response, err := service.postJSON(ctx, refreshPath, refreshRequest{Credential: credentialText}, "")
	if err != nil {
		return "", fmt.Errorf("session.auth_service.refresh: %w", err)
	}
	defer drainAndClose(response.Body)
	switch {
	case response.StatusCode == http.StatusOK:
		return decodeCredential(response.Body, "session.auth_service.refresh")
	case response.StatusCode == http.StatusUnauthorized, response.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("session.auth_service.refresh: %w", ErrForbidden)
	case isServerUnavailableStatus(response.StatusCode):
		return "", fmt.Errorf("session.auth_service.refresh: %w", &ServerUnavailableError{StatusCode: response.StatusCode})
	default:
		return "", fmt.Errorf("session.auth_service.refresh: unexpected status %d", response.StatusCode)
	}
}

// Logout notifies the remote service; any non-2xx status is reported as an error.
func (service *HTTPAuthService) Logout(ctx context.Context, credentialText string) error {
	response, err := service.postJSON(ctx, logoutPath, nil, credentialText)
	if err != nil {
		return fmt.Errorf("session.auth_service.logout: %w", err)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("session.auth_service.logout: unexpected status %d", response.StatusCode)
	}
	return nil
}

func (service *HTTPAuthService) postJSON(ctx context.Context, path string, payload any, bearer string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		encoded, encodeErr := json.Marshal(payload)
		if encodeErr != nil {
			return nil, encodeErr
		}
		body = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, service.baseURL+path, body)
	if requestErr != nil {
		return nil, requestErr
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(bearer) != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	response, doErr := service.doer.Do(request)
	if doErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, doErr)
	}
	return response, nil
}

func decodeCredential(body io.Reader, operation string) (string, error) {
	var decoded credentialResponse
	if err := json.NewDecoder(io.LimitReader(body, maxAuthResponseBytes)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%s: %w", operation, ErrInvalidCredential)
	}
	if strings.TrimSpace(decoded.Credential) == "" {
		return "", fmt.Errorf("%s: %w", operation, ErrInvalidCredential)
	}
	return decoded.Credential, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxAuthResponseBytes))
	_ = body.Close()
}

func isForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
