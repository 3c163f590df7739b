package sessionclient

import (
	"errors"
	"fmt"

	"github.com/tyemirov/tauthclient/pkg/credential"
)

var (
	// ErrInvalidCredential indicates a malformed or empty credential; such credentials are never sent or stored.
	ErrInvalidCredential = credential.ErrInvalidCredential
	// ErrStorage indicates the persistent key-value store rejected a write.
	ErrStorage = errors.New("session.storage")
	// ErrNetwork indicates no response was received.
	ErrNetwork = errors.New("session.network")
	// ErrServerUnavailable indicates a 502, 503, or 504 response. It is not retried automatically.
	ErrServerUnavailable = errors.New("session.server_unavailable")
	// ErrForbidden indicates the session is conclusively dead.
	ErrForbidden = errors.New("session.forbidden")
	// ErrSessionEnded indicates a logout is in progress or has completed; the caller must re-authenticate.
	ErrSessionEnded = errors.New("session.ended")
	// ErrRefreshFailed indicates a refresh attempt failed for a reason other than a conclusive forbidden.
	ErrRefreshFailed = errors.New("session.refresh_failed")
)

// ServerUnavailableError carries the gateway status that produced ErrServerUnavailable.
type ServerUnavailableError struct {
	StatusCode int
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrServerUnavailable.Error(), e.StatusCode)
}

func (e *ServerUnavailableError) Unwrap() error { return ErrServerUnavailable }

func isServerUnavailableStatus(statusCode int) bool {
	switch statusCode {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}
