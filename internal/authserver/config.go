package authserver

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredential indicates a credential that failed signature, issuer, or claim checks.
	ErrInvalidCredential = errors.New("authserver.invalid_credential")
	// ErrCredentialRevoked indicates the credential id was revoked by logout or rotation.
	ErrCredentialRevoked = errors.New("authserver.credential_revoked")
	// ErrRefreshWindowClosed indicates the credential was issued longer ago than the refresh max age.
	ErrRefreshWindowClosed = errors.New("authserver.refresh_window_closed")
	// ErrUnknownUser indicates the subject is not registered.
	ErrUnknownUser = errors.New("authserver.unknown_user")
	// ErrSecretMismatch indicates the presented secret does not match.
	ErrSecretMismatch = errors.New("authserver.secret_mismatch")
)

// ServerConfig configures credential issuance.
type ServerConfig struct {
	SigningKey        []byte
	Issuer            string
	CredentialTTL     time.Duration
	RefreshMaxAge     time.Duration
	AllowInsecureHTTP bool
}
