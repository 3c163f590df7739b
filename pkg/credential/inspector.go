package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshMaxAge bounds how old a credential may be and still be exchanged for a new one.
const DefaultRefreshMaxAge = 7 * 24 * time.Hour

// ErrInvalidCredential indicates a malformed, empty, or undecodable credential.
var ErrInvalidCredential = errors.New("credential.invalid")

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}

// TokenClaims is the payload carried inside a credential.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Claims are the decoded fields callers care about.
type Claims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasIssuedAt reports whether the credential carried an issued-at claim.
func (claims Claims) HasIssuedAt() bool {
	return !claims.IssuedAt.IsZero()
}

// Inspector answers expiry, refresh eligibility, and role questions about credentials.
// It never verifies signatures; the remote service owns that.
type Inspector struct {
	clock  Clock
	parser *jwt.Parser
}

// NewInspector constructs an Inspector; a nil clock falls back to the system clock.
func NewInspector(clock Clock) *Inspector {
	if clock == nil {
		clock = systemClock{}
	}
	return &Inspector{
		clock:  clock,
		parser: jwt.NewParser(),
	}
}

// Claims decodes the credential. A credential without a subject or expiry is invalid.
func (inspector *Inspector) Claims(credentialText string) (Claims, error) {
	if strings.TrimSpace(credentialText) == "" {
		return Claims{}, fmt.Errorf("credential.claims: %w", ErrInvalidCredential)
	}
	tokenClaims := &TokenClaims{}
	if _, _, parseErr := inspector.parser.ParseUnverified(credentialText, tokenClaims); parseErr != nil {
		return Claims{}, fmt.Errorf("credential.claims: %w", ErrInvalidCredential)
	}
	if strings.TrimSpace(tokenClaims.Subject) == "" || tokenClaims.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("credential.claims: %w", ErrInvalidCredential)
	}
	decoded := Claims{
		Subject:   tokenClaims.Subject,
		Role:      tokenClaims.Role,
		ExpiresAt: tokenClaims.ExpiresAt.Time.UTC(),
	}
	if tokenClaims.IssuedAt != nil {
		decoded.IssuedAt = tokenClaims.IssuedAt.Time.UTC()
	}
	return decoded, nil
}

// IsExpired reports whether the credential expires within skew of now.
// Undecodable credentials are expired.
func (inspector *Inspector) IsExpired(credentialText string, skew time.Duration) bool {
	claims, err := inspector.Claims(credentialText)
	if err != nil {
		return true
	}
	return claims.ExpiresAt.Before(inspector.clock.Now().Add(skew))
}

// IsEligibleForRefresh reports whether the credential was issued less than maxAge ago.
// A non-positive maxAge selects DefaultRefreshMaxAge. Credentials without issued-at,
// or that fail to decode, are never eligible.
func (inspector *Inspector) IsEligibleForRefresh(credentialText string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultRefreshMaxAge
	}
	claims, err := inspector.Claims(credentialText)
	if err != nil || !claims.HasIssuedAt() {
		return false
	}
	return inspector.clock.Now().Sub(claims.IssuedAt) < maxAge
}

// RoleAllowed reports whether the credential's role is one of allowedRoles.
func (inspector *Inspector) RoleAllowed(credentialText string, allowedRoles []string) bool {
	claims, err := inspector.Claims(credentialText)
	if err != nil || claims.Role == "" {
		return false
	}
	for _, allowedRole := range allowedRoles {
		if strings.EqualFold(strings.TrimSpace(allowedRole), claims.Role) {
			return true
		}
	}
	return false
}
