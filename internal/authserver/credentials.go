package authserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tyemirov/tauthclient/pkg/credential"
)

// MintCredential creates a signed HS256 credential and returns it with its id.
func MintCredential(subject string, role string, configuration ServerConfig, issuedAt time.Time) (string, string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", "", fmt.Errorf("authserver.mint: empty subject")
	}
	credentialID := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, credential.TokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        credentialID,
			Issuer:    configuration.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(configuration.CredentialTTL)),
		},
	})
	signed, err := token.SignedString(configuration.SigningKey)
	if err != nil {
		return "", "", fmt.Errorf("authserver.mint: %w", err)
	}
	return signed, credentialID, nil
}

// parseCredential verifies signature and issuer. Expiry is enforced against now
// unless allowExpired is set, which refresh and logout use.
func parseCredential(credentialText string, configuration ServerConfig, now time.Time, allowExpired bool) (*credential.TokenClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if allowExpired {
		options = append(options, jwt.WithoutClaimsValidation())
	}
	claims := &credential.TokenClaims{}
	parsedToken, parseErr := jwt.ParseWithClaims(credentialText, claims, func(parsed *jwt.Token) (interface{}, error) {
		return configuration.SigningKey, nil
	}, options...)
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("authserver.parse: %w", ErrInvalidCredential)
	}
	if claims.Issuer != configuration.Issuer || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("authserver.parse: %w", ErrInvalidCredential)
	}
	return claims, nil
}

// revocationHorizon is the instant after which a revoked credential can no longer
// be presented to any endpoint.
func revocationHorizon(claims *credential.TokenClaims, configuration ServerConfig) time.Time {
	horizon := time.Time{}
	if claims.ExpiresAt != nil {
		horizon = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		if refreshable := claims.IssuedAt.Time.Add(configuration.RefreshMaxAge); refreshable.After(horizon) {
			horizon = refreshable
		}
	}
	return horizon
}
