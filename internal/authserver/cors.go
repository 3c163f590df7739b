package authserver

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// ConfigureCORS enables cross-origin requests carrying bearer credentials from the supplied origins.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitized, err := sanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	config := cors.Config{
		AllowOrigins:  sanitized,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	return cors.New(config), nil
}

// sanitizeOrigins normalizes each origin to scheme://host, dropping blanks and duplicates.
func sanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	ordered := append([]string(nil), allowed...)
	sort.Strings(ordered)

	seen := make(map[string]struct{}, len(ordered))
	sanitized := make([]string, 0, len(ordered))
	for _, origin := range ordered {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		normalized, hostname, err := normalizeOrigin(trimmed)
		if err != nil {
			return nil, err
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		if strings.HasPrefix(normalized, "http://") && !isDevelopmentHost(hostname) {
			logger.Warn("unsafe cors origin configured",
				zap.String("code", "cors.origin.unsafe"),
				zap.String("origin", normalized))
		}
		seen[normalized] = struct{}{}
		sanitized = append(sanitized, normalized)
	}
	if len(sanitized) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	return sanitized, nil
}

func normalizeOrigin(origin string) (string, string, error) {
	if origin == "*" {
		return "", "", errWildcardOrigin
	}
	parsed, parseErr := url.Parse(origin)
	switch {
	case parseErr != nil || parsed.Scheme == "" || parsed.Host == "":
		return "", "", fmt.Errorf("%w: %s", errInvalidOrigin, origin)
	case parsed.Path != "" && parsed.Path != "/":
		return "", "", fmt.Errorf("%w: %s contains path segment", errInvalidOrigin, origin)
	case parsed.RawQuery != "" || parsed.Fragment != "":
		return "", "", fmt.Errorf("%w: %s contains query or fragment", errInvalidOrigin, origin)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", "", fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, origin)
	}
	return scheme + "://" + strings.ToLower(parsed.Host), parsed.Hostname(), nil
}

func isDevelopmentHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1":
		return true
	default:
		return false
	}
}
