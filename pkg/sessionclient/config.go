package sessionclient

import (
	"strings"
	"time"

	"github.com/tyemirov/tauthclient/pkg/credential"
)

const (
	// DefaultStorageKey is the single key holding the credential.
	DefaultStorageKey = "auth.credential"
	// DefaultExpirySkew treats credentials expiring this soon as already expired.
	DefaultExpirySkew = 5 * time.Minute
)

// DefaultExcludedPaths are the auth endpoints themselves; they never trigger a refresh on 403.
var DefaultExcludedPaths = []string{"/auth/login", "/auth/refresh", "/auth/logout"}

// Config tunes the session subsystem.
type Config struct {
	StorageKey    string
	ExcludedPaths []string
	// ExpirySkew of zero selects DefaultExpirySkew; a negative value disables the skew.
	ExpirySkew    time.Duration
	RefreshMaxAge time.Duration
	// AllowedRoles restricts CurrentUser; empty admits any decodable role.
	AllowedRoles []string
}

func (configuration Config) withDefaults() Config {
	if strings.TrimSpace(configuration.StorageKey) == "" {
		configuration.StorageKey = DefaultStorageKey
	}
	if configuration.ExcludedPaths == nil {
		configuration.ExcludedPaths = append([]string(nil), DefaultExcludedPaths...)
	}
	switch {
	case configuration.ExpirySkew == 0:
		configuration.ExpirySkew = DefaultExpirySkew
	case configuration.ExpirySkew < 0:
		configuration.ExpirySkew = 0
	}
	if configuration.RefreshMaxAge <= 0 {
		configuration.RefreshMaxAge = credential.DefaultRefreshMaxAge
	}
	return configuration
}

type pathMatcher struct {
	exact    map[string]struct{}
	prefixes []string
}

// newPathMatcher accepts exact paths and "prefix*" entries.
func newPathMatcher(paths []string) pathMatcher {
	matcher := pathMatcher{exact: make(map[string]struct{})}
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if strings.HasSuffix(trimmed, "*") {
			matcher.prefixes = append(matcher.prefixes, strings.TrimSuffix(trimmed, "*"))
			continue
		}
		matcher.exact[normalizePath(trimmed)] = struct{}{}
	}
	return matcher
}

func (matcher pathMatcher) matches(path string) bool {
	if _, ok := matcher.exact[normalizePath(path)]; ok {
		return true
	}
	for _, prefix := range matcher.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
