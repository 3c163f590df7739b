package authserver

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauthclient/pkg/credential"
	"go.uber.org/zap"
)

const maxEchoBytes = 1 << 20

// Dependencies are the collaborators the routes are built from.
type Dependencies struct {
	Users       UserStore
	Revocations RevocationList
	Clock       credential.Clock
	Logger      *zap.Logger
	Metrics     MetricsRecorder
}

func (dependencies Dependencies) withDefaults() Dependencies {
	if dependencies.Users == nil {
		panic("user store is required")
	}
	if dependencies.Revocations == nil {
		panic("revocation list is required")
	}
	if dependencies.Clock == nil {
		dependencies.Clock = credential.SystemClock()
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.Metrics == nil {
		dependencies.Metrics = noopMetrics{}
	}
	return dependencies
}

// MountAuthRoutes registers /auth/login, /auth/refresh, and /auth/logout.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, dependencies Dependencies) {
	dependencies = dependencies.withDefaults()
	logger := dependencies.Logger

	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound struct {
			Subject string `json:"subject"`
			Secret  string `json:"secret"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Subject) == "" || inbound.Secret == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}

		role, authErr := dependencies.Users.Authenticate(contextGin, inbound.Subject, inbound.Secret)
		if authErr != nil {
			dependencies.Metrics.Increment(metricLoginFailed)
			if errors.Is(authErr, ErrUnknownUser) || errors.Is(authErr, ErrSecretMismatch) {
				logger.Warn("login rejected",
					zap.String("code", "auth.login.rejected"),
					zap.String("subject", inbound.Subject))
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
				return
			}
			logger.Error("login failed",
				zap.String("code", "auth.login.error"),
				zap.Error(authErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		credentialText, _, mintErr := MintCredential(inbound.Subject, role, configuration, dependencies.Clock.Now())
		if mintErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		dependencies.Metrics.Increment(metricLoginSucceeded)
		contextGin.JSON(http.StatusOK, gin.H{"credential": credentialText})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			Credential string `json:"credential"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Credential) == "" {
			dependencies.Metrics.Increment(metricRefreshRejected)
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		now := dependencies.Clock.Now()
		claims, parseErr := parseCredential(inbound.Credential, configuration, now, true)
		if parseErr != nil || claims.IssuedAt == nil {
			dependencies.Metrics.Increment(metricRefreshRejected)
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if now.Sub(claims.IssuedAt.Time) >= configuration.RefreshMaxAge {
			dependencies.Metrics.Increment(metricRefreshRejected)
			logger.Info("refresh window closed",
				zap.String("code", "auth.refresh.window_closed"),
				zap.String("subject", claims.Subject))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		revoked, lookupErr := dependencies.Revocations.IsRevoked(contextGin, claims.ID)
		if lookupErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if revoked {
			dependencies.Metrics.Increment(metricRefreshRejected)
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		role, roleErr := dependencies.Users.Role(contextGin, claims.Subject)
		if roleErr != nil {
			dependencies.Metrics.Increment(metricRefreshRejected)
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		credentialText, _, mintErr := MintCredential(claims.Subject, role, configuration, now)
		if mintErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if revokeErr := dependencies.Revocations.Revoke(contextGin, claims.ID, revocationHorizon(claims, configuration)); revokeErr != nil {
			logger.Error("revoke rotated credential failed",
				zap.String("code", "auth.refresh.revoke_failed"),
				zap.Error(revokeErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		dependencies.Metrics.Increment(metricRefreshSucceeded)
		contextGin.JSON(http.StatusOK, gin.H{"credential": credentialText})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		if credentialText, ok := bearerCredential(contextGin.Request); ok {
			claims, parseErr := parseCredential(credentialText, configuration, dependencies.Clock.Now(), true)
			if parseErr == nil && claims.ID != "" {
				if revokeErr := dependencies.Revocations.Revoke(contextGin, claims.ID, revocationHorizon(claims, configuration)); revokeErr != nil {
					logger.Warn("logout revoke failed",
						zap.String("code", "auth.logout.revoke_failed"),
						zap.Error(revokeErr))
				}
			}
		}
		dependencies.Metrics.Increment(metricLogout)
		contextGin.Status(http.StatusNoContent)
	})
}

// MountAPIRoutes registers the protected /api/me and /api/echo endpoints.
func MountAPIRoutes(router gin.IRouter, configuration ServerConfig, dependencies Dependencies) {
	protected := router.Group("/api")
	protected.Use(RequireCredential(configuration, dependencies))

	protected.GET("/me", func(contextGin *gin.Context) {
		claims, ok := claimsFromContext(contextGin)
		if !ok {
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"subject": claims.Subject,
			"role":    claims.Role,
			"expires": claims.ExpiresAt.Time,
		})
	})

	protected.POST("/echo", func(contextGin *gin.Context) {
		claims, ok := claimsFromContext(contextGin)
		if !ok {
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		body, readErr := io.ReadAll(io.LimitReader(contextGin.Request.Body, maxEchoBytes))
		if readErr != nil {
			contextGin.AbortWithStatus(http.StatusBadRequest)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"subject": claims.Subject,
			"body":    string(body),
		})
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	return splitErr == nil && host == "localhost"
}
