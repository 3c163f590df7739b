package authserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauthclient/pkg/credential"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// RequireCredential validates the bearer credential and injects its claims. Any
// failure answers 403, which is how the business API signals a dead credential.
func RequireCredential(configuration ServerConfig, dependencies Dependencies) gin.HandlerFunc {
	dependencies = dependencies.withDefaults()
	return func(contextGin *gin.Context) {
		credentialText, ok := bearerCredential(contextGin.Request)
		if !ok {
			dependencies.Metrics.Increment(metricAccessDenied)
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		claims, parseErr := parseCredential(credentialText, configuration, dependencies.Clock.Now(), false)
		if parseErr != nil {
			dependencies.Metrics.Increment(metricAccessDenied)
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		revoked, lookupErr := dependencies.Revocations.IsRevoked(contextGin, claims.ID)
		if lookupErr != nil {
			dependencies.Logger.Error("revocation lookup failed",
				zap.String("code", "api.revocation_lookup_failed"),
				zap.Error(lookupErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if revoked {
			dependencies.Metrics.Increment(metricAccessDenied)
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		contextGin.Set(claimsContextKey, claims)
		contextGin.Next()
	}
}

func claimsFromContext(contextGin *gin.Context) (*credential.TokenClaims, bool) {
	value, found := contextGin.Get(claimsContextKey)
	if !found {
		return nil, false
	}
	claims, ok := value.(*credential.TokenClaims)
	return claims, ok && claims != nil
}

func bearerCredential(request *http.Request) (string, bool) {
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	credentialText := strings.TrimSpace(header[len("Bearer "):])
	return credentialText, credentialText != ""
}

// RequestLogger logs one structured entry per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
