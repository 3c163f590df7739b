package authserver

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions toggles the optional surfaces of the dev server.
type RouterOptions struct {
	EnableCORS         bool
	CORSAllowedOrigins []string
	// Gatherer, when set, is exposed at /metrics.
	Gatherer prometheus.Gatherer
}

// NewRouter assembles the dev auth server.
func NewRouter(configuration ServerConfig, dependencies Dependencies, options RouterOptions) (*gin.Engine, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("authserver.router: signing key is required")
	}
	dependencies = dependencies.withDefaults()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(dependencies.Logger))

	if options.EnableCORS {
		corsMiddleware, corsErr := ConfigureCORS(dependencies.Logger, options.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, fmt.Errorf("authserver.router: %w", corsErr)
		}
		router.Use(corsMiddleware)
	}

	MountAuthRoutes(router, configuration, dependencies)
	MountAPIRoutes(router, configuration, dependencies)

	if options.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(options.Gatherer, promhttp.HandlerOpts{})))
	}
	return router, nil
}
