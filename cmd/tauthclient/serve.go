package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tauthclient/internal/authserver"
	"github.com/tyemirov/tauthclient/pkg/credential"
	"github.com/tyemirov/tauthclient/pkg/sessionclient"
	"go.uber.org/zap"
)

type contextKey string

const (
	serverConfigContextKey contextKey = "serverConfig"
	clientConfigContextKey contextKey = "clientConfig"
)

func newServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the development auth server and protected demo API",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	serveCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("signing_key", "", "HS256 signing secret for credentials")
	serveCmd.Flags().String("issuer", defaultIssuer, "Credential issuer")
	serveCmd.Flags().Duration("credential_ttl", 15*time.Minute, "Credential lifetime")
	serveCmd.Flags().StringSlice("dev_users", []string{}, "Users as subject:secret:role")
	serveCmd.Flags().Bool("dev_insecure_http", false, "Allow login over plain HTTP for local dev")
	serveCmd.Flags().Bool("enable_cors", false, "Enable CORS for browser clients")
	serveCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	serveCmd.Flags().String("revocation_store_url", "", "Store URL for revoked credential ids; empty keeps them in memory")

	for _, key := range []string{"listen_addr", "signing_key", "issuer", "credential_ttl", "dev_users", "dev_insecure_http", "enable_cors", "cors_allowed_origins", "revocation_store_url"} {
		_ = viper.BindPFlag(key, serveCmd.Flags().Lookup(key))
	}
	return serveCmd
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverSettings, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), serverConfigContextKey, serverSettings))
	return nil
}

func commandContext(command *cobra.Command) context.Context {
	if existing := command.Context(); existing != nil {
		return existing
	}
	return context.Background()
}

func runServer(command *cobra.Command, arguments []string) error {
	serverSettings, ok := commandContext(command).Value(serverConfigContextKey).(ServerSettings)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := buildLogger(viper.GetBool("log_dev"))
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	users, usersErr := authserver.ParseDevUsers(serverSettings.DevUsers, 0)
	if usersErr != nil {
		return fmt.Errorf("%s: %w", configCodeMissingDevUsers, usersErr)
	}

	clock := credential.SystemClock()
	var revocations authserver.RevocationList
	if serverSettings.RevocationStoreURL != "" {
		revocationStore, storeErr := openCredentialBackend(commandContext(command), serverSettings.RevocationStoreURL)
		if storeErr != nil {
			return storeErr
		}
		defer func() { _ = revocationStore.Close() }()
		revocations = authserver.NewStoreRevocationList(revocationStore, clock)
		logger.Info("using persistent revocation list", zap.String("driver", revocationStore.Driver()))
	} else {
		revocations = authserver.NewMemoryRevocationList(clock)
		logger.Info("using in-memory revocation list")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsRecorder, metricsErr := sessionclient.NewPrometheusMetrics("tauth_server", registry)
	if metricsErr != nil {
		return metricsErr
	}

	gin.SetMode(gin.ReleaseMode)
	router, routerErr := authserver.NewRouter(serverSettings.Server, authserver.Dependencies{
		Users:       users,
		Revocations: revocations,
		Clock:       clock,
		Logger:      logger,
		Metrics:     metricsRecorder,
	}, authserver.RouterOptions{
		EnableCORS:         serverSettings.EnableCORS,
		CORSAllowedOrigins: serverSettings.CORSAllowedOrigins,
		Gatherer:           registry,
	})
	if routerErr != nil {
		return routerErr
	}

	server := &http.Server{
		Addr:              serverSettings.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", serverSettings.ListenAddr),
		zap.Int("users", users.Len()))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
