package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tauthclient/internal/keyvalue"
	"go.uber.org/zap"
)

const (
	defaultIssuer   = "tauth-dev"
	defaultStoreURL = "sqlite://tauthclient.db"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var openCredentialBackend = func(ctx context.Context, storeURL string) (keyvalue.Store, error) {
	return keyvalue.Open(ctx, storeURL)
}

var buildLogger = func(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tauthclient",
		Short:         "Session client with single-flight credential refresh, plus a development auth server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	persistent := rootCmd.PersistentFlags()
	persistent.String("base_url", "http://localhost:8080", "Base URL of the auth service and business API")
	persistent.String("store_url", defaultStoreURL, "Credential store URL (memory://, sqlite://, postgres://, pgx://, redis://)")
	persistent.String("storage_key", "auth.credential", "Key under which the credential is persisted")
	persistent.StringSlice("excluded_paths", nil, "Paths whose 403 responses never trigger a refresh; a trailing * matches a prefix")
	persistent.Duration("expiry_skew", 5*time.Minute, "Treat credentials expiring within this window as expired")
	persistent.Duration("refresh_max_age", 7*24*time.Hour, "Maximum credential age eligible for refresh")
	persistent.StringSlice("allowed_roles", nil, "Roles accepted by whoami; empty accepts any role")
	persistent.Duration("http_timeout", 15*time.Second, "Timeout for outbound HTTP requests")
	persistent.Bool("log_dev", false, "Use development logging")

	for _, key := range []string{"base_url", "store_url", "storage_key", "excluded_paths", "expiry_skew", "refresh_max_age", "allowed_roles", "http_timeout", "log_dev"} {
		_ = viper.BindPFlag(key, persistent.Lookup(key))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newServeCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newGetCommand(),
	)
	return rootCmd
}
