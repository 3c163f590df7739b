package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tyemirov/tauthclient/internal/authserver"
	"github.com/tyemirov/tauthclient/pkg/sessionclient"
)

const (
	configCodeMissingBaseURL          = "config.missing_base_url"
	configCodeInvalidBaseURL          = "config.invalid_base_url"
	configCodeMissingStoreURL         = "config.missing_store_url"
	configCodeInvalidHTTPTimeout      = "config.invalid_http_timeout"
	configCodeInvalidRefreshMaxAge    = "config.invalid_refresh_max_age"
	configCodeMissingSigningKey       = "config.missing_signing_key"
	configCodeInvalidCredentialTTL    = "config.invalid_credential_ttl"
	configCodeMissingDevUsers         = "config.missing_dev_users"
	configCodeUninitializedClientConf = "config.uninitialized_client_config"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

// ClientConfig is the resolved configuration of the session client commands.
type ClientConfig struct {
	BaseURL     string
	StoreURL    string
	HTTPTimeout time.Duration
	Session     sessionclient.Config
}

// ServerSettings is the resolved configuration of the serve command.
type ServerSettings struct {
	ListenAddr         string
	Server             authserver.ServerConfig
	DevUsers           []string
	EnableCORS         bool
	CORSAllowedOrigins []string
	RevocationStoreURL string
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the client keys from viper.
func LoadClientConfig() (ClientConfig, error) {
	baseURL := strings.TrimSpace(viper.GetString("base_url"))
	if baseURL == "" {
		return ClientConfig{}, configError(configCodeMissingBaseURL, "base_url must be provided")
	}
	parsed, parseErr := url.Parse(baseURL)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ClientConfig{}, configError(configCodeInvalidBaseURL, "base_url must be an absolute http(s) URL")
	}

	storeURL := strings.TrimSpace(viper.GetString("store_url"))
	if storeURL == "" {
		return ClientConfig{}, configError(configCodeMissingStoreURL, "store_url must be provided")
	}

	httpTimeout := viper.GetDuration("http_timeout")
	if httpTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidHTTPTimeout, "http_timeout must be greater than zero")
	}

	refreshMaxAge := viper.GetDuration("refresh_max_age")
	if refreshMaxAge <= 0 {
		return ClientConfig{}, configError(configCodeInvalidRefreshMaxAge, "refresh_max_age must be greater than zero")
	}

	var excludedPaths []string
	if viper.IsSet("excluded_paths") {
		excludedPaths = nonEmpty(viper.GetStringSlice("excluded_paths"))
	}

	return ClientConfig{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		StoreURL:    storeURL,
		HTTPTimeout: httpTimeout,
		Session: sessionclient.Config{
			StorageKey:    viper.GetString("storage_key"),
			ExcludedPaths: excludedPaths,
			ExpirySkew:    viper.GetDuration("expiry_skew"),
			RefreshMaxAge: refreshMaxAge,
			AllowedRoles:  nonEmpty(viper.GetStringSlice("allowed_roles")),
		},
	}, nil
}

// LoadServerConfig reads and validates the serve keys from viper.
func LoadServerConfig() (ServerSettings, error) {
	signingKey := viper.GetString("signing_key")
	if signingKey == "" {
		return ServerSettings{}, configError(configCodeMissingSigningKey, "signing_key must be provided")
	}

	credentialTTL := viper.GetDuration("credential_ttl")
	if credentialTTL <= 0 {
		return ServerSettings{}, configError(configCodeInvalidCredentialTTL, "credential_ttl must be greater than zero")
	}

	refreshMaxAge := viper.GetDuration("refresh_max_age")
	if refreshMaxAge <= 0 {
		return ServerSettings{}, configError(configCodeInvalidRefreshMaxAge, "refresh_max_age must be greater than zero")
	}

	devUsers := nonEmpty(viper.GetStringSlice("dev_users"))
	if len(devUsers) == 0 {
		return ServerSettings{}, configError(configCodeMissingDevUsers, "dev_users must list at least one subject:secret:role entry")
	}

	issuer := strings.TrimSpace(viper.GetString("issuer"))
	if issuer == "" {
		issuer = defaultIssuer
	}

	return ServerSettings{
		ListenAddr: viper.GetString("listen_addr"),
		Server: authserver.ServerConfig{
			SigningKey:        []byte(signingKey),
			Issuer:            issuer,
			CredentialTTL:     credentialTTL,
			RefreshMaxAge:     refreshMaxAge,
			AllowInsecureHTTP: viper.GetBool("dev_insecure_http"),
		},
		DevUsers:           devUsers,
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: nonEmpty(viper.GetStringSlice("cors_allowed_origins")),
		RevocationStoreURL: strings.TrimSpace(viper.GetString("revocation_store_url")),
	}, nil
}

func nonEmpty(values []string) []string {
	filtered := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	return filtered
}
