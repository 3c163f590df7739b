package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tauthclient/internal/keyvalue"
	"github.com/tyemirov/tauthclient/pkg/sessionclient"
	"go.uber.org/zap"
)

var errMissingSecret = errors.New("cli.login.missing_secret")

type session struct {
	client  *sessionclient.Client
	backend keyvalue.Store
	baseURL string
	logger  *zap.Logger
}

func (current *session) close() {
	_ = current.backend.Close()
	_ = current.logger.Sync()
}

func newLoginCommand() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:     "login <subject>",
		Short:   "Sign in and persist the credential",
		Args:    cobra.ExactArgs(1),
		PreRunE: prepareClientConfig,
		RunE:    runLogin,
	}
	loginCmd.Flags().String("secret", "", "Secret for the subject (or APP_SECRET)")
	_ = viper.BindPFlag("secret", loginCmd.Flags().Lookup("secret"))
	return loginCmd
}

func newLogoutCommand() *cobra.Command {
	logoutCmd := &cobra.Command{
		Use:     "logout",
		Short:   "Clear the stored credential",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE:    runLogout,
	}
	logoutCmd.Flags().Bool("remote", true, "Also revoke the credential on the server")
	return logoutCmd
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Short:   "Print the signed-in user",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE:    runWhoAmI,
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "get <path>",
		Short:   "Call a protected endpoint with the stored credential",
		Args:    cobra.ExactArgs(1),
		PreRunE: prepareClientConfig,
		RunE:    runGet,
	}
}

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), clientConfigContextKey, clientConfig))
	return nil
}

func buildSession(command *cobra.Command) (*session, error) {
	ctx := commandContext(command)
	clientConfig, ok := ctx.Value(clientConfigContextKey).(ClientConfig)
	if !ok {
		return nil, configError(configCodeUninitializedClientConf, "client configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := buildLogger(viper.GetBool("log_dev"))
	if loggerErr != nil {
		return nil, loggerErr
	}

	backend, backendErr := openCredentialBackend(ctx, clientConfig.StoreURL)
	if backendErr != nil {
		_ = logger.Sync()
		return nil, backendErr
	}

	httpClient := &http.Client{Timeout: clientConfig.HTTPTimeout}
	service, serviceErr := sessionclient.NewHTTPAuthService(clientConfig.BaseURL, httpClient)
	if serviceErr != nil {
		_ = backend.Close()
		return nil, serviceErr
	}

	client, clientErr := sessionclient.New(clientConfig.Session, sessionclient.Dependencies{
		Backend:     backend,
		AuthService: service,
		HTTPClient:  httpClient,
		Logger:      logger,
	})
	if clientErr != nil {
		_ = backend.Close()
		return nil, clientErr
	}
	client.SubscribeSessionEnded(func() {
		logger.Warn("session ended", zap.String("code", "cli.session_ended"))
	})

	return &session{client: client, backend: backend, baseURL: clientConfig.BaseURL, logger: logger}, nil
}

func runLogin(command *cobra.Command, arguments []string) error {
	current, err := buildSession(command)
	if err != nil {
		return err
	}
	defer current.close()

	secret := viper.GetString("secret")
	if secret == "" {
		return fmt.Errorf("cli.login: %w", errMissingSecret)
	}
	if _, loginErr := current.client.Login(commandContext(command), arguments[0], secret); loginErr != nil {
		return loginErr
	}
	user, ok := current.client.CurrentUser(commandContext(command))
	if !ok {
		fmt.Fprintf(command.OutOrStdout(), "signed in as %s (role not permitted here)\n", arguments[0])
		return nil
	}
	fmt.Fprintf(command.OutOrStdout(), "signed in as %s (%s)\n", user.Subject, user.Role)
	return nil
}

func runLogout(command *cobra.Command, arguments []string) error {
	current, err := buildSession(command)
	if err != nil {
		return err
	}
	defer current.close()

	remote, _ := command.Flags().GetBool("remote")
	ctx := commandContext(command)
	if err := logoutOutcome(ctx, current.client.Logout(ctx, remote)); err != nil {
		return err
	}
	fmt.Fprintln(command.OutOrStdout(), "signed out")
	return nil
}

// logoutOutcome maps an unfinished logout to the context error that interrupted it.
func logoutOutcome(ctx context.Context, completed bool) error {
	if completed {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("cli.logout: %w", ctxErr)
	}
	return fmt.Errorf("cli.logout: logout did not complete")
}

func runWhoAmI(command *cobra.Command, arguments []string) error {
	current, err := buildSession(command)
	if err != nil {
		return err
	}
	defer current.close()

	user, ok := current.client.CurrentUser(commandContext(command))
	if !ok {
		fmt.Fprintln(command.OutOrStdout(), "not signed in")
		return nil
	}
	fmt.Fprintf(command.OutOrStdout(), "%s (%s)\n", user.Subject, user.Role)
	return nil
}

func runGet(command *cobra.Command, arguments []string) error {
	current, err := buildSession(command)
	if err != nil {
		return err
	}
	defer current.close()

	path := arguments[0]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	request, requestErr := http.NewRequestWithContext(commandContext(command), http.MethodGet, current.baseURL+path, nil)
	if requestErr != nil {
		return fmt.Errorf("cli.get: %w", requestErr)
	}
	response, sendErr := current.client.AttachAndSend(request)
	if sendErr != nil {
		return sendErr
	}
	defer response.Body.Close()

	fmt.Fprintf(command.OutOrStdout(), "%d\n", response.StatusCode)
	if _, copyErr := io.Copy(command.OutOrStdout(), response.Body); copyErr != nil {
		return fmt.Errorf("cli.get: %w", copyErr)
	}
	return nil
}
