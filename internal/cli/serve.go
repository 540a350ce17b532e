package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mark3labs/apistarter/internal/auth"
	"github.com/mark3labs/apistarter/internal/catalog"
	"github.com/mark3labs/apistarter/internal/server"
	genspec "github.com/mark3labs/apistarter/internal/spec"
	"github.com/mark3labs/apistarter/pkg/handler"
)

// ServeConfig captures the options for the serve command: the APISTARTER_*
// environment with flag overrides applied on top.
type ServeConfig struct {
	Server       *server.Config
	OperationKey string

	registry handler.Registry
	logger   *slog.Logger
}

var serveRunner = runServe

func newServeCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OpenAPI contract with request validation and mock responses",
		Long: "Serve every operation of the contract. Requests are validated against the document and " +
			"API keys are checked for secured operations. Operations without a registered controller answer " +
			"with a mock of their success response. Settings come from APISTARTER_* environment variables; " +
			"flags override them. SIGHUP reloads the API key file.",
		Example: strings.TrimSpace(`  apistarter serve --spec api/openapi.yaml --addr :8080 --keys keys.yaml
  APISTARTER_AUTH_ENABLED=false apistarter serve`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServeConfig(cmd)
			if err != nil {
				return err
			}
			cfg.registry = ro.registry
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			if cfg.logger, err = newLogger(cmd, verbose); err != nil {
				return err
			}
			return serveRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("spec", "", "Path or URL to the OpenAPI document (env APISTARTER_SPEC_PATH)")
	flags.String("addr", "", "Listen address (env APISTARTER_ADDR)")
	flags.String("keys", "", "API key file (env APISTARTER_API_KEYS_FILE)")
	flags.Bool("no-auth", false, "Disable API key checks (env APISTARTER_AUTH_ENABLED=false)")
	flags.String("operation-key", catalog.DefaultOperationIDKey, "Extension consulted when an operation has no operationId")

	return cmd
}

func resolveServeConfig(cmd *cobra.Command) (*ServeConfig, error) {
	sc, err := server.LoadConfig()
	if err != nil {
		return nil, newUsageError(fmt.Sprintf("serve: %v", err))
	}
	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"spec": &sc.SpecPath,
		"addr": &sc.Addr,
		"keys": &sc.APIKeysFile,
	} {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return nil, err
		}
		*dst = strings.TrimSpace(value)
	}
	if flags.Changed("no-auth") {
		noAuth, err := flags.GetBool("no-auth")
		if err != nil {
			return nil, err
		}
		sc.AuthEnabled = !noAuth
	}
	opKey, err := flags.GetString("operation-key")
	if err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, newUsageError(fmt.Sprintf("serve: %v", err))
	}
	if strings.TrimSpace(sc.SpecPath) == "" {
		return nil, newUsageError("serve: --spec is required")
	}
	return &ServeConfig{Server: sc, OperationKey: strings.TrimSpace(opKey)}, nil
}

// buildServer loads the document, the catalog and the key store.
func buildServer(ctx context.Context, cfg *ServeConfig) (*server.Server, auth.KeyStore, error) {
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := genspec.Load(ctx, cfg.Server.SpecPath)
	if err != nil {
		return nil, nil, specUsageError(err)
	}
	cat, err := catalog.Build(doc, catalog.WithOperationIDKey(cfg.OperationKey))
	if err != nil {
		return nil, nil, fmt.Errorf("build catalog: %w", err)
	}

	opts := []server.Option{server.WithLogger(logger)}
	if cfg.registry != nil {
		opts = append(opts, server.WithRegistry(cfg.registry))
	}
	var keys auth.KeyStore
	if cfg.Server.AuthEnabled && cfg.Server.APIKeysFile != "" {
		store, err := auth.NewFileKeyStore(ctx, cfg.Server.APIKeysFile, logger)
		if err != nil {
			return nil, nil, newUsageError(fmt.Sprintf("serve: %v", err))
		}
		keys = store
		opts = append(opts, server.WithKeyStore(store))
	}

	srv, err := server.New(cfg.Server, doc, cat, opts...)
	if err != nil {
		return nil, nil, newUsageError(err.Error())
	}
	return srv, keys, nil
}

func runServe(ctx context.Context, cfg *ServeConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, keys, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	if keys != nil {
		go reloadOnHangup(ctx, keys, cfg.logger)
	}
	return srv.Run(ctx)
}

func reloadOnHangup(ctx context.Context, keys auth.KeyStore, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := keys.Reload(ctx); err != nil && logger != nil {
				logger.Error("api key reload failed", "error", err)
			}
		}
	}
}
