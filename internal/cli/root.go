package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/apistarter/pkg/handler"
)

// Version is reported by --version. Release builds set it with -ldflags.
var Version = "dev"

// Option customizes the root command.
type Option func(*rootOptions)

type rootOptions struct {
	registry handler.Registry
}

// WithRegistry sets the controllers the serve command dispatches to.
// Operations without one answer with a mock.
func WithRegistry(r handler.Registry) Option {
	return func(o *rootOptions) { o.registry = r }
}

// Execute runs the apistarter CLI.
func Execute(opts ...Option) error {
	return NewRootCmd(opts...).Execute()
}

// NewRootCmd constructs the root command so tests can exercise the CLI easily.
func NewRootCmd(opts ...Option) *cobra.Command {
	ro := &rootOptions{}
	for _, opt := range opts {
		opt(ro)
	}

	cmd := &cobra.Command{
		Use:   "apistarter",
		Short: "Scaffold and serve REST APIs from an OpenAPI contract",
		Long: "apistarter scaffolds controller files from the x-eov-operation-handler extensions of an OpenAPI document, " +
			"inspects the per-operation request and response shapes, and serves the contract with validation and mock responses.",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Config file path (YAML or JSON)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging output")
	cmd.PersistentFlags().String("log-format", "text", "Log format (text|json)")

	cmd.AddCommand(newGenerateCmd(), newInspectCmd(), newServeCmd(ro), newInitCmd())

	// Convert Cobra flag errors (like unknown flags) into friendly usage errors
	// that also show the command's help text.
	flagErr := func(c *cobra.Command, err error) error {
		return newUsageError(fmt.Sprintf("%v\n\n%s", err, c.UsageString()))
	}
	cmd.SetFlagErrorFunc(flagErr)
	for _, sub := range cmd.Commands() {
		sub.SetFlagErrorFunc(flagErr)
	}

	return cmd
}

// newLogger builds the logger for one command run. It writes to the command's
// stderr so tests can capture it. verbose lowers the level to debug.
func newLogger(cmd *cobra.Command, verbose bool) (*slog.Logger, error) {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	w := cmd.ErrOrStderr()
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, newUsageError(fmt.Sprintf("unsupported --log-format %q (allowed: text, json)", format))
	}
}
