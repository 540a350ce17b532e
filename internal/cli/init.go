package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// DefaultConfigFile is where init writes the sample config.
const DefaultConfigFile = "apistarter.yaml"

// InitConfig captures the options for the init command.
type InitConfig struct {
	OutputPath string
	Force      bool
	Verbose    bool

	stdout io.Writer
}

var initRunner = runInit

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a sample apistarter configuration file",
		Long:  "Scaffold a commented apistarter configuration file that documents the generate options.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			cfg := &InitConfig{
				OutputPath: out,
				Force:      force,
				Verbose:    verbose,
				stdout:     cmd.OutOrStdout(),
			}
			return initRunner(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("out", DefaultConfigFile, "Where to write the sample config file")
	cmd.Flags().Bool("force", false, "Overwrite the target file if it already exists")

	return cmd
}

func runInit(ctx context.Context, cfg *InitConfig) error {
	_ = ctx
	stdout := cfg.stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	out := strings.TrimSpace(cfg.OutputPath)
	if out == "" {
		out = DefaultConfigFile
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("init: resolve output path: %w", err)
	}

	if st, err := os.Stat(absPath); err == nil && !cfg.Force {
		if st.Mode().IsRegular() {
			return newUsageError(fmt.Sprintf("init: %q already exists (use --force to overwrite)", absPath))
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot create parent directory: %v", err))
	}

	content := strings.TrimSpace(sampleConfigYAML) + "\n"

	// Atomic write via temp + rename
	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot write temp file: %v\nHint: choose a different --out or check directory permissions.", err))
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return newUsageError(fmt.Sprintf("init: cannot place file at %s: %v", absPath, err))
	}
	fmt.Fprintf(stdout, "Wrote sample config to %s\n", absPath)
	return nil
}

// sampleConfigYAML is a commented example config documenting available options.
const sampleConfigYAML = `# apistarter configuration (YAML)
# Used by "apistarter --config apistarter.yaml generate".
# All fields are optional. Command-line flags override config values.

# Path or URL to the OpenAPI document (http/https or local file).
# input: api/openapi.yaml

# Target language to emit (go|typescript). Defaults to go when omitted.
# lang: go

# Output directory for controller files. Existing files are never overwritten.
# out: controllers

# Go only: package clause and import path of the handler runtime.
# package: controllers
# handlerImport: github.com/mark3labs/apistarter/pkg/handler

# Stub body style: not-implemented (respond 501) or placeholder (respond with
# a mock of the lowest declared 2xx response).
# stub: not-implemented

# Extensions that name the controller and the operation id.
# handlerKey: x-eov-operation-handler
# operationKey: x-eov-operation-id

# Only scaffold these handler groups (comma-separated or list).
# handlers: [userController]

# TypeScript only: also write types/projection.ts.
# emitTypes: false

# Fail when an operation lacks one of the two extensions.
# strict: false

# Preview planned outputs without writing files.
# dryRun: false

# Enable verbose logging.
# verbose: false
`
