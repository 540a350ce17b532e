package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/apistarter/internal/catalog"
	genspec "github.com/mark3labs/apistarter/internal/spec"
)

// InspectConfig captures the options for the inspect command.
type InspectConfig struct {
	Input        string
	OperationID  string // empty lists every operation
	OperationKey string
	Status       int // 0 prints the whole bundle
	Format       string

	stdout io.Writer
}

var inspectRunner = runInspect

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [operationId]",
		Short: "Print the request and response shapes of an operation",
		Long: "Print the projection bundle of one operation: path params, query params, request body and " +
			"the response bodies for the common statuses. Without an operation id, list every operation.",
		Example: strings.TrimSpace(`  apistarter inspect
  apistarter inspect createUser --format yaml
  apistarter inspect getUser --status 404`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &InspectConfig{stdout: cmd.OutOrStdout()}
			var err error
			if cfg.Input, err = cmd.Flags().GetString("input"); err != nil {
				return err
			}
			if cfg.OperationKey, err = cmd.Flags().GetString("operation-key"); err != nil {
				return err
			}
			if cfg.Status, err = cmd.Flags().GetInt("status"); err != nil {
				return err
			}
			if cfg.Format, err = cmd.Flags().GetString("format"); err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.OperationID = strings.TrimSpace(args[0])
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return inspectRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("input", genspec.DefaultPath, "Path or URL to the OpenAPI document")
	flags.String("operation-key", catalog.DefaultOperationIDKey, "Extension consulted when an operation has no operationId")
	flags.Int("status", 0, "Print only the response shape for this status")
	flags.String("format", "json", "Output format (json|yaml)")

	return cmd
}

func (c *InspectConfig) validate() error {
	c.Input = strings.TrimSpace(c.Input)
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Input == "" {
		return newUsageError("inspect: --input is required")
	}
	switch c.Format {
	case "json", "yaml":
	default:
		return newUsageError(fmt.Sprintf("inspect: unsupported --format %q (allowed: json, yaml)", c.Format))
	}
	if c.Status != 0 && (c.Status < 100 || c.Status > 599) {
		return newUsageError(fmt.Sprintf("inspect: --status %d is not an HTTP status", c.Status))
	}
	if c.Status != 0 && c.OperationID == "" {
		return newUsageError("inspect: --status needs an operation id")
	}
	return nil
}

func runInspect(ctx context.Context, cfg *InspectConfig) error {
	stdout := cfg.stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	doc, err := genspec.Load(ctx, cfg.Input)
	if err != nil {
		return specUsageError(err)
	}
	cat, err := catalog.Build(doc, catalog.WithOperationIDKey(cfg.OperationKey))
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	if cfg.OperationID == "" {
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "OPERATION\tMETHOD\tPATH\tSTATUSES")
		for _, id := range cat.IDs() {
			op, _ := cat.Lookup(id)
			statuses := make([]string, 0, len(op.Responses))
			for _, s := range op.Statuses() {
				statuses = append(statuses, fmt.Sprint(s))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", op.ID, op.Method, op.Path, strings.Join(statuses, ","))
		}
		return tw.Flush()
	}

	var out any
	if cfg.Status != 0 {
		out, err = cat.Response(cfg.OperationID, cfg.Status)
	} else {
		out, err = cat.Bundle(cfg.OperationID)
	}
	if errors.Is(err, catalog.ErrUnknownOperation) {
		return newUsageError(fmt.Sprintf("inspect: %v (known: %s)", err, strings.Join(cat.IDs(), ", ")))
	}
	if err != nil {
		return err
	}
	return writeDocument(stdout, out, cfg.Format)
}

// writeDocument prints v as indented JSON or block-style YAML. YAML goes
// through JSON first so schema fields keep their JSON names and order.
func writeDocument(w io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
