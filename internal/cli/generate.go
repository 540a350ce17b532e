package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/apistarter/internal/catalog"
	"github.com/mark3labs/apistarter/internal/emitter/goemitter"
	"github.com/mark3labs/apistarter/internal/emitter/tsemitter"
	"github.com/mark3labs/apistarter/internal/scaffold"
	genspec "github.com/mark3labs/apistarter/internal/spec"
)

// GenerateConfig captures all inputs that influence the generate command after
// merging defaults, config file values, and CLI overrides.
type GenerateConfig struct {
	Input         string
	Lang          string
	Out           string
	Package       string
	HandlerImport string
	Stub          string
	HandlerKey    string
	OperationKey  string
	Handlers      []string
	EmitTypes     bool
	Strict        bool
	ConfigPath    string
	DryRun        bool
	Verbose       bool

	stdout io.Writer
	logger *slog.Logger
}

func defaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Input:        genspec.DefaultPath,
		Lang:         "go",
		Out:          "controllers",
		Stub:         string(goemitter.StubNotImplemented),
		HandlerKey:   scaffold.DefaultHandlerKey,
		OperationKey: catalog.DefaultOperationIDKey,
	}
}

var generateRunner = runGenerate

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Scaffold controller files from the handler extensions of an OpenAPI document",
		Long: "Scaffold one controller file per x-eov-operation-handler value. Existing files are never " +
			"overwritten, so the command is safe to re-run after the contract grows. " +
			"Options can be provided via flags, config files, or defaults.",
		Example: strings.TrimSpace(`  apistarter generate --input api/openapi.yaml --out internal/controllers
  apistarter generate --lang typescript --out src/controllers --emit-types
  apistarter --config apistarter.yaml generate --dry-run`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveGenerateConfig(cmd)
			if err != nil {
				return err
			}
			cfg.stdout = cmd.OutOrStdout()
			if cfg.logger, err = newLogger(cmd, cfg.Verbose); err != nil {
				return err
			}
			return generateRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("input", "", "Path or URL to the OpenAPI document (default "+genspec.DefaultPath+")")
	flags.String("lang", "", "Target language to emit (go|typescript); defaults to go")
	flags.String("out", "", "Output directory for controller files (default controllers)")
	flags.String("package", "", "Go package name of the generated files (default controllers)")
	flags.String("handler-import", "", "Go import path of the handler runtime package")
	flags.String("stub", "", "Stub body style (not-implemented|placeholder)")
	flags.String("handler-key", "", "Extension naming the controller of an operation (default "+scaffold.DefaultHandlerKey+")")
	flags.String("operation-key", "", "Extension naming the operation id (default "+catalog.DefaultOperationIDKey+")")
	flags.StringSlice("handler", nil, "Only scaffold these handler groups")
	flags.Bool("emit-types", false, "Also write "+tsemitter.TypesFile+" (typescript only)")
	flags.Bool("strict", false, "Fail when an operation lacks a handler or operation id extension")
	flags.Bool("dry-run", false, "Preview planned outputs without writing files")

	return cmd
}

func resolveGenerateConfig(cmd *cobra.Command) (*GenerateConfig, error) {
	cfg := defaultGenerateConfig()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	configPath = strings.TrimSpace(configPath)
	if configPath != "" {
		cfg.ConfigPath = configPath
		if err := applyGenerateConfigFromFile(&cfg, configPath); err != nil {
			return nil, err
		}
	}

	if err := applyGenerateFlagOverrides(cmd.Flags(), &cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyGenerateFlagOverrides(flags *pflag.FlagSet, cfg *GenerateConfig) error {
	strs := map[string]*string{
		"input":          &cfg.Input,
		"lang":           &cfg.Lang,
		"out":            &cfg.Out,
		"package":        &cfg.Package,
		"handler-import": &cfg.HandlerImport,
		"stub":           &cfg.Stub,
		"handler-key":    &cfg.HandlerKey,
		"operation-key":  &cfg.OperationKey,
	}
	for name, dst := range strs {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(value)
	}

	bools := map[string]*bool{
		"emit-types": &cfg.EmitTypes,
		"strict":     &cfg.Strict,
		"dry-run":    &cfg.DryRun,
		"verbose":    &cfg.Verbose,
	}
	for name, dst := range bools {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = value
	}

	if flags.Changed("handler") {
		value, err := flags.GetStringSlice("handler")
		if err != nil {
			return err
		}
		cfg.Handlers = sanitizeNames(value)
	}

	return nil
}

func (c *GenerateConfig) normalize() {
	c.Input = strings.TrimSpace(c.Input)
	c.Lang = strings.ToLower(strings.TrimSpace(c.Lang))
	if c.Lang == "ts" {
		c.Lang = "typescript"
	}
	c.Out = strings.TrimSpace(c.Out)
	c.Package = strings.TrimSpace(c.Package)
	c.HandlerImport = strings.TrimSpace(c.HandlerImport)
	c.Stub = strings.ToLower(strings.TrimSpace(c.Stub))
	c.HandlerKey = strings.TrimSpace(c.HandlerKey)
	c.OperationKey = strings.TrimSpace(c.OperationKey)
	c.Handlers = sanitizeNames(c.Handlers)
}

func (c *GenerateConfig) validate() error {
	if c.Input == "" {
		return newUsageError("generate: --input is required (set via flag or config file)")
	}
	if c.Out == "" {
		return newUsageError("generate: --out must not be empty")
	}

	switch c.Lang {
	case "", "go", "typescript":
		if c.Lang == "" {
			c.Lang = "go"
		}
	default:
		return newUsageError(fmt.Sprintf("generate: unsupported --lang %q (allowed: go, typescript)", c.Lang))
	}

	if _, err := goemitter.ParseStub(c.Stub); err != nil {
		return newUsageError(fmt.Sprintf("generate: --stub: %v", err))
	}
	if c.EmitTypes && c.Lang != "typescript" {
		return newUsageError("generate: --emit-types only applies to --lang typescript")
	}
	if c.Lang == "typescript" && (c.Package != "" || c.HandlerImport != "") {
		return newUsageError("generate: --package and --handler-import only apply to --lang go")
	}
	if c.HandlerKey == "" || c.OperationKey == "" {
		return newUsageError("generate: --handler-key and --operation-key must not be empty")
	}
	if c.HandlerKey == c.OperationKey {
		return newUsageError(fmt.Sprintf("generate: --handler-key and --operation-key are both %q", c.HandlerKey))
	}

	return nil
}

func runGenerate(ctx context.Context, cfg *GenerateConfig) error {
	stdout := cfg.stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// 1) Read the raw document; grouping follows its textual order.
	src, err := genspec.ReadSource(ctx, cfg.Input)
	if err != nil {
		return specUsageError(err)
	}

	// 2) Group operations by handler name.
	groups, err := scaffold.ReadGroups(src.Data,
		scaffold.WithHandlerKey(cfg.HandlerKey),
		scaffold.WithOperationIDKey(cfg.OperationKey),
	)
	if err != nil {
		return specUsageError(err)
	}
	for _, s := range groups.Skipped {
		logger.Warn("operation skipped", "method", s.Method, "path", s.Path, "operation", s.OperationID, "reason", s.Reason)
	}
	if cfg.Strict && len(groups.Skipped) > 0 {
		lines := make([]string, 0, len(groups.Skipped))
		for _, s := range groups.Skipped {
			lines = append(lines, fmt.Sprintf("  %s %s: %s", s.Method, s.Path, s.Reason))
		}
		return newUsageError(fmt.Sprintf("generate: %d operation(s) cannot be scaffolded (--strict):\n%s",
			len(groups.Skipped), strings.Join(lines, "\n")))
	}
	if len(cfg.Handlers) > 0 {
		if groups, err = selectHandlers(groups, cfg.Handlers); err != nil {
			return err
		}
	}
	if groups.Len() == 0 {
		logger.Warn("no operation carries both extensions; nothing to scaffold",
			"handler_key", cfg.HandlerKey, "operation_key", cfg.OperationKey)
	}

	// 3) Pick the renderer for the target language.
	source := filepath.ToSlash(cfg.Input)
	var (
		renderer scaffold.Renderer
		extra    []scaffold.File
	)
	switch cfg.Lang {
	case "go":
		e, err := goemitter.New(goemitter.Options{
			Package:       cfg.Package,
			HandlerImport: cfg.HandlerImport,
			Stub:          goemitter.Stub(cfg.Stub),
			Source:        source,
		})
		if err != nil {
			return newUsageError(fmt.Sprintf("generate: %v", err))
		}
		renderer = e
	case "typescript":
		e, err := tsemitter.New(tsemitter.Options{
			Stub:   goemitter.Stub(cfg.Stub),
			Source: source,
		})
		if err != nil {
			return newUsageError(fmt.Sprintf("generate: %v", err))
		}
		renderer = e
		if cfg.EmitTypes {
			extra = append(extra, scaffold.File{RelPath: tsemitter.TypesFile, Content: e.TypesModule()})
		}
	default:
		return newUsageError(fmt.Sprintf("generate: unsupported --lang %q (allowed: go, typescript)", cfg.Lang))
	}

	// 4) Write each file once.
	absOut := cfg.Out
	if ap, err := filepath.Abs(cfg.Out); err == nil {
		absOut = ap
	}
	res, err := scaffold.Generate(ctx, groups, scaffold.Options{
		OutDir:   cfg.Out,
		Renderer: renderer,
		Extra:    extra,
		DryRun:   cfg.DryRun,
		Logger:   logger,
	})
	if err != nil {
		return wrapOutputError(err, absOut)
	}

	if cfg.DryRun {
		printPlan(stdout, res)
		return nil
	}
	for _, f := range res.Files {
		fmt.Fprintln(stdout, f.Message())
	}
	fmt.Fprintf(stdout, "%d written, %d skipped in %s\n",
		res.Count(scaffold.StatusWritten), res.Count(scaffold.StatusSkipped), res.OutDir)
	return nil
}

// selectHandlers keeps only the named groups, in document order.
func selectHandlers(groups *scaffold.Groups, names []string) (*scaffold.Groups, error) {
	var missing []string
	for _, n := range names {
		if _, ok := groups.Lookup(n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, newUsageError(fmt.Sprintf("generate: unknown handler(s): %s", strings.Join(missing, ", ")))
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := &scaffold.Groups{Skipped: groups.Skipped}
	for _, g := range groups.Groups {
		if want[g.Handler] {
			out.Groups = append(out.Groups, g)
		}
	}
	return out, nil
}

func printPlan(w io.Writer, res *scaffold.Result) {
	fmt.Fprintf(w, "Planned writes to %s (%d files):\n", res.OutDir, len(res.Files))
	for _, f := range res.Files {
		fmt.Fprintf(w, "- %s\n", f.Message())
	}
}

// specUsageError maps structured spec errors into friendly messages.
func specUsageError(err error) error {
	var se *genspec.SpecError
	if !errors.As(err, &se) {
		return err
	}
	msg := fmt.Sprintf("spec: %s", se.Message)
	if se.Location != "" {
		msg = fmt.Sprintf("%s\nLocation: %s", msg, se.Location)
	}
	if se.JSONPointer != "" {
		msg = fmt.Sprintf("%s\nPointer: %s", msg, se.JSONPointer)
	}
	return newUsageError(msg)
}

func wrapOutputError(err error, outDir string) error {
	if errors.Is(err, scaffold.ErrPathCollision) || errors.Is(err, goemitter.ErrFuncCollision) {
		return newUsageError(fmt.Sprintf("generate: %v\nHint: rename the handler or operation id in the OpenAPI document.", err))
	}
	// Provide clearer guidance for common FS failures.
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "read-only") || strings.Contains(lower, "out dir") || strings.Contains(lower, "not a directory") {
		return newUsageError(fmt.Sprintf("output error for %s: %s\nHint: choose a different --out.", outDir, msg))
	}
	return err
}

func sanitizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	result := make([]string, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func applyGenerateConfigFromFile(cfg *GenerateConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newUsageError(fmt.Sprintf("read config file %q: %v", path, err))
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return newUsageError(fmt.Sprintf("parse config file %q: %v", path, err))
	}

	strs := map[string]*string{
		"input":         &cfg.Input,
		"lang":          &cfg.Lang,
		"out":           &cfg.Out,
		"package":       &cfg.Package,
		"handlerimport": &cfg.HandlerImport,
		"stub":          &cfg.Stub,
		"handlerkey":    &cfg.HandlerKey,
		"operationkey":  &cfg.OperationKey,
	}
	bools := map[string]*bool{
		"emittypes": &cfg.EmitTypes,
		"strict":    &cfg.Strict,
		"dryrun":    &cfg.DryRun,
		"verbose":   &cfg.Verbose,
	}

	for key, value := range raw {
		normalized := normalizeKey(key)
		if dst, ok := strs[normalized]; ok {
			str, err := valueAsString(value)
			if err != nil {
				return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
			}
			*dst = str
			continue
		}
		if dst, ok := bools[normalized]; ok {
			val, err := valueAsBool(value)
			if err != nil {
				return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
			}
			*dst = val
			continue
		}
		if normalized == "handlers" {
			list, err := valueAsStringSlice(value)
			if err != nil {
				return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
			}
			cfg.Handlers = sanitizeNames(list)
			continue
		}
		return newUsageError(fmt.Sprintf("config file %q: unknown field %q", path, key))
	}

	return nil
}

func normalizeKey(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.ReplaceAll(lowered, "-", "")
	lowered = strings.ReplaceAll(lowered, "_", "")
	return lowered
}

func valueAsString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func valueAsStringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		return splitAndTrim(val), nil
	case []any:
		items := make([]string, 0, len(val))
		for idx, elem := range val {
			str, err := valueAsString(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", idx, err)
			}
			if str != "" {
				items = append(items, str)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", v)
	}
}

func valueAsBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(val))
		switch trimmed {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		case "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean value %q", val)
		}
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
