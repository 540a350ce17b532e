package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestInit_WritesSampleConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	var stdout bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", "--out", path})

	if err := root.Execute(); err != nil {
		t.Fatalf("init execute: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, "apistarter configuration") || !strings.Contains(s, "# handlerKey: x-eov-operation-handler") {
		t.Fatalf("unexpected config contents: %s", s)
	}
	if !strings.Contains(stdout.String(), "Wrote sample config to") {
		t.Fatalf("unexpected stdout: %s", stdout.String())
	}
}

func TestInit_ExistingWithoutForce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("prewrite: %v", err)
	}

	root := NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", "--out", path})

	err := root.Execute()
	if err == nil {
		t.Fatalf("expected error for existing file without --force")
	}
	if _, ok := err.(usageError); !ok {
		t.Fatalf("expected usage error, got %T: %v", err, err)
	}

	root = NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", "--out", path, "--force"})
	if err := root.Execute(); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) == "x" {
		t.Fatalf("--force did not replace the file")
	}
}

var commentedField = regexp.MustCompile(`^# ([A-Za-z]+: .+)$`)

// The sample config must round-trip through the generate config loader once
// its commented fields are enabled.
func TestInit_SampleConfigKeysAreKnown(t *testing.T) {
	t.Parallel()
	var lines []string
	for _, line := range strings.Split(sampleConfigYAML, "\n") {
		if m := commentedField.FindStringSubmatch(line); m != nil {
			lines = append(lines, m[1])
		}
	}
	if len(lines) < 10 {
		t.Fatalf("expected commented fields, got %v", lines)
	}
	path := filepath.Join(t.TempDir(), "enabled.yaml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := defaultGenerateConfig()
	if err := applyGenerateConfigFromFile(&cfg, path); err != nil {
		t.Fatalf("sample keys rejected: %v\n%s", err, strings.Join(lines, "\n"))
	}
}
