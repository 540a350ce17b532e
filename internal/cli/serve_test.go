package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/apistarter/pkg/handler"
)

const securedSpecYAML = `openapi: 3.0.3
info: {title: secured, version: '1'}
security:
  - ApiKeyAuth: []
paths:
  /users:
    get:
      operationId: getUsers
      responses:
        '200':
          description: ok
          content:
            application/json:
              schema:
                type: array
                items: {type: string}
components:
  securitySchemes:
    ApiKeyAuth: {type: apiKey, in: header, name: X-API-Key}
`

func captureServe(t *testing.T, opts []Option, args ...string) (*ServeConfig, error) {
	t.Helper()
	root := NewRootCmd(opts...)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	var captured *ServeConfig
	serveRunner = func(ctx context.Context, cfg *ServeConfig) error {
		captured = cfg
		return nil
	}
	t.Cleanup(func() { serveRunner = runServe })

	root.SetArgs(args)
	err := root.Execute()
	return captured, err
}

func TestServeConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("APISTARTER_ADDR", ":9999")
	t.Setenv("APISTARTER_SPEC_PATH", "from-env.yaml")
	t.Setenv("APISTARTER_API_KEYS_FILE", "keys.yaml")

	reg := handler.Registry{}.Register("getUsers", func(*handler.Request, *handler.Response, handler.Next) {})
	captured, err := captureServe(t, []Option{WithRegistry(reg)}, "serve", "--spec", "from-flag.yaml", "--no-auth")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if captured.Server.Addr != ":9999" {
		t.Errorf("addr from env: got %q", captured.Server.Addr)
	}
	if captured.Server.SpecPath != "from-flag.yaml" {
		t.Errorf("spec flag should win: got %q", captured.Server.SpecPath)
	}
	if captured.Server.APIKeysFile != "keys.yaml" {
		t.Errorf("keys from env: got %q", captured.Server.APIKeysFile)
	}
	if captured.Server.AuthEnabled {
		t.Errorf("--no-auth should disable auth")
	}
	if captured.OperationKey != "x-eov-operation-id" {
		t.Errorf("operation key: got %q", captured.OperationKey)
	}
	if _, ok := captured.registry.Lookup("getUsers"); !ok {
		t.Errorf("registry not passed through")
	}
}

func TestServeConfig_InvalidEnv(t *testing.T) {
	t.Setenv("APISTARTER_ENV", "staging")
	_, err := captureServe(t, nil, "serve")
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestBuildServer_WithKeyFile(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "openapi.yaml")
	keysPath := filepath.Join(dir, "keys.yaml")
	if err := os.WriteFile(specPath, []byte(securedSpecYAML), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	if err := os.WriteFile(keysPath, []byte("keys:\n  - {name: ci, key: k1}\n"), 0o600); err != nil {
		t.Fatalf("write keys: %v", err)
	}
	t.Setenv("APISTARTER_SPEC_PATH", specPath)
	t.Setenv("APISTARTER_API_KEYS_FILE", keysPath)

	captured, err := captureServe(t, nil, "serve")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	srv, keys, err := buildServer(context.Background(), captured)
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	if keys == nil {
		t.Fatalf("expected a key store")
	}

	call := func(key string) int {
		r := httptest.NewRequest(http.MethodGet, "/users", nil)
		if key != "" {
			r.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, r)
		return rec.Code
	}
	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("without key: %d", code)
	}
	if code := call("k1"); code != http.StatusOK {
		t.Fatalf("with key: %d", code)
	}

	if err := os.WriteFile(keysPath, []byte("keys:\n  - {name: ci, key: k2}\n"), 0o600); err != nil {
		t.Fatalf("rewrite keys: %v", err)
	}
	if err := keys.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if code := call("k1"); code != http.StatusUnauthorized {
		t.Fatalf("old key after reload: %d", code)
	}
	if code := call("k2"); code != http.StatusOK {
		t.Fatalf("new key after reload: %d", code)
	}
}

func TestBuildServer_AuthWithoutKeys(t *testing.T) {
	specPath := writeSpec(t, securedSpecYAML)
	t.Setenv("APISTARTER_SPEC_PATH", specPath)
	t.Setenv("APISTARTER_API_KEYS_FILE", "")

	captured, err := captureServe(t, nil, "serve")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, _, err := buildServer(context.Background(), captured); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error for secured spec without keys, got %v", err)
	}
}
