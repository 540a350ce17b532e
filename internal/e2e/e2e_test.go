package e2e

import (
    "bytes"
    "context"
    "crypto/sha256"
    "encoding/hex"
    "os"
    "os/exec"
    "path/filepath"
    "sort"
    "strings"
    "testing"
    "time"

    cli "github.com/mark3labs/apistarter/internal/cli"
)

// two operations on one controller plus one operation without extensions
const usersSpec = "" +
    "openapi: 3.0.0\n" +
    "info:\n" +
    "  title: E2E Sample\n" +
    "  version: '1.0.0'\n" +
    "paths:\n" +
    "  /users:\n" +
    "    get:\n" +
    "      x-eov-operation-id: getUsers\n" +
    "      x-eov-operation-handler: userController\n" +
    "      responses:\n" +
    "        '200':\n" +
    "          description: ok\n" +
    "          content:\n" +
    "            application/json:\n" +
    "              schema:\n" +
    "                type: array\n" +
    "                items:\n" +
    "                  type: string\n" +
    "    post:\n" +
    "      x-eov-operation-id: createUser\n" +
    "      x-eov-operation-handler: userController\n" +
    "      responses:\n" +
    "        '201':\n" +
    "          description: created\n" +
    "  /health:\n" +
    "    get:\n" +
    "      operationId: health\n" +
    "      responses:\n" +
    "        '200':\n" +
    "          description: ok\n"

// usersSpec with a second controller added
const usersAndPetsSpec = usersSpec +
    "  /pets:\n" +
    "    get:\n" +
    "      x-eov-operation-id: listPets\n" +
    "      x-eov-operation-handler: petController\n" +
    "      responses:\n" +
    "        '200':\n" +
    "          description: ok\n"

func writeTempSpec(t *testing.T, content string) string {
    t.Helper()
    dir := t.TempDir()
    p := filepath.Join(dir, "spec.yaml")
    if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
        t.Fatalf("write spec: %v", err)
    }
    return p
}

func runCLI(t *testing.T, args ...string) string {
    t.Helper()
    var out, errOut bytes.Buffer
    root := cli.NewRootCmd()
    root.SetOut(&out)
    root.SetErr(&errOut)
    root.SetArgs(args)
    if err := root.Execute(); err != nil {
        t.Fatalf("cli execute %v: %v\n%s", args, err, errOut.String())
    }
    return out.String()
}

func digestDir(t *testing.T, dir string) (files []string, sum string) {
    t.Helper()
    var list []string
    h := sha256.New()
    err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
        if err != nil { return err }
        if d.IsDir() { return nil }
        rel, rerr := filepath.Rel(dir, path)
        if rerr != nil { return rerr }
        rel = filepath.ToSlash(rel)
        list = append(list, rel)
        // hash path + contents to be robust
        _, _ = h.Write([]byte(rel))
        b, rerr := os.ReadFile(path)
        if rerr != nil { return rerr }
        _, _ = h.Write(b)
        return nil
    })
    if err != nil {
        t.Fatalf("walk %s: %v", dir, err)
    }
    sort.Strings(list)
    return list, hex.EncodeToString(h.Sum(nil))
}

func TestE2E_Generate_Go_Deterministic_And_Formatting(t *testing.T) {
    t.Parallel()
    spec := writeTempSpec(t, usersSpec)
    dir1 := t.TempDir()
    dir2 := t.TempDir()

    runCLI(t, "generate", "--input", spec, "--lang", "go", "--out", dir1)
    runCLI(t, "generate", "--input", spec, "--lang", "go", "--out", dir2)

    files1, sum1 := digestDir(t, dir1)
    files2, sum2 := digestDir(t, dir2)
    if !slicesEqual(files1, files2) || sum1 != sum2 {
        t.Fatalf("generated outputs differ between runs\nfiles1=%v\nfiles2=%v\nsum1=%s\nsum2=%s", files1, files2, sum1, sum2)
    }
    if !slicesEqual(files1, []string{"user_controller.go"}) {
        t.Fatalf("unexpected files: %v", files1)
    }

    // Optional: check gofmt agrees with the emitted formatting
    if os.Getenv("APISTARTER_E2E_TOOLS") == "1" && haveCmd("gofmt") {
        out, err := runCmdWithTimeout(dir1, time.Minute, "gofmt", "-l", ".")
        if err != nil {
            t.Fatalf("gofmt failed: %v", err)
        }
        if strings.TrimSpace(out) != "" {
            t.Fatalf("gofmt would reformat: %s", out)
        }
    }
}

func TestE2E_Generate_TypeScript_Deterministic(t *testing.T) {
    t.Parallel()
    spec := writeTempSpec(t, usersSpec)
    dir1 := t.TempDir()
    dir2 := t.TempDir()

    runCLI(t, "generate", "--input", spec, "--lang", "typescript", "--out", dir1, "--emit-types")
    runCLI(t, "generate", "--input", spec, "--lang", "typescript", "--out", dir2, "--emit-types")

    files1, sum1 := digestDir(t, dir1)
    files2, sum2 := digestDir(t, dir2)
    if !slicesEqual(files1, files2) || sum1 != sum2 {
        t.Fatalf("generated outputs differ between runs\nfiles1=%v\nfiles2=%v\nsum1=%s\nsum2=%s", files1, files2, sum1, sum2)
    }
    mustExist(t, filepath.Join(dir1, "userController.ts"))
    mustExist(t, filepath.Join(dir1, "types", "projection.ts"))
}

func TestE2E_Generate_Idempotent(t *testing.T) {
    t.Parallel()
    spec := writeTempSpec(t, usersSpec)
    dir := t.TempDir()

    runCLI(t, "generate", "--input", spec, "--out", dir)
    _, before := digestDir(t, dir)

    out := runCLI(t, "generate", "--input", spec, "--out", dir)
    _, after := digestDir(t, dir)
    if before != after {
        t.Fatalf("second run changed the output directory")
    }
    if !strings.Contains(out, "0 written, 1 skipped") {
        t.Fatalf("expected everything skipped on rerun, got: %s", out)
    }
}

func TestE2E_Generate_Monotonic(t *testing.T) {
    t.Parallel()
    dir := t.TempDir()

    runCLI(t, "generate", "--input", writeTempSpec(t, usersSpec), "--out", dir)
    existing := filepath.Join(dir, "user_controller.go")
    edited := []byte("package controllers\n\n// hand edited\n")
    if err := os.WriteFile(existing, edited, 0o644); err != nil {
        t.Fatalf("edit: %v", err)
    }

    out := runCLI(t, "generate", "--input", writeTempSpec(t, usersAndPetsSpec), "--out", dir)
    if !strings.Contains(out, "1 written, 1 skipped") {
        t.Fatalf("expected only the new controller to be written, got: %s", out)
    }
    files, _ := digestDir(t, dir)
    if !slicesEqual(files, []string{"pet_controller.go", "user_controller.go"}) {
        t.Fatalf("unexpected files: %v", files)
    }
    got, err := os.ReadFile(existing)
    if err != nil {
        t.Fatalf("read: %v", err)
    }
    if !bytes.Equal(got, edited) {
        t.Fatalf("existing controller was modified:\n%s", got)
    }
}

func haveCmd(name string) bool {
    _, err := exec.LookPath(name)
    return err == nil
}

func runCmdWithTimeout(dir string, timeout time.Duration, name string, args ...string) (string, error) {
    ctx, cancel := context.WithTimeout(context.Background(), timeout)
    defer cancel()
    cmd := exec.CommandContext(ctx, name, args...)
    cmd.Dir = dir
    var out bytes.Buffer
    cmd.Stdout = &out
    cmd.Stderr = &out
    err := cmd.Run()
    if err != nil {
        // include output for diagnostics
        return out.String(), &execError{err: err, output: out.String()}
    }
    return out.String(), nil
}

type execError struct {
    err    error
    output string
}

func (e *execError) Error() string { return e.err.Error() + ": " + e.output }

func mustExist(t *testing.T, path string) {
    t.Helper()
    if _, err := os.Stat(path); err != nil {
        t.Fatalf("expected file to exist: %s: %v", path, err)
    }
}

func slicesEqual(a, b []string) bool {
    if len(a) != len(b) { return false }
    for i := range a {
        if a[i] != b[i] { return false }
    }
    return true
}
