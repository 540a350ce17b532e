package scaffold

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Renderer turns a handler group into the contents of one source file.
type Renderer interface {
	// FileName returns the file name, relative to the output directory, for
	// the given handler.
	FileName(handler string) string
	Render(group Group) ([]byte, error)
}

// GroupChecker is implemented by renderers whose output files share a
// namespace, such as one Go package. Generate calls CheckGroups with every
// group before anything is written.
type GroupChecker interface {
	CheckGroups(groups []*Group) error
}

// ErrPathCollision is returned when two outputs of one run map to the same
// file.
var ErrPathCollision = errors.New("scaffold: output path collision")

// Status is the outcome for one output file.
type Status string

const (
	StatusWritten Status = "written"
	StatusSkipped Status = "skipped"
	StatusPlanned Status = "planned"
)

// SkipMessage is reported for every file that already exists.
const SkipMessage = "already exists, skipping"

// File is an extra output gated exactly like a handler file.
type File struct {
	RelPath string
	Content []byte
}

// Options controls Generate.
type Options struct {
	OutDir   string // required; created when missing
	Renderer Renderer
	// Extra files written after the handler files under the same
	// generate-once rule.
	Extra  []File
	DryRun bool
	Logger *slog.Logger
}

// FileResult describes what happened to one output file.
type FileResult struct {
	Handler    string // empty for extra files
	RelPath    string
	Status     Status
	Size       int
	Operations []string
}

// Message is the console line for the result.
func (f FileResult) Message() string {
	switch f.Status {
	case StatusSkipped:
		return fmt.Sprintf("%s %s", f.RelPath, SkipMessage)
	case StatusPlanned:
		return fmt.Sprintf("%s would be written (%d bytes)", f.RelPath, f.Size)
	default:
		return fmt.Sprintf("%s written (%d bytes)", f.RelPath, f.Size)
	}
}

// Result lists per-file outcomes in processing order.
type Result struct {
	OutDir string
	Files  []FileResult
}

// Count returns how many files ended with status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == s {
			n++
		}
	}
	return n
}

// Generate writes one file per handler group, in group order. A file that
// already exists is never touched. Any render or write failure aborts the run.
func Generate(ctx context.Context, groups *Groups, opts Options) (*Result, error) {
	if groups == nil {
		return nil, errors.New("scaffold: nil groups")
	}
	if opts.Renderer == nil {
		return nil, errors.New("scaffold: renderer is required")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, errors.New("scaffold: OutDir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	abs, err := filepath.Abs(opts.OutDir)
	if err != nil {
		return nil, fmt.Errorf("resolve out dir: %w", err)
	}
	if checker, ok := opts.Renderer.(GroupChecker); ok {
		if err := checker.CheckGroups(groups.Groups); err != nil {
			return nil, err
		}
	}
	paths, err := plannedPaths(groups, opts)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create out dir: %w", err)
		}
	}

	res := &Result{OutDir: abs}
	for i, grp := range groups.Groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel := paths[i]
		fr := FileResult{Handler: grp.Handler, RelPath: rel, Operations: grp.OperationIDs()}
		done, err := emitOne(abs, fr, func() ([]byte, error) { return opts.Renderer.Render(*grp) }, opts.DryRun)
		if err != nil {
			return res, fmt.Errorf("handler %s: %w", grp.Handler, err)
		}
		res.Files = append(res.Files, done)
		logger.Info("scaffold", "handler", grp.Handler, "file", rel, "status", string(done.Status), "operations", len(grp.Operations))
	}
	for _, extra := range opts.Extra {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		content := extra.Content
		fr := FileResult{RelPath: filepath.ToSlash(extra.RelPath)}
		done, err := emitOne(abs, fr, func() ([]byte, error) { return content, nil }, opts.DryRun)
		if err != nil {
			return res, err
		}
		res.Files = append(res.Files, done)
		logger.Info("scaffold", "file", fr.RelPath, "status", string(done.Status))
	}
	return res, nil
}

// plannedPaths returns the relative path of every group's file in group
// order. Two groups or extra files landing on the same path, compared without
// case so the result does not depend on the file system, is an error: the
// second would otherwise be reported as existing and its operations lost.
func plannedPaths(groups *Groups, opts Options) ([]string, error) {
	owners := map[string]string{}
	claim := func(rel, owner string) error {
		key := strings.ToLower(filepath.ToSlash(filepath.Clean(rel)))
		if prev, dup := owners[key]; dup {
			return fmt.Errorf("%w: %s and %s both map to %s", ErrPathCollision, prev, owner, rel)
		}
		owners[key] = owner
		return nil
	}
	out := make([]string, 0, len(groups.Groups))
	for _, grp := range groups.Groups {
		rel := filepath.ToSlash(opts.Renderer.FileName(grp.Handler))
		if err := claim(rel, "handler "+grp.Handler); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	for _, extra := range opts.Extra {
		rel := filepath.ToSlash(extra.RelPath)
		if err := claim(rel, "file "+rel); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func emitOne(outDir string, fr FileResult, render func() ([]byte, error), dryRun bool) (FileResult, error) {
	target := filepath.Join(outDir, filepath.FromSlash(fr.RelPath))
	if _, err := os.Lstat(target); err == nil {
		fr.Status = StatusSkipped
		return fr, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fr, fmt.Errorf("stat %s: %w", fr.RelPath, err)
	}
	content, err := render()
	if err != nil {
		return fr, fmt.Errorf("render %s: %w", fr.RelPath, err)
	}
	fr.Size = len(content)
	if dryRun {
		fr.Status = StatusPlanned
		return fr, nil
	}
	if err := writeAtomic(target, content); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// created by someone else since the Lstat above
			fr.Status = StatusSkipped
			fr.Size = 0
			return fr, nil
		}
		return fr, err
	}
	fr.Status = StatusWritten
	return fr, nil
}

// writeAtomic writes content to a temp file beside path and links it into
// place, so a reader never observes a partial file. Linking fails with
// fs.ErrExist instead of replacing a file that appeared in the meantime. On
// file systems without hard links the file is created with O_EXCL instead.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	err = os.Link(tmpName, path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("link %s: %w", filepath.Base(path), err)
	}
	return writeExclusive(path, content)
}

func writeExclusive(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}
