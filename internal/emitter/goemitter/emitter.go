// Package goemitter renders handler groups as Go controller files whose
// functions plug into a handler.Registry.
package goemitter

import (
	"bytes"
	"errors"
	"fmt"
	"go/format"
	"go/token"
	"strings"
	"text/template"
	"unicode"

	"github.com/mark3labs/apistarter/internal/scaffold"
)

// ErrFuncCollision is returned when two operation ids map to one Go func name.
var ErrFuncCollision = errors.New("goemitter: func name collision")

// DefaultHandlerImport is the import path of the handler runtime package.
const DefaultHandlerImport = "github.com/mark3labs/apistarter/pkg/handler"

// Stub selects the body emitted for every generated function.
type Stub string

const (
	// StubNotImplemented reports a not-implemented error through next.
	StubNotImplemented Stub = "not-implemented"
	// StubPlaceholder responds at once with a schema-shaped placeholder.
	StubPlaceholder Stub = "placeholder"
)

// ParseStub validates a stub style name; empty means StubNotImplemented.
func ParseStub(s string) (Stub, error) {
	switch Stub(strings.ToLower(strings.TrimSpace(s))) {
	case "", StubNotImplemented:
		return StubNotImplemented, nil
	case StubPlaceholder:
		return StubPlaceholder, nil
	default:
		return "", fmt.Errorf("unknown stub style %q (want %s|%s)", s, StubNotImplemented, StubPlaceholder)
	}
}

// Options controls how the Go emitter renders a group.
type Options struct {
	Package       string // package clause; defaults to "controllers"
	HandlerImport string // defaults to DefaultHandlerImport
	Stub          Stub
	Source        string // spec path mentioned in the file header
}

// Emitter implements scaffold.Renderer for Go.
type Emitter struct {
	opts Options
}

// New validates opts and returns an Emitter.
func New(opts Options) (*Emitter, error) {
	opts.Package = strings.TrimSpace(opts.Package)
	if opts.Package == "" {
		opts.Package = "controllers"
	}
	if !token.IsIdentifier(opts.Package) || token.IsKeyword(opts.Package) {
		return nil, fmt.Errorf("goemitter: invalid package name %q", opts.Package)
	}
	if strings.TrimSpace(opts.HandlerImport) == "" {
		opts.HandlerImport = DefaultHandlerImport
	}
	stub, err := ParseStub(string(opts.Stub))
	if err != nil {
		return nil, fmt.Errorf("goemitter: %w", err)
	}
	opts.Stub = stub
	return &Emitter{opts: opts}, nil
}

var (
	_ scaffold.Renderer     = (*Emitter)(nil)
	_ scaffold.GroupChecker = (*Emitter)(nil)
)

// CheckGroups rejects operations in different groups that map to the same
// function name. All files land in one package, so they would not compile.
func (e *Emitter) CheckGroups(groups []*scaffold.Group) error {
	type owner struct{ handler, operationID string }
	seen := map[string]owner{}
	for _, g := range groups {
		for _, op := range g.Operations {
			name := FuncName(op.OperationID)
			if prev, dup := seen[name]; dup {
				return fmt.Errorf("%w: operations %q (%s) and %q (%s) both map to func %s",
					ErrFuncCollision, prev.operationID, prev.handler, op.OperationID, g.Handler, name)
			}
			seen[name] = owner{g.Handler, op.OperationID}
		}
	}
	return nil
}

// FileName maps a handler name to snake_case with a .go suffix, e.g.
// userController -> user_controller.go.
func (e *Emitter) FileName(handler string) string {
	name := snakeCase(handler)
	if name == "" {
		name = "handler"
	}
	return name + ".go"
}

type funcData struct {
	Name        string
	OperationID string
	Method      string
	Path        string
	Doc         []string
}

type fileData struct {
	Handler       string
	Source        string
	Package       string
	HandlerImport string
	Placeholder   bool
	Funcs         []funcData
}

var fileTmpl = template.Must(template.New("controller").Parse(`// Scaffolded by apistarter for handler {{.Handler}}{{if .Source}} from {{.Source}}{{end}}.
// This file is generated once and never overwritten. Register each function
// in a handler.Registry under its operation id.

package {{.Package}}

import handler "{{.HandlerImport}}"
{{range .Funcs}}
// {{.Name}} handles {{.Method}} {{.Path}} (operation {{.OperationID}}).
{{- range .Doc}}
//{{if .}} {{.}}{{end}}
{{- end}}
func {{.Name}}(req *handler.Request, res *handler.Response, next handler.Next) {
{{- if $.Placeholder}}
	if err := res.Placeholder(); err != nil {
		next(err)
	}
{{- else}}
	next(handler.NotImplemented({{printf "%q" .OperationID}}))
{{- end}}
}
{{end}}`))

// Render produces a gofmt'ed Go file with one exported function per operation.
func (e *Emitter) Render(g scaffold.Group) ([]byte, error) {
	data := fileData{
		Handler:       oneLine(g.Handler),
		Source:        oneLine(e.opts.Source),
		Package:       e.opts.Package,
		HandlerImport: e.opts.HandlerImport,
		Placeholder:   e.opts.Stub == StubPlaceholder,
	}
	seen := map[string]string{}
	for _, op := range g.Operations {
		name := FuncName(op.OperationID)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: operations %q and %q both map to func %s", ErrFuncCollision, prev, op.OperationID, name)
		}
		seen[name] = op.OperationID
		data.Funcs = append(data.Funcs, funcData{
			Name:        name,
			OperationID: op.OperationID,
			Method:      op.Method,
			Path:        oneLine(op.Path),
			Doc:         docLines(op.Summary, op.Description),
		})
	}
	var buf bytes.Buffer
	if err := fileTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("goemitter: render %s: %w", g.Handler, err)
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("goemitter: format %s: %w", g.Handler, err)
	}
	return out, nil
}

// FuncName turns an operation id into an exported Go identifier: the first
// letter is upper-cased and characters that cannot appear in an identifier
// start a new word.
func FuncName(operationID string) string {
	var b strings.Builder
	upper := true
	for _, r := range operationID {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" {
		return "Operation"
	}
	if first := []rune(name)[0]; unicode.IsDigit(first) || first == '_' {
		name = "Op" + name
	}
	return name
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(s))
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func docLines(summary, description string) []string {
	var lines []string
	if s := oneLine(summary); s != "" {
		lines = append(lines, "", s)
	}
	if d := strings.TrimSpace(description); d != "" {
		lines = append(lines, "")
		for _, l := range strings.Split(d, "\n") {
			lines = append(lines, strings.TrimRight(l, " \t\r"))
		}
	}
	return lines
}
