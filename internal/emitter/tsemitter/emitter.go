// Package tsemitter renders handler groups as TypeScript controller modules
// for an express + express-openapi-validator runtime.
package tsemitter

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode"

	"github.com/mark3labs/apistarter/internal/emitter/goemitter"
	"github.com/mark3labs/apistarter/internal/scaffold"
)

// TypesFile is where the projection alias module is written, relative to the
// output directory.
const TypesFile = "types/projection.ts"

// Options controls how the TypeScript emitter renders a group.
type Options struct {
	// TypesImport is the module specifier of the projection aliases; defaults
	// to "./types/projection".
	TypesImport string
	// SchemaImport is the module specifier of the schema compiler output that
	// exports `operations`; defaults to "./openapi".
	SchemaImport string
	Stub         goemitter.Stub
	Source       string
}

// Emitter implements scaffold.Renderer for TypeScript.
type Emitter struct {
	opts Options
}

// New validates opts and returns an Emitter.
func New(opts Options) (*Emitter, error) {
	if strings.TrimSpace(opts.TypesImport) == "" {
		opts.TypesImport = "./types/projection"
	}
	if strings.TrimSpace(opts.SchemaImport) == "" {
		opts.SchemaImport = "./openapi"
	}
	stub, err := goemitter.ParseStub(string(opts.Stub))
	if err != nil {
		return nil, fmt.Errorf("tsemitter: %w", err)
	}
	opts.Stub = stub
	return &Emitter{opts: opts}, nil
}

var _ scaffold.Renderer = (*Emitter)(nil)

// FileName keeps the handler name and adds .ts, e.g. userController.ts.
func (e *Emitter) FileName(handler string) string {
	name := sanitizeFileName(handler)
	if name == "" {
		name = "handler"
	}
	return name + ".ts"
}

type constData struct {
	Name        string
	OperationID string
	Method      string
	Path        string
	Status      int
	Doc         []string
}

type moduleData struct {
	Handler     string
	Source      string
	TypesImport string
	Placeholder bool
	Consts      []constData
}

var moduleTmpl = template.Must(template.New("controller").Parse(`// Scaffolded by apistarter for handler {{.Handler}}{{if .Source}} from {{.Source}}{{end}}.
// This file is generated once and never overwritten.
import type { NextFunction } from 'express';
import type { Request, Response } from '{{.TypesImport}}';
{{range .Consts}}
/**
 * {{.Method}} {{.Path}}
{{- range .Doc}}
 *{{if .}} {{.}}{{end}}
{{- end}}
 */
export const {{.Name}} = async (
  req: Request<'{{.OperationID}}'>,
  res: Response<'{{.OperationID}}', {{.Status}}>,
  next: NextFunction,
): Promise<void> => {
{{- if $.Placeholder}}
  res.status({{.Status}}).json({ message: '{{.OperationID}} placeholder' } as never);
{{- else}}
  next(Object.assign(new Error('{{.OperationID}} is not implemented'), { status: 501 }));
{{- end}}
};
{{end}}`))

// Render produces one module exporting a const per operation, named after the
// operation id.
func (e *Emitter) Render(g scaffold.Group) ([]byte, error) {
	data := moduleData{
		Handler:     oneLine(g.Handler),
		Source:      oneLine(e.opts.Source),
		TypesImport: e.opts.TypesImport,
		Placeholder: e.opts.Stub == goemitter.StubPlaceholder,
	}
	seen := map[string]string{}
	for _, op := range g.Operations {
		name := Identifier(op.OperationID)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("tsemitter: operations %q and %q both map to %s", prev, op.OperationID, name)
		}
		seen[name] = op.OperationID
		status := op.SuccessStatus
		if status == 0 {
			status = 200
		}
		data.Consts = append(data.Consts, constData{
			Name:        name,
			OperationID: quoteSafe(op.OperationID),
			Method:      op.Method,
			Path:        oneLine(op.Path),
			Status:      status,
			Doc:         docLines(op.Summary, op.Description),
		})
	}
	var buf bytes.Buffer
	if err := moduleTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("tsemitter: render %s: %w", g.Handler, err)
	}
	return buf.Bytes(), nil
}

// TypesModule returns the projection alias module written to TypesFile.
func (e *Emitter) TypesModule() []byte {
	return []byte(strings.ReplaceAll(projectionTS, "{{SCHEMA}}", e.opts.SchemaImport))
}

// Identifier maps an operation id onto a valid TypeScript identifier,
// leaving ids that already are one untouched.
func Identifier(operationID string) string {
	var b strings.Builder
	upper := false
	for _, r := range operationID {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '$' {
			upper = b.Len() > 0
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
		return "operation"
	}
	if unicode.IsDigit([]rune(name)[0]) {
		name = "op" + name
	}
	if reserved[name] {
		name += "Handler"
	}
	return name
}

var reserved = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true,
	"do": true, "else": true, "enum": true, "export": true, "extends": true,
	"false": true, "finally": true, "for": true, "function": true, "if": true,
	"import": true, "in": true, "instanceof": true, "new": true, "null": true,
	"return": true, "super": true, "switch": true, "this": true, "throw": true,
	"true": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "await": true,
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "/", "-")
	// keep alnum, dash, underscore, dot only
	b := strings.Builder{}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-.")
}

func quoteSafe(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(oneLine(s))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func docLines(summary, description string) []string {
	var lines []string
	if s := oneLine(summary); s != "" {
		lines = append(lines, s)
	}
	if d := strings.TrimSpace(description); d != "" {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		for _, l := range strings.Split(d, "\n") {
			lines = append(lines, strings.TrimRight(strings.ReplaceAll(l, "*/", "*\\/"), " \t\r"))
		}
	}
	return lines
}

const projectionTS = `// Projection aliases over the operations map emitted by openapi-typescript.
// Generated once by apistarter; safe to edit.
import type { Request as ExpressRequest, Response as ExpressResponse } from 'express';
import type { operations } from '{{SCHEMA}}';

export type OperationId = keyof operations;

/** An object type with no permitted keys. */
export type EmptyObject = Record<string, never>;

type Params<Op extends OperationId> = operations[Op] extends { parameters: infer P } ? P : never;

export type PathParams<Op extends OperationId> = Params<Op> extends { path: infer T }
  ? T extends object
    ? T
    : EmptyObject
  : EmptyObject;

export type QueryParams<Op extends OperationId> = Params<Op> extends { query?: infer T }
  ? T extends object
    ? T
    : EmptyObject
  : EmptyObject;

export type RequestBody<Op extends OperationId> = operations[Op] extends {
  requestBody?: { content: { 'application/json': infer B } };
}
  ? B
  : undefined;

export type ResponseBody<Op extends OperationId, S extends number = 200> = operations[Op] extends {
  responses: { [K in S]: { content: { 'application/json': infer B } } };
}
  ? B
  : void;

export type Request<Op extends OperationId> = ExpressRequest<PathParams<Op>, unknown, RequestBody<Op>, QueryParams<Op>>;

export type Response<Op extends OperationId, S extends number = 200> = Omit<ExpressResponse, 'json' | 'send'> & {
  json(body: ResponseBody<Op, S>): Response<Op, S>;
  send(body?: ResponseBody<Op, S>): Response<Op, S>;
};

export type OperationBundle<Op extends OperationId> = {
  pathParams: PathParams<Op>;
  queryParams: QueryParams<Op>;
  requestBody: RequestBody<Op>;
  responses: {
    200: ResponseBody<Op, 200>;
    201: ResponseBody<Op, 201>;
    400: ResponseBody<Op, 400>;
    404: ResponseBody<Op, 404>;
    500: ResponseBody<Op, 500>;
  };
};
`
