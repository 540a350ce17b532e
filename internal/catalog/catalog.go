// Package catalog indexes the operations of an OpenAPI document by operation
// id and projects narrower shapes (path params, query params, request body,
// response body) out of each contract.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// DefaultOperationIDKey is the extension that names an operation. It takes
// precedence over the standard operationId, which is the fallback, so the
// catalog agrees with the ids scaffolded controllers are generated under.
const DefaultOperationIDKey = "x-eov-operation-id"

var (
	// ErrUnknownOperation is returned when a projection names an operation id
	// that is not in the catalog.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrDuplicateOperation is returned by Build when two operations share an id.
	ErrDuplicateOperation = errors.New("duplicate operation id")
)

// Operation is the declared contract of a single operation.
type Operation struct {
	ID          string
	Method      string // upper-case HTTP method
	Path        string
	Summary     string
	Description string
	PathParams  []*openapi3.Parameter
	QueryParams []*openapi3.Parameter
	RequestBody *openapi3.RequestBody
	Responses   map[int]*openapi3.Response
	Default     *openapi3.Response
	Raw         *openapi3.Operation
	PathItem    *openapi3.PathItem
}

// Statuses returns the declared numeric statuses in ascending order.
func (o *Operation) Statuses() []int {
	out := make([]int, 0, len(o.Responses))
	for code := range o.Responses {
		out = append(out, code)
	}
	sort.Ints(out)
	return out
}

// SuccessStatus returns the lowest declared 2xx status, or DefaultStatus when
// the operation declares none.
func (o *Operation) SuccessStatus() int {
	for _, code := range o.Statuses() {
		if code >= 200 && code < 300 {
			return code
		}
	}
	return DefaultStatus
}

// Catalog is an immutable index of operations keyed by operation id.
type Catalog struct {
	ops map[string]*Operation
	// aliases maps a standard operationId overridden by the extension to the
	// catalog id.
	aliases map[string]string
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	operationIDKey string
}

// WithOperationIDKey overrides the extension that names operations.
func WithOperationIDKey(key string) BuildOption {
	return func(c *buildConfig) {
		if key = strings.TrimSpace(key); key != "" {
			c.operationIDKey = key
		}
	}
}

// Build indexes every operation of doc that carries an operation id.
func Build(doc *openapi3.T, opts ...BuildOption) (*Catalog, error) {
	if doc == nil {
		return nil, errors.New("catalog: nil document")
	}
	cfg := &buildConfig{operationIDKey: DefaultOperationIDKey}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Catalog{ops: make(map[string]*Operation), aliases: make(map[string]string)}
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		item := doc.Paths[p]
		if item == nil {
			continue
		}
		methods := make([]string, 0, 8)
		for m := range item.Operations() {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, method := range methods {
			raw := item.GetOperation(method)
			id := operationID(raw, cfg.operationIDKey)
			if id == "" {
				continue
			}
			if prev, exists := c.ops[id]; exists {
				return nil, fmt.Errorf("%w %q: %s %s and %s %s", ErrDuplicateOperation, id, prev.Method, prev.Path, method, p)
			}
			c.ops[id] = newOperation(id, method, p, item, raw)
		}
	}
	for id, op := range c.ops {
		std := strings.TrimSpace(op.Raw.OperationID)
		if std == "" || std == id {
			continue
		}
		if _, taken := c.ops[std]; !taken {
			c.aliases[std] = id
		}
	}
	return c, nil
}

// Lookup returns the operation for id. The standard operationId of an
// operation renamed by the extension resolves too.
func (c *Catalog) Lookup(id string) (*Operation, error) {
	op, ok := c.ops[id]
	if !ok {
		op, ok = c.ops[c.aliases[id]]
	}
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownOperation, id)
	}
	return op, nil
}

// IDs returns every operation id in sorted order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.ops))
	for id := range c.ops {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of indexed operations.
func (c *Catalog) Len() int { return len(c.ops) }

func operationID(op *openapi3.Operation, extKey string) string {
	if op == nil {
		return ""
	}
	if id := ExtensionString(op.Extensions, extKey); id != "" {
		return id
	}
	return strings.TrimSpace(op.OperationID)
}

// ExtensionString reads a string valued vendor extension. kin-openapi keeps
// extension values as decoded JSON, so anything but a string reads as "".
func ExtensionString(ext map[string]any, key string) string {
	if ext == nil {
		return ""
	}
	switch v := ext[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.Trim(strings.TrimSpace(string(v)), `"`)
	default:
		return ""
	}
}

func newOperation(id, method, path string, item *openapi3.PathItem, raw *openapi3.Operation) *Operation {
	op := &Operation{
		ID:          id,
		Method:      strings.ToUpper(method),
		Path:        path,
		Summary:     strings.TrimSpace(raw.Summary),
		Description: strings.TrimSpace(raw.Description),
		Responses:   make(map[int]*openapi3.Response),
		Raw:         raw,
		PathItem:    item,
	}

	// Path item parameters first, overridden by operation level ones.
	merged := make(map[string]*openapi3.Parameter)
	var order []string
	add := func(params openapi3.Parameters) {
		for _, ref := range params {
			if ref == nil || ref.Value == nil {
				continue
			}
			key := ref.Value.In + ":" + ref.Value.Name
			if _, seen := merged[key]; !seen {
				order = append(order, key)
			}
			merged[key] = ref.Value
		}
	}
	add(item.Parameters)
	add(raw.Parameters)
	for _, key := range order {
		p := merged[key]
		switch p.In {
		case openapi3.ParameterInPath:
			op.PathParams = append(op.PathParams, p)
		case openapi3.ParameterInQuery:
			op.QueryParams = append(op.QueryParams, p)
		}
	}

	if raw.RequestBody != nil {
		op.RequestBody = raw.RequestBody.Value
	}
	for code, ref := range raw.Responses {
		if ref == nil || ref.Value == nil {
			continue
		}
		if code == "default" {
			op.Default = ref.Value
			continue
		}
		status, err := strconv.Atoi(code)
		if err != nil {
			// 2XX style ranges are not addressable by a single status.
			continue
		}
		op.Responses[status] = ref.Value
	}
	return op
}
