package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// DefaultStatus is the response status projected when none is given.
const DefaultStatus = 200

// BundleStatuses are the conventional statuses gathered by Bundle.
var BundleStatuses = []int{200, 201, 400, 404, 500}

// ShapeKind tells a concrete projected schema apart from the fallbacks.
type ShapeKind int

const (
	// KindSchema is a concrete declared payload.
	KindSchema ShapeKind = iota
	// KindEmptyObject is an object that permits no keys.
	KindEmptyObject
	// KindAbsent marks an operation that declares no request body.
	KindAbsent
	// KindVoid marks a response that declares no body.
	KindVoid
)

func (k ShapeKind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindEmptyObject:
		return "empty-object"
	case KindAbsent:
		return "absent"
	case KindVoid:
		return "void"
	default:
		return fmt.Sprintf("ShapeKind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k ShapeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Shape is the result of a projection. Schema is nil for KindAbsent and
// KindVoid.
type Shape struct {
	Kind   ShapeKind        `json:"kind" yaml:"kind"`
	Schema *openapi3.Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// IsEmpty reports whether the shape carries no payload at all.
func (s Shape) IsEmpty() bool { return s.Kind == KindAbsent || s.Kind == KindVoid }

// Check validates a Go value against the shape. Absent and void shapes only
// accept nil; the empty object accepts nil or an object without keys.
func (s Shape) Check(value any) error {
	switch s.Kind {
	case KindAbsent, KindVoid:
		if value != nil {
			return fmt.Errorf("%s shape accepts no body, got %T", s.Kind, value)
		}
		return nil
	case KindEmptyObject:
		if value == nil {
			return nil
		}
	}
	if s.Schema == nil {
		return nil
	}
	normalized, err := toJSONValue(value)
	if err != nil {
		return err
	}
	return s.Schema.VisitJSON(normalized)
}

// RequestShape bundles the three request facets of an operation.
type RequestShape struct {
	OperationID string `json:"operationId" yaml:"operationId"`
	PathParams  Shape  `json:"pathParams" yaml:"pathParams"`
	QueryParams Shape  `json:"queryParams" yaml:"queryParams"`
	Body        Shape  `json:"body" yaml:"body"`
}

// ResponseShape is the body an operation may emit for one status.
type ResponseShape struct {
	OperationID string `json:"operationId" yaml:"operationId"`
	Status      int    `json:"status" yaml:"status"`
	Body        Shape  `json:"body" yaml:"body"`
}

// Check validates body against the response shape.
func (r ResponseShape) Check(body any) error {
	if err := r.Body.Check(body); err != nil {
		return fmt.Errorf("%s %d: %w", r.OperationID, r.Status, err)
	}
	return nil
}

// OperationBundle gathers every facet of an operation at once.
type OperationBundle struct {
	OperationID string        `json:"operationId" yaml:"operationId"`
	Method      string        `json:"method" yaml:"method"`
	Path        string        `json:"path" yaml:"path"`
	PathParams  Shape         `json:"pathParams" yaml:"pathParams"`
	QueryParams Shape         `json:"queryParams" yaml:"queryParams"`
	RequestBody Shape         `json:"requestBody" yaml:"requestBody"`
	Responses   map[int]Shape `json:"responses" yaml:"responses"`
}

// PathParams projects the path parameters of id into an object shape.
func (c *Catalog) PathParams(id string) (Shape, error) {
	op, err := c.Lookup(id)
	if err != nil {
		return Shape{}, err
	}
	return paramsShape(op.PathParams), nil
}

// QueryParams projects the query parameters of id into an object shape.
func (c *Catalog) QueryParams(id string) (Shape, error) {
	op, err := c.Lookup(id)
	if err != nil {
		return Shape{}, err
	}
	return paramsShape(op.QueryParams), nil
}

// RequestBody unwraps requestBody.content[json].schema of id.
func (c *Catalog) RequestBody(id string) (Shape, error) {
	op, err := c.Lookup(id)
	if err != nil {
		return Shape{}, err
	}
	if op.RequestBody == nil {
		return Shape{Kind: KindAbsent}, nil
	}
	if schema := jsonSchema(op.RequestBody.Content); schema != nil {
		return Shape{Kind: KindSchema, Schema: schema}, nil
	}
	return Shape{Kind: KindAbsent}, nil
}

// ResponseBody unwraps responses[status].content[json].schema of id. A status
// of 0 means DefaultStatus.
func (c *Catalog) ResponseBody(id string, status int) (Shape, error) {
	op, err := c.Lookup(id)
	if err != nil {
		return Shape{}, err
	}
	if status == 0 {
		status = DefaultStatus
	}
	resp, ok := op.Responses[status]
	if !ok || resp == nil {
		return Shape{Kind: KindVoid}, nil
	}
	if schema := jsonSchema(resp.Content); schema != nil {
		return Shape{Kind: KindSchema, Schema: schema}, nil
	}
	return Shape{Kind: KindVoid}, nil
}

// Request bundles the path, query and body projections of id.
func (c *Catalog) Request(id string) (RequestShape, error) {
	pathShape, err := c.PathParams(id)
	if err != nil {
		return RequestShape{}, err
	}
	queryShape, err := c.QueryParams(id)
	if err != nil {
		return RequestShape{}, err
	}
	body, err := c.RequestBody(id)
	if err != nil {
		return RequestShape{}, err
	}
	return RequestShape{OperationID: id, PathParams: pathShape, QueryParams: queryShape, Body: body}, nil
}

// Response bundles the body projection of id at status.
func (c *Catalog) Response(id string, status int) (ResponseShape, error) {
	if status == 0 {
		status = DefaultStatus
	}
	body, err := c.ResponseBody(id, status)
	if err != nil {
		return ResponseShape{}, err
	}
	return ResponseShape{OperationID: id, Status: status, Body: body}, nil
}

// Bundle returns every facet of id, with responses for BundleStatuses.
func (c *Catalog) Bundle(id string) (OperationBundle, error) {
	op, err := c.Lookup(id)
	if err != nil {
		return OperationBundle{}, err
	}
	req, err := c.Request(id)
	if err != nil {
		return OperationBundle{}, err
	}
	b := OperationBundle{
		OperationID: id,
		Method:      op.Method,
		Path:        op.Path,
		PathParams:  req.PathParams,
		QueryParams: req.QueryParams,
		RequestBody: req.Body,
		Responses:   make(map[int]Shape, len(BundleStatuses)),
	}
	for _, status := range BundleStatuses {
		shape, err := c.ResponseBody(id, status)
		if err != nil {
			return OperationBundle{}, err
		}
		b.Responses[status] = shape
	}
	return b, nil
}

func paramsShape(params []*openapi3.Parameter) Shape {
	if len(params) == 0 {
		return Shape{Kind: KindEmptyObject, Schema: emptyObject()}
	}
	schema := openapi3.NewObjectSchema()
	schema.Properties = make(openapi3.Schemas, len(params))
	for _, p := range params {
		prop := p.Schema
		if prop == nil {
			prop = openapi3.NewStringSchema().NewRef()
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	sort.Strings(schema.Required)
	return Shape{Kind: KindSchema, Schema: schema}
}

func emptyObject() *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	s.Properties = openapi3.Schemas{}
	s.AdditionalProperties = openapi3.AdditionalProperties{Has: openapi3.BoolPtr(false)}
	return s
}

// jsonSchema picks application/json, then any +json media type.
func jsonSchema(content openapi3.Content) *openapi3.Schema {
	if content == nil {
		return nil
	}
	if mt := content.Get("application/json"); mt != nil && mt.Schema != nil {
		return mt.Schema.Value
	}
	mimes := make([]string, 0, len(content))
	for mime := range content {
		mimes = append(mimes, mime)
	}
	sort.Strings(mimes)
	for _, mime := range mimes {
		base := strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])
		if strings.HasSuffix(base, "+json") || base == "application/json" {
			if mt := content[mime]; mt != nil && mt.Schema != nil {
				return mt.Schema.Value
			}
		}
	}
	return nil
}

// toJSONValue round-trips v through encoding/json so VisitJSON sees the
// generic map/slice/float64 forms it expects.
func toJSONValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return out, nil
}
