// Package handler is the runtime contract shared by the server and the
// controller functions scaffolded for it.
//
// A controller has the fixed signature
//
//	func(req *handler.Request, res *handler.Response, next handler.Next)
//
// It either emits a response through res or passes an error to next, which
// renders it as problem details.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mark3labs/apistarter/internal/catalog"
)

// Next reports a failure to the server. Calling it with nil is a no-op.
type Next func(error)

// Func is a controller for one operation.
type Func func(req *Request, res *Response, next Next)

// Registry maps operation ids to controllers.
type Registry map[string]Func

// Register adds fn under operationID and returns the registry.
func (r Registry) Register(operationID string, fn Func) Registry {
	r[operationID] = fn
	return r
}

// Lookup returns the controller for operationID.
func (r Registry) Lookup(operationID string) (Func, bool) {
	fn, ok := r[operationID]
	return fn, ok && fn != nil
}

// Unknown lists registered ids that are not in known, sorted.
func (r Registry) Unknown(known []string) []string {
	set := make(map[string]bool, len(known))
	for _, id := range known {
		set[id] = true
	}
	var out []string
	for id := range r {
		if !set[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Request carries the validated inputs of one operation call.
type Request struct {
	OperationID string
	PathParams  map[string]string
	Query       url.Values
	// Body is the decoded JSON body, nil when there is none.
	Body any
	HTTP *http.Request
}

// Context returns the request context.
func (r *Request) Context() context.Context {
	if r.HTTP != nil {
		return r.HTTP.Context()
	}
	return context.Background()
}

// Param returns a path parameter.
func (r *Request) Param(name string) string { return r.PathParams[name] }

// Decode re-marshals the decoded body into v, typically a struct.
func (r *Request) Decode(v any) error {
	if r.Body == nil {
		return Errorf(http.StatusBadRequest, "request body is empty")
	}
	data, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &HTTPError{Status: http.StatusBadRequest, Message: "decode body: " + err.Error(), Err: err}
	}
	return nil
}

// Mocker produces a value shaped like schema.
type Mocker interface {
	Value(schema *openapi3.Schema) any
}

// Response writes the result of one operation, constrained to the bodies the
// operation declares.
type Response struct {
	w        http.ResponseWriter
	catalog  *catalog.Catalog
	op       *catalog.Operation
	mock     Mocker
	validate bool
	status   int
}

// ResponseOption configures NewResponse.
type ResponseOption func(*Response)

// WithMocker sets the generator used by Placeholder.
func WithMocker(m Mocker) ResponseOption { return func(r *Response) { r.mock = m } }

// WithValidation toggles checking emitted bodies against the contract.
func WithValidation(on bool) ResponseOption { return func(r *Response) { r.validate = on } }

// NewResponse binds w to operationID. Validation is on by default.
func NewResponse(w http.ResponseWriter, cat *catalog.Catalog, operationID string, opts ...ResponseOption) (*Response, error) {
	op, err := cat.Lookup(operationID)
	if err != nil {
		return nil, err
	}
	r := &Response{w: w, catalog: cat, op: op, validate: true}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Header returns the header map that will be sent.
func (r *Response) Header() http.Header { return r.w.Header() }

// Written reports whether a status has been sent.
func (r *Response) Written() bool { return r.status != 0 }

// Status returns the sent status, or 0.
func (r *Response) Status() int { return r.status }

// Emit sends body with status. When validation is on, body must match the
// operation's declared response for status; a status without a declared body
// only accepts nil.
func (r *Response) Emit(status int, body any) error {
	if r.Written() {
		return ErrAlreadyWritten
	}
	shape, err := r.catalog.Response(r.op.ID, status)
	if err != nil {
		return err
	}
	if r.validate {
		if err := shape.Check(body); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
	}
	r.status = status
	if body == nil {
		r.w.WriteHeader(status)
		return nil
	}
	r.w.Header().Set("Content-Type", "application/json")
	r.w.WriteHeader(status)
	return json.NewEncoder(r.w).Encode(body)
}

// Placeholder emits a mock body for the operation's lowest declared 2xx status.
func (r *Response) Placeholder() error {
	status := r.op.SuccessStatus()
	shape, err := r.catalog.ResponseBody(r.op.ID, status)
	if err != nil {
		return err
	}
	if shape.IsEmpty() {
		return r.Emit(status, nil)
	}
	var body any = map[string]any{}
	if r.mock != nil && shape.Schema != nil {
		body = r.mock.Value(shape.Schema)
	}
	return r.Emit(status, body)
}
