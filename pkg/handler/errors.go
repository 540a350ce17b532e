package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotImplemented marks an operation whose handler has not been written yet.
var ErrNotImplemented = errors.New("not implemented")

// ErrAlreadyWritten is returned when a response is emitted twice.
var ErrAlreadyWritten = errors.New("response already written")

// ErrInvalidResponse wraps a body that does not match the declared response.
var ErrInvalidResponse = errors.New("invalid response body")

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is an error with an HTTP status code.
type HTTPError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error returns the error message.
func (e *HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status code.
func (e *HTTPError) StatusCode() int { return e.Status }

func (e *HTTPError) Unwrap() error { return e.Err }

// Errorf returns a formatted error with the given HTTP status code.
func Errorf(status int, format string, args ...any) error {
	return &HTTPError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NotImplemented is what generated stubs pass to next until they are filled in.
func NotImplemented(operationID string) error {
	return &HTTPError{
		Status:  http.StatusNotImplemented,
		Message: fmt.Sprintf("operation %s is not implemented", operationID),
		Err:     ErrNotImplemented,
	}
}

// ErrorStatus extracts the HTTP status code from an error. Returns
// http.StatusInternalServerError if the error does not implement StatusCoder.
func ErrorStatus(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	if errors.Is(err, ErrNotImplemented) {
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// ProblemDetail is an RFC 9457 problem details response.
//
//nolint:errname // RFC 9457 standard name
type ProblemDetail struct {
	Type     string       `json:"type,omitempty"`
	Title    string       `json:"title,omitempty"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// Error returns the detail message (or title if detail is empty).
func (p *ProblemDetail) Error() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

// StatusCode returns the HTTP status code.
func (p *ProblemDetail) StatusCode() int { return p.Status }

// FieldError describes a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Problem converts err into a ProblemDetail. Server errors hide their detail.
func Problem(err error, instance string) *ProblemDetail {
	var pd *ProblemDetail
	if errors.As(err, &pd) {
		out := *pd
		if out.Instance == "" {
			out.Instance = instance
		}
		return &out
	}
	status := ErrorStatus(err)
	out := &ProblemDetail{Title: http.StatusText(status), Status: status, Instance: instance}
	if status < http.StatusInternalServerError || status == http.StatusNotImplemented {
		out.Detail = err.Error()
	}
	return out
}

// WriteProblem renders err as application/problem+json.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	instance := ""
	if r != nil {
		instance = r.URL.Path
	}
	pd := Problem(err, instance)
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}
