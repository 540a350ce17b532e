package handler_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/apistarter/pkg/handler"
)

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err    error
		expect int
	}{
		"http error":          {err: handler.Errorf(http.StatusConflict, "taken %s", "x"), expect: http.StatusConflict},
		"not implemented":     {err: handler.NotImplemented("getUsers"), expect: http.StatusNotImplemented},
		"wrapped sentinel":    {err: fmt.Errorf("stub: %w", handler.ErrNotImplemented), expect: http.StatusNotImplemented},
		"problem detail":      {err: &handler.ProblemDetail{Status: http.StatusTeapot}, expect: http.StatusTeapot},
		"without StatusCoder": {err: errors.New("plain"), expect: http.StatusInternalServerError},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expect, handler.ErrorStatus(tc.err))
		})
	}
}

func TestNotImplemented(t *testing.T) {
	t.Parallel()
	err := handler.NotImplemented("getUsers")
	assert.ErrorIs(t, err, handler.ErrNotImplemented)
	assert.EqualError(t, err, "operation getUsers is not implemented")
}

func TestProblem_HidesServerErrors(t *testing.T) {
	t.Parallel()
	pd := handler.Problem(errors.New("db password leaked"), "/x")
	assert.Equal(t, http.StatusInternalServerError, pd.Status)
	assert.Empty(t, pd.Detail)
	assert.Equal(t, "/x", pd.Instance)

	pd = handler.Problem(handler.Errorf(http.StatusNotFound, "no user 7"), "/users/7")
	assert.Equal(t, "no user 7", pd.Detail)
	assert.Equal(t, "Not Found", pd.Title)
}

func TestWriteProblem(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	handler.WriteProblem(rec, req, handler.NotImplemented("getUsers"))

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var pd handler.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pd))
	assert.Equal(t, http.StatusNotImplemented, pd.Status)
	assert.Equal(t, "/users", pd.Instance)
	assert.Contains(t, pd.Detail, "getUsers")
}
