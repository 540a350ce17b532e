package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3filter"
)

var (
	// ErrMissingKey means the request carried no key where the scheme expects one.
	ErrMissingKey = errors.New("missing api key")
	// ErrInvalidKey means the key did not match any enabled key.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrUnsupportedScheme is returned for security schemes other than apiKey.
	ErrUnsupportedScheme = errors.New("unsupported security scheme")
)

// Authenticator returns an openapi3filter.AuthenticationFunc that checks
// apiKey security schemes against store.
func Authenticator(store KeyStore) openapi3filter.AuthenticationFunc {
	return func(_ context.Context, in *openapi3filter.AuthenticationInput) error {
		scheme := in.SecurityScheme
		if scheme == nil {
			return fmt.Errorf("security scheme %q is not defined", in.SecuritySchemeName)
		}
		if scheme.Type != "apiKey" {
			return fmt.Errorf("%w: %s (%s)", ErrUnsupportedScheme, in.SecuritySchemeName, scheme.Type)
		}
		var r *http.Request
		if in.RequestValidationInput != nil {
			r = in.RequestValidationInput.Request
		}
		key := extractKey(r, scheme.In, scheme.Name)
		if key == "" {
			return fmt.Errorf("%w in %s %q", ErrMissingKey, scheme.In, scheme.Name)
		}
		if _, ok := store.Valid(key); !ok {
			return ErrInvalidKey
		}
		return nil
	}
}

func extractKey(r *http.Request, in, name string) string {
	if r == nil || name == "" {
		return ""
	}
	switch strings.ToLower(in) {
	case "header":
		return strings.TrimSpace(r.Header.Get(name))
	case "query":
		return strings.TrimSpace(r.URL.Query().Get(name))
	case "cookie":
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(c.Value)
	}
	return ""
}
