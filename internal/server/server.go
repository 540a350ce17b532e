// Package server exposes the operations of an OpenAPI catalog over HTTP.
//
// Every declared operation gets a route. Requests are validated against the
// contract before they reach a controller, and operations without a
// registered controller answer with a mock of their success response.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/swaggo/files"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/mark3labs/apistarter/internal/auth"
	"github.com/mark3labs/apistarter/internal/catalog"
	"github.com/mark3labs/apistarter/internal/mock"
	"github.com/mark3labs/apistarter/pkg/handler"
)

// Server routes catalog operations to controllers.
type Server struct {
	cfg      *Config
	doc      *openapi3.T
	catalog  *catalog.Catalog
	registry handler.Registry
	keys     auth.KeyStore
	mocker   handler.Mocker
	logger   *slog.Logger

	router   chi.Router
	specJSON []byte
}

// Option configures New.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRegistry sets the controllers served for their operation ids.
func WithRegistry(r handler.Registry) Option { return func(s *Server) { s.registry = r } }

// WithKeyStore sets the store API keys are checked against.
func WithKeyStore(k auth.KeyStore) Option { return func(s *Server) { s.keys = k } }

// WithMocker replaces the payload generator used for unregistered operations.
func WithMocker(m handler.Mocker) Option { return func(s *Server) { s.mocker = m } }

// New builds the router for cat. doc must be the document cat was built from.
func New(cfg *Config, doc *openapi3.T, cat *catalog.Catalog, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if doc == nil || cat == nil {
		return nil, errors.New("server: document and catalog are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{cfg: cfg, doc: doc, catalog: cat, registry: handler.Registry{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.mocker == nil {
		s.mocker = mock.New(cfg.MockSeed)
	}
	if cfg.AuthEnabled && s.keys == nil && usesSecurity(doc, cat) {
		return nil, errors.New("server: auth is enabled and the document declares security requirements, but no key store is configured")
	}
	for _, id := range s.registry.Unknown(cat.IDs()) {
		s.logger.Warn("controller registered for an undeclared operation", "operation", id)
	}

	specJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("server: encode document: %w", err)
	}
	s.specJSON = specJSON

	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() (err error) {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(Secure(s.cfg.IsProduction()))
	r.Use(CORS(s.cfg.CORSOrigins))
	if s.cfg.RateLimit > 0 {
		r.Use(RateLimit(RateLimitConfig{Rate: s.cfg.RateLimit, Burst: s.cfg.RateBurst}))
	}
	r.Use(BodyLimit(s.cfg.BodyLimit))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteProblem(w, r, handler.Errorf(http.StatusNotFound, "no operation at %s", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteProblem(w, r, handler.Errorf(http.StatusMethodNotAllowed, "method %s is not allowed on %s", r.Method, r.URL.Path))
	})

	r.Get("/health", s.health)
	r.Get("/openapi.json", s.openapiJSON)
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/index.html", http.StatusFound)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.json"),
		httpSwagger.DeepLinking(true),
	))

	// chi panics on malformed patterns; surface that as an error instead.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("server: register routes: %v", rec)
		}
	}()
	for _, id := range s.catalog.IDs() {
		op, lerr := s.catalog.Lookup(id)
		if lerr != nil {
			return lerr
		}
		r.Method(op.Method, op.Path, s.operation(op))
		s.logger.Debug("route registered", "method", op.Method, "path", op.Path, "operation", op.ID)
	}
	s.router = r
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"operations": s.catalog.Len(),
	})
}

func (s *Server) openapiJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.specJSON)
}

func (s *Server) authFunc() openapi3filter.AuthenticationFunc {
	if !s.cfg.AuthEnabled || s.keys == nil {
		return openapi3filter.NoopAuthenticationFunc
	}
	return auth.Authenticator(s.keys)
}

// operation validates the request, then hands it to the registered controller
// or, when there is none, to a mock of the success response.
func (s *Server) operation(op *catalog.Operation) http.HandlerFunc {
	fn, registered := s.registry.Lookup(op.ID)
	route := &routers.Route{
		Spec:      s.doc,
		Path:      op.Path,
		PathItem:  op.PathItem,
		Method:    op.Method,
		Operation: op.Raw,
	}
	authFn := s.authFunc()

	return func(w http.ResponseWriter, r *http.Request) {
		params := make(map[string]string, len(op.PathParams))
		for _, p := range op.PathParams {
			v := chi.URLParam(r, p.Name)
			if u, err := url.PathUnescape(v); err == nil {
				v = u
			}
			params[p.Name] = v
		}

		input := &openapi3filter.RequestValidationInput{
			Request:     r,
			PathParams:  params,
			QueryParams: r.URL.Query(),
			Route:       route,
			Options:     &openapi3filter.Options{AuthenticationFunc: authFn},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			handler.WriteProblem(w, r, requestProblem(err))
			return
		}

		body, err := decodeBody(r)
		if err != nil {
			handler.WriteProblem(w, r, err)
			return
		}

		res, err := handler.NewResponse(w, s.catalog, op.ID,
			handler.WithMocker(s.mocker),
			handler.WithValidation(s.cfg.ValidateOutput),
		)
		if err != nil {
			handler.WriteProblem(w, r, err)
			return
		}
		req := &handler.Request{
			OperationID: op.ID,
			PathParams:  params,
			Query:       r.URL.Query(),
			Body:        body,
			HTTP:        r,
		}

		called := false
		next := func(err error) {
			called = true
			if err == nil {
				return
			}
			if res.Written() {
				s.logger.Error("controller failed after responding",
					"operation", op.ID, "request_id", GetRequestID(r), "error", err)
				return
			}
			if handler.ErrorStatus(err) >= http.StatusInternalServerError {
				s.logger.Error("operation failed", "operation", op.ID, "request_id", GetRequestID(r), "error", err)
			}
			handler.WriteProblem(w, r, err)
		}

		if !registered {
			next(res.Placeholder())
			return
		}
		fn(req, res, next)
		if !called && !res.Written() {
			next(fmt.Errorf("controller for %s returned without responding", op.ID))
		}
	}
}

// requestProblem maps validation failures to client errors.
func requestProblem(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return handler.Errorf(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
	}

	var secErr *openapi3filter.SecurityRequirementsError
	if errors.As(err, &secErr) {
		pd := &handler.ProblemDetail{
			Title:  http.StatusText(http.StatusUnauthorized),
			Status: http.StatusUnauthorized,
			Detail: "authentication failed",
		}
		for _, e := range secErr.Errors {
			pd.Errors = append(pd.Errors, handler.FieldError{Field: "security", Message: e.Error()})
		}
		return pd
	}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		field := "body"
		if p := reqErr.Parameter; p != nil {
			field = p.In + "." + p.Name
		}
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			if ptr := schemaErr.JSONPointer(); len(ptr) > 0 {
				field += "/" + strings.Join(ptr, "/")
			}
		}
		return &handler.ProblemDetail{
			Title:  http.StatusText(http.StatusBadRequest),
			Status: http.StatusBadRequest,
			Detail: reqErr.Error(),
			Errors: []handler.FieldError{{Field: field, Message: reqErr.Error()}},
		}
	}
	return err
}

// decodeBody returns the JSON body as a generic value. Other media types are
// left for the controller to read from the raw request.
func decodeBody(r *http.Request) (any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, requestProblem(err)
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &handler.HTTPError{Status: http.StatusBadRequest, Message: "malformed JSON body: " + err.Error(), Err: err}
	}
	return v, nil
}

func usesSecurity(doc *openapi3.T, cat *catalog.Catalog) bool {
	if len(doc.Security) > 0 {
		return true
	}
	for _, id := range cat.IDs() {
		op, err := cat.Lookup(id)
		if err == nil && op.Raw != nil && op.Raw.Security != nil && len(*op.Raw.Security) > 0 {
			return true
		}
	}
	return false
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("server listening", "addr", ln.Addr().String(), "operations", s.catalog.Len(), "env", s.cfg.Env)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
