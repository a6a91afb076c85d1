// Package api provides the HTTP REST API for building and running prompt
// workflows.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
	"github.com/hugo-lorenzo-mato/promptflow/internal/logging"
	"github.com/hugo-lorenzo-mato/promptflow/internal/metrics"
	"github.com/hugo-lorenzo-mato/promptflow/internal/service"
)

// Services are the application components the API serves.
type Services struct {
	Workflows *service.WorkflowService
	Threads   *service.ThreadService
	Executor  *service.Executor
	Files     core.FileStore
}

// Server provides HTTP REST API endpoints.
type Server struct {
	router    chi.Router
	workflows *service.WorkflowService
	threads   *service.ThreadService
	executor  *service.Executor
	files     core.FileStore
	eventBus  *events.EventBus
	metrics   *metrics.Recorder
	logger    *logging.Logger

	runCtx         context.Context
	allowedOrigins []string
	requestTimeout time.Duration
	maxUploadBytes int64
	sseKeepAlive   time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics exposes the recorder on /metrics and counts requests.
func WithMetrics(m *metrics.Recorder) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRunContext sets the context whose values runs started over HTTP
// inherit. Runs outlive both the request and this context's cancellation.
func WithRunContext(ctx context.Context) ServerOption {
	return func(s *Server) {
		s.runCtx = ctx
	}
}

// WithAllowedOrigins sets the CORS origins. Default is any origin.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithMaxUploadBytes limits multipart upload bodies.
func WithMaxUploadBytes(n int64) ServerOption {
	return func(s *Server) {
		s.maxUploadBytes = n
	}
}

// WithSSEKeepAlive sets the interval of SSE keep-alive comments.
func WithSSEKeepAlive(d time.Duration) ServerOption {
	return func(s *Server) {
		s.sseKeepAlive = d
	}
}

// NewServer creates a new API server.
func NewServer(svc Services, eventBus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		workflows:      svc.Workflows,
		threads:        svc.Threads,
		executor:       svc.Executor,
		files:          svc.Files,
		eventBus:       eventBus,
		logger:         logging.NewNop(),
		runCtx:         context.Background(),
		allowedOrigins: []string{"*"},
		requestTimeout: 60 * time.Second,
		maxUploadBytes: 51 << 20,
		sseKeepAlive:   15 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Streaming stays outside the request timeout.
		r.Get("/events", s.handleSSE)

		r.Group(func(r chi.Router) {
			if s.requestTimeout > 0 {
				r.Use(middleware.Timeout(s.requestTimeout))
			}

			r.Route("/workflows", func(r chi.Router) {
				r.Get("/", s.handleListWorkflows)
				r.Post("/", s.handleCreateWorkflow)

				r.Route("/{workflowID}", func(r chi.Router) {
					r.Get("/", s.handleGetWorkflow)
					r.Put("/", s.handleUpdateWorkflow)
					r.Delete("/", s.handleDeleteWorkflow)
					r.Post("/clear", s.handleClearWorkflow)
					r.Put("/order", s.handleReorderSteps)
					r.Get("/graph", s.handleGetGraph)

					r.Route("/steps", func(r chi.Router) {
						r.Post("/", s.handleAddStep)
						r.Patch("/{stepID}", s.handleEditStep)
						r.Delete("/{stepID}", s.handleDeleteStep)
						r.Post("/{stepID}/references", s.handleAddReference)
					})

					r.Route("/runs", func(r chi.Router) {
						r.Post("/", s.handleStartRun)
						r.Get("/current", s.handleGetCurrentRun)
						r.Delete("/current", s.handleCancelRun)
					})
				})
			})

			r.Route("/files", func(r chi.Router) {
				r.Get("/", s.handleListFiles)
				r.Post("/", s.handleUploadFile)
				r.Delete("/{name}", s.handleDeleteFile)
			})

			r.Route("/threads/{threadID}", func(r chi.Router) {
				r.Get("/messages", s.handleListMessages)
				r.Delete("/messages", s.handleClearMessages)
				r.Post("/submit", s.handleSubmit)
			})

			r.Route("/prompts", func(r chi.Router) {
				r.Get("/", s.handleListPrompts)
				r.Post("/", s.handleSavePrompt)
			})
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests and counts them.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.metrics.HTTPRequest(r.Method, strconv.Itoa(status))
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// decodeJSON reads a JSON request body into v. An empty body is accepted
// when allowEmpty is set.
func decodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return core.ErrValidation("INVALID_REQUEST", msgInvalidRequestBody).WithCause(err)
	}
	return nil
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
