// Package server exposes the sandboxd HTTP surface: tool discovery,
// tool execution, and artifact download. It is the dispatch boundary
// where every request is validated, routed to its tool handler, and
// every failure mode is turned into a well-formed JSON response.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/cors"

	"github.com/sandboxd/sandboxd/log"
	"github.com/sandboxd/sandboxd/tool"
	"github.com/sandboxd/sandboxd/workspace"
)

const (
	defaultMaxConcurrent  = 8
	defaultMaxInlineBytes = 10 * 1024
	defaultTimeout        = 30 * time.Second

	// Bounds on the caller-declared job timeout, in seconds.
	minTimeoutSec = 1
	maxTimeoutSec = 900
)

// Pinger reports whether the container runtime is reachable; used by
// the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server routes and dispatches sandboxd requests.
type Server struct {
	store    *workspace.Store
	registry *tool.Registry
	router   *mux.Router
	handler  http.Handler
	pool     *ants.Pool

	pinger         Pinger
	poolSize       int
	maxInlineBytes int
	defaultTimeout time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithMaxConcurrent caps how many jobs run containers at once;
// additional requests queue.
func WithMaxConcurrent(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// WithMaxInlineOutput sets the ceiling above which stdout/stderr are
// trimmed in the execute response. The full streams stay downloadable
// as artifacts.
func WithMaxInlineOutput(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxInlineBytes = n
		}
	}
}

// WithDefaultTimeout sets the job timeout applied when the request
// does not declare one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// WithPinger wires runtime reachability into the health endpoint.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// New creates the server. The pool is sized by WithMaxConcurrent.
func New(store *workspace.Store, registry *tool.Registry, opts ...Option) (*Server, error) {
	s := &Server{
		store:          store,
		registry:       registry,
		router:         mux.NewRouter(),
		poolSize:       defaultMaxConcurrent,
		maxInlineBytes: defaultMaxInlineBytes,
		defaultTimeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		return nil, err
	}
	s.pool = pool

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.registerRoutes()
	s.handler = c.Handler(s.router)
	return s, nil
}

// Close releases the worker pool.
func (s *Server) Close() error {
	s.pool.Release()
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	s.router.HandleFunc("/tools/execute", s.handleExecute).Methods(http.MethodPost)
	s.router.HandleFunc("/artifacts/{sessionId}/{jobId}/{filename}",
		s.handleDownloadArtifact).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// handleListTools publishes every registered tool with its declared
// parameter shape.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]tool.Metadata)
	for _, h := range s.registry.Handlers() {
		out[h.Name()] = h.Metadata()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"detail": err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the uniform error body shape.
type errorResponse struct {
	Error  string   `json:"error"`
	Detail string   `json:"detail,omitempty"`
	Tools  []string `json:"tools,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, resp errorResponse) {
	s.writeJSON(w, status, resp)
}
