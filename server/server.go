// Package server is the HTTP front of jobimport: it accepts import
// requests, reports job status and serves the pirate-speak demo.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
	"github.com/xhad/jobimport/pkg/llm"
)

// Translator is the pirate-speak side of the chat engine.
type Translator interface {
	PirateSpeak(ctx context.Context, req llm.PirateRequest) (string, error)
	PirateSpeakStream(ctx context.Context, req llm.PirateRequest, onChunk func(ctx context.Context, chunk []byte) error) (string, error)
}

// SimilarFinder is implemented by job stores that can rank jobs by the
// similarity of their extracted results.
type SimilarFinder interface {
	Similar(ctx context.Context, id string, limit int) ([]models.Job, error)
}

type Config struct {
	// Dedup returns the existing non-failed job for a URL instead of
	// enqueueing it again.
	Dedup       bool
	CORSOrigin  string
	ServiceName string
}

type Server struct {
	router  http.Handler
	routes  chi.Routes
	config  Config
	jobs    types.JobStore
	queue   types.Queue
	pirate  Translator
	similar SimilarFinder
	log     *slog.Logger
}

func NewServer(config Config, jobs types.JobStore, queue types.Queue, pirate Translator, log *slog.Logger) *Server {
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	if config.ServiceName == "" {
		config.ServiceName = "jobimport"
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		config: config,
		jobs:   jobs,
		queue:  queue,
		pirate: pirate,
		log:    log,
	}
	if sf, ok := jobs.(SimilarFinder); ok {
		s.similar = sf
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(CORS(s.config.CORSOrigin))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs", http.StatusTemporaryRedirect)
	})
	r.Get("/docs", s.handleDocs)
	r.Get("/health", s.handleHealth)

	r.Post("/import-job", s.handleImportJob)
	r.Get("/import-job/{jobID}", s.handleGetJob)
	r.Get("/jobs/{jobID}/similar", s.handleSimilar)

	r.Post("/pirate-speak", s.handlePirateSpeak)
	r.Get("/pirate-speak/stream", s.handlePirateStream)

	s.routes = r
	s.router = otelhttp.NewHandler(r, s.config.ServiceName)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	var routes []route
	err := chi.Walk(s.routes, func(method, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, route{Method: method, Path: path})
		return nil
	})
	if err != nil {
		jsonError(w, "failed to list routes", http.StatusInternalServerError)
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"service": s.config.ServiceName,
		"routes":  routes,
	})
}
