package httpapi

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/MimeLyc/faceless-video/internal/metrics"
	"github.com/MimeLyc/faceless-video/internal/service"
	"github.com/MimeLyc/faceless-video/internal/subtitle"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultStreamInterval = time.Second
	// multipart framing on top of the file itself
	uploadOverhead = 1 << 20
)

type jobService interface {
	CreateJob(ctx context.Context, filename string, r io.Reader) (*jobs.Job, error)
	GetJob(ctx context.Context, id string) (*service.JobView, error)
	ListJobs(ctx context.Context, limit int) ([]service.JobSummary, error)
	DownloadArtifact(ctx context.Context, id string) (*service.Artifact, error)
	GetSubtitles(ctx context.Context, id string) (*subtitle.File, error)
}

// HealthCheck reports a dependency problem as a non-nil error.
type HealthCheck func(ctx context.Context) error

type Server struct {
	jobs jobService

	uiEnabled      bool
	uiStaticDir    string
	corsOrigins    []string
	maxUpload      int64
	streamInterval time.Duration
	checks         map[string]HealthCheck

	router *chi.Mux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

// WithCORSOrigins allows browser clients from origins; "*" allows any.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = append(s.corsOrigins, origins...)
	}
}

// WithMaxUploadBytes caps the request body of uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUpload = n
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

func NewServer(svc jobService, opts ...Option) *Server {
	s := &Server{
		jobs:           svc,
		streamInterval: defaultStreamInterval,
		checks:         make(map[string]HealthCheck),
		router:         chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors(s.corsOrigins))
	}

	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/upload", s.handleUpload)
		r.Get("/stream", s.handleJobStream)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/download", s.handleDownload)
		r.Get("/{id}/subtitles", s.handleSubtitles)
	})

	r.NotFound(s.handleStatic)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" || r.Method != http.MethodGet || strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, filepath.FromSlash(rel))
	if _, err := os.Stat(filePath); err != nil {
		// client side routes fall back to the index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
