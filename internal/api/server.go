// Package api exposes the daemon's HTTP surface: file registration,
// task submission, status streams, and similarity search.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"oculith/internal/config"
	"oculith/internal/events"
	"oculith/internal/files"
	"oculith/internal/index"
	"oculith/internal/logging"
	"oculith/internal/pipeline"
	"oculith/internal/records"
	"oculith/internal/tasks"
)

// Server wires the HTTP handlers over the daemon's services.
type Server struct {
	cfg       *config.Config
	store     *records.Store
	files     *files.Service
	pipeline  *pipeline.Pipeline
	registry  *tasks.Registry
	publisher *events.Publisher
	vectors   *index.VectorStore
	embedder  index.Embedder
	logger    *slog.Logger
	startedAt time.Time

	httpServer *http.Server
}

// NewServer builds the API server. Call Router for the handler or
// ListenAndServe to run it.
func NewServer(
	cfg *config.Config,
	store *records.Store,
	fileService *files.Service,
	pipe *pipeline.Pipeline,
	registry *tasks.Registry,
	publisher *events.Publisher,
	vectors *index.VectorStore,
	embedder index.Embedder,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		store:     store,
		files:     fileService,
		pipeline:  pipe,
		registry:  registry,
		publisher: publisher,
		vectors:   vectors,
		embedder:  embedder,
		logger:    logging.NewComponentLogger(logger, "api"),
		startedAt: time.Now().UTC(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/search", s.handleSearch)

		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.handleListFiles)
			r.Post("/upload", s.handleUpload)
			r.Post("/remote", s.handleRemote)

			r.Route("/{fileID}", func(r chi.Router) {
				r.Get("/", s.handleGetFile)
				r.Delete("/", s.handleDeleteFile)
				r.Get("/markdown", s.handleMarkdown)
				r.Get("/chunks", s.handleChunks)
				r.Post("/process", s.handleProcess)
				r.Get("/stream", s.handleStream)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/{taskID}", s.handleGetTask)
			r.Post("/{taskID}/cancel", s.handleCancelTask)
		})
	})
	return r
}

// ListenAndServe blocks serving HTTP until the listener fails or
// Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", logging.String("bind", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
