package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devrev/kissvdb/internal/config"
)

// Server is the top-level HTTP listener, wiring the middleware chain and
// route table over Deps, adapted from api-gateway's Server but re-expressed
// on go-chi/chi instead of gorilla/mux.
type Server struct {
	deps       *Deps
	router     chi.Router
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds a Server and its full route table.
func New(cfg *config.Config, deps *Deps, logger *zap.Logger) *Server {
	s := &Server{deps: deps, logger: logger}
	s.router = s.buildRouter(cfg)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) buildRouter(cfg *config.Config) chi.Router {
	d := s.deps
	r := chi.NewRouter()

	base := []func(http.Handler) http.Handler{RequestID, Recovery(s.logger), Logging(s.logger)}
	if cfg.RateLimit.Enabled {
		rl := NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, s.logger)
		base = append(base, rl.Limit)
	}
	r.Use(base...)

	r.Get("/healthz", d.handleLiveness)
	r.Get("/readyz", d.handleReadiness)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, d.metricsHandler())
	}

	// The event stream is long-lived and must not inherit the request
	// timeout, body-size limit, or JSON content type the rest of /v1 gets.
	r.Get("/v1/stream", d.handleEventStream)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(ContentType, Timeout(cfg.Server.RequestTimeout))
		v1.Use(func(next http.Handler) http.Handler {
			return http.MaxBytesHandler(next, cfg.Server.MaxBodyBytes)
		})

		v1.Route("/kv", func(kv chi.Router) {
			kv.Get("/", d.handleListKV)
			kv.Post("/batch", d.handleBatchPutKV)
			kv.Put("/{key}", d.handlePutKV)
			kv.Get("/{key}", d.handleGetKV)
			kv.Delete("/{key}", d.handleDeleteKV)
		})

		v1.Route("/vectors", func(vec chi.Router) {
			vec.Post("/", d.handleCreateCollection)
			vec.Get("/", d.handleListCollections)

			vec.Route("/{collection}/items", func(items chi.Router) {
				items.Post("/", d.handleAddVector)
				items.Post("/batch", d.handleUpsertVectorBatch)
				items.Post("/batch_delete", d.handleDeleteVectorBatch)
				items.Put("/{id}", d.handleUpsertVectorByID)
				items.Patch("/{id}", d.handleUpdateVectorByID)
				items.Get("/{id}", d.handleGetVector)
				items.Delete("/{id}", d.handleDeleteVector)
			})

			vec.Post("/{collection}/search", d.handleSearch)
			vec.Post("/{collection}/vacuum", d.handleVacuumCollection)
		})

		v1.Route("/docs/{collection}", func(docs chi.Router) {
			docs.Get("/", d.handleListDocs)
			docs.Put("/{id}", d.handlePutDoc)
			docs.Get("/{id}", d.handleGetDoc)
			docs.Delete("/{id}", d.handleDeleteDoc)
		})
	})

	return r
}

// Start runs the server until ctx is canceled, then shuts down within
// cfg.Server.ShutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the built router, primarily for tests.
func (s *Server) Handler() http.Handler { return s.router }
