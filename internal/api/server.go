package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/catalogqa/internal/catalog"
	"github.com/MikeSquared-Agency/catalogqa/internal/processor"
	"github.com/MikeSquared-Agency/catalogqa/internal/session"
)

// Asker answers shopper questions.
type Asker interface {
	Ask(ctx context.Context, req processor.Request) (*processor.Answer, error)
	Provider() string
}

// CatalogReader serves the direct catalog reads.
type CatalogReader interface {
	Summary(ctx context.Context) (catalog.Summary, error)
}

type Config struct {
	Port int
	// RatePerSecond and Burst size the per-client token bucket. A rate of
	// zero disables limiting.
	RatePerSecond  float64
	Burst          int
	AllowedOrigins []string
}

type Server struct {
	router   *chi.Mux
	asker    Asker
	sessions *session.Store
	catalog  CatalogReader
	limiter  *clientLimiter
	logger   *slog.Logger
	http     *http.Server
}

func NewServer(cfg Config, asker Asker, sessions *session.Store, cat CatalogReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Session-Id"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	s := &Server{
		router:   router,
		asker:    asker,
		sessions: sessions,
		catalog:  cat,
		limiter:  newClientLimiter(cfg.RatePerSecond, cfg.Burst),
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      150 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Get("/status", s.status)
		r.Post("/goods/ask", s.ask)
		r.Get("/sessions/{id}", s.getSession)
		r.Delete("/sessions/{id}", s.deleteSession)
		r.Get("/catalog/stats", s.catalogStats)
	})

	return s
}

// Start serves until Shutdown is called; it then returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
