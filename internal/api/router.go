package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the router's non-handler settings.
type RouterConfig struct {
	ServiceName string
	Version     string
	Gatherer    prometheus.Gatherer
	Checks      map[string]HealthCheck
}

// NewRouter builds the gin engine with health, metrics and /api/v1 routes.
func NewRouter(h *Handler, cfg RouterConfig, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(log))

	router.GET("/health", healthHandler(cfg.ServiceName, cfg.Version, time.Now(), cfg.Checks))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.POST("/sources/:id/crawl", h.TriggerCrawl)
	v1.GET("/sources/due", h.ListDueSources)
	v1.GET("/jobs", h.ListJobs)
	v1.GET("/jobs/:id", h.GetJob)
	v1.POST("/jobs/:id/cancel", h.CancelJob)
	v1.GET("/content", h.ListContent)

	return router
}

// Server runs the HTTP API.
type Server struct {
	http *http.Server
	log  logger.Logger
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer wraps handler in an http.Server.
func NewServer(handler http.Handler, cfg ServerConfig, log logger.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log: log,
	}
}

// StartAsync starts listening in a goroutine. The channel receives a
// listener error, or is closed when the server shuts down cleanly.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.log.Info("HTTP server listening", logger.String("address", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}
