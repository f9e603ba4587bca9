package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/config"
	apperrors "github.com/faultline/faultline/internal/errors"
	"github.com/faultline/faultline/internal/observability"
	"github.com/faultline/faultline/internal/server/handlers"
	servermw "github.com/faultline/faultline/internal/server/middleware"
)

// Server is the local collector sink. It accepts report bodies the way the
// hosted notify endpoint does.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	cfg       config.ServerConfig
	collector *handlers.Collector
	// metricsPort is the exporter port used when the exporter cannot report its own.
	metricsPort int
}

// New creates a sink for cfg. metricsPort is only used by /metrics.
func New(cfg config.ServerConfig, metricsPort int) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, apperrors.New(apperrors.CodeNotFound, "The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, apperrors.New(apperrors.CodeMethodNotAllowed, "The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:      r,
		cfg:         cfg,
		metricsPort: metricsPort,
		collector: &handlers.Collector{
			CaptureDir:   cfg.CaptureDir,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Logger:       observability.ServerLogger,
		},
	}

	handlers.SetHTTPErrorResponder(writeError)
	servermw.PanicResponder = apperrors.RespondWithEnvelope
	s.registerRoutes()

	return s
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, 120*time.Second),
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting collector sink",
			zap.String("addr", addr),
			zap.String("capture_dir", s.cfg.CaptureDir))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down collector sink",
			zap.Int64("reports_received", s.collector.Received()))
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Collector returns the report handler.
func (s *Server) Collector() *handlers.Collector {
	return s.collector
}

// writeError is the error path for routing, handler, panic and proxy failures.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
