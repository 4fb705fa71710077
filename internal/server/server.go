// Package server provides the HTTP API for utsushi.
package server

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/utsushi/internal/config"
	"github.com/hyperjump/utsushi/internal/reconcile"
	"github.com/hyperjump/utsushi/internal/search"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const multipartMemory = 8 << 20

// Server is the HTTP server for the utsushi API.
type Server struct {
	service    *search.Service
	reconciler *reconcile.Job
	config     *config.Config
	logger     *zap.Logger
	limiter    *rate.Limiter
	server     *http.Server
}

// NewServer creates a server with the given dependencies. reconciler may be nil, in which case
// the maintenance endpoint reports 501.
func NewServer(
	service *search.Service,
	reconciler *reconcile.Job,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		service:    service,
		reconciler: reconciler,
		config:     cfg,
		logger:     logger,
	}
	if cfg.Server.UploadRatePerSec > 0 {
		burst := max(cfg.Server.UploadBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.UploadRatePerSec), burst)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(allowAllOrigins)

	r.With(s.rateLimit).Post("/upload", s.handleUpload)
	r.Post("/search", s.handleSearch)
	r.Get("/debug/files", s.handleDebugFiles)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/images", s.handleUpload)
		r.Post("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
		r.Post("/maintenance/reconcile", s.handleReconcile)
	})

	prefix := publicPrefix(s.config.Server.PublicPrefix)
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(s.config.Storage.ImageDir)))
	r.Handle(prefix+"/*", files)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr),
		zap.String("public_prefix", publicPrefix(s.config.Server.PublicPrefix)))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func publicPrefix(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	if p == "/" {
		return "/sitios"
	}
	return p
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.respondError(w, http.StatusTooManyRequests, "upload rate exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
