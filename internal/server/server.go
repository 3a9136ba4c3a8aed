package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fetchkit/fetchd/internal/config"
	"github.com/fetchkit/fetchd/internal/history"
	"github.com/fetchkit/fetchd/internal/logger"
	"github.com/fetchkit/fetchd/internal/manager"
)

// Server represents the HTTP API server
type Server struct {
	manager       *manager.Manager
	history       *history.Store
	downloadDir   string
	allowedOrigin string
	handler       http.Handler
	server        *http.Server
}

// NewServer creates a new HTTP API server
func NewServer(cfg *config.HTTPConfig, mgr *manager.Manager, hist *history.Store, downloadDir string) *Server {
	s := &Server{
		manager:       mgr,
		history:       hist,
		downloadDir:   downloadDir,
		allowedOrigin: cfg.AllowedOrigin,
	}

	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", s.handleHealth)

	// Download control endpoints
	mux.HandleFunc("/api/downloads", s.handleDownloads)
	mux.HandleFunc("/api/downloads/", s.handleDownloadByID)

	s.handler = s.withLogging(s.withCORS(mux))
	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}

	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logger.Log.Infof("Starting HTTP server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	logger.Log.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// withLogging adds request logging middleware
func (s *Server) withLogging(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler.ServeHTTP(rw, r)

		duration := time.Since(start)
		logger.Log.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

// withCORS allows the configured origin to call the API from a browser
func (s *Server) withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		handler.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
