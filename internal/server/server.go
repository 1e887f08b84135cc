package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"hearth/internal/config"
	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/records"
)

// Server is the HTTP API over the job queue and domain records.
type Server struct {
	bind     string
	token    string
	mediaDir string
	logger   *slog.Logger
	jobs     *jobs.Store
	records  *records.Store

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

// New builds the API server. It does not listen until Start.
func New(cfg *config.Config, jobStore *jobs.Store, recordStore *records.Store, logger *slog.Logger) *Server {
	srv := &Server{
		bind:     strings.TrimSpace(cfg.Server.APIBind),
		token:    strings.TrimSpace(cfg.Server.APIToken),
		mediaDir: cfg.Paths.MediaDir,
		logger:   logging.NewComponentLogger(logger, "api"),
		jobs:     jobStore,
		records:  recordStore,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/visits", srv.handleVisits)
	mux.HandleFunc("/api/visits/", srv.handleVisit)
	mux.HandleFunc("/api/captures", srv.handleCaptures)
	mux.HandleFunc("/api/captures/", srv.handleCaptureAttachments)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJob)

	srv.handler = srv.requireAuth(mux)
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler exposes the routing stack, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving on the configured bind address.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Args(logging.Error(err))...)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.Args(logging.String("address", listener.Addr().String()))...)
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requireAuth enforces the bearer token on every route when one is
// configured.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Args(logging.Error(err))...)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
