// Package server exposes the analysis pipeline over HTTP: file upload,
// progress polling, result download and guest maintenance endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/analyze"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/config"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/sandbox"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Server is the HTTP front end over the analysis service and session
// manager.
type Server struct {
	server  *http.Server
	router  *chi.Mux
	service *analyze.Service
	store   *analyze.Store
	manager *sandbox.Manager
	config  *config.ServerConfig
}

// New creates the HTTP server and registers its routes.
func New(cfg *config.ServerConfig, service *analyze.Service, store *analyze.Store, manager *sandbox.Manager) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	s := &Server{
		router:  r,
		service: service,
		store:   store,
		manager: manager,
		config:  cfg,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/files", s.handleUpload)
		r.Get("/analyses/{id}", s.handleProgress)
		r.Get("/analyses/{id}/log", s.handleLogDownload)
		r.Get("/vm/status", s.handleVMStatus)
		r.Post("/vm/reset", s.handleVMReset)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logging.Info("http server listening", logging.String("addr", s.server.Addr))

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	logging.Info("http server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler returns the route tree, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleUpload receives a multipart file, saves it under the upload
// directory with a sanitized name, and queues it for analysis.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes())

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file field: %v", err))
		return
	}
	defer file.Close()

	name := sanitizeName(header.Filename)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to prepare upload directory")
		return
	}

	// A short unique prefix keeps concurrent uploads of the same name
	// from clobbering each other while preserving the extension.
	dest := filepath.Join(s.config.UploadDir, uuid.NewString()[:8]+"_"+name)
	out, err := os.Create(dest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dest)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	id := s.service.Submit(types.HostPath(dest))
	logging.Info("file queued for analysis",
		logging.String("analysis_id", id),
		logging.String("file", name),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"analysis_id": id,
		"file_name":   name,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleLogDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if progress.Status != analyze.StatusDone || progress.TraceFile == "" {
		writeError(w, http.StatusNotFound, "no analysis log available")
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(string(progress.TraceFile))))
	http.ServeFile(w, r, string(progress.TraceFile))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVMStatus(w http.ResponseWriter, r *http.Request) {
	status := s.manager.VMStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleVMReset(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Reset(r.Context()); err != nil {
		if errors.Is(err, types.ErrSessionActive) {
			writeError(w, http.StatusConflict, "an analysis session is active")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reset failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reverted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sanitizeName reduces an uploaded file name to its base name and strips
// every character outside a conservative allowlist, preserving the
// extension so classification still works. Returns "" when nothing
// usable remains.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return ""
	}
	return cleaned
}
