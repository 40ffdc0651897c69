// Package api exposes the daemon's read-only status surface over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/api/handler"
	mw "github.com/edvin/backupd/internal/api/middleware"
)

type Server struct {
	router chi.Router
	logger zerolog.Logger
	sched  handler.JobHistory
	store  handler.BackupLister
}

func NewServer(logger zerolog.Logger, sched handler.JobHistory, store handler.BackupLister) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		sched:  sched,
		store:  store,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api/v1", func(r chi.Router) {
		status := handler.NewStatus(s.sched)
		r.Get("/status", status.Get)

		jobs := handler.NewJobs(s.sched)
		r.Get("/jobs", jobs.List)

		source := handler.NewSource(s.sched, s.store)
		r.Get("/sources", source.List)
		r.Get("/sources/{sourceID}/backups", source.ListBackups)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
