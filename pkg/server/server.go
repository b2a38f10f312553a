// Package server exposes the submission queue over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/xelpkg/registry/pkg/jobs"
)

// APIBasePath prefixes the submission and job routes.
const APIBasePath = "/api/v1"

// Server serves submission intake, job status and health endpoints.
type Server struct {
	db        *gorm.DB
	queue     *jobs.Queue
	jobStore  *jobs.JobStore
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a Server. db may be nil, in which case readiness skips the
// database check.
func New(db *gorm.DB, queue *jobs.Queue, jobStore *jobs.JobStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:        db,
		queue:     queue,
		jobStore:  jobStore,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Mount(APIBasePath, jobs.Router(s.queue, s.jobStore))
	s.logger.Info("mounted submission routes", "basePath", APIBasePath)

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports database connectivity and queue depth.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready := true

	dbStatus := map[string]string{"status": "up"}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			ready = false
		}
	} else {
		dbStatus["status"] = "not_configured"
	}

	pending, active := s.queue.Stats()

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": dbStatus,
		"queue": map[string]int{
			"pending": pending,
			"active":  active,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
