package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/gradascent/internal/objective"
	"github.com/cwbudde/gradascent/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager      *JobManager
	checkpointStore store.Store
	addr            string
	server          *http.Server
}

// NewServer creates a new HTTP server. checkpointStore may be nil, in
// which case jobs keep their results in memory only.
func NewServer(addr string, checkpointStore store.Store) *Server {
	s := &Server{
		jobManager:      NewJobManager(),
		checkpointStore: checkpointStore,
		addr:            addr,
	}
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register UI routes
	mux.HandleFunc("/", s.handleIndex)

	// Register API routes
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.jobManager.CancelAll()
	return s.server.Shutdown(ctx)
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	if sub == "cancel" {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleCancelJob(w, r, jobID)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "trace":
		s.handleGetTrace(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "heatmap.png":
		s.handleGetHeatmap(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := normalizeConfig(&config); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)

	ctx, cancel := context.WithCancel(context.Background())
	s.jobManager.setCancel(job.ID, cancel)

	go func() {
		defer cancel()
		runJob(ctx, s.jobManager, s.checkpointStore, job.ID)
	}()

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	ips := float64(0)
	if elapsed.Seconds() > 0 {
		ips = float64(job.Iterations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":                  job.ID,
		"state":               job.State,
		"status":              job.Status,
		"config":              job.Config,
		"best":                job.Best,
		"bestValue":           job.BestValue,
		"initialValue":        job.InitialValue,
		"iterations":          job.Iterations,
		"stepSize":            job.StepSize,
		"gradNorm":            job.GradNorm,
		"elapsed":             elapsed.Seconds(),
		"iterationsPerSecond": ips,
		"startTime":           job.StartTime,
		"endTime":             job.EndTime,
		"error":               job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetTrace handles GET /api/v1/jobs/:id/trace. Jobs from an earlier
// server process are read back from their trace file.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	entries, err := s.lookupTrace(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read trace: %v", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) lookupTrace(jobID string) ([]store.TraceEntry, error) {
	if history, ok := s.jobManager.History(jobID); ok {
		return history, nil
	}
	if s.checkpointStore == nil {
		return nil, &store.NotFoundError{JobID: jobID}
	}
	return store.ReadTrace(s.checkpointStore.JobDir(jobID))
}

// handleGetHeatmap handles GET /api/v1/jobs/:id/heatmap.png
func (s *Server) handleGetHeatmap(w http.ResponseWriter, r *http.Request, jobID string) {
	var name string
	if job, exists := s.jobManager.GetJob(jobID); exists {
		name = job.Config.Objective
	} else if s.checkpointStore != nil {
		cp, err := s.checkpointStore.LoadCheckpoint(jobID)
		if err != nil {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		name = cp.Config.Objective
	} else {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	obj, err := objective.Lookup(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if obj.Dim != 2 {
		http.Error(w, fmt.Sprintf("Heatmap requires a 2-D objective, %s has %d dimensions", obj.Name, obj.Dim), http.StatusBadRequest)
		return
	}

	entries, err := s.lookupTrace(jobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Rendering heatmap without path", "job_id", jobID, "error", err)
	}

	h, err := objectiveHeatmap(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")

	if err := h.WritePNG(w, tracePath(entries), heatmapScale); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	err := s.jobManager.CancelJob(jobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrJobFinished):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	job, _ := s.jobManager.GetJob(jobID)
	writeJSON(w, http.StatusAccepted, job)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
