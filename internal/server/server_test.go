package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/gradascent/internal/objective"
	"github.com/cwbudde/gradascent/internal/store"
)

// runToCompletion creates a job and runs it synchronously.
func runToCompletion(t *testing.T, s *Server, config JobConfig) *Job {
	t.Helper()
	if err := normalizeConfig(&config); err != nil {
		t.Fatalf("Invalid config: %v", err)
	}
	job := s.jobManager.CreateJob(config)
	if err := runJob(context.Background(), s.jobManager, s.checkpointStore, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}
	done, _ := s.jobManager.GetJob(job.ID)
	return done
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", nil)

	body := bytes.NewBufferString(`{"objective": "f"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	// State should be pending (the worker starts after the response is built)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}
	if job.Config.Objective != "sincos" {
		t.Errorf("Expected alias resolved to sincos, got %s", job.Config.Objective)
	}
	if len(job.Config.Start) != 2 || job.Config.Start[0] != 0.2 || job.Config.Start[1] != -2.1 {
		t.Errorf("Expected default start (0.2, -2.1), got %v", job.Config.Start)
	}
	if job.Config.StepSize != 1 {
		t.Errorf("Expected default step 1, got %v", job.Config.StepSize)
	}
}

func TestServer_CreateJob_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing objective", `{}`},
		{"unknown objective", `{"objective": "nope"}`},
		{"wrong dimension", `{"objective": "sincos", "start": [1, 2, 3]}`},
		{"negative step", `{"objective": "sincos", "stepSize": -0.5}`},
		{"negative interval", `{"objective": "sincos", "checkpointInterval": -1}`},
		{"negative delay", `{"objective": "sincos", "stepDelayMs": -10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":8080", nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			s.handleCreateJob(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			if len(s.jobManager.ListJobs()) != 0 {
				t.Error("No job should be created")
			}
		})
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil)

	s.jobManager.CreateJob(JobConfig{Objective: "sincos"})
	s.jobManager.CreateJob(JobConfig{Objective: "quadratic"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_NonFiniteObjective(t *testing.T) {
	s := NewServer(":8080", newTestStore(t))
	job := runToCompletion(t, s, JobConfig{Objective: "rosenbrock", Start: []float64{1e200, 1}})
	if job.State != StateCompleted || job.Iterations != 25 {
		t.Fatalf("Expected a completed run of 25 iterations, got %s after %d", job.State, job.Iterations)
	}
	h := s.Handler()

	for _, path := range []string{
		"/api/v1/jobs",
		"/api/v1/jobs/" + job.ID,
		"/api/v1/jobs/" + job.ID + "/status",
		"/api/v1/jobs/" + job.ID + "/trace",
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected status 200, got %d: %s", path, w.Code, w.Body.String())
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 1 || !math.IsInf(float64(jobs[0].BestValue), -1) {
		t.Errorf("Expected one job with best value -Inf, got %+v", jobs)
	}

	entries, err := store.ReadTrace(s.checkpointStore.JobDir(job.ID))
	if err != nil {
		t.Fatalf("Trace missing: %v", err)
	}
	if len(entries) != 25 {
		t.Errorf("Expected 25 trace entries, got %d", len(entries))
	}
	if _, err := s.checkpointStore.LoadCheckpoint(job.ID); err != nil {
		t.Errorf("Expected a checkpoint, got %v", err)
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil)

	job := runToCompletion(t, s, JobConfig{Objective: "paraboloid", StepSize: 0.5})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}
	if response["state"] != string(StateCompleted) {
		t.Errorf("Expected completed state, got %v", response["state"])
	}
	if response["status"] != "converged" {
		t.Errorf("Expected converged status, got %v", response["status"])
	}
	if _, ok := response["iterationsPerSecond"]; !ok {
		t.Error("Response should contain iterationsPerSecond")
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_GetTrace(t *testing.T) {
	s := NewServer(":8080", nil)
	job := runToCompletion(t, s, JobConfig{Objective: "sincos"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/trace", nil)
	w := httptest.NewRecorder()
	s.handleGetTrace(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var entries []store.TraceEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode trace: %v", err)
	}
	if len(entries) != 25 {
		t.Fatalf("Expected 25 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Value < entries[i-1].Value {
			t.Errorf("Value decreased at iteration %d", i)
		}
	}
}

func TestServer_GetTrace_FromStore(t *testing.T) {
	st := newTestStore(t)

	first := NewServer(":8080", st)
	job := runToCompletion(t, first, JobConfig{Objective: "paraboloid"})

	// A new server process only has the files
	second := NewServer(":8080", st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/trace", nil)
	w := httptest.NewRecorder()
	second.handleGetTrace(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var entries []store.TraceEntry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != job.Iterations+1 {
		t.Errorf("Expected %d entries, got %d", job.Iterations+1, len(entries))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/unknown/trace", nil)
	w = httptest.NewRecorder()
	second.handleGetTrace(w, req, "unknown")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestObjectiveHeatmapCoversStart(t *testing.T) {
	for _, obj := range objective.All() {
		if obj.Dim != 2 {
			continue
		}
		h, err := objectiveHeatmap(obj)
		if err != nil {
			t.Fatalf("%s: %v", obj.Name, err)
		}
		if _, _, ok := h.Cell(obj.StartVector()); !ok {
			t.Errorf("%s: default start %v is outside the heatmap", obj.Name, obj.Start)
		}
	}
}

func TestServer_GetHeatmap(t *testing.T) {
	s := NewServer(":8080", nil)
	job := runToCompletion(t, s, JobConfig{Objective: "sincos"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/heatmap.png", nil)
	w := httptest.NewRecorder()
	s.handleGetHeatmap(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Expected image/png, got %s", w.Header().Get("Content-Type"))
	}

	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("Invalid PNG: %v", err)
	}
	size := heatmapResolution * heatmapScale
	if img.Bounds().Dx() != size || img.Bounds().Dy() != size {
		t.Errorf("Expected %dx%d image, got %v", size, size, img.Bounds())
	}
}

func TestServer_GetHeatmap_Errors(t *testing.T) {
	s := NewServer(":8080", nil)
	job := runToCompletion(t, s, JobConfig{Objective: "quadratic"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/heatmap.png", nil)
	w := httptest.NewRecorder()
	s.handleGetHeatmap(w, req, job.ID)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for 3-D objective, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.handleGetHeatmap(w, req, "nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":8080", nil)
	h := s.Handler()

	// A slow job that is still running when the cancel arrives
	body := bytes.NewBufferString(`{"objective": "sincos", "stepDelayMs": 50}`)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		current, _ := s.jobManager.GetJob(job.ID)
		if current.State == StateCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Job did not stop, state %s", current.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Cancelling again conflicts
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nonexistent/cancel", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestServer_Routing(t *testing.T) {
	s := NewServer(":8080", nil)
	job := runToCompletion(t, s, JobConfig{Objective: "paraboloid"})
	h := s.Handler()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/jobs", http.StatusOK},
		{http.MethodDelete, "/api/v1/jobs", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/jobs/" + job.ID, http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/status", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/trace", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/heatmap.png", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/unknown", http.StatusNotFound},
		{http.MethodPost, "/api/v1/jobs/" + job.ID + "/status", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/jobs/", http.StatusBadRequest},
		{http.MethodOptions, "/api/v1/jobs", http.StatusOK},
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestServer_Index(t *testing.T) {
	s := NewServer(":8080", nil)
	job := runToCompletion(t, s, JobConfig{Objective: "sincos"})

	w := httptest.NewRecorder()
	s.handleIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Expected HTML, got %s", w.Header().Get("Content-Type"))
	}
	body := w.Body.String()
	if !containsString(body, job.ID) || !containsString(body, "sincos") {
		t.Error("Expected job row on the index page")
	}
}

func TestServer_Integration(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := NewServer("localhost:0", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := bytes.NewBufferString(`{"objective": "quadratic"}`)
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", body)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	defer resp.Body.Close()

	var job Job
	json.NewDecoder(resp.Body).Decode(&job)

	// Poll status until completed
	maxAttempts := 50
	for i := 0; i < maxAttempts; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status["state"] == string(StateCompleted) {
			break
		}
		if status["state"] == string(StateFailed) {
			t.Fatalf("Job failed: %v", status["error"])
		}
		if i == maxAttempts-1 {
			t.Fatal("Job did not complete in time")
		}

		time.Sleep(100 * time.Millisecond)
	}

	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/trace")
	if err != nil {
		t.Fatalf("Failed to get trace: %v", err)
	}
	defer resp.Body.Close()

	var entries []store.TraceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode trace: %v", err)
	}
	if len(entries) == 0 {
		t.Error("Expected trace entries")
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	s := NewServer(":8080", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	config := JobConfig{Objective: "sincos", StepDelayMs: 10}
	normalizeConfig(&config)
	job := s.jobManager.CreateJob(config)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Expected text/event-stream content type, got %s", resp.Header.Get("Content-Type"))
	}

	go runJob(context.Background(), s.jobManager, nil, job.ID)

	// The stream ends after the terminal event
	var events []ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("Invalid event %q: %v", line, err)
		}
		events = append(events, event)
	}

	if len(events) < 2 {
		t.Fatalf("Expected several events, got %d", len(events))
	}
	if events[0].State != StatePending {
		t.Errorf("Expected initial pending event, got %s", events[0].State)
	}
	last := events[len(events)-1]
	if last.State != StateCompleted {
		t.Errorf("Expected final completed event, got %s", last.State)
	}
	if last.Iteration != 25 {
		t.Errorf("Expected final iteration 25, got %d", last.Iteration)
	}
}

func TestServer_JobStream_Finished(t *testing.T) {
	s := NewServer(":8080", nil)
	job := runToCompletion(t, s, JobConfig{Objective: "paraboloid"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil)
	w := httptest.NewRecorder()

	// Returns right after the initial event
	s.handleJobStream(w, req, job.ID)

	body := w.Body.String()
	if !containsString(body, "data: {") {
		t.Error("Expected SSE data in response")
	}
	if !containsString(body, `"state":"completed"`) {
		t.Errorf("Expected completed state in %q", body)
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	event := ProgressEvent{
		JobID:     "job1",
		State:     StateRunning,
		Iteration: 10,
		Value:     2.2,
		StepSize:  0.5,
		Timestamp: time.Now(),
	}
	eb.Broadcast(event)

	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Iteration != 10 {
			t.Errorf("Expected iteration 10, got %d", received.Iteration)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers get the last event
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.Iteration != 10 {
			t.Errorf("Expected replayed iteration 10, got %d", received.Iteration)
		}
	case <-time.After(1 * time.Second):
		t.Error("Late subscriber should receive the last event")
	}
	eb.Unsubscribe("job1", late)
}

func TestEventBroadcaster_CleanupJob(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job1")

	eb.CleanupJob("job1")

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after cleanup")
	}
}

func containsString(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}
