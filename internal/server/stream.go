package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/gradascent/internal/vector"
)

// ProgressEvent is sent to stream subscribers after every iteration and
// when a job changes state.
type ProgressEvent struct {
	JobID     string        `json:"jobId"`
	State     JobState      `json:"state"`
	Iteration int           `json:"iteration"`
	Point     vector.Floats `json:"point,omitempty"`
	Value     vector.Float  `json:"value"`
	StepSize  float64       `json:"stepSize"`
	GradNorm  vector.Float  `json:"gradNorm"`
	Rule      string        `json:"rule,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func jobEvent(job *Job) ProgressEvent {
	return ProgressEvent{
		JobID:     job.ID,
		State:     job.State,
		Iteration: job.Iterations,
		Point:     job.Best,
		Value:     job.BestValue,
		StepSize:  job.StepSize,
		GradNorm:  job.GradNorm,
		Timestamp: time.Now(),
	}
}

// eventBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind misses events rather than stalling the job.
const eventBuffer = 16

// EventBroadcaster fans job events out to stream subscribers. It keeps
// the latest event of every job so late subscribers start from it.
type EventBroadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[chan ProgressEvent]struct{}
	latest map[string]ProgressEvent
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subs:   make(map[string]map[chan ProgressEvent]struct{}),
		latest: make(map[string]ProgressEvent),
	}
}

// Subscribe registers a channel for the events of jobID. The latest
// event, if any, is already queued on it.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	ch := make(chan ProgressEvent, eventBuffer)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	set, ok := eb.subs[jobID]
	if !ok {
		set = make(map[chan ProgressEvent]struct{})
		eb.subs[jobID] = set
	}
	set[ch] = struct{}{}

	if ev, ok := eb.latest[jobID]; ok {
		ch <- ev
	}

	slog.Debug("Stream subscribed", "job_id", jobID, "subscribers", len(set))
	return ch
}

// Unsubscribe removes and closes ch. Channels already closed by
// CleanupJob are ignored.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	set := eb.subs[jobID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(eb.subs, jobID)
	}

	slog.Debug("Stream unsubscribed", "job_id", jobID)
}

// Broadcast records ev as the latest event of its job and offers it to
// every subscriber without blocking.
func (eb *EventBroadcaster) Broadcast(ev ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.latest[ev.JobID] = ev

	dropped := 0
	for ch := range eb.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.Warn("Stream subscribers lagging, events dropped", "job_id", ev.JobID, "iteration", ev.Iteration, "dropped", dropped)
	}
}

// CleanupJob closes all subscriptions of jobID and forgets its events.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.subs[jobID] {
		close(ch)
	}
	delete(eb.subs, jobID)
	delete(eb.latest, jobID)
}

// keepAlive is the interval of SSE comment lines on idle streams.
const keepAlive = 30 * time.Second

// handleJobStream serves GET /api/v1/jobs/:id/stream as server-sent
// events. The stream ends with the first terminal event.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	send := func(ev ProgressEvent) bool {
		if err := writeSSEEvent(w, ev); err != nil {
			slog.Warn("Stream write failed", "job_id", jobID, "error", err)
			return false
		}
		flusher.Flush()
		return !isTerminal(ev.State)
	}

	if !send(jobEvent(job)) {
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Stream client gone", "job_id", jobID)
			return
		case ev, ok := <-events:
			if !ok || !send(ev) {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func isTerminal(state JobState) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// writeSSEEvent writes ev as one "data:" frame.
func writeSSEEvent(w io.Writer, ev ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
