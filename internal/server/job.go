package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/gradascent/internal/store"
	"github.com/cwbudde/gradascent/internal/vector"
	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// JobConfig is an alias to avoid duplication with store.JobConfig
type JobConfig = store.JobConfig

// Job is one gradient ascent run driven by the server.
type Job struct {
	ID     string    `json:"id"`
	State  JobState  `json:"state"`
	Config JobConfig `json:"config"`

	// Best is the current point of the latest iteration. Accepted values
	// never decrease, so it is also the best point seen.
	Best         vector.Floats `json:"best,omitempty"`
	BestValue    vector.Float  `json:"bestValue"`
	InitialValue vector.Float  `json:"initialValue"`
	Iterations   int           `json:"iterations"`
	StepSize     float64       `json:"stepSize"`
	GradNorm     vector.Float  `json:"gradNorm"`

	// Status is converged or max_iterations once the job completed.
	Status string `json:"status,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	history []store.TraceEntry
	cancel  context.CancelFunc
}

func (j *Job) finished() bool {
	return j.State == StateCompleted || j.State == StateFailed || j.State == StateCancelled
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job and returns a snapshot of it.
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StepSize:  config.StepSize,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	snapshot := *job
	return &snapshot
}

// GetJob returns a snapshot of a job. The snapshot is not updated when
// the job progresses.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			snapshot := *job
			runningJobs = append(runningJobs, &snapshot)
		}
	}
	return runningJobs
}

// History returns the trace entries recorded so far for a job.
func (jm *JobManager) History(id string) ([]store.TraceEntry, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.history[:len(job.history):len(job.history)], true
}

func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.UpdateJob(id, func(j *Job) {
		j.cancel = cancel
	})
}

// CancelJob requests cancellation of a pending or running job. The worker
// stops before its next iteration.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.finished() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, job.State)
	}
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// CancelAll cancels every unfinished job. Used on server shutdown.
func (jm *JobManager) CancelAll() {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	for _, job := range jm.jobs {
		if !job.finished() && job.cancel != nil {
			job.cancel()
		}
	}
}
