package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/gradascent/internal/ascent"
	"github.com/cwbudde/gradascent/internal/vector"
)

// JobConfig holds the configuration of one optimization run.
// It lives here so that the server and the CLI share it without an
// import cycle.
type JobConfig struct {
	Objective string    `json:"objective"`
	Start     []float64 `json:"start"`
	StepSize  float64   `json:"stepSize"`

	// CheckpointInterval saves a checkpoint every N iterations (0 = only
	// at the end of the run).
	CheckpointInterval int `json:"checkpointInterval,omitempty"`

	// StepDelayMs pauses between iterations so that a viewer can follow
	// the run live.
	StepDelayMs int `json:"stepDelayMs,omitempty"`
}

// Checkpoint is a saved iteration snapshot.
//
// The transition from one iteration to the next depends only on the
// current vector, the step size and the index, so rebuilding the state
// with ascent.AtPoint(Current, f, StepSize, Index) continues the run
// exactly as if it had never stopped.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// Index is the iteration index of the saved state.
	Index int `json:"index"`

	StepSize float64       `json:"stepSize"`
	Current  vector.Floats `json:"current"`

	// Value and GradNorm are informational; they are recomputed on resume.
	// Either may be non-finite.
	Value    vector.Float `json:"value"`
	GradNorm vector.Float `json:"gradNorm"`

	// InitialValue is the objective value at the start point.
	InitialValue vector.Float `json:"initialValue"`

	// Done is set when the saved state satisfied the termination check.
	Done bool `json:"done"`

	Timestamp time.Time `json:"timestamp"`
	Config    JobConfig `json:"config"`
}

// CheckpointInfo is checkpoint metadata without the vectors.
type CheckpointInfo struct {
	JobID     string       `json:"jobId"`
	Objective string       `json:"objective"`
	Index     int          `json:"index"`
	StepSize  float64      `json:"stepSize"`
	Value     vector.Float `json:"value"`
	Done      bool         `json:"done"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewCheckpoint snapshots an iteration state.
func NewCheckpoint(jobID string, state ascent.State, initialValue float64, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:        jobID,
		Index:        state.Index,
		StepSize:     state.StepSize,
		Current:      state.Current.Vector.Values(),
		Value:        vector.Float(state.Current.Value),
		GradNorm:     vector.Float(state.GradientNorm()),
		InitialValue: vector.Float(initialValue),
		Done:         state.Done(),
		Timestamp:    time.Now(),
		Config:       config,
	}
}

// State rebuilds the iteration state for objective f.
func (c *Checkpoint) State(f vector.Objective) (ascent.State, error) {
	return ascent.AtPoint(vector.New(c.Current...), f, c.StepSize, c.Index)
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		Objective: c.Config.Objective,
		Index:     c.Index,
		StepSize:  c.StepSize,
		Value:     c.Value,
		Done:      c.Done,
		Timestamp: c.Timestamp,
	}
}

// Validate checks that the checkpoint can be resumed.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.Current) == 0 {
		return &ValidationError{Field: "Current", Reason: "cannot be empty"}
	}
	if c.Index < 0 {
		return &ValidationError{Field: "Index", Reason: "cannot be negative"}
	}
	if !(c.StepSize > 0) || math.IsInf(c.StepSize, 1) {
		return &ValidationError{Field: "StepSize", Reason: "must be positive and finite"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Objective == "" {
		return &ValidationError{Field: "Config.Objective", Reason: "cannot be empty"}
	}
	if len(c.Config.Start) != len(c.Current) {
		return &ValidationError{
			Field:  "Current",
			Reason: fmt.Sprintf("length mismatch: start has %d components, current has %d", len(c.Config.Start), len(c.Current)),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given
// config.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.Objective != config.Objective {
		return &CompatibilityError{
			Field:    "Objective",
			Expected: c.Config.Objective,
			Actual:   config.Objective,
		}
	}
	if len(c.Config.Start) != len(config.Start) {
		return &CompatibilityError{
			Field:    "Dimension",
			Expected: fmt.Sprintf("%d", len(c.Config.Start)),
			Actual:   fmt.Sprintf("%d", len(config.Start)),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
