package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/gradascent/internal/ascent"
	"github.com/cwbudde/gradascent/internal/objective"
	"github.com/cwbudde/gradascent/internal/store"
	"github.com/cwbudde/gradascent/internal/vector"
)

// runJob executes a gradient ascent job in the background.
//
// The worker drives ascent.AtPoint and ascent.Next itself instead of
// calling ascent.Run, so it can check ctx between iterations. If
// checkpointStore is not nil, the trace is written to the job directory,
// checkpoints are saved every CheckpointInterval iterations and once at
// the end, and 2-D runs get a heatmap.png.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	cfg := job.Config
	slog.Info("Starting job", "job_id", jobID, "objective", cfg.Objective, "step_size", cfg.StepSize)

	obj, err := objective.Lookup(cfg.Objective)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	start := vector.New(cfg.Start...)
	if err := obj.Check(start); err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	state, err := ascent.AtPoint(start, obj.Func, cfg.StepSize, 0)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	initialValue := state.Current.Value
	jm.UpdateJob(jobID, func(j *Job) {
		j.InitialValue = vector.Float(initialValue)
	})

	var trace *store.TraceWriter
	if checkpointStore != nil {
		trace, err = store.NewTraceWriter(checkpointStore.JobDir(jobID), false)
		if err != nil {
			slog.Warn("Trace disabled", "job_id", jobID, "error", err)
		} else {
			defer trace.Close()
		}
	}

	begin := time.Now()
	delay := time.Duration(cfg.StepDelayMs) * time.Millisecond
	status := ascent.StatusMaxIterations

	for state.Index < ascent.MaxIterations {
		// Check for cancellation before every iteration
		if ctx.Err() != nil {
			stopCancelled(jm, checkpointStore, jobID, state, initialValue, cfg)
			return ctx.Err()
		}

		observe(jm, trace, jobID, state)

		if checkpointStore != nil && cfg.CheckpointInterval > 0 && state.Index > 0 && state.Index%cfg.CheckpointInterval == 0 {
			if err := saveCheckpoint(checkpointStore, jobID, state, initialValue, cfg); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}

		if state.Done() {
			status = ascent.StatusConverged
			break
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				stopCancelled(jm, checkpointStore, jobID, state, initialValue, cfg)
				return ctx.Err()
			case <-timer.C:
			}
		}

		state = ascent.Next(state)
	}

	elapsed := time.Since(begin)

	if trace != nil {
		if err := trace.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "job_id", jobID, "error", err)
		}
	}

	if checkpointStore != nil {
		if err := saveCheckpoint(checkpointStore, jobID, state, initialValue, cfg); err != nil {
			slog.Error("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
		if obj.Dim == 2 {
			if err := saveHeatmap(jm, checkpointStore, jobID, obj); err != nil {
				slog.Warn("Failed to save heatmap", "job_id", jobID, "error", err)
			}
		}
	}

	endTime := time.Now()
	var final *Job
	err = jm.UpdateJob(jobID, func(j *Job) {
		setProgress(j, state)
		j.State = StateCompleted
		j.Status = string(status)
		j.EndTime = &endTime
		snapshot := *j
		final = &snapshot
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"status", status,
		"iterations", state.Index,
		"initial_value", initialValue,
		"best_value", state.Current.Value,
	)

	jm.broadcaster.Broadcast(jobEvent(final))
	return nil
}

// observe records one iteration: trace line, job progress, stream event.
func observe(jm *JobManager, trace *store.TraceWriter, jobID string, state ascent.State) {
	entry := store.NewTraceEntry(state)
	if trace != nil {
		if err := trace.Write(entry); err != nil {
			slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
		}
	}

	jm.UpdateJob(jobID, func(j *Job) {
		setProgress(j, state)
		j.history = append(j.history, entry)
	})

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateRunning,
		Iteration: entry.Iteration,
		Point:     entry.Point,
		Value:     entry.Value,
		StepSize:  entry.StepSize,
		GradNorm:  entry.GradNorm,
		Rule:      entry.Rule,
		Timestamp: entry.Timestamp,
	})
}

func setProgress(j *Job, state ascent.State) {
	j.Best = state.Current.Vector.Values()
	j.BestValue = vector.Float(state.Current.Value)
	j.Iterations = state.Index
	j.StepSize = state.StepSize
	j.GradNorm = vector.Float(state.GradientNorm())
}

// stopCancelled saves the state the job stopped at, so it can be resumed
// from the CLI, and marks the job cancelled.
func stopCancelled(jm *JobManager, checkpointStore store.Store, jobID string, state ascent.State, initialValue float64, cfg JobConfig) {
	if checkpointStore != nil {
		if err := saveCheckpoint(checkpointStore, jobID, state, initialValue, cfg); err != nil {
			slog.Error("Failed to save checkpoint on cancel", "job_id", jobID, "error", err)
		}
	}
	markJobCancelled(jm, jobID)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var final *Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		snapshot := *j
		final = &snapshot
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	if final != nil {
		jm.broadcaster.Broadcast(jobEvent(final))
	}
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	var final *Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
		snapshot := *j
		final = &snapshot
	})
	slog.Info("Job cancelled", "job_id", jobID)
	if final != nil {
		jm.broadcaster.Broadcast(jobEvent(final))
	}
}

// saveCheckpoint saves the given iteration state for the job
func saveCheckpoint(checkpointStore store.Store, jobID string, state ascent.State, initialValue float64, cfg JobConfig) error {
	checkpoint := store.NewCheckpoint(jobID, state, initialValue, cfg)
	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", state.Index,
		"value", state.Current.Value,
	)
	return nil
}

// saveHeatmap writes heatmap.png with the job's path to the job directory.
func saveHeatmap(jm *JobManager, checkpointStore store.Store, jobID string, obj objective.Objective) error {
	history, _ := jm.History(jobID)

	h, err := objectiveHeatmap(obj)
	if err != nil {
		return err
	}

	path := filepath.Join(checkpointStore.JobDir(jobID), "heatmap.png")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heatmap.png: %w", err)
	}
	defer f.Close()

	if err := h.WritePNG(f, tracePath(history), heatmapScale); err != nil {
		return fmt.Errorf("failed to encode heatmap.png: %w", err)
	}

	slog.Debug("Heatmap saved", "job_id", jobID, "path", path)
	return nil
}
