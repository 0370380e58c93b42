package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cwbudde/gradascent/internal/ascent"
	"github.com/cwbudde/gradascent/internal/objective"
	"github.com/cwbudde/gradascent/internal/store"
	"github.com/cwbudde/gradascent/internal/vector"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir string
	resumeQuiet   bool
	resumeJSON    bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Continue a run from its checkpoint",
	Long: `Loads <data-dir>/jobs/<job-id>/checkpoint.json and continues the run at the
saved iteration with the saved step size. The trace is cut back to the
checkpoint and extended, and the checkpoint is replaced when the run ends.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewFSStore(resumeDataDir)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		res, err := resumeJob(cmd.OutOrStdout(), st, args[0], resumeQuiet || resumeJSON)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res, resumeJSON)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for traces and checkpoints")
	resumeCmd.Flags().BoolVarP(&resumeQuiet, "quiet", "q", false, "Do not print the iterations")
	resumeCmd.Flags().BoolVar(&resumeJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(resumeCmd)
}

// resumeJob continues the checkpointed run of jobID. A finished run is
// reported as is.
func resumeJob(out io.Writer, st *store.FSStore, jobID string, quiet bool) (*runResult, error) {
	cp, err := st.LoadCheckpoint(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no checkpoint for job %s in %s", jobID, st.BaseDir())
		}
		return nil, err
	}

	obj, err := objective.Lookup(cp.Config.Objective)
	if err != nil {
		return nil, err
	}
	if err := obj.Check(vector.New(cp.Current...)); err != nil {
		return nil, fmt.Errorf("checkpoint does not fit objective: %w", err)
	}

	state, err := cp.State(obj.Func)
	if err != nil {
		return nil, err
	}

	if cp.Done {
		slog.Info("Run already finished", "job_id", jobID, "iteration", cp.Index)
		return resumedResult(cp, obj, state, 0), nil
	}

	slog.Info("Resuming run", "job_id", jobID, "iteration", cp.Index, "step_size", cp.StepSize)

	trace, err := rewindTrace(st.JobDir(jobID), cp.Index)
	if err != nil {
		return nil, err
	}
	defer trace.Close()

	observers := []ascent.Observer{trace.Observe}
	if !quiet {
		observers = append(observers, dumpState(out))
	}

	begin := time.Now()
	res := ascent.Continue(state, chain(observers...))
	elapsed := time.Since(begin)

	if err := trace.Flush(); err != nil {
		return nil, err
	}

	final := store.NewCheckpoint(jobID, res.Final, float64(cp.InitialValue), cp.Config)
	if err := st.SaveCheckpoint(jobID, final); err != nil {
		return nil, err
	}

	r := resumedResult(final, obj, res.Final, elapsed)
	r.Status = string(res.Status)
	return r, nil
}

// rewindTrace keeps the trace entries recorded before iteration index and
// returns a writer positioned after them.
func rewindTrace(jobDir string, index int) (*store.TraceWriter, error) {
	entries, err := store.ReadTrace(jobDir)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tw, err := store.NewTraceWriter(jobDir, false)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Iteration >= index {
			break
		}
		if err := tw.Write(e); err != nil {
			tw.Close()
			return nil, err
		}
	}
	return tw, nil
}

func resumedResult(cp *store.Checkpoint, obj objective.Objective, state ascent.State, elapsed time.Duration) *runResult {
	status := ascent.StatusMaxIterations
	if state.Index < ascent.MaxIterations {
		status = ascent.StatusConverged
	}
	return &runResult{
		JobID:        cp.JobID,
		Objective:    obj.Name,
		Method:       "ascent",
		Start:        cp.Config.Start,
		Best:         state.Current.Vector.Values(),
		Value:        vector.Float(state.Current.Value),
		InitialValue: cp.InitialValue,
		Iterations:   state.Index,
		Status:       string(status),
		StepSize:     state.StepSize,
		GradNorm:     vector.Float(state.GradientNorm()),
		Elapsed:      elapsed.Seconds(),
	}
}
