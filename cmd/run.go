package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cwbudde/gradascent/internal/ascent"
	"github.com/cwbudde/gradascent/internal/objective"
	"github.com/cwbudde/gradascent/internal/opt"
	"github.com/cwbudde/gradascent/internal/plot"
	"github.com/cwbudde/gradascent/internal/store"
	"github.com/cwbudde/gradascent/internal/vector"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	objectiveName string
	startFlag     string
	stepSize      float64
	method        string
	quiet         bool
	showProgress  bool
	jsonOutput    bool
	heatmapPath   string
	runDataDir    string
	jobID         string
	globalIters   int
	popSize       int
	seed          int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one optimization",
	Long: `Maximizes a registered objective from a start point. Every iteration is
printed unless --quiet is given. With --job-id the iterations are written
to <data-dir>/jobs/<id>/trace.jsonl and a checkpoint is saved, so the run
can be inspected and resumed later.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&objectiveName, "objective", "sincos", "Objective to maximize (see 'objectives')")
	runCmd.Flags().StringVar(&startFlag, "start", "", "Start point, e.g. 0.2,-2.1 (default: objective's start)")
	runCmd.Flags().Float64Var(&stepSize, "step", 0, "Initial step size (default: objective's step size)")
	runCmd.Flags().StringVar(&method, "method", "ascent", "Method: ascent, mayfly, hybrid")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the iterations")
	runCmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress bar on stderr")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	runCmd.Flags().StringVar(&heatmapPath, "heatmap", "", "Write a heatmap PNG with the path (2-D objectives)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "./data", "Base directory for traces and checkpoints")
	runCmd.Flags().StringVar(&jobID, "job-id", "", "Persist trace and checkpoint under this ID ('auto' generates one)")
	runCmd.Flags().IntVar(&globalIters, "iters", 100, "Mayfly iterations (mayfly, hybrid)")
	runCmd.Flags().IntVar(&popSize, "pop", 30, "Mayfly population size (mayfly, hybrid)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed (mayfly, hybrid)")

	rootCmd.AddCommand(runCmd)
}

// runResult is what run and resume print.
type runResult struct {
	JobID        string        `json:"jobId,omitempty"`
	Objective    string        `json:"objective"`
	Method       string        `json:"method"`
	Start        vector.Floats `json:"start"`
	Best         vector.Floats `json:"best"`
	Value        vector.Float  `json:"value"`
	InitialValue vector.Float  `json:"initialValue"`
	Iterations   int           `json:"iterations"`
	Status       string        `json:"status,omitempty"`
	StepSize     float64       `json:"stepSize,omitempty"`
	GradNorm     vector.Float  `json:"gradNorm,omitempty"`
	Elapsed      float64       `json:"elapsed"`
}

// resolveRun looks up the objective and fills start and step size from
// its defaults.
func resolveRun(name, start string, step float64) (objective.Objective, vector.Vector, float64, error) {
	obj, err := objective.Lookup(name)
	if err != nil {
		return objective.Objective{}, vector.Vector{}, 0, err
	}

	x := obj.StartVector()
	if start != "" {
		x, err = objective.ParseVector(start)
		if err != nil {
			return objective.Objective{}, vector.Vector{}, 0, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if err := obj.Check(x); err != nil {
		return objective.Objective{}, vector.Vector{}, 0, err
	}

	if step == 0 {
		step = obj.StepSize
	}
	return obj, x, step, nil
}

func runOptimization(cmd *cobra.Command, args []string) error {
	obj, start, step, err := resolveRun(objectiveName, startFlag, stepSize)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	slog.Info("Starting optimization", "objective", obj.Name, "method", method, "start", start, "step_size", step)

	var res *runResult
	var path []vector.Vector

	switch method {
	case "ascent":
		res, path, err = runAscent(out, obj, start, step)
	case "mayfly", "hybrid":
		if jobID != "" {
			return fmt.Errorf("--job-id requires --method ascent")
		}
		res, path = runGlobal(obj, start, step)
	default:
		return fmt.Errorf("unknown method: %s", method)
	}
	if err != nil {
		return err
	}

	if heatmapPath != "" {
		if err := writeHeatmap(heatmapPath, obj, path); err != nil {
			return err
		}
		slog.Info("Heatmap written", "path", heatmapPath)
	}

	return printResult(out, res, jsonOutput)
}

// runAscent runs gradient ascent, printing and persisting every state.
func runAscent(out io.Writer, obj objective.Objective, start vector.Vector, step float64) (*runResult, []vector.Vector, error) {
	var (
		observers []ascent.Observer
		path      []vector.Vector
		trace     *store.TraceWriter
		st        *store.FSStore
		id        = jobID
	)

	observers = append(observers, func(s ascent.State) {
		path = append(path, s.Current.Vector)
	})
	if !quiet && !jsonOutput {
		observers = append(observers, dumpState(out))
	}
	if showProgress {
		bar := newProgressBar(os.Stderr)
		defer bar.Finish()
		observers = append(observers, func(s ascent.State) {
			bar.Set(s.Index + 1)
		})
	}

	config := store.JobConfig{Objective: obj.Name, Start: start.Values(), StepSize: step}
	if id != "" {
		if id == "auto" {
			id = uuid.New().String()
		}
		var err error
		st, err = store.NewFSStore(runDataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		if err := checkReusedJob(st, id, config); err != nil {
			return nil, nil, err
		}
		trace, err = store.NewTraceWriter(st.JobDir(id), false)
		if err != nil {
			return nil, nil, err
		}
		defer trace.Close()
		observers = append(observers, trace.Observe)
	}

	begin := time.Now()
	res, err := ascent.Run(start, obj.Func, ascent.Config{
		StepSize: step,
		Observer: chain(observers...),
	})
	if err != nil {
		return nil, nil, err
	}
	elapsed := time.Since(begin)

	initial := obj.Func(start)
	if st != nil {
		if err := st.SaveCheckpoint(id, store.NewCheckpoint(id, res.Final, initial, config)); err != nil {
			return nil, nil, err
		}
		slog.Info("Checkpoint saved", "job_id", id, "dir", st.JobDir(id))
	}

	return &runResult{
		JobID:        id,
		Objective:    obj.Name,
		Method:       "ascent",
		Start:        start.Values(),
		Best:         res.Best.Values(),
		Value:        vector.Float(res.Value),
		InitialValue: vector.Float(initial),
		Iterations:   res.Iterations,
		Status:       string(res.Status),
		StepSize:     res.Final.StepSize,
		GradNorm:     vector.Float(res.Final.GradientNorm()),
		Elapsed:      elapsed.Seconds(),
	}, path, nil
}

// checkReusedJob refuses to overwrite a job that holds a run of another
// objective or dimension. Rerunning the same objective replaces the job.
func checkReusedJob(st *store.FSStore, id string, config store.JobConfig) error {
	prev, err := st.LoadCheckpoint(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("job %s exists but cannot be read: %w", id, err)
	}
	if err := prev.IsCompatible(config); err != nil {
		return fmt.Errorf("job %s holds a different run: %w", id, err)
	}
	return nil
}

// runGlobal searches the objective's box with Mayfly, optionally refined
// by gradient ascent.
func runGlobal(obj objective.Objective, start vector.Vector, step float64) (*runResult, []vector.Vector) {
	var o opt.Optimizer = opt.NewMayfly(globalIters, popSize, seed)
	if method == "hybrid" {
		o = opt.NewHybrid(o, step)
	}

	begin := time.Now()
	best, value := opt.Maximize(o, obj.Func, opt.NewBounds(obj.Dim, obj.Lower, obj.Upper))
	elapsed := time.Since(begin)

	return &runResult{
		Objective:    obj.Name,
		Method:       method,
		Start:        start.Values(),
		Best:         best.Values(),
		Value:        vector.Float(value),
		InitialValue: vector.Float(obj.Func(start)),
		Iterations:   globalIters,
		Elapsed:      elapsed.Seconds(),
	}, []vector.Vector{best}
}

// chain calls every observer in order.
func chain(observers ...ascent.Observer) ascent.Observer {
	return func(s ascent.State) {
		for _, o := range observers {
			o(s)
		}
	}
}

// dumpState prints each state as a block followed by a blank line.
func dumpState(w io.Writer) ascent.Observer {
	return func(s ascent.State) {
		fmt.Fprintln(w, s)
		fmt.Fprintln(w)
	}
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(ascent.MaxIterations,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Ascending[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func writeHeatmap(path string, obj objective.Objective, trail []vector.Vector) error {
	if obj.Dim != 2 {
		return fmt.Errorf("--heatmap requires a 2-D objective, %s has %d dimensions", obj.Name, obj.Dim)
	}

	mid := (obj.Lower + obj.Upper) / 2
	h, err := plot.NewHeatmap(obj.Func, vector.New(mid, mid), 128, obj.Upper-obj.Lower)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heatmap: %w", err)
	}
	defer f.Close()

	if err := h.WritePNG(f, trail, 3); err != nil {
		return fmt.Errorf("failed to encode heatmap: %w", err)
	}
	return nil
}

func printResult(w io.Writer, res *runResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "Objective:  %s (%s)\n", res.Objective, res.Method)
	fmt.Fprintf(w, "Start:      %s\n", vector.New(res.Start...))
	fmt.Fprintf(w, "Best:       %s\n", vector.New(res.Best...))
	fmt.Fprintf(w, "Value:      %.6g -> %.6g\n", res.InitialValue, res.Value)
	if res.Status != "" {
		fmt.Fprintf(w, "Iterations: %d (%s)\n", res.Iterations, res.Status)
		fmt.Fprintf(w, "Step size:  %g\n", res.StepSize)
		fmt.Fprintf(w, "||grad||:   %.3g\n", res.GradNorm)
	}
	if res.JobID != "" {
		fmt.Fprintf(w, "Job:        %s\n", res.JobID)
	}
	return nil
}
