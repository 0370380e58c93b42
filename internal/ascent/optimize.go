package ascent

import (
	"log/slog"

	"github.com/cwbudde/gradascent/internal/vector"
)

// Observer receives every iteration state before its termination check.
type Observer func(State)

// Status tells why a run stopped.
type Status string

const (
	// StatusConverged means the gradient norm fell below GradLimit.
	StatusConverged Status = "converged"
	// StatusMaxIterations means the iteration cap was reached.
	StatusMaxIterations Status = "max_iterations"
)

// Config holds the settings of one run.
type Config struct {
	// StepSize is the initial step size. Must be positive.
	StepSize float64

	// Observer, if set, is called with each state. Used for console
	// dumps, traces and progress streaming.
	Observer Observer
}

// DefaultConfig returns a config with step size 1.0 and no observer.
func DefaultConfig() Config {
	return Config{StepSize: 1.0}
}

// Result is the outcome of a run.
type Result struct {
	Best       vector.Vector
	Value      float64
	Final      State
	Iterations int
	Status     Status
}

// Optimize maximizes f starting at start and returns the best point found.
func Optimize(start vector.Vector, f vector.Objective, stepSize float64) (vector.Vector, error) {
	res, err := Run(start, f, Config{StepSize: stepSize})
	if err != nil {
		return vector.Vector{}, err
	}
	return res.Best, nil
}

// Run maximizes f starting at start.
//
// The loop stops when a state reports Done or after MaxIterations
// transitions. Reaching the cap is a normal termination.
func Run(start vector.Vector, f vector.Objective, cfg Config) (*Result, error) {
	state, err := AtPoint(start, f, cfg.StepSize, 0)
	if err != nil {
		return nil, err
	}
	return Continue(state, cfg.Observer), nil
}

// Continue runs the loop from an existing state, for example one rebuilt
// from a checkpoint. The state's own step size and index are used.
func Continue(state State, observer Observer) *Result {
	warned := false
	for state.Index < MaxIterations {
		if observer != nil {
			observer(state)
		}
		if !warned && !state.Finite() {
			slog.Warn("Objective returned non-finite value, shrinking step",
				"iteration", state.Index,
				"current", state.Current.Value,
				"next", state.Next.Value,
				"test", state.Test.Value,
			)
			warned = true
		}
		if state.Done() {
			return newResult(state, StatusConverged)
		}
		slog.Debug("Ascent step",
			"iteration", state.Index,
			"value", state.Current.Value,
			"step_size", state.StepSize,
			"grad_norm", state.GradientNorm(),
			"rule", state.Rule(),
		)
		state = Next(state)
	}

	return newResult(state, StatusMaxIterations)
}

func newResult(state State, status Status) *Result {
	return &Result{
		Best:       state.Current.Vector,
		Value:      state.Current.Value,
		Final:      state,
		Iterations: state.Index,
		Status:     status,
	}
}
