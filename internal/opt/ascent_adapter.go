package opt

import (
	"log/slog"

	"github.com/cwbudde/gradascent/internal/ascent"
	"github.com/cwbudde/gradascent/internal/vector"
)

// AscentAdapter runs the adaptive-step gradient ascent behind the
// Optimizer interface. Since Optimizer minimizes, it ascends on -eval.
type AscentAdapter struct {
	start    []float64
	stepSize float64
	observer ascent.Observer
}

// NewGradientAscent creates an adapter that starts at start, or at the
// center of the box when start is nil.
func NewGradientAscent(start []float64, stepSize float64) *AscentAdapter {
	return &AscentAdapter{start: start, stepSize: stepSize}
}

// WithObserver sets an observer that receives every iteration state.
// The states describe -eval, the maximized function.
func (a *AscentAdapter) WithObserver(o ascent.Observer) *AscentAdapter {
	a.observer = o
	return a
}

// Run executes gradient ascent on -eval. The result is clamped into the
// box; the ascent itself is unconstrained.
func (a *AscentAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	box := &Bounds{Lower: lower, Upper: upper}

	start := a.start
	if start == nil {
		start = box.Center()
	}

	f := func(x vector.Vector) float64 {
		return -eval(x.Values())
	}

	res, err := ascent.Run(vector.New(start...), f, ascent.Config{
		StepSize: a.stepSize,
		Observer: a.observer,
	})
	if err != nil {
		slog.Error("Gradient ascent failed, returning start point", "error", err)
		return start, eval(start)
	}

	best := res.Best.Values()
	if !box.Contains(best) {
		slog.Debug("Ascent left the search box, clamping", "best", res.Best)
		best = box.Clamp(best)
	}
	return best, eval(best)
}
