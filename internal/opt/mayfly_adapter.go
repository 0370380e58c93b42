package opt

import (
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the Mayfly swarm optimizer. It searches the whole
// box and is used to find a start point for gradient ascent when the
// objective has several local maxima.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	config := mayfly.NewDefaultConfig()

	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize

	// The library takes scalar bounds; use the enclosing interval and
	// clamp the result back into the box.
	box := &Bounds{Lower: lower, Upper: upper}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < dim; i++ {
		lo = math.Min(lo, lower[i])
		hi = math.Max(hi, upper[i])
	}
	config.LowerBound = lo
	config.UpperBound = hi

	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Error("Mayfly optimization failed, falling back to box center", "error", err)
		center := box.Center()
		return center, eval(center)
	}

	best := box.Clamp(result.GlobalBest.Position)
	return best, eval(best)
}
