package opt

import (
	"math"

	"github.com/cwbudde/gradascent/internal/vector"
)

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// Maximize runs a minimizing Optimizer on -f and returns the maximizer of f
// together with its value.
func Maximize(o Optimizer, f vector.Objective, b *Bounds) (vector.Vector, float64) {
	eval := func(x []float64) float64 {
		return -f(vector.New(x...))
	}
	best, cost := o.Run(eval, b.Lower, b.Upper, b.Dim())
	return vector.New(best...), -cost
}

// Bounds defines a box in parameter space
type Bounds struct {
	Lower []float64
	Upper []float64
}

// NewBounds creates a box [lo, hi]^dim
func NewBounds(dim int, lo, hi float64) *Bounds {
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = lo
		upper[i] = hi
	}
	return &Bounds{Lower: lower, Upper: upper}
}

// Dim returns the dimension of the box
func (b *Bounds) Dim() int {
	return len(b.Lower)
}

// Center returns the midpoint of the box
func (b *Bounds) Center() []float64 {
	mid := make([]float64, len(b.Lower))
	for i := range mid {
		mid[i] = (b.Lower[i] + b.Upper[i]) / 2
	}
	return mid
}

// Clamp returns a copy of x with every component clamped into the box
func (b *Bounds) Clamp(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = clamp(x[i], b.Lower[i], b.Upper[i])
	}
	return out
}

// Contains reports whether x lies inside the box
func (b *Bounds) Contains(x []float64) bool {
	for i := range x {
		if x[i] < b.Lower[i] || x[i] > b.Upper[i] {
			return false
		}
	}
	return true
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
