package vector

import "gonum.org/v1/gonum/diff/fd"

// H is the offset used for the forward-difference gradient.
//
// Larger values bias the estimate, smaller ones lose precision to
// floating-point cancellation. It is fixed on purpose.
const H = 1.0e-7

// Objective maps a vector to a scalar. It must be pure and deterministic:
// the optimizer compares values from separate calls.
type Objective func(x Vector) float64

// Gradient estimates the gradient of f at x with forward differences.
// It evaluates f exactly x.Dim()+1 times.
func Gradient(f Objective, x Vector) Vector {
	return Vector{data: fd.Gradient(nil, f.sliceFunc(), x.data, forward(0, false))}
}

// GradientAt is Gradient with a known fx = f(x). It evaluates f exactly
// x.Dim() times, once per axis.
func GradientAt(f Objective, x Vector, fx float64) Vector {
	return Vector{data: fd.Gradient(nil, f.sliceFunc(), x.data, forward(fx, true))}
}

// forward computes (f(x + H*e_i) - f(x)) / H on one goroutine, so the
// objective is never called concurrently.
func forward(fx float64, known bool) *fd.Settings {
	return &fd.Settings{
		Formula:     fd.Forward,
		Step:        H,
		OriginKnown: known,
		OriginValue: fx,
	}
}

// sliceFunc adapts f to the slice signature of gonum's diff/fd. The slice is
// scratch space owned by fd, so it is copied into a fresh Vector.
func (f Objective) sliceFunc() func([]float64) float64 {
	return func(x []float64) float64 {
		return f(New(x...))
	}
}
