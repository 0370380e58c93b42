package ascent

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/gradascent/internal/vector"
)

const (
	// MaxIterations caps the number of iterations of one run.
	MaxIterations = 25

	// GradLimit is the gradient norm below which a point counts as
	// stationary.
	GradLimit = 1.0e-5
)

var (
	// ErrInvalidStepSize is returned for step sizes that are not strictly
	// positive and finite.
	ErrInvalidStepSize = errors.New("step size must be positive and finite")

	// ErrNilObjective is returned when no objective function is given.
	ErrNilObjective = errors.New("objective function is required")
)

// Rule identifies which transition rule a state selects for its successor.
type Rule string

const (
	// RuleDouble moves to the test point and doubles the step size.
	RuleDouble Rule = "double"
	// RuleKeep moves to the next point with the same step size.
	RuleKeep Rule = "keep"
	// RuleHalve stays at the current point and halves the step size.
	RuleHalve Rule = "halve"
)

// State is one iteration of gradient ascent.
//
// A State is a value: Next returns a new State and never modifies its
// argument, so snapshots can be kept, replayed and compared freely.
//
// Invariants:
//
//	Next.Vector = Current.Vector + StepSize*Gradient
//	Test.Vector = Current.Vector + 2*StepSize*Gradient
//	Gradient    = gradient of the objective at Current.Vector
type State struct {
	Index    int           `json:"index"`
	StepSize float64       `json:"stepSize"`
	Current  Point         `json:"current"`
	Gradient vector.Vector `json:"gradient"`
	Next     Point         `json:"next"`
	Test     Point         `json:"test"`

	f vector.Objective
}

// AtPoint builds the iteration state at x with the given step size and
// index.
func AtPoint(x vector.Vector, f vector.Objective, stepSize float64, index int) (State, error) {
	if f == nil {
		return State{}, ErrNilObjective
	}
	if !(stepSize > 0) || math.IsInf(stepSize, 1) {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidStepSize, stepSize)
	}
	return atPoint(x, f, stepSize, index), nil
}

func atPoint(x vector.Vector, f vector.Objective, stepSize float64, index int) State {
	current := NewPoint(x, f)
	grad := vector.GradientAt(f, x, current.Value)

	return State{
		Index:    index,
		StepSize: stepSize,
		Current:  current,
		Gradient: grad,
		Next:     NewPoint(x.Add(grad.Scale(stepSize)), f),
		Test:     NewPoint(x.Add(grad.Scale(2*stepSize)), f),
		f:        f,
	}
}

// Next computes the iteration following prev.
//
// The step size doubles when the test point beats the next point, stays
// when only the next point improves, and halves (staying put) when
// neither improves.
func Next(prev State) State {
	var (
		start    vector.Vector
		stepSize float64
	)
	switch prev.Rule() {
	case RuleDouble:
		start, stepSize = prev.Test.Vector, prev.StepSize*2
	case RuleKeep:
		start, stepSize = prev.Next.Vector, prev.StepSize
	default:
		start, stepSize = prev.Current.Vector, prev.StepSize/2
	}
	return atPoint(start, prev.f, stepSize, prev.Index+1)
}

// Advance is shorthand for Next(s).
func (s State) Advance() State {
	return Next(s)
}

// UseNext reports whether the next point improves on the current one.
func (s State) UseNext() bool {
	return s.Next.Value > s.Current.Value
}

// UseTest reports whether the test point improves on the next point,
// which itself improves on the current one.
func (s State) UseTest() bool {
	return s.UseNext() && s.Test.Value > s.Next.Value
}

// Rule returns the transition rule Next will apply to s.
func (s State) Rule() Rule {
	switch {
	case s.UseTest():
		return RuleDouble
	case s.UseNext():
		return RuleKeep
	default:
		return RuleHalve
	}
}

// Done reports whether the iteration cap is reached or the gradient is
// below GradLimit.
func (s State) Done() bool {
	return s.Index >= MaxIterations || s.GradientNorm() < GradLimit
}

// GradientNorm returns the Euclidean norm of the gradient.
func (s State) GradientNorm() float64 {
	return s.Gradient.Norm()
}

// Finite reports whether all three candidate values are finite. With
// non-finite values the comparisons fall through to RuleHalve.
func (s State) Finite() bool {
	for _, v := range []float64{s.Current.Value, s.Next.Value, s.Test.Value} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String renders the state as a multi-line console block.
func (s State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d\n", s.Index)
	fmt.Fprintf(&b, "\tx             %s\n", s.Current)
	fmt.Fprintf(&b, "\tlambda        %g\n", s.StepSize)
	fmt.Fprintf(&b, "\tgrad f(x)     %s\n", s.Gradient)
	fmt.Fprintf(&b, "\t||grad f(x)|| %g\n", s.GradientNorm())
	fmt.Fprintf(&b, "\tx_neu         %s\n", s.Next)
	fmt.Fprintf(&b, "\tx_test        %s\n", s.Test)
	return b.String()
}
