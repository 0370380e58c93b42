package objective

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/gradascent/internal/vector"
)

// ErrDimension is returned when a vector does not match an objective's
// dimension.
var ErrDimension = errors.New("dimension mismatch")

// ErrUnknown is returned by Lookup for names that are not registered.
var ErrUnknown = errors.New("unknown objective")

// Objective is a named test function together with its defaults.
type Objective struct {
	Name        string
	Description string
	Dim         int
	Func        vector.Objective

	// Start and StepSize are used when the caller gives none.
	Start    []float64
	StepSize float64

	// Lower and Upper bound the search box used by global search and
	// heatmaps. The same bound applies to every axis.
	Lower, Upper float64

	// Maximum is the analytic maximizer, if known.
	Maximum []float64
}

// StartVector returns the default start point as a vector.
func (o Objective) StartVector() vector.Vector {
	return vector.New(o.Start...)
}

// Check verifies that x has the objective's dimension.
func (o Objective) Check(x vector.Vector) error {
	if x.Dim() != o.Dim {
		return fmt.Errorf("%w: %s expects %d components, got %d", ErrDimension, o.Name, o.Dim, x.Dim())
	}
	return nil
}

var registry = map[string]Objective{}

// aliases keep the short names f and g working.
var aliases = map[string]string{
	"f": "sincos",
	"g": "quadratic",
}

func register(o Objective) {
	registry[o.Name] = o
}

func init() {
	register(Objective{
		Name:        "sincos",
		Description: "sin(x*y) + sin(x) + cos(y)",
		Dim:         2,
		Func: func(x vector.Vector) float64 {
			return math.Sin(x.At(0)*x.At(1)) + math.Sin(x.At(0)) + math.Cos(x.At(1))
		},
		Start:    []float64{0.2, -2.1},
		StepSize: 1.0,
		Lower:    -3,
		Upper:    3,
	})

	register(Objective{
		Name:        "quadratic",
		Description: "-(2x1^2 - 2x1x2 + x2^2 + x3^2 - 2x1 - 4x3)",
		Dim:         3,
		Func: func(x vector.Vector) float64 {
			x1, x2, x3 := x.At(0), x.At(1), x.At(2)
			return -(2*x1*x1 - 2*x1*x2 + x2*x2 + x3*x3 - 2*x1 - 4*x3)
		},
		Start:    []float64{0, 0, 0},
		StepSize: 0.1,
		Lower:    -5,
		Upper:    5,
		Maximum:  []float64{1, 1, 2},
	})

	register(Objective{
		Name:        "paraboloid",
		Description: "-(x^2 + y^2)",
		Dim:         2,
		Func: func(x vector.Vector) float64 {
			return -(x.At(0)*x.At(0) + x.At(1)*x.At(1))
		},
		Start:    []float64{1, 2},
		StepSize: 0.25,
		Lower:    -3,
		Upper:    3,
		Maximum:  []float64{0, 0},
	})

	register(Objective{
		Name:        "rosenbrock",
		Description: "-((1-x)^2 + 100(y-x^2)^2)",
		Dim:         2,
		Func: func(x vector.Vector) float64 {
			a := 1 - x.At(0)
			b := x.At(1) - x.At(0)*x.At(0)
			return -(a*a + 100*b*b)
		},
		Start:    []float64{-1.2, 1},
		StepSize: 0.001,
		Lower:    -2,
		Upper:    2,
		Maximum:  []float64{1, 1},
	})
}

// Lookup returns the objective registered under name or one of its aliases.
func Lookup(name string) (Objective, error) {
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	o, ok := registry[name]
	if !ok {
		return Objective{}, fmt.Errorf("%w: %s (available: %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}
	return o, nil
}

// Names returns the registered objective names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered objectives sorted by name.
func All() []Objective {
	names := Names()
	out := make([]Objective, len(names))
	for i, name := range names {
		out[i] = registry[name]
	}
	return out
}

// ParseVector parses a comma-separated list such as "0.2,-2.1".
func ParseVector(s string) (vector.Vector, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	if s == "" {
		return vector.Vector{}, fmt.Errorf("empty vector")
	}

	parts := strings.Split(s, ",")
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return vector.Vector{}, fmt.Errorf("invalid component %d %q: %w", i, p, err)
		}
		values[i] = v
	}
	return vector.New(values...), nil
}
