package vector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Vector is a fixed-dimension real vector.
//
// The dimension is set at construction and never changes. Values are
// immutable: every operation returns a new Vector and accessors hand out
// copies, so a Vector can be shared between iteration snapshots safely.
//
// Operations on two vectors of different dimension panic before any
// arithmetic happens, following the contract of gonum's floats package.
// Callers taking vectors from outside the program validate the dimension
// first.
type Vector struct {
	data []float64
}

// New creates a vector from literal component values.
func New(values ...float64) Vector {
	data := make([]float64, len(values))
	copy(data, values)
	return Vector{data: data}
}

// Zero returns the zero vector of dimension n.
func Zero(n int) Vector {
	return Vector{data: make([]float64, n)}
}

// Dim returns the dimension of the vector.
func (v Vector) Dim() int {
	return len(v.data)
}

// At returns component i.
func (v Vector) At(i int) float64 {
	return v.data[i]
}

// Values returns a copy of the components.
func (v Vector) Values() []float64 {
	out := make([]float64, len(v.data))
	copy(out, v.data)
	return out
}

// With returns a copy of v with component i replaced by x.
func (v Vector) With(i int, x float64) Vector {
	out := v.Values()
	out[i] = x
	return Vector{data: out}
}

// Add returns the elementwise sum v + w.
func (v Vector) Add(w Vector) Vector {
	return Add(v, w)
}

// Scale returns lambda * v.
func (v Vector) Scale(lambda float64) Vector {
	return Scale(lambda, v)
}

// Norm returns the Euclidean norm of v.
func (v Vector) Norm() float64 {
	return floats.Norm(v.data, 2)
}

// Gradient returns the forward-difference gradient of f at v.
func (v Vector) Gradient(f Objective) Vector {
	return Gradient(f, v)
}

// Equal reports whether v and w have the same dimension and components.
func (v Vector) Equal(w Vector) bool {
	return len(v.data) == len(w.data) && floats.Equal(v.data, w.data)
}

// Add returns the elementwise sum a + b.
func Add(a, b Vector) Vector {
	mustMatch(a, b)
	out := make([]float64, len(a.data))
	floats.AddTo(out, a.data, b.data)
	return Vector{data: out}
}

// Scale returns the scalar product lambda * a.
func Scale(lambda float64, a Vector) Vector {
	out := make([]float64, len(a.data))
	floats.ScaleTo(out, lambda, a.data)
	return Vector{data: out}
}

// Norm returns the Euclidean norm of a.
func Norm(a Vector) float64 {
	return a.Norm()
}

func mustMatch(a, b Vector) {
	if len(a.data) != len(b.data) {
		panic(fmt.Sprintf("vector: dimension mismatch (%d != %d)", len(a.data), len(b.data)))
	}
}

// String formats the vector as "(x0, x1, ...)".
func (v Vector) String() string {
	parts := make([]string, len(v.data))
	for i, x := range v.data {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// MarshalJSON encodes the vector as a JSON array. Non-finite components
// are written as strings, see Float.
func (v Vector) MarshalJSON() ([]byte, error) {
	data := v.data
	if data == nil {
		data = []float64{}
	}
	return json.Marshal(Floats(data))
}

// UnmarshalJSON decodes a JSON array written by MarshalJSON.
func (v *Vector) UnmarshalJSON(b []byte) error {
	var data Floats
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("failed to decode vector: %w", err)
	}
	v.data = data
	return nil
}
