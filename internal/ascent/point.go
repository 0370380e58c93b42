package ascent

import (
	"encoding/json"
	"fmt"

	"github.com/cwbudde/gradascent/internal/vector"
)

// Point is a location together with the objective value there.
type Point struct {
	Vector vector.Vector `json:"vector"`
	Value  float64       `json:"value"`
}

type pointJSON struct {
	Vector vector.Vector `json:"vector"`
	Value  vector.Float  `json:"value"`
}

// NewPoint evaluates f at x.
func NewPoint(x vector.Vector, f vector.Objective) Point {
	return Point{Vector: x, Value: f(x)}
}

func (p Point) String() string {
	return fmt.Sprintf("Point{vector: %s, value: %g}", p.Vector, p.Value)
}

// MarshalJSON writes a non-finite value as a string, see vector.Float.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{Vector: p.Vector, Value: vector.Float(p.Value)})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var pj pointJSON
	if err := json.Unmarshal(b, &pj); err != nil {
		return err
	}
	*p = Point{Vector: pj.Vector, Value: float64(pj.Value)}
	return nil
}
