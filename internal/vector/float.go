package vector

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Float is a float64 that survives a JSON round trip when it is not
// finite. encoding/json rejects NaN and ±Inf, but an objective may
// return them and a run keeps going, so they are written as the strings
// "NaN", "+Inf" and "-Inf".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	x := float64(f)
	switch {
	case math.IsNaN(x):
		return []byte(`"NaN"`), nil
	case math.IsInf(x, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(x, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(x)
}

// UnmarshalJSON accepts a number or one of the strings written by
// MarshalJSON. null leaves f unchanged.
func (f *Float) UnmarshalJSON(b []byte) error {
	s := string(b)
	switch s {
	case "null":
		return nil
	case `"NaN"`:
		*f = Float(math.NaN())
		return nil
	case `"+Inf"`, `"Inf"`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = Float(math.Inf(-1))
		return nil
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid float %s", s)
	}
	*f = Float(x)
	return nil
}

// Floats is a []float64 encoded element by element as Float.
type Floats []float64

func (fs Floats) MarshalJSON() ([]byte, error) {
	if fs == nil {
		return []byte("null"), nil
	}
	out := make([]Float, len(fs))
	for i, x := range fs {
		out[i] = Float(x)
	}
	return json.Marshal(out)
}

func (fs *Floats) UnmarshalJSON(b []byte) error {
	var in []Float
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in == nil {
		*fs = nil
		return nil
	}
	out := make(Floats, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	*fs = out
	return nil
}
