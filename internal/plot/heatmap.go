package plot

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/cwbudde/gradascent/internal/vector"
)

// Heatmap holds samples of a 2-D objective on a square grid.
type Heatmap struct {
	// Values[row][col]; row grows with y, col with x.
	Values     [][]float64
	Resolution int
	// Origin is the (x, y) coordinate of Values[0][0].
	Origin [2]float64
	// Tick is the grid spacing.
	Tick     float64
	Min, Max float64
}

// NewHeatmap samples f on a resolution x resolution grid of side length
// size centered at center.
func NewHeatmap(f vector.Objective, center vector.Vector, resolution int, size float64) (*Heatmap, error) {
	if center.Dim() != 2 {
		return nil, fmt.Errorf("heatmap needs a 2-D objective, got dimension %d", center.Dim())
	}
	if resolution < 2 {
		return nil, fmt.Errorf("resolution must be at least 2, got %d", resolution)
	}
	if !(size > 0) {
		return nil, fmt.Errorf("size must be positive, got %v", size)
	}

	tick := size / float64(resolution)
	h := &Heatmap{
		Values:     make([][]float64, resolution),
		Resolution: resolution,
		Origin:     [2]float64{center.At(0) - size/2, center.At(1) - size/2},
		Tick:       tick,
		Min:        math.Inf(1),
		Max:        math.Inf(-1),
	}

	for row := 0; row < resolution; row++ {
		h.Values[row] = make([]float64, resolution)
		y := h.Origin[1] + float64(row)*tick
		for col := 0; col < resolution; col++ {
			x := h.Origin[0] + float64(col)*tick
			v := f(vector.New(x, y))
			h.Values[row][col] = v
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			h.Min = math.Min(h.Min, v)
			h.Max = math.Max(h.Max, v)
		}
	}

	return h, nil
}

// Cell returns the grid cell containing p, and false if p is outside.
func (h *Heatmap) Cell(p vector.Vector) (row, col int, ok bool) {
	col = int(math.Floor((p.At(0) - h.Origin[0]) / h.Tick))
	row = int(math.Floor((p.At(1) - h.Origin[1]) / h.Tick))
	if col < 0 || col >= h.Resolution || row < 0 || row >= h.Resolution {
		return 0, 0, false
	}
	return row, col, true
}

// Render draws the heatmap with scale pixels per cell and overlays path.
// High values are bright, y grows upwards.
func (h *Heatmap) Render(path []vector.Vector, scale int) *image.NRGBA {
	if scale < 1 {
		scale = 1
	}
	n := h.Resolution * scale
	img := image.NewNRGBA(image.Rect(0, 0, n, n))

	span := h.Max - h.Min
	for row := 0; row < h.Resolution; row++ {
		for col := 0; col < h.Resolution; col++ {
			t := 0.0
			if span > 0 {
				t = (h.Values[row][col] - h.Min) / span
			}
			fill(img, row, col, scale, n, colormap(t))
		}
	}

	marker := color.NRGBA{255, 255, 255, 255}
	for i, p := range path {
		row, col, ok := h.Cell(p)
		if !ok {
			continue
		}
		c := marker
		if i == len(path)-1 {
			c = color.NRGBA{255, 0, 0, 255}
		}
		fill(img, row, col, scale, n, c)
	}

	return img
}

// WritePNG renders the heatmap and encodes it as PNG.
func (h *Heatmap) WritePNG(w io.Writer, path []vector.Vector, scale int) error {
	if err := png.Encode(w, h.Render(path, scale)); err != nil {
		return fmt.Errorf("failed to encode heatmap: %w", err)
	}
	return nil
}

func fill(img *image.NRGBA, row, col, scale, n int, c color.NRGBA) {
	for dy := 0; dy < scale; dy++ {
		// Flip so that larger y is drawn higher up
		py := n - 1 - (row*scale + dy)
		for dx := 0; dx < scale; dx++ {
			img.SetNRGBA(col*scale+dx, py, c)
		}
	}
}

// colormap maps t in [0, 1] from dark blue through green to yellow.
func colormap(t float64) color.NRGBA {
	if math.IsNaN(t) {
		return color.NRGBA{0, 0, 0, 255}
	}
	t = math.Max(0, math.Min(1, t))
	r := uint8(255 * math.Max(0, 2*t-1))
	g := uint8(255 * math.Min(1, 1.5*t))
	b := uint8(255 * math.Max(0, 1-2*t) * 0.6)
	return color.NRGBA{r, g, b + 40, 255}
}
