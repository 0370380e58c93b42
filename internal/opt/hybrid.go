package opt

import "log/slog"

// Hybrid seeds gradient ascent with the result of a global optimizer.
type Hybrid struct {
	global   Optimizer
	stepSize float64
}

// NewHybrid combines a global optimizer with gradient-ascent refinement.
func NewHybrid(global Optimizer, stepSize float64) Optimizer {
	return &Hybrid{global: global, stepSize: stepSize}
}

// Run executes the global search, then refines its best point. The better
// of the two results is returned.
func (h *Hybrid) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	seed, seedCost := h.global.Run(eval, lower, upper, dim)
	slog.Debug("Global search complete", "seed", seed, "cost", seedCost)

	refined, cost := NewGradientAscent(seed, h.stepSize).Run(eval, lower, upper, dim)
	if cost > seedCost {
		return seed, seedCost
	}
	return refined, cost
}
