package chain

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// klFloor keeps log terms finite when a distribution has empty cells.
const klFloor = 1e-12

// TotalVariation returns ½‖p−q‖₁.
func TotalVariation(p, q []float64) float64 {
	return 0.5 * floats.Distance(p, q, 1)
}

// KLDivergence returns D(p‖q) with both arguments clipped to [1e-12, 1].
func KLDivergence(p, q []float64) float64 {
	return stat.KullbackLeibler(clip(p), clip(q))
}

func clip(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		switch {
		case v < klFloor:
			out[i] = klFloor
		case v > 1:
			out[i] = 1
		default:
			out[i] = v
		}
	}
	return out
}
