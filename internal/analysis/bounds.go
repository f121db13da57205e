package analysis

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
)

// ExpectedRevealGap is E_π[TV(T(θ,·), π)] for the two-state chain in closed
// form: 2αβ|1−α−β| / (α+β)². It is zero exactly when the chain is i.i.d.
func ExpectedRevealGap(alpha, beta float64) (float64, error) {
	if alpha < 0 || alpha > 1 || beta < 0 || beta > 1 {
		return 0, fmt.Errorf("alpha=%g beta=%g: %w", alpha, beta, fault.ErrInvalidParameter)
	}
	s := alpha + beta
	if s <= 0 {
		return 0, fmt.Errorf("alpha+beta=0: %w", fault.ErrDegenerateChain)
	}
	return 2 * alpha * beta * math.Abs(1-s) / (s * s), nil
}

// RevealGap is the same expectation for any chain: once θ is revealed the
// next-period prior is T(θ,·), and the gap is its TV distance from π,
// averaged over θ ~ π.
func RevealGap(c *chain.Chain) float64 {
	pi := c.Stationary()
	var gap float64
	for s, p := range pi {
		gap += p * chain.TotalVariation(c.Row(s), pi)
	}
	return gap
}

// DistinguishingBound is T̄ = −2 ln μ₀ / η², the bound on the expected
// number of periods in which the short-run players' one-step signal
// forecasts under commitment and under the normal type differ by more
// than η in total variation.
func DistinguishingBound(mu0, eta float64) (float64, error) {
	if !(mu0 > 0 && mu0 <= 1) {
		return 0, fmt.Errorf("prior mass %g outside (0,1]: %w", mu0, fault.ErrInvalidParameter)
	}
	if !(eta > 0) {
		return 0, fmt.Errorf("eta %g must be positive: %w", eta, fault.ErrInvalidParameter)
	}
	return -2 * math.Log(mu0) / (eta * eta), nil
}

// CountDistinguishing counts periods with tv strictly above eta.
func CountDistinguishing(tv []float64, eta float64) int {
	n := 0
	for _, v := range tv {
		if v > eta {
			n++
		}
	}
	return n
}
