package filter

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gonum.org/v1/gonum/floats"
)

// #region constants
const (
	// zeroMass is the unnormalised posterior mass treated as an impossible signal.
	zeroMass = 1e-300

	// priorTolerance bounds how far a supplied prior may sum away from 1.
	priorTolerance = 1e-9
)

// #endregion constants

// #region outcome
// Outcome is the result of one Bayes correction.
type Outcome struct {
	Belief []float64
	// Reset is true when the signal had zero probability under every state in
	// the current support and the belief fell back to π.
	Reset bool
}

// #endregion outcome

// #region posterior
// Posterior is the pure Bayes step: predicted ⊙ likelihood, normalised.
// When the unnormalised mass vanishes it returns a copy of fallback and
// reset=true; this is a defined branch, not an error.
func Posterior(predicted, likelihood, fallback []float64) (posterior []float64, reset bool) {
	post := make([]float64, len(predicted))
	floats.MulTo(post, predicted, likelihood)
	total := floats.Sum(post)
	if !(total > zeroMass) {
		return append([]float64(nil), fallback...), true
	}
	floats.Scale(1/total, post)
	return post, false
}

// #endregion posterior

// #region filter
// Filter runs the forward (predict–update) recursion for one chain and one
// trajectory. It is not safe for concurrent use; each trial owns its filter.
type Filter struct {
	chain  *chain.Chain
	pi     []float64
	belief []float64
	resets int
}

// New creates a filter with belief b₀ = prior, or π when prior is nil.
func New(c *chain.Chain, prior []float64) (*Filter, error) {
	f := &Filter{chain: c, pi: c.Stationary()}
	if err := f.Reset(prior); err != nil {
		return nil, err
	}
	return f, nil
}

// Reset restores the belief to prior (π when nil) and clears the reset count.
func (f *Filter) Reset(prior []float64) error {
	if prior == nil {
		f.belief = append([]float64(nil), f.pi...)
		f.resets = 0
		return nil
	}
	if err := ValidateBelief(prior, f.chain.N()); err != nil {
		return fmt.Errorf("prior: %w", err)
	}
	f.belief = append([]float64(nil), prior...)
	f.resets = 0
	return nil
}

// Belief returns a copy of the current belief.
func (f *Filter) Belief() []float64 {
	return append([]float64(nil), f.belief...)
}

// Resets counts zero-likelihood fallbacks since the last Reset.
func (f *Filter) Resets() int { return f.resets }

// Predict applies b ← Tᵀb and returns a copy of the predicted belief.
func (f *Filter) Predict() []float64 {
	f.belief = normalize(f.chain.Propagate(f.belief))
	return f.Belief()
}

// Correct applies Bayes' rule for signal under model to the current belief.
func (f *Filter) Correct(signal int, model *SignalModel) (Outcome, error) {
	if model.States() != f.chain.N() {
		return Outcome{}, fmt.Errorf("signal model has %d states, chain has %d: %w", model.States(), f.chain.N(), fault.ErrInvalidParameter)
	}
	if signal < 0 || signal >= model.Signals() {
		return Outcome{}, fmt.Errorf("signal %d outside [0,%d): %w", signal, model.Signals(), fault.ErrInvalidParameter)
	}
	post, reset := Posterior(f.belief, model.Likelihood(signal), f.pi)
	if reset {
		f.resets++
	}
	f.belief = post
	return Outcome{Belief: f.Belief(), Reset: reset}, nil
}

// Step runs one full period: Predict, then Correct.
func (f *Filter) Step(signal int, model *SignalModel) (Outcome, error) {
	f.Predict()
	return f.Correct(signal, model)
}

// #endregion filter

// #region helpers
// ValidateBelief checks that b is a length-n probability vector.
func ValidateBelief(b []float64, n int) error {
	if len(b) != n {
		return fmt.Errorf("belief has %d entries, want %d: %w", len(b), n, fault.ErrInvalidParameter)
	}
	var sum float64
	for i, p := range b {
		if math.IsNaN(p) || p < 0 {
			return fmt.Errorf("belief[%d]=%g: %w", i, p, fault.ErrInvalidParameter)
		}
		sum += p
	}
	if math.Abs(sum-1) > priorTolerance {
		return fmt.Errorf("belief sums to %.12g: %w", sum, fault.ErrInvalidParameter)
	}
	return nil
}

// normalize clips round-off negatives and rescales to unit mass.
func normalize(b []float64) []float64 {
	for i, p := range b {
		if p < 0 {
			b[i] = 0
		}
	}
	if s := floats.Sum(b); s > 0 {
		floats.Scale(1/s, b)
	}
	return b
}

// #endregion helpers
