package filter

import (
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
)

// #region trajectory
// Trajectory is one simulated path with its signals and filtered beliefs.
// Beliefs[t] is the posterior after observing Signals[t].
type Trajectory struct {
	States  []int
	Signals []int
	Beliefs [][]float64
	Resets  int
}

// Track simulates length periods of c, draws a signal per period from model
// and runs the filter from prior (π when nil). All randomness comes from rng.
func Track(c *chain.Chain, model *SignalModel, length int, rng *rand.Rand, prior []float64) (Trajectory, error) {
	f, err := New(c, prior)
	if err != nil {
		return Trajectory{}, err
	}
	states, err := c.Simulate(length, rng)
	if err != nil {
		return Trajectory{}, err
	}
	tr := Trajectory{
		States:  states,
		Signals: make([]int, length),
		Beliefs: make([][]float64, length),
	}
	for t, s := range states {
		y := model.Draw(s, rng)
		out, err := f.Step(y, model)
		if err != nil {
			return Trajectory{}, fmt.Errorf("period %d: %w", t, err)
		}
		tr.Signals[t] = y
		tr.Beliefs[t] = out.Belief
	}
	tr.Resets = f.Resets()
	return tr, nil
}

// #endregion trajectory

// #region divergence
// DivergenceResult carries the per-period total-variation gap between two
// filters fed the same signals, and their combined zero-likelihood resets.
type DivergenceResult struct {
	TV     []float64
	Resets int
}

// Divergence runs two filters with different priors on one simulated path
// and records TV(b_A, b_B) each period. Filter stability means TV → 0.
func Divergence(c *chain.Chain, model *SignalModel, length int, rng *rand.Rand, priorA, priorB []float64) (DivergenceResult, error) {
	if priorA == nil || priorB == nil {
		return DivergenceResult{}, fmt.Errorf("divergence needs two explicit priors: %w", fault.ErrInvalidParameter)
	}
	fa, err := New(c, priorA)
	if err != nil {
		return DivergenceResult{}, err
	}
	fb, err := New(c, priorB)
	if err != nil {
		return DivergenceResult{}, err
	}
	states, err := c.Simulate(length, rng)
	if err != nil {
		return DivergenceResult{}, err
	}
	tv := make([]float64, length)
	for t, s := range states {
		y := model.Draw(s, rng)
		a, err := fa.Step(y, model)
		if err != nil {
			return DivergenceResult{}, fmt.Errorf("period %d: %w", t, err)
		}
		b, err := fb.Step(y, model)
		if err != nil {
			return DivergenceResult{}, fmt.Errorf("period %d: %w", t, err)
		}
		tv[t] = chain.TotalVariation(a.Belief, b.Belief)
	}
	return DivergenceResult{TV: tv, Resets: fa.Resets() + fb.Resets()}, nil
}

// #endregion divergence
