// Package analysis holds the reputation-game model and the Monte Carlo
// studies built on the chain, filter and transport packages.
package analysis

import (
	"fmt"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/filter"
	"gonum.org/v1/gonum/mat"
)

// States and actions of the two-state deterrence game.
const (
	StateG = 0
	StateB = 1

	ActionA = 0 // acquiesce
	ActionF = 1 // fight
)

// #region deterrence-game

// DeterrenceGame is the long-run player's stage payoff
//
//	u(G,A)=1  u(G,F)=X
//	u(B,A)=Y  u(B,F)=0
type DeterrenceGame struct {
	X, Y float64
}

// DefaultGame is the worked example, x=0.3, y=0.4.
func DefaultGame() DeterrenceGame { return DeterrenceGame{X: 0.3, Y: 0.4} }

// Payoff returns u as a 2×2 matrix indexed [state, action].
func (g DeterrenceGame) Payoff() *mat.Dense {
	return mat.NewDense(2, 2, []float64{
		1, g.X,
		g.Y, 0,
	})
}

// Supermodular reports increasing differences in (state, action) under
// G < B and A < F, which holds iff x + y < 1.
func (g DeterrenceGame) Supermodular() bool { return g.X+g.Y < 1 }

// Stackelberg is the commitment strategy: A in G, F in B.
func (g DeterrenceGame) Stackelberg(state int) int {
	if state == StateG {
		return ActionA
	}
	return ActionF
}

// StrategyModel is the Stackelberg strategy as a 0/1 signal model.
func (g DeterrenceGame) StrategyModel() (*filter.SignalModel, error) {
	return filter.Deterministic(2, 2, g.Stackelberg)
}

// LiftedPayoff is u evaluated on the current coordinate of each lifted state.
func (g DeterrenceGame) LiftedPayoff(space *chain.PairSpace) *mat.Dense {
	u := g.Payoff()
	return LiftedPayoff(space, 2, func(cur, _, a int) float64 { return u.At(cur, a) })
}

// ActionMarginal is the action distribution induced by playing Stackelberg
// against a distribution mu over lifted states.
func (g DeterrenceGame) ActionMarginal(space *chain.PairSpace, mu []float64) ([]float64, error) {
	if len(mu) != space.Len() {
		return nil, fmt.Errorf("lifted distribution has %d entries, want %d: %w", len(mu), space.Len(), fault.ErrInvalidParameter)
	}
	phi := make([]float64, 2)
	for idx, m := range mu {
		phi[g.Stackelberg(space.Pair(idx).Current)] += m
	}
	return phi, nil
}

// #endregion deterrence-game

// #region lifted-payoffs

// LiftedPayoff tabulates u(current, previous, action) over a pair space.
func LiftedPayoff(space *chain.PairSpace, actions int, u func(cur, prev, a int) float64) *mat.Dense {
	out := mat.NewDense(space.Len(), actions, nil)
	for idx := 0; idx < space.Len(); idx++ {
		p := space.Pair(idx)
		for a := 0; a < actions; a++ {
			out.Set(idx, a, u(p.Current, p.Previous, a))
		}
	}
	return out
}

// CurrentOnly is 1.5·θ_t·a; history is irrelevant.
func CurrentOnly(cur, _, a int) float64 { return 1.5 * float64(cur*a) }

// TransitionDependent is 1.5·θ_t·a + 0.5·(θ_t − θ_{t−1})·a.
func TransitionDependent(cur, prev, a int) float64 {
	return 1.5*float64(cur*a) + 0.5*float64((cur-prev)*a)
}

// StrongHistory is θ_t·a + θ_{t−1}·a.
func StrongHistory(cur, prev, a int) float64 { return float64(cur*a + prev*a) }

// PayoffVariants names the three lifted payoffs used by the order census.
func PayoffVariants() map[string]func(cur, prev, a int) float64 {
	return map[string]func(cur, prev, a int) float64{
		"current_only":         CurrentOnly,
		"transition_dependent": TransitionDependent,
		"strong_history":       StrongHistory,
	}
}

// #endregion lifted-payoffs
