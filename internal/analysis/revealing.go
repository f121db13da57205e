package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/transport"
	"gonum.org/v1/gonum/mat"
)

// strategyTolerance is the largest strategy gap still counted as agreement.
const strategyTolerance = 1e-6

// #region comparison

// RevealingComparison sets the transport problem at the lifted stationary
// law ρ̃ against the same problem at each conditional prior T[θ_{t−1}],
// which is what a short-run player holds once the strategy reveals the state.
type RevealingComparison struct {
	Lifted         transport.Plan // coupling over lifted states × actions
	LiftedStrategy *mat.Dense     // Pr(action | current state) implied by Lifted

	Conditional         []transport.Plan // one per previous state
	ConditionalStrategy []*mat.Dense     // Pr(action | state) per previous state

	StrategyGap      float64 // max |LiftedStrategy − ConditionalStrategy| over states with mass
	SupportsDiffer   bool    // some conditional support differs from the aggregated lifted one
	LiftedValue      float64
	ConditionalValue float64 // π-weighted mean of the conditional values
}

// StrategiesDiffer reports whether any conditional strategy departs from the
// one implied at ρ̃.
func (r RevealingComparison) StrategiesDiffer() bool { return r.StrategyGap > strategyTolerance }

// CompareRevealing solves both problems with a maximising solver. The
// action marginal of each problem is the one Stackelberg play induces under
// that problem's state marginal.
func CompareRevealing(ctx context.Context, c *chain.Chain, game DeterrenceGame, solver *transport.Solver, tol float64) (RevealingComparison, error) {
	if c.N() != 2 {
		return RevealingComparison{}, fmt.Errorf("deterrence game needs 2 states, chain has %d: %w", c.N(), fault.ErrInvalidParameter)
	}
	if solver == nil || solver.Sense() != transport.Maximize {
		return RevealingComparison{}, fmt.Errorf("revealing comparison needs a maximising solver: %w", fault.ErrInvalidParameter)
	}
	lifted := c.Lifted()
	rho := lifted.Distribution()
	phi, err := game.ActionMarginal(lifted.PairSpace, rho)
	if err != nil {
		return RevealingComparison{}, err
	}
	var out RevealingComparison
	if out.Lifted, err = solver.Solve(ctx, rho, phi, game.LiftedPayoff(lifted.PairSpace)); err != nil {
		return RevealingComparison{}, fmt.Errorf("lifted problem: %w", err)
	}
	out.LiftedValue = out.Lifted.Value

	// aggregate lifted rows onto their current state
	agg := mat.NewDense(2, 2, nil)
	for idx := 0; idx < lifted.PairSpace.Len(); idx++ {
		cur := lifted.PairSpace.Pair(idx).Current
		for a := 0; a < 2; a++ {
			agg.Set(cur, a, agg.At(cur, a)+out.Lifted.Coupling.At(idx, a))
		}
	}
	out.LiftedStrategy = rowStrategy(agg)

	pi := c.Stationary()
	payoff := game.Payoff()
	for prev := 0; prev < 2; prev++ {
		prior := c.Row(prev)
		plan, err := solver.Solve(ctx, prior, stackelbergMarginal(game, prior), payoff)
		if err != nil {
			return RevealingComparison{}, fmt.Errorf("conditional problem after %s: %w", c.Label(prev), err)
		}
		strategy := rowStrategy(plan.Coupling)
		out.Conditional = append(out.Conditional, plan)
		out.ConditionalStrategy = append(out.ConditionalStrategy, strategy)
		out.ConditionalValue += pi[prev] * plan.Value

		for s, mass := range prior {
			// a state without mass on either side has no strategy to compare
			if mass <= tol || agg.At(s, 0)+agg.At(s, 1) <= tol {
				continue
			}
			for a := 0; a < 2; a++ {
				out.StrategyGap = math.Max(out.StrategyGap, math.Abs(strategy.At(s, a)-out.LiftedStrategy.At(s, a)))
				if (plan.Coupling.At(s, a) > tol) != (agg.At(s, a) > tol) {
					out.SupportsDiffer = true
				}
			}
		}
	}
	return out, nil
}

func stackelbergMarginal(game DeterrenceGame, belief []float64) []float64 {
	phi := make([]float64, 2)
	for s, p := range belief {
		phi[game.Stackelberg(s)] += p
	}
	return phi
}

// rowStrategy normalises each row of a coupling; rows without mass stay zero.
func rowStrategy(gamma mat.Matrix) *mat.Dense {
	r, c := gamma.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		var sum float64
		for j := 0; j < c; j++ {
			sum += gamma.At(i, j)
		}
		if sum <= 1e-10 {
			continue
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, gamma.At(i, j)/sum)
		}
	}
	return out
}

// #endregion comparison

// #region revealing-study

// StateRevealingStudy runs CompareRevealing per point. The comparison is
// deterministic, so it is computed once in Prepare and every trial reports
//
//	[0] 1 if the conditional strategies depart from the one at ρ̃, else 0
//	[1] largest strategy gap
//	[2] 1 if some conditional support differs from the lifted one, else 0
//	[3] value at ρ̃
//	[4] π-weighted conditional value
type StateRevealingStudy struct {
	Game      DeterrenceGame
	Tolerance float64 // support threshold; 1e-8 when zero
	Solver    *transport.Solver
}

func (StateRevealingStudy) Name() string { return "state_revealing" }

func (s StateRevealingStudy) Prepare(p experiment.Point) (experiment.TrialFunc, error) {
	tol := s.Tolerance
	if tol == 0 {
		tol = 1e-8
	}
	c, err := twoStateChain(p)
	if err != nil {
		return nil, err
	}
	res, err := CompareRevealing(context.Background(), c, s.Game, s.Solver, tol)
	if err != nil {
		return nil, err
	}
	values := []float64{
		boolValue(res.StrategiesDiffer()),
		res.StrategyGap,
		boolValue(res.SupportsDiffer),
		res.LiftedValue,
		res.ConditionalValue,
	}
	return func(_ context.Context, _ experiment.Trial) (experiment.Outcome, error) {
		return experiment.Outcome{Values: append([]float64(nil), values...)}, nil
	}, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion revealing-study
