package analysis

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/filter"
)

// Short-run actions.
const (
	SRCooperate = 0
	SRDefect    = 1
)

// #region short-run-payoff

// ShortRunPayoff is the short-run player's stage payoff u₂(θ, b).
type ShortRunPayoff struct {
	GC, GD float64 // state G: cooperate, defect
	BC, BD float64 // state B: cooperate, defect
}

// DefaultShortRun has u₂(G,C)=1, u₂(G,D)=0, u₂(B,C)=−1, u₂(B,D)=0.5, so
// the threshold is μ* = 3/5.
func DefaultShortRun() ShortRunPayoff { return ShortRunPayoff{GC: 1, GD: 0, BC: -1, BD: 0.5} }

// Threshold is the belief μ* = Pr(θ=G) at which the short-run player is
// indifferent: cooperating pays iff μ ≥ μ*. It fails unless cooperation is
// strictly more attractive in G than in B.
func (p ShortRunPayoff) Threshold() (float64, error) {
	gainG := p.GC - p.GD
	lossB := p.BD - p.BC
	if gainG+lossB <= 0 {
		return 0, fmt.Errorf("short-run payoff %+v has no belief threshold: %w", p, fault.ErrInvalidParameter)
	}
	mu := lossB / (gainG + lossB)
	if mu < 0 || mu > 1 {
		return 0, fmt.Errorf("threshold %g outside [0,1]: %w", mu, fault.ErrInvalidParameter)
	}
	return mu, nil
}

// BestResponse cooperates when belief mu in G clears threshold, ties included.
func BestResponse(mu, threshold float64) int {
	if mu >= threshold {
		return SRCooperate
	}
	return SRDefect
}

// #endregion short-run-payoff

// #region revealed-payoffs

// RevealedBestResponsePayoffs is the long-run player's expected stage payoff
// u(θ_t, b_t) when the Stackelberg strategy reveals θ_{t−1}, so the
// short-run prior is T[θ_{t−1}] (filtered), and when the short-run player
// instead best-responds to π every period (stationary).
func RevealedBestResponsePayoffs(c *chain.Chain, game DeterrenceGame, sr ShortRunPayoff) (filtered, stationary float64, err error) {
	if c.N() != 2 {
		return 0, 0, fmt.Errorf("deterrence game needs 2 states, chain has %d: %w", c.N(), fault.ErrInvalidParameter)
	}
	threshold, err := sr.Threshold()
	if err != nil {
		return 0, 0, err
	}
	u := game.Payoff()
	pi := c.Stationary()
	bStat := BestResponse(pi[StateG], threshold)
	for prev, p := range pi {
		row := c.Row(prev)
		bFilt := BestResponse(row[StateG], threshold)
		for cur, q := range row {
			filtered += p * q * u.At(cur, bFilt)
		}
		stationary += p * u.At(prev, bStat)
	}
	return filtered, stationary, nil
}

// #endregion revealed-payoffs

// #region best-response-study

// BestResponseStudy plays the deterrence game against a short-run player who
// best-responds to the filtered prior each period, alongside a counterfactual
// short-run player who always best-responds to π. Each trial reports
//
//	[0] mean long-run payoff against the filtered player
//	[1] mean long-run payoff against the stationary player
//	[2] [0] − [1]
//	[3] fraction of periods the filtered player cooperates
//	[4] threshold crossings of the filtered prior per period
type BestResponseStudy struct {
	Length   int
	Game     DeterrenceGame
	ShortRun ShortRunPayoff
}

func (BestResponseStudy) Name() string { return "best_response" }

func (s BestResponseStudy) Prepare(p experiment.Point) (experiment.TrialFunc, error) {
	if err := positiveLength(s.Name(), s.Length); err != nil {
		return nil, err
	}
	threshold, err := s.ShortRun.Threshold()
	if err != nil {
		return nil, err
	}
	c, err := twoStateChain(p)
	if err != nil {
		return nil, err
	}
	model, err := s.Game.StrategyModel()
	if err != nil {
		return nil, err
	}
	u := s.Game.Payoff()
	bStat := BestResponse(c.Stationary()[StateG], threshold)

	return func(_ context.Context, tr experiment.Trial) (experiment.Outcome, error) {
		states, err := c.Simulate(s.Length, tr.Rand)
		if err != nil {
			return experiment.Outcome{}, err
		}
		f, err := filter.New(c, nil)
		if err != nil {
			return experiment.Outcome{}, err
		}
		var filtered, stationary, cooperate float64
		crossings := 0
		above := f.Belief()[StateG] >= threshold
		for t := 1; t < len(states); t++ {
			muG := f.Predict()[StateG]
			b := BestResponse(muG, threshold)
			if b == SRCooperate {
				cooperate++
			}
			if now := muG >= threshold; now != above {
				crossings++
				above = now
			}
			filtered += u.At(states[t], b)
			stationary += u.At(states[t], bStat)
			if _, err := f.Correct(model.Draw(states[t], tr.Rand), model); err != nil {
				return experiment.Outcome{}, err
			}
		}
		periods := float64(max(1, len(states)-1))
		return experiment.Outcome{
			Values: []float64{
				filtered / periods,
				stationary / periods,
				(filtered - stationary) / periods,
				cooperate / periods,
				float64(crossings) / periods,
			},
			Resets: f.Resets(),
		}, nil
	}, nil
}

// #endregion best-response-study
