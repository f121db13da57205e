package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/filter"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/transport"
	"gonum.org/v1/gonum/floats"
)

// #region params

// Parameter names read from sweep points.
const (
	ParamAlpha   = "alpha"
	ParamBeta    = "beta"
	ParamNoise   = "noise"
	ParamEpsilon = "epsilon"
)

func twoStateChain(p experiment.Point) (*chain.Chain, error) {
	alpha, err := p.Require(ParamAlpha)
	if err != nil {
		return nil, err
	}
	beta, err := p.Require(ParamBeta)
	if err != nil {
		return nil, err
	}
	return chain.NewTwoState(alpha, beta)
}

func override(p experiment.Point, name string, fallback float64) float64 {
	if v, ok := p.Get(name); ok {
		return v
	}
	return fallback
}

func positiveLength(study string, n int) error {
	if n <= 0 {
		return fmt.Errorf("%s: length %d: %w", study, n, fault.ErrInvalidParameter)
	}
	return nil
}

// #endregion params

// #region stationarity

// StationarityStudy follows the short-run players' filter under the
// Stackelberg strategy. Each trial reports
//
//	[0] time-averaged TV(posterior, π)
//	[1] time-averaged TV(next-period prior, π), which tends to RevealGap
type StationarityStudy struct {
	Length int
	Game   DeterrenceGame
}

func (StationarityStudy) Name() string { return "stationarity" }

func (s StationarityStudy) Prepare(p experiment.Point) (experiment.TrialFunc, error) {
	if err := positiveLength(s.Name(), s.Length); err != nil {
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
	pi := c.Stationary()
	return func(_ context.Context, tr experiment.Trial) (experiment.Outcome, error) {
		states, err := c.Simulate(s.Length, tr.Rand)
		if err != nil {
			return experiment.Outcome{}, err
		}
		f, err := filter.New(c, nil)
		if err != nil {
			return experiment.Outcome{}, err
		}
		var posteriorTV, priorTV float64
		for t := 1; t < len(states); t++ {
			out, err := f.Step(model.Draw(states[t], tr.Rand), model)
			if err != nil {
				return experiment.Outcome{}, err
			}
			posteriorTV += chain.TotalVariation(out.Belief, pi)
			priorTV += chain.TotalVariation(c.Propagate(out.Belief), pi)
		}
		// period 0 sits at π and contributes zero to the posterior average
		return experiment.Outcome{
			Values: []float64{
				posteriorTV / float64(len(states)),
				priorTV / float64(max(1, len(states)-1)),
			},
			Resets: f.Resets(),
		}, nil
	}, nil
}

// #endregion stationarity

// #region forgetting

// ForgettingStudy runs two filters started at the point masses on G and B
// against the same noisy signals. Each trial reports the TV series between
// them; a stable filter forgets its prior and the series decays.
type ForgettingStudy struct {
	Length int
	Noise  float64 // overridden by a "noise" point parameter
}

func (ForgettingStudy) Name() string { return "forgetting" }

func (s ForgettingStudy) Prepare(p experiment.Point) (experiment.TrialFunc, error) {
	if err := positiveLength(s.Name(), s.Length); err != nil {
		return nil, err
	}
	c, err := twoStateChain(p)
	if err != nil {
		return nil, err
	}
	model, err := filter.Noisy(override(p, ParamNoise, s.Noise))
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, tr experiment.Trial) (experiment.Outcome, error) {
		res, err := filter.Divergence(c, model, s.Length, tr.Rand, []float64{1, 0}, []float64{0, 1})
		if err != nil {
			return experiment.Outcome{}, err
		}
		return experiment.Outcome{Values: res.TV, Resets: res.Resets}, nil
	}, nil
}

// ForgettingRate fits value(t) ≈ C·λᵗ to the trial-averaged divergence
// series of one point, skipping t=0. For a stable filter λ sits at or
// below the chain's second eigenvalue.
func ForgettingRate(pr experiment.PointResult) (experiment.DecayFit, error) {
	mean, err := experiment.MeanSeries(pr.Series())
	if err != nil {
		return experiment.DecayFit{}, err
	}
	return experiment.FitDecayWindow(mean, min(1, len(mean)), len(mean))
}

// #endregion forgetting

// #region distinguishing

// DistinguishingStudy compares the short-run players' one-step signal
// forecasts under the commitment type (Commitment) and the normal type
// (Normal). Each trial reports, per threshold in Etas, the number of
// periods with TV(q_t, p_t) > η. With IID the state path is drawn i.i.d.
// from π instead of from the chain.
type DistinguishingStudy struct {
	Length     int
	Etas       []float64
	Commitment *filter.SignalModel
	Normal     *filter.SignalModel
	IID        bool
}

// NormalTypeModel is the mixed strategy used for the normal type.
func NormalTypeModel() (*filter.SignalModel, error) {
	return filter.NewSignalModel([][]float64{
		{0.7, 0.3},
		{0.4, 0.6},
	})
}

func (s DistinguishingStudy) Name() string {
	if s.IID {
		return "distinguishing_iid"
	}
	return "distinguishing"
}

func (s DistinguishingStudy) Prepare(p experiment.Point) (experiment.TrialFunc, error) {
	if err := positiveLength(s.Name(), s.Length); err != nil {
		return nil, err
	}
	if len(s.Etas) == 0 || s.Commitment == nil || s.Normal == nil {
		return nil, fmt.Errorf("%s needs thresholds and both signal models: %w", s.Name(), fault.ErrInvalidParameter)
	}
	c, err := twoStateChain(p)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, tr experiment.Trial) (experiment.Outcome, error) {
		var states []int
		var err error
		if s.IID {
			states, err = c.SimulateIID(s.Length, tr.Rand)
		} else {
			states, err = c.Simulate(s.Length, tr.Rand)
		}
		if err != nil {
			return experiment.Outcome{}, err
		}
		fq, err := filter.New(c, nil)
		if err != nil {
			return experiment.Outcome{}, err
		}
		fp, err := filter.New(c, nil)
		if err != nil {
			return experiment.Outcome{}, err
		}
		tv := make([]float64, len(states))
		for t, st := range states {
			if t > 0 {
				fq.Predict()
				fp.Predict()
			}
			tv[t] = chain.TotalVariation(s.Commitment.Predictive(fq.Belief()), s.Normal.Predictive(fp.Belief()))
			if _, err := fq.Correct(s.Commitment.Draw(st, tr.Rand), s.Commitment); err != nil {
				return experiment.Outcome{}, err
			}
			if _, err := fp.Correct(s.Normal.Draw(st, tr.Rand), s.Normal); err != nil {
				return experiment.Outcome{}, err
			}
		}
		counts := make([]float64, len(s.Etas))
		for k, eta := range s.Etas {
			counts[k] = float64(CountDistinguishing(tv, eta))
		}
		return experiment.Outcome{Values: counts, Resets: fq.Resets() + fp.Resets()}, nil
	}, nil
}

// #endregion distinguishing

// #region support-stability

// SupportStabilityStudy perturbs the lifted stationary law ρ̃ toward a random
// distribution by Epsilon, derives the Stackelberg action marginal and
// solves the maximising transport problem against the lifted payoff. Each
// trial reports
//
//	[0] 1 if the LP support equals the comonotone support, else 0
//	[1] LP objective minus comonotone objective
type SupportStabilityStudy struct {
	Game      DeterrenceGame
	Epsilon   float64 // overridden by an "epsilon" point parameter
	Tolerance float64 // support threshold; 1e-8 when zero
	Solver    *transport.Solver
}

func (SupportStabilityStudy) Name() string { return "support_stability" }

func (s SupportStabilityStudy) Prepare(p experiment.Point) (experiment.TrialFunc, error) {
	eps := override(p, ParamEpsilon, s.Epsilon)
	if eps < 0 || eps > 1 {
		return nil, fmt.Errorf("epsilon %g outside [0,1]: %w", eps, fault.ErrInvalidParameter)
	}
	if s.Solver == nil || s.Solver.Sense() != transport.Maximize {
		return nil, fmt.Errorf("support stability needs a maximising solver: %w", fault.ErrInvalidParameter)
	}
	tol := s.Tolerance
	if tol == 0 {
		tol = 1e-8
	}
	c, err := twoStateChain(p)
	if err != nil {
		return nil, err
	}
	lifted := c.Lifted()
	rho := lifted.Distribution()
	cost := s.Game.LiftedPayoff(lifted.PairSpace)

	return func(ctx context.Context, tr experiment.Trial) (experiment.Outcome, error) {
		dir := make([]float64, len(rho))
		for i := range dir {
			dir[i] = tr.Rand.ExpFloat64()
		}
		floats.Scale(1/floats.Sum(dir), dir)
		mu := make([]float64, len(rho))
		floats.AddScaledTo(mu, floats.ScaleTo(make([]float64, len(rho)), 1-eps, rho), eps, dir)

		phi, err := s.Game.ActionMarginal(lifted.PairSpace, mu)
		if err != nil {
			return experiment.Outcome{}, err
		}
		plan, err := s.Solver.Solve(ctx, mu, phi, cost)
		if err != nil {
			return experiment.Outcome{}, err
		}
		como, err := transport.Comonotone(mu, phi)
		if err != nil {
			return experiment.Outcome{}, err
		}
		match := 0.0
		if transport.SupportsMatch(plan.Coupling, como, tol) {
			match = 1
		}
		return experiment.Outcome{Values: []float64{match, plan.Value - transport.Objective(como, cost)}}, nil
	}, nil
}

// #endregion support-stability

// #region registry

// Options collects the knobs of every study so a caller can build one by name.
type Options struct {
	Length  int
	Noise   float64
	Etas    []float64
	Epsilon float64
	IID     bool
	Game    DeterrenceGame
	Solver  *transport.Solver

	// ShortRun is the short-run payoff for best_response; DefaultShortRun when zero.
	ShortRun ShortRunPayoff
}

func (o Options) maximizer() *transport.Solver {
	if o.Solver != nil {
		return o.Solver
	}
	return transport.NewSolver(transport.WithSense(transport.Maximize))
}

var builders = map[string]func(Options) (experiment.Study, error){
	"stationarity": func(o Options) (experiment.Study, error) {
		return StationarityStudy{Length: o.Length, Game: o.Game}, nil
	},
	"forgetting": func(o Options) (experiment.Study, error) {
		return ForgettingStudy{Length: o.Length, Noise: o.Noise}, nil
	},
	"distinguishing": func(o Options) (experiment.Study, error) {
		commit, err := o.Game.StrategyModel()
		if err != nil {
			return nil, err
		}
		normal, err := NormalTypeModel()
		if err != nil {
			return nil, err
		}
		return DistinguishingStudy{Length: o.Length, Etas: o.Etas, Commitment: commit, Normal: normal, IID: o.IID}, nil
	},
	"support_stability": func(o Options) (experiment.Study, error) {
		return SupportStabilityStudy{Game: o.Game, Epsilon: o.Epsilon, Solver: o.maximizer()}, nil
	},
	"best_response": func(o Options) (experiment.Study, error) {
		sr := o.ShortRun
		if sr == (ShortRunPayoff{}) {
			sr = DefaultShortRun()
		}
		return BestResponseStudy{Length: o.Length, Game: o.Game, ShortRun: sr}, nil
	},
	"state_revealing": func(o Options) (experiment.Study, error) {
		return StateRevealingStudy{Game: o.Game, Solver: o.maximizer()}, nil
	},
}

// StudyNames lists the studies ByName accepts.
func StudyNames() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByName builds a study from options.
func ByName(name string, o Options) (experiment.Study, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown study %q (have %v): %w", name, StudyNames(), fault.ErrInvalidParameter)
	}
	return build(o)
}

// #endregion registry
