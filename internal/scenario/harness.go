package scenario

import (
	"context"
	"fmt"
	"math"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/analysis"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/eval"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/monotone"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/transport"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// #region types

// Result is the outcome of one scenario.
type Result struct {
	Name     string             `json:"name"`
	Kind     string             `json:"kind"`
	Passed   bool               `json:"passed"`
	Reason   string             `json:"reason"`
	Observed map[string]float64 `json:"observed,omitempty"`
	Eval     *eval.EvalResult   `json:"eval,omitempty"`
}

// Summary provides aggregate counts from a run.
type Summary struct {
	Total  int            `json:"total"`
	Passed int            `json:"passed"`
	Failed int            `json:"failed"`
	ByKind map[string]int `json:"failed_by_kind,omitempty"`
}

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger used by Run and the transport solver.
func WithLogger(l *zap.Logger) Option { return func(r *runner) { r.logger = l } }

// WithSolverOptions adds options to every transport solver Run builds.
func WithSolverOptions(opts ...transport.Option) Option {
	return func(r *runner) { r.solverOpts = append(r.solverOpts, opts...) }
}

type runner struct {
	logger     *zap.Logger
	solverOpts []transport.Option
	eval       *eval.EvalHarness
}

// #endregion types

// #region run

// Run executes every scenario of f in order. A scenario that cannot be
// built or evaluated is reported as failed with the error as reason; only a
// cancelled context stops the run early.
func Run(ctx context.Context, f *Fixture, opts ...Option) ([]Result, error) {
	r := &runner{logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	r.eval = eval.NewEvalHarness(f.Eval.ToEvalConfig())

	results := make([]Result, 0, len(f.Scenarios))
	for _, sc := range f.Scenarios {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.run(ctx, sc)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			res = Result{Name: sc.Name, Kind: sc.Kind, Reason: fmt.Sprintf("error (%s): %v", fault.Kind(err), err)}
		}
		if !res.Passed {
			r.logger.Warn("scenario failed",
				zap.String("scenario", sc.Name),
				zap.String("kind", sc.Kind),
				zap.String("reason", res.Reason),
			)
		} else {
			r.logger.Debug("scenario passed", zap.String("scenario", sc.Name))
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *runner) run(ctx context.Context, sc FixtureScenario) (Result, error) {
	res := Result{Name: sc.Name, Kind: sc.Kind, Observed: map[string]float64{}}
	var err error
	switch sc.Kind {
	case KindStationary:
		err = r.stationary(sc, &res)
	case KindRevealGap:
		err = r.revealGap(sc, &res)
	case KindTransport:
		err = r.transport(ctx, sc, &res)
	case KindMonotone:
		err = r.monotone(sc, &res)
	case KindConvergence:
		err = r.convergence(sc, &res)
	default:
		err = fmt.Errorf("unknown kind %q: %w", sc.Kind, fault.ErrInvalidParameter)
	}
	return res, err
}

// Summarize computes aggregate counts from results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), ByKind: map[string]int{}}
	for _, r := range results {
		if r.Passed {
			s.Passed++
			continue
		}
		s.Failed++
		s.ByKind[r.Kind]++
	}
	return s
}

// #endregion run

// #region kinds

func (r *runner) stationary(sc FixtureScenario, res *Result) error {
	c, err := buildChain(sc)
	if err != nil {
		return err
	}
	ev := r.eval.Chain(c)
	res.Eval = &ev
	pi := c.Stationary()
	for i, p := range pi {
		res.Observed[fmt.Sprintf("pi_%d", i)] = p
	}
	if !ev.Passed {
		res.Reason = ev.Reason
		return nil
	}
	if sc.Expect.Stationary != nil {
		if len(sc.Expect.Stationary) != len(pi) {
			return fmt.Errorf("expected %d stationary entries, chain has %d: %w", len(sc.Expect.Stationary), len(pi), fault.ErrInvalidParameter)
		}
		for i := range pi {
			if !within(pi[i], sc.Expect.Stationary[i], sc.Expect.tolerance()) {
				res.Reason = fmt.Sprintf("pi[%d] = %.12g, want %.12g", i, pi[i], sc.Expect.Stationary[i])
				return nil
			}
		}
	}
	res.Passed, res.Reason = true, "stationary distribution matches"
	return nil
}

func (r *runner) revealGap(sc FixtureScenario, res *Result) error {
	c, err := buildChain(sc)
	if err != nil {
		return err
	}
	gap := analysis.RevealGap(c)
	res.Observed["gap"] = gap
	if sc.Alpha != nil && sc.Beta != nil {
		closed, err := analysis.ExpectedRevealGap(*sc.Alpha, *sc.Beta)
		if err != nil {
			return err
		}
		res.Observed["gap_closed_form"] = closed
		if !within(gap, closed, sc.Expect.tolerance()) {
			res.Reason = fmt.Sprintf("gap %.12g disagrees with closed form %.12g", gap, closed)
			return nil
		}
	}
	if sc.Expect.Gap != nil && !within(gap, *sc.Expect.Gap, sc.Expect.tolerance()) {
		res.Reason = fmt.Sprintf("gap = %.12g, want %.12g", gap, *sc.Expect.Gap)
		return nil
	}
	res.Passed, res.Reason = true, "reveal gap matches"
	return nil
}

func (r *runner) transport(ctx context.Context, sc FixtureScenario, res *Result) error {
	cost, err := dense(sc.Cost)
	if err != nil {
		return err
	}
	sense := transport.Minimize
	switch sc.Sense {
	case "", "min":
	case "max":
		sense = transport.Maximize
	default:
		return fmt.Errorf("sense %q: %w", sc.Sense, fault.ErrInvalidParameter)
	}
	opts := append([]transport.Option{transport.WithSense(sense), transport.WithLogger(r.logger)}, r.solverOpts...)
	plan, err := transport.NewSolver(opts...).Solve(ctx, sc.Mu, sc.Nu, cost)
	if err != nil {
		return err
	}
	como, err := transport.Comonotone(sc.Mu, sc.Nu)
	if err != nil {
		return err
	}
	tol := sc.Expect.tolerance()
	match := transport.SupportsMatch(plan.Coupling, como, tol)
	res.Observed["value"] = plan.Value
	res.Observed["comonotone_value"] = transport.Objective(como, cost)
	res.Observed["attempts"] = float64(plan.Attempts)
	res.Observed["matches_comonotone"] = boolFloat(match)

	ev := r.eval.Plan(sc.Mu, sc.Nu, plan.Coupling)
	res.Eval = &ev
	if !ev.Passed {
		res.Reason = ev.Reason
		return nil
	}
	if want := sc.Expect.MatchesComonotone; want != nil && *want != match {
		res.Reason = fmt.Sprintf("support matches comonotone = %t, want %t", match, *want)
		return nil
	}
	if match && !within(plan.Value, res.Observed["comonotone_value"], tol) {
		res.Reason = fmt.Sprintf("objective %.12g differs from comonotone %.12g on the same support", plan.Value, res.Observed["comonotone_value"])
		return nil
	}
	if want := sc.Expect.Value; want != nil && !within(plan.Value, *want, tol) {
		res.Reason = fmt.Sprintf("objective = %.12g, want %.12g", plan.Value, *want)
		return nil
	}
	res.Passed, res.Reason = true, "plan matches expectations"
	return nil
}

func (r *runner) monotone(sc FixtureScenario, res *Result) error {
	payoff, err := dense(sc.Payoff)
	if err != nil {
		return err
	}
	n, m := payoff.Dims()
	order := monotone.Order(sc.Order)
	if order == nil {
		order = monotone.Natural(n)
	}
	if err := order.Validate(n); err != nil {
		return err
	}
	actions := make([]int, m)
	for a := range actions {
		actions[a] = a
	}
	report, err := monotone.NewChecker().Check(payoff, order.Ranking(), actions)
	if err != nil {
		return err
	}
	holds := monotone.HasIncreasingDifferences(payoff, order, actions)
	res.Observed["holds"] = boolFloat(holds)
	res.Observed["violations"] = float64(report.Violations)
	if holds != report.Holds() {
		res.Reason = "checker report disagrees with predicate"
		return nil
	}
	if want := sc.Expect.Holds; want != nil && *want != holds {
		res.Reason = fmt.Sprintf("increasing differences = %t, want %t", holds, *want)
		return nil
	}
	res.Passed, res.Reason = true, "increasing differences as expected"
	return nil
}

// convergence applies predict-only steps from Prior and fits the decay of
// TV(b_t, π); the rate must equal |λ₂| unless Expect.Rate overrides it.
func (r *runner) convergence(sc FixtureScenario, res *Result) error {
	c, err := buildChain(sc)
	if err != nil {
		return err
	}
	if sc.Steps < experiment.MinFitPoints {
		return fmt.Errorf("steps %d below %d: %w", sc.Steps, experiment.MinFitPoints, fault.ErrInvalidParameter)
	}
	b := sc.Prior
	if b == nil {
		b = make([]float64, c.N())
		b[0] = 1
	}
	if len(b) != c.N() {
		return fmt.Errorf("prior has %d entries, chain has %d: %w", len(b), c.N(), fault.ErrInvalidParameter)
	}
	pi := c.Stationary()
	series := make([]float64, sc.Steps)
	for t := range series {
		series[t] = chain.TotalVariation(b, pi)
		b = c.Propagate(b)
	}
	fit, err := experiment.FitDecay(series)
	if err != nil {
		return err
	}
	want := math.Abs(c.SecondEigenvalue())
	if sc.Expect.Rate != nil {
		want = *sc.Expect.Rate
	}
	res.Observed["rate"] = fit.Rate
	res.Observed["second_eigenvalue"] = c.SecondEigenvalue()
	res.Observed["r_squared"] = fit.RSquared
	if !within(fit.Rate, want, sc.Expect.tolerance()) {
		res.Reason = fmt.Sprintf("decay rate %.12g, want %.12g", fit.Rate, want)
		return nil
	}
	res.Passed, res.Reason = true, "belief converges at the expected rate"
	return nil
}

// #endregion kinds

// #region helpers

func buildChain(sc FixtureScenario) (*chain.Chain, error) {
	if sc.Kernel != nil {
		return chain.New(sc.Kernel)
	}
	if sc.Alpha == nil || sc.Beta == nil {
		return nil, fmt.Errorf("scenario %q needs a kernel or alpha and beta: %w", sc.Name, fault.ErrInvalidParameter)
	}
	return chain.NewTwoState(*sc.Alpha, *sc.Beta)
}

func dense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty matrix: %w", fault.ErrInvalidParameter)
	}
	m := len(rows[0])
	data := make([]float64, 0, len(rows)*m)
	for i, row := range rows {
		if len(row) != m {
			return nil, fmt.Errorf("row %d has %d entries, want %d: %w", i, len(row), m, fault.ErrInvalidParameter)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), m, data), nil
}

func within(got, want, tol float64) bool { return math.Abs(got-want) <= tol }

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
