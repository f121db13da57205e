package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// #region constants
const (
	// MarginalTolerance bounds how far each marginal may sum away from 1.
	MarginalTolerance = 1e-9

	// DefaultTimeout bounds a single LP attempt.
	DefaultTimeout = 5 * time.Second

	// clipTolerance is the largest negative LP entry silently rounded to zero.
	clipTolerance = 1e-9
)

// #endregion constants

// #region types
// Sense selects whether the objective Σ cost·γ is minimised or maximised.
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

func (s Sense) String() string {
	if s == Maximize {
		return "maximize"
	}
	return "minimize"
}

// Plan is an optimal coupling and its objective value.
type Plan struct {
	Coupling *mat.Dense
	Value    float64
	Attempts int
	Strategy string
}

// Observer receives one call per Solve with the final outcome:
// "ok", "retried" (succeeded after a retry) or "failed".
type Observer interface {
	ObserveSolve(outcome string, attempts int, elapsed time.Duration)
}

// #endregion types

// #region solver
// Solver solves balanced transportation problems. It holds configuration
// only and is safe for concurrent use.
type Solver struct {
	sense    Sense
	timeout  time.Duration
	retry    retryEngine
	logger   *zap.Logger
	observer Observer
}

// Option configures a Solver.
type Option func(*Solver)

// WithSense sets the optimisation direction.
func WithSense(s Sense) Option { return func(sv *Solver) { sv.sense = s } }

// WithTimeout bounds each LP attempt; exceeding it is a solver failure.
func WithTimeout(d time.Duration) Option { return func(sv *Solver) { sv.timeout = d } }

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option { return func(sv *Solver) { sv.logger = l } }

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option { return func(sv *Solver) { sv.observer = o } }

// WithStrategies replaces the attempt sequence.
func WithStrategies(s ...Strategy) Option {
	return func(sv *Solver) { sv.retry = retryEngine{strategies: s} }
}

// NewSolver returns a minimising solver with the default retry strategies.
func NewSolver(opts ...Option) *Solver {
	s := &Solver{
		sense:   Minimize,
		timeout: DefaultTimeout,
		retry:   retryEngine{strategies: DefaultStrategies()},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sense reports the configured optimisation direction.
func (s *Solver) Sense() Sense { return s.sense }

// Solve finds γ ≥ 0 with row sums mu and column sums nu that optimises
// Σ cost[i,j]·γ[i,j]. Zero-mass rows and columns are removed before the LP
// is built; when only one row or column carries mass the coupling is the
// product mu⊗nu and no LP runs. A retryable attempt failure is retried once
// with the next strategy.
func (s *Solver) Solve(ctx context.Context, mu, nu []float64, cost mat.Matrix) (Plan, error) {
	start := time.Now()
	if err := validateProblem(mu, nu, cost); err != nil {
		return Plan{}, err
	}
	mu, nu = normalized(mu), normalized(nu)

	rows, cols := positive(mu), positive(nu)
	if len(rows) == 1 || len(cols) == 1 {
		gamma := product(mu, nu)
		plan := Plan{Coupling: gamma, Value: Objective(gamma, cost), Attempts: 1, Strategy: ProductStrategy}
		s.observe("ok", plan.Attempts, time.Since(start))
		s.logger.Debug("transport solved",
			zap.String("strategy", ProductStrategy),
			zap.Float64("value", plan.Value))
		return plan, nil
	}
	rmu, rnu := restrict(mu, rows), restrict(nu, cols)
	rcost := restrictCost(cost, rows, cols)

	var lastErr error
	for attempt := 0; ; attempt++ {
		st, ok := s.retry.next(attempt)
		if !ok {
			break
		}
		x, err := s.attempt(ctx, st, rmu, rnu, rcost)
		if err == nil {
			plan := s.plan(x, rows, cols, len(mu), len(nu), cost)
			plan.Attempts = attempt + 1
			plan.Strategy = st.Name
			outcome := "ok"
			if attempt > 0 {
				outcome = "retried"
			}
			s.observe(outcome, plan.Attempts, time.Since(start))
			s.logger.Debug("transport solved",
				zap.String("strategy", st.Name),
				zap.Int("attempts", plan.Attempts),
				zap.Float64("value", plan.Value))
			return plan, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.observe("failed", attempt+1, time.Since(start))
			return Plan{}, ctxErr
		}
		lastErr = err
		s.logger.Warn("transport attempt failed",
			zap.String("strategy", st.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if !fault.Retryable(err) {
			s.observe("failed", attempt+1, time.Since(start))
			return Plan{}, err
		}
	}
	s.observe("failed", s.attempts(), time.Since(start))
	if lastErr == nil {
		return Plan{}, fmt.Errorf("%w: no strategies configured", fault.ErrSolverFailure)
	}
	return Plan{}, fmt.Errorf("after %d attempts: %w", s.attempts(), lastErr)
}

func (s *Solver) attempts() int {
	return min(maxRetries+1, len(s.retry.strategies))
}

// classify maps a simplex error onto the fault taxonomy. An unbounded
// objective cannot be fixed by another strategy; every other backend
// failure can.
func classify(name string, err error) error {
	if errors.Is(err, lp.ErrUnbounded) {
		return fmt.Errorf("%s: %w: %v", name, fault.ErrInvalidParameter, err)
	}
	return fmt.Errorf("%s: %w: %v", name, fault.ErrSolverFailure, err)
}

func (s *Solver) observe(outcome string, attempts int, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveSolve(outcome, attempts, elapsed)
	}
}

// attempt runs one simplex solve under the per-attempt timeout.
func (s *Solver) attempt(ctx context.Context, st Strategy, mu, nu []float64, cost mat.Matrix) ([]float64, error) {
	c, A, b := standardForm(mu, nu, cost, s.sense)
	var basis []int
	if st.WarmStart {
		basis = northWestBasis(mu, nu)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s not started: %w: %v", st.Name, fault.ErrSolverFailure, err)
	}

	type result struct {
		x   []float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("simplex panicked: %v", r)}
			}
		}()
		_, x, err := lp.Simplex(c, A, b, st.Tolerance, basis)
		done <- result{x: x, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, classify(st.Name, r.err)
		}
		return r.x, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s exceeded %s: %w: %v", st.Name, s.timeout, fault.ErrSolverFailure, ctx.Err())
	}
}

// plan scatters the reduced LP solution x back into an n×m coupling.
func (s *Solver) plan(x []float64, rows, cols []int, n, m int, cost mat.Matrix) Plan {
	gamma := mat.NewDense(n, m, nil)
	for a, i := range rows {
		for b, j := range cols {
			v := x[a*len(cols)+b]
			if v < 0 && v > -clipTolerance {
				v = 0
			}
			gamma.Set(i, j, v)
		}
	}
	return Plan{Coupling: gamma, Value: Objective(gamma, cost)}
}

// #endregion solver

// #region standard-form
// standardForm lays out the LP  min cᵀx  s.t. Ax = b, x ≥ 0  with
// x[i*m+j] = γ[i,j]. The last column-sum constraint is implied by the others
// and is dropped so A has full row rank.
func standardForm(mu, nu []float64, cost mat.Matrix, sense Sense) ([]float64, *mat.Dense, []float64) {
	n, m := len(mu), len(nu)
	vars := n * m
	rows := n + m - 1

	c := make([]float64, vars)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			v := cost.At(i, j)
			if sense == Maximize {
				v = -v
			}
			c[i*m+j] = v
		}
	}

	A := mat.NewDense(rows, vars, nil)
	b := make([]float64, rows)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			A.Set(i, i*m+j, 1)
		}
		b[i] = mu[i]
	}
	for j := 0; j < m-1; j++ {
		for i := 0; i < n; i++ {
			A.Set(n+j, i*m+j, 1)
		}
		b[n+j] = nu[j]
	}
	return c, A, b
}

// northWestBasis returns the n+m-1 variable indices visited by the
// north-west corner walk; they form a feasible basis.
func northWestBasis(mu, nu []float64) []int {
	cells, _ := northWest(mu, nu)
	basis := make([]int, len(cells))
	for k, cell := range cells {
		basis[k] = cell.Row*len(nu) + cell.Col
	}
	return basis
}

// #endregion standard-form

// #region reduction

// ProductStrategy names plans built as mu⊗nu without running the LP.
const ProductStrategy = "product"

func positive(p []float64) []int {
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if v > 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func restrict(p []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = p[i]
	}
	return out
}

func restrictCost(cost mat.Matrix, rows, cols []int) *mat.Dense {
	out := mat.NewDense(len(rows), len(cols), nil)
	for a, i := range rows {
		for b, j := range cols {
			out.Set(a, b, cost.At(i, j))
		}
	}
	return out
}

// product is the independent coupling, the only one when either marginal
// is a point mass.
func product(mu, nu []float64) *mat.Dense {
	gamma := mat.NewDense(len(mu), len(nu), nil)
	for i, a := range mu {
		for j, b := range nu {
			gamma.Set(i, j, a*b)
		}
	}
	return gamma
}

// #endregion reduction

// #region validation
func validateProblem(mu, nu []float64, cost mat.Matrix) error {
	if err := validateMarginal("mu", mu); err != nil {
		return err
	}
	if err := validateMarginal("nu", nu); err != nil {
		return err
	}
	if cost == nil {
		return fmt.Errorf("nil cost matrix: %w", fault.ErrInvalidParameter)
	}
	r, c := cost.Dims()
	if r != len(mu) || c != len(nu) {
		return fmt.Errorf("cost is %dx%d, marginals are %d and %d: %w", r, c, len(mu), len(nu), fault.ErrInvalidParameter)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := cost.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("cost[%d][%d]=%g: %w", i, j, v, fault.ErrInvalidParameter)
			}
		}
	}
	return nil
}

func validateMarginal(name string, p []float64) error {
	if len(p) == 0 {
		return fmt.Errorf("%s is empty: %w", name, fault.ErrInvalidParameter)
	}
	var sum float64
	for i, v := range p {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%s[%d]=%g: %w", name, i, v, fault.ErrInvalidParameter)
		}
		sum += v
	}
	if math.Abs(sum-1) > MarginalTolerance {
		return fmt.Errorf("%s sums to %.12g: %w", name, sum, fault.ErrInfeasibleMarginals)
	}
	return nil
}

func normalized(p []float64) []float64 {
	var sum float64
	for _, v := range p {
		sum += v
	}
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = v / sum
	}
	return out
}

// #endregion validation
