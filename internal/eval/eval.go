package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/transport"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// #region eval-harness
// EvalHarness validates the numerical invariants of chains and transport plans.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// checks accumulates metrics; blocking failures decide the verdict,
// informational ones are recorded only.
type checks struct {
	metrics []EvalMetric
	fails   []string
}

func (c *checks) blocking(name string, value, limit float64, pass bool) {
	c.metrics = append(c.metrics, EvalMetric{Name: name, Value: value, Pass: pass})
	if !pass {
		c.fails = append(c.fails, fmt.Sprintf("%s %.3g exceeds %.3g", name, value, limit))
	}
}

func (c *checks) informational(name string, value float64, pass bool) {
	c.metrics = append(c.metrics, EvalMetric{Name: name, Value: value, Pass: pass})
}

func (c *checks) result() EvalResult {
	reason := "all checks passed"
	if len(c.fails) == 1 {
		reason = fmt.Sprintf("eval failed: %s", c.fails[0])
	} else if len(c.fails) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(c.fails), c.fails[0])
	}
	return EvalResult{Passed: len(c.fails) == 0, Metrics: c.metrics, Reason: reason}
}

// Chain checks a chain's kernel, stationary distribution and lifted law.
func (h *EvalHarness) Chain(c *chain.Chain) EvalResult {
	var ck checks
	tol := h.config.MaxResidual

	// 1. Row sums
	var rowRes, minEntry float64 = 0, math.Inf(1)
	for i := 0; i < c.N(); i++ {
		row := c.Row(i)
		rowRes = math.Max(rowRes, math.Abs(floats.Sum(row)-1))
		minEntry = math.Min(minEntry, floats.Min(row))
	}
	ck.blocking("row_sum_residual", rowRes, tol, rowRes <= tol)
	ck.blocking("min_entry", -minEntry, tol, minEntry >= -tol)

	// 2. Stationarity: πT = π and Σπ = 1
	pi := c.Stationary()
	statRes := maxAbsDiff(c.Propagate(pi), pi)
	ck.blocking("stationary_residual", statRes, tol, statRes <= tol)
	massRes := math.Abs(floats.Sum(pi) - 1)
	ck.blocking("stationary_mass_residual", massRes, tol, massRes <= tol)

	// 3. Lifted law marginalises back to π
	lifted := c.Lifted()
	liftRes := maxAbsDiff(lifted.CurrentMarginal(), pi)
	ck.blocking("lifted_marginal_residual", liftRes, tol, liftRes <= tol)

	// 4. Mixing: informational only
	gap := 1 - math.Abs(c.SecondEigenvalue())
	ck.informational("spectral_gap", gap, gap >= h.config.MinSpectralGap)

	return ck.result()
}

// Plan checks that a coupling is feasible for (mu, nu) and records whether
// its support is monotone.
func (h *EvalHarness) Plan(mu, nu []float64, gamma mat.Matrix) EvalResult {
	var ck checks
	limit := h.config.MaxMarginalGap

	r, cl := gamma.Dims()
	if r != len(mu) || cl != len(nu) {
		ck.blocking("shape_mismatch", 1, 0, false)
		return ck.result()
	}
	rows, cols := transport.Marginals(gamma)
	rowGap := maxAbsDiff(rows, mu)
	ck.blocking("row_marginal_residual", rowGap, limit, rowGap <= limit)
	colGap := maxAbsDiff(cols, nu)
	ck.blocking("col_marginal_residual", colGap, limit, colGap <= limit)

	minEntry := mat.Min(gamma)
	ck.blocking("min_entry", -minEntry, limit, minEntry >= -limit)

	mono := 0.0
	if transport.IsMonotone(gamma, limit) {
		mono = 1
	}
	ck.informational("monotone_support", mono, mono == 1)

	return ck.result()
}

// #endregion eval-harness

// #region helpers
func maxAbsDiff(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}

// #endregion helpers
