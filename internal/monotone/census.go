package monotone

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"
)

// #region constants
const (
	// MaxExhaustiveStates is the largest state count enumerated exhaustively.
	// 9! = 362,880 orders; 10! is already ten times that.
	MaxExhaustiveStates = 9

	// MaxRetainedOrders caps how many valid orders a Census keeps.
	MaxRetainedOrders = 1024

	confidenceLevel = 0.95
)

// #endregion constants

// #region census

// Census reports how many total orders give a payoff increasing differences.
// A sampled census is an estimate; Lower and Upper bound the true fraction
// with 95% Wilson confidence. An exhaustive census is exact and its bounds
// equal Fraction.
type Census struct {
	States     int
	Checked    int
	Valid      int
	Fraction   float64
	Lower      float64
	Upper      float64
	Exhaustive bool
	Orders     []Order // first MaxRetainedOrders valid orders found
	Truncated  bool
}

func (c *Census) record(o Order) {
	c.Valid++
	if len(c.Orders) < MaxRetainedOrders {
		c.Orders = append(c.Orders, append(Order(nil), o...))
	} else {
		c.Truncated = true
	}
}

func (c *Census) finish() {
	if c.Checked == 0 {
		return
	}
	c.Fraction = float64(c.Valid) / float64(c.Checked)
	if c.Exhaustive {
		c.Lower, c.Upper = c.Fraction, c.Fraction
		return
	}
	c.Lower, c.Upper = Wilson(c.Valid, c.Checked, confidenceLevel)
}

// #endregion census

// #region enumerate

// EachValidOrder calls fn for every permutation of n states under which the
// payoff has increasing differences, stopping early when fn returns false.
// It returns the number of permutations checked.
func EachValidOrder(payoff Payoff, n int, actions []int, fn func(Order) bool) (int, error) {
	if err := checkScale(payoff, n, actions); err != nil {
		return 0, err
	}
	gen := combin.NewPermutationGenerator(n, n)
	perm := make([]int, n)
	checked := 0
	for gen.Next() {
		gen.Permutation(perm)
		checked++
		if HasIncreasingDifferences(payoff, perm, actions) && !fn(perm) {
			break
		}
	}
	return checked, nil
}

// EnumerateValidOrders checks all n! orders. It refuses n above
// MaxExhaustiveStates; use SampleValidOrders there.
func EnumerateValidOrders(payoff Payoff, n int, actions []int) (Census, error) {
	c := Census{States: n, Exhaustive: true}
	checked, err := EachValidOrder(payoff, n, actions, func(o Order) bool {
		c.record(o)
		return true
	})
	if err != nil {
		return Census{}, err
	}
	c.Checked = checked
	c.finish()
	return c, nil
}

func checkScale(payoff Payoff, n int, actions []int) error {
	if payoff == nil {
		return fmt.Errorf("nil payoff: %w", fault.ErrInvalidParameter)
	}
	if n <= 0 || n > MaxExhaustiveStates {
		return fmt.Errorf("exhaustive search over %d states (limit %d): %w", n, MaxExhaustiveStates, fault.ErrInvalidParameter)
	}
	if len(actions) == 0 {
		return fmt.Errorf("no actions: %w", fault.ErrInvalidParameter)
	}
	return nil
}

// #endregion enumerate

// #region sample

// SampleValidOrders draws samples uniform random permutations from rng and
// reports the empirical fraction that satisfy increasing differences.
func SampleValidOrders(payoff Payoff, n int, actions []int, samples int, rng *rand.Rand) (Census, error) {
	switch {
	case payoff == nil:
		return Census{}, fmt.Errorf("nil payoff: %w", fault.ErrInvalidParameter)
	case n <= 0:
		return Census{}, fmt.Errorf("%d states: %w", n, fault.ErrInvalidParameter)
	case len(actions) == 0:
		return Census{}, fmt.Errorf("no actions: %w", fault.ErrInvalidParameter)
	case samples <= 0:
		return Census{}, fmt.Errorf("%d samples: %w", samples, fault.ErrInvalidParameter)
	case rng == nil:
		return Census{}, fmt.Errorf("nil random source: %w", fault.ErrInvalidParameter)
	}
	c := Census{States: n, Checked: samples}
	for range samples {
		o := Order(rng.Perm(n))
		if HasIncreasingDifferences(payoff, o, actions) {
			c.record(o)
		}
	}
	c.finish()
	return c, nil
}

// Wilson returns the Wilson score interval for k successes in n trials.
func Wilson(k, n int, level float64) (lo, hi float64) {
	if n <= 0 {
		return 0, 1
	}
	z := distuv.UnitNormal.Quantile(0.5 + level/2)
	nf := float64(n)
	p := float64(k) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
	lo, hi = math.Max(0, center-half), math.Min(1, center+half)
	// rounding can push a bound past p at k=0 or k=n
	return math.Min(lo, p), math.Max(hi, p)
}

// #endregion sample
