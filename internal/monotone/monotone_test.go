package monotone

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"
)

// #region helpers
var threeActions = []int{0, 1, 2}

func pairSpace(t *testing.T, n int) *chain.PairSpace {
	t.Helper()
	s, err := chain.NewPairSpace(n, nil)
	if err != nil {
		t.Fatalf("NewPairSpace: %v", err)
	}
	return s
}

// lifted builds a payoff over the lifted 3-state space from u(cur, prev, a).
func lifted(space *chain.PairSpace, u func(cur, prev, a float64) float64) Payoff {
	return PayoffFunc(func(state, action int) float64 {
		p := space.Pair(state)
		return u(float64(p.Current), float64(p.Previous), float64(action))
	})
}

func currentOnly(cur, _, a float64) float64 { return 1.5 * cur * a }

func transitionDependent(cur, prev, a float64) float64 {
	return 1.5*cur*a + 0.5*(cur-prev)*a
}

func strongHistory(cur, prev, a float64) float64 { return cur*a + prev*a }

// #endregion helpers

// #region increasing-differences-tests
func TestHasIncreasingDifferences_NaturalVsReversed(t *testing.T) {
	u := mat.NewDense(2, 2, []float64{0, 0.3, 0.5, 1.0})
	if !HasIncreasingDifferences(u, Natural(2), []int{0, 1}) {
		t.Error("natural order should have increasing differences")
	}
	if HasIncreasingDifferences(u, Natural(2).Reversed(), []int{0, 1}) {
		t.Error("reversed order should violate increasing differences")
	}
}

func TestHasIncreasingDifferences_ToleratesRoundOff(t *testing.T) {
	u := mat.NewDense(2, 2, []float64{0, 1, 0, 1 - 1e-12})
	if !HasIncreasingDifferences(u, Natural(2), []int{0, 1}) {
		t.Error("1e-12 deficit should be absorbed by the tolerance")
	}
}

func TestHasIncreasingDifferences_SingleAction(t *testing.T) {
	u := mat.NewDense(3, 1, []float64{3, 2, 1})
	if !HasIncreasingDifferences(u, Natural(3), []int{0}) {
		t.Error("a single action imposes no constraint")
	}
}

// #endregion increasing-differences-tests

// #region checker-tests
func TestChecker_ReportsFirstViolation(t *testing.T) {
	u := mat.NewDense(2, 2, []float64{0, 0.3, 0.5, 1.0})
	rep, err := NewChecker().Check(u, Natural(2).Reversed().Ranking(), []int{0, 1})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Holds() || rep.Violations != 1 || rep.Comparisons != 1 {
		t.Fatalf("report = %+v, want one violation over one comparison", rep)
	}
	want := Violation{Low: 1, High: 0, Action: 0, Next: 1, Deficit: 0.2}
	if diff := cmp.Diff(want, *rep.First, cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-12 })); diff != "" {
		t.Errorf("first violation (-want +got):\n%s", diff)
	}
}

func TestChecker_TiedStatesImposeNoConstraint(t *testing.T) {
	space := pairSpace(t, 3)
	c := NewChecker()

	rep, err := c.Check(lifted(space, currentOnly), CurrentCoordinate(space), threeActions)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !rep.Holds() {
		t.Errorf("current-only payoff should hold under the current coordinate: %+v", rep)
	}
	if rep.Comparisons != 27 {
		t.Errorf("comparisons = %d, want 27 (3 pairs of groups × 3×3)", rep.Comparisons)
	}

	rep, _ = c.Check(lifted(space, transitionDependent), CurrentCoordinate(space), threeActions)
	if !rep.Holds() {
		t.Errorf("transition-dependent payoff should hold under the current coordinate: %+v", rep)
	}

	rep, _ = c.Check(lifted(space, strongHistory), CurrentCoordinate(space), threeActions)
	if rep.Holds() {
		t.Error("strong-history payoff should fail under the current coordinate")
	}
}

func TestChecker_InvalidInput(t *testing.T) {
	c := NewChecker()
	u := mat.NewDense(1, 1, []float64{0})
	if _, err := c.Check(nil, Ranking{0}, []int{0}); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("nil payoff: err = %v", err)
	}
	if _, err := c.Check(u, nil, []int{0}); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("empty ranking: err = %v", err)
	}
	if _, err := c.Check(u, Ranking{0}, nil); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("no actions: err = %v", err)
	}
}

// #endregion checker-tests

// #region order-tests
func TestCanonicalLiftedOrders(t *testing.T) {
	space := pairSpace(t, 3)
	if diff := cmp.Diff(Natural(9), Lexicographic(space)); diff != "" {
		t.Errorf("lexicographic (-want +got):\n%s", diff)
	}
	// index = cur*3 + prev; reverse-lex walks prev-major.
	if diff := cmp.Diff(Order{0, 3, 6, 1, 4, 7, 2, 5, 8}, ReverseLexicographic(space)); diff != "" {
		t.Errorf("reverse lexicographic (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Order{0, 1, 3, 2, 4, 6, 5, 7, 8}, SumOrder(space)); diff != "" {
		t.Errorf("sum order (-want +got):\n%s", diff)
	}
}

func TestCanonicalOrders_PayoffVariants(t *testing.T) {
	space := pairSpace(t, 3)
	cases := []struct {
		name  string
		u     func(cur, prev, a float64) float64
		order Order
		want  bool
	}{
		{"current-only lex", currentOnly, Lexicographic(space), true},
		{"current-only reverse-lex", currentOnly, ReverseLexicographic(space), false},
		{"transition lex", transitionDependent, Lexicographic(space), false},
		{"strong-history sum", strongHistory, SumOrder(space), true},
		{"strong-history lex", strongHistory, Lexicographic(space), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasIncreasingDifferences(lifted(space, tc.u), tc.order, threeActions); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOrder_ValidateAndRanking(t *testing.T) {
	if err := (Order{2, 0, 1}).Validate(3); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, bad := range []Order{{0, 0, 1}, {0, 1}, {0, 1, 3}} {
		if err := bad.Validate(3); !errors.Is(err, fault.ErrInvalidParameter) {
			t.Errorf("Validate(%v) = %v", bad, err)
		}
	}
	if diff := cmp.Diff(Ranking{1, 2, 0}, Order{2, 0, 1}.Ranking()); diff != "" {
		t.Errorf("ranking (-want +got):\n%s", diff)
	}
}

// #endregion order-tests

// #region census-tests
func TestEnumerateValidOrders_LiftedCounts(t *testing.T) {
	space := pairSpace(t, 3)
	cases := []struct {
		name string
		u    func(cur, prev, a float64) float64
		want int
	}{
		// sorted by current: 3!·3!·3!
		{"current-only", currentOnly, 216},
		// 2·cur − 0.5·prev is injective on the 9 pairs
		{"transition-dependent", transitionDependent, 1},
		// sorted by cur+prev: group sizes 1,2,3,2,1
		{"strong-history", strongHistory, 24},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := EnumerateValidOrders(lifted(space, tc.u), 9, threeActions)
			if err != nil {
				t.Fatalf("EnumerateValidOrders: %v", err)
			}
			if c.Checked != 362880 || !c.Exhaustive {
				t.Fatalf("checked %d exhaustive=%v", c.Checked, c.Exhaustive)
			}
			if c.Valid != tc.want {
				t.Fatalf("valid = %d, want %d", c.Valid, tc.want)
			}
			if c.Lower != c.Fraction || c.Upper != c.Fraction {
				t.Errorf("exhaustive bounds [%g,%g] should equal fraction %g", c.Lower, c.Upper, c.Fraction)
			}
			if len(c.Orders) != tc.want || c.Truncated {
				t.Errorf("retained %d orders truncated=%v", len(c.Orders), c.Truncated)
			}
		})
	}
}

func TestEnumerateValidOrders_TwoStates(t *testing.T) {
	u := mat.NewDense(2, 2, []float64{0, 0.3, 0.5, 1.0})
	c, err := EnumerateValidOrders(u, 2, []int{0, 1})
	if err != nil {
		t.Fatalf("EnumerateValidOrders: %v", err)
	}
	if c.Valid != 1 || c.Checked != 2 {
		t.Fatalf("census = %+v", c)
	}
	if diff := cmp.Diff([]Order{{0, 1}}, c.Orders); diff != "" {
		t.Errorf("orders (-want +got):\n%s", diff)
	}
}

func TestEnumerateValidOrders_ScaleLimit(t *testing.T) {
	u := PayoffFunc(func(int, int) float64 { return 0 })
	if _, err := EnumerateValidOrders(u, 10, threeActions); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestEachValidOrder_StopsEarly(t *testing.T) {
	u := PayoffFunc(func(int, int) float64 { return 0 })
	seen := 0
	checked, err := EachValidOrder(u, 4, []int{0, 1}, func(Order) bool {
		seen++
		return seen < 3
	})
	if err != nil {
		t.Fatalf("EachValidOrder: %v", err)
	}
	if seen != 3 || checked != 3 {
		t.Fatalf("seen %d checked %d, want 3 and 3", seen, checked)
	}
}

func TestSampleValidOrders_EstimatesFraction(t *testing.T) {
	space := pairSpace(t, 3)
	rng := rand.New(rand.NewPCG(42, 0))
	c, err := SampleValidOrders(lifted(space, currentOnly), 9, threeActions, 20000, rng)
	if err != nil {
		t.Fatalf("SampleValidOrders: %v", err)
	}
	if c.Exhaustive {
		t.Error("sampled census must not claim to be exhaustive")
	}
	exact := 216.0 / 362880.0
	if math.Abs(c.Fraction-exact) > 1e-3 {
		t.Errorf("fraction %g too far from exact %g", c.Fraction, exact)
	}
	if c.Lower < 0 || c.Upper > 1 || c.Lower > c.Fraction || c.Upper < c.Fraction {
		t.Errorf("bounds [%g,%g] do not bracket %g", c.Lower, c.Upper, c.Fraction)
	}
}

func TestSampleValidOrders_InvalidInput(t *testing.T) {
	u := PayoffFunc(func(int, int) float64 { return 0 })
	rng := rand.New(rand.NewPCG(1, 1))
	if _, err := SampleValidOrders(u, 3, threeActions, 0, rng); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("zero samples: err = %v", err)
	}
	if _, err := SampleValidOrders(u, 3, threeActions, 10, nil); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("nil rng: err = %v", err)
	}
}

func TestWilson(t *testing.T) {
	lo, hi := Wilson(50, 100, 0.95)
	if math.Abs(lo-0.4038) > 1e-3 || math.Abs(hi-0.5962) > 1e-3 {
		t.Errorf("Wilson(50,100) = [%g,%g], want ≈[0.4038,0.5962]", lo, hi)
	}
	lo, hi = Wilson(0, 100, 0.95)
	if lo != 0 || hi <= 0 {
		t.Errorf("Wilson(0,100) = [%g,%g], want lower bound exactly 0", lo, hi)
	}
	lo, hi = Wilson(100, 100, 0.95)
	if hi != 1 || lo >= 1 {
		t.Errorf("Wilson(100,100) = [%g,%g], want upper bound exactly 1", lo, hi)
	}
	for _, k := range []int{0, 1, 7, 499, 500} {
		lo, hi := Wilson(k, 500, 0.95)
		if p := float64(k) / 500; lo > p || hi < p {
			t.Errorf("Wilson(%d,500) = [%g,%g] excludes %g", k, lo, hi, p)
		}
	}
}

// #endregion census-tests
