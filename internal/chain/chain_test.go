package chain

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// #region helpers
func mustTwoState(t *testing.T, alpha, beta float64) *Chain {
	t.Helper()
	c, err := NewTwoState(alpha, beta)
	if err != nil {
		t.Fatalf("NewTwoState(%g, %g): %v", alpha, beta, err)
	}
	return c
}

func residual(c *Chain, pi []float64) float64 {
	next := c.Propagate(pi)
	var worst float64
	for i := range pi {
		worst = math.Max(worst, math.Abs(next[i]-pi[i]))
	}
	return worst
}

var approx = cmpopts.EquateApprox(0, 1e-9)

// #endregion helpers

// #region construct-tests
func TestNew_RejectsInvalidRows(t *testing.T) {
	cases := map[string][][]float64{
		"empty":      {},
		"ragged":     {{0.5, 0.5}, {1}},
		"negative":   {{1.2, -0.2}, {0.5, 0.5}},
		"row sum":    {{0.5, 0.4}, {0.5, 0.5}},
		"nan":        {{math.NaN(), 1}, {0.5, 0.5}},
		"not square": {{0.2, 0.3, 0.5}, {0.2, 0.3, 0.5}},
	}
	for name, k := range cases {
		_, err := New(k)
		if !errors.Is(err, fault.ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", name, err)
		}
	}
}

func TestNew_LabelCountMismatch(t *testing.T) {
	_, err := New([][]float64{{1}}, WithLabels("G", "B"))
	if !errors.Is(err, fault.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestNew_IdentityIsDegenerate(t *testing.T) {
	_, err := NewTwoState(0, 0)
	if !errors.Is(err, fault.ErrDegenerateChain) {
		t.Fatalf("expected ErrDegenerateChain, got %v", err)
	}
}

func TestNew_TwoClosedClassesIsDegenerate(t *testing.T) {
	_, err := New([][]float64{
		{0.5, 0.5, 0, 0},
		{0.3, 0.7, 0, 0},
		{0, 0, 0.2, 0.8},
		{0, 0, 0.6, 0.4},
	})
	if !errors.Is(err, fault.ErrDegenerateChain) {
		t.Fatalf("expected ErrDegenerateChain for a reducible kernel, got %v", err)
	}
}

// #endregion construct-tests

// #region stationary-tests
func TestStationary_ConcreteScenario(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	want := []float64{0.625, 0.375}
	if diff := cmp.Diff(want, c.Stationary(), approx); diff != "" {
		t.Fatalf("stationary mismatch (-want +got):\n%s", diff)
	}
}

func TestStationary_MatchesClosedFormOnGrid(t *testing.T) {
	for a := 0.05; a < 1; a += 0.1 {
		for b := 0.05; b < 1; b += 0.1 {
			c := mustTwoState(t, a, b)
			pi := c.Stationary()
			oracle, err := TwoStateStationary(a, b)
			if err != nil {
				t.Fatalf("oracle: %v", err)
			}
			if diff := cmp.Diff(oracle, pi, approx); diff != "" {
				t.Errorf("alpha=%.2f beta=%.2f (-closed +eigen):\n%s", a, b, diff)
			}
			if r := residual(c, pi); r > 1e-9 {
				t.Errorf("alpha=%.2f beta=%.2f: |piT-pi| = %g", a, b, r)
			}
			if s := pi[0] + pi[1]; math.Abs(s-1) > 1e-9 {
				t.Errorf("alpha=%.2f beta=%.2f: sum = %g", a, b, s)
			}
		}
	}
}

func TestStationary_ThreeState(t *testing.T) {
	c, err := New([][]float64{
		{0.5, 0.3, 0.2},
		{0.1, 0.6, 0.3},
		{0.2, 0.2, 0.6},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pi := c.Stationary()
	if r := residual(c, pi); r > 1e-9 {
		t.Fatalf("|piT-pi| = %g", r)
	}
	for i, p := range pi {
		if p < 0 {
			t.Errorf("pi[%d] = %g is negative", i, p)
		}
	}
}

func TestStationary_PeriodicChain(t *testing.T) {
	c := mustTwoState(t, 1, 1)
	if diff := cmp.Diff([]float64{0.5, 0.5}, c.Stationary(), approx); diff != "" {
		t.Fatalf("periodic stationary (-want +got):\n%s", diff)
	}
	if got := c.SecondEigenvalue(); math.Abs(got-1) > 1e-9 {
		t.Errorf("second eigenvalue = %g, want 1", got)
	}
}

func TestSecondEigenvalue_TwoState(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	if got := c.SecondEigenvalue(); math.Abs(got-0.2) > 1e-12 {
		t.Fatalf("second eigenvalue = %g, want 0.2", got)
	}
}

func TestStationary_ReturnsCopy(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	pi := c.Stationary()
	pi[0] = 42
	if c.Stationary()[0] == 42 {
		t.Fatal("Stationary leaked internal storage")
	}
}

// #endregion stationary-tests

// #region simulate-tests
func TestSimulate_Deterministic(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	a, err := c.Simulate(500, rand.New(rand.NewPCG(42, 7)))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	b, _ := c.Simulate(500, rand.New(rand.NewPCG(42, 7)))
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different paths:\n%s", diff)
	}
	other, _ := c.Simulate(500, rand.New(rand.NewPCG(43, 7)))
	if cmp.Equal(a, other) {
		t.Error("different seeds produced identical paths")
	}
}

func TestSimulate_EmpiricalFrequency(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	states, err := c.Simulate(200000, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	var good int
	for _, s := range states {
		if s == 0 {
			good++
		}
	}
	freq := float64(good) / float64(len(states))
	if math.Abs(freq-0.625) > 0.01 {
		t.Fatalf("empirical pi(G) = %.4f, want ~0.625", freq)
	}
}

func TestSimulateFrom_RespectsInitialAndAbsorbing(t *testing.T) {
	c, err := New([][]float64{{1, 0}, {0.5, 0.5}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	states, err := c.SimulateFrom(50, rand.New(rand.NewPCG(3, 3)), 0)
	if err != nil {
		t.Fatalf("SimulateFrom: %v", err)
	}
	for i, s := range states {
		if s != 0 {
			t.Fatalf("absorbing state left at t=%d", i)
		}
	}
}

func TestSimulate_InvalidInputs(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	if _, err := c.Simulate(10, nil); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("nil rng: expected ErrInvalidParameter, got %v", err)
	}
	rng := rand.New(rand.NewPCG(1, 2))
	if _, err := c.SimulateFrom(10, rng, 5); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("bad initial: expected ErrInvalidParameter, got %v", err)
	}
	if _, err := c.Simulate(-1, rng); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("negative length: expected ErrInvalidParameter, got %v", err)
	}
	states, err := c.Simulate(0, rng)
	if err != nil || len(states) != 0 {
		t.Errorf("zero length: got %v, %v", states, err)
	}
}

func TestSimulateIID_Frequency(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	states, err := c.SimulateIID(100000, rand.New(rand.NewPCG(9, 9)))
	if err != nil {
		t.Fatalf("SimulateIID: %v", err)
	}
	var bad int
	for _, s := range states {
		bad += s
	}
	if freq := float64(bad) / float64(len(states)); math.Abs(freq-0.375) > 0.01 {
		t.Fatalf("empirical pi(B) = %.4f, want ~0.375", freq)
	}
}

// #endregion simulate-tests

// #region lifted-tests
func TestLifted_MarginalAndMass(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	l := c.Lifted()
	if l.Len() != 4 {
		t.Fatalf("expected 4 lifted states, got %d", l.Len())
	}
	want := []float64{0.625 * 0.7, 0.375 * 0.5, 0.625 * 0.3, 0.375 * 0.5}
	if diff := cmp.Diff(want, l.Distribution(), approx); diff != "" {
		t.Fatalf("rho-tilde mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(c.Stationary(), l.CurrentMarginal(), approx); diff != "" {
		t.Fatalf("current marginal != pi:\n%s", diff)
	}
	if l.Label(1) != "(G,B)" {
		t.Errorf("label(1) = %s, want (G,B)", l.Label(1))
	}
	if p := l.Pair(2); p.Current != 1 || p.Previous != 0 {
		t.Errorf("pair(2) = %+v, want {1 0}", p)
	}
	if c.Lifted() != l {
		t.Error("Lifted not cached")
	}
}

func TestLifted_ThreeStateMarginal(t *testing.T) {
	c, err := New([][]float64{
		{0.5, 0.3, 0.2},
		{0.1, 0.6, 0.3},
		{0.2, 0.2, 0.6},
	}, WithLabels("L", "M", "H"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l := c.Lifted()
	if diff := cmp.Diff(c.Stationary(), l.CurrentMarginal(), approx); diff != "" {
		t.Fatalf("current marginal != pi:\n%s", diff)
	}
	var total float64
	for _, p := range l.Distribution() {
		total += p
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("lifted mass = %g", total)
	}
	if got := l.Label(l.Index(2, 0)); got != "(H,L)" {
		t.Errorf("label = %s, want (H,L)", got)
	}
}

func TestLiftSequence(t *testing.T) {
	c := mustTwoState(t, 0.3, 0.5)
	got := c.LiftSequence([]int{0, 0, 1, 1, 0})
	want := []int{0, 2, 3, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("lifted sequence (-want +got):\n%s", diff)
	}
	if c.LiftSequence([]int{1}) != nil {
		t.Error("expected nil for a single-state path")
	}
}

// #endregion lifted-tests

// #region distance-tests
func TestTotalVariation(t *testing.T) {
	if got := TotalVariation([]float64{0.7, 0.3}, []float64{0.625, 0.375}); math.Abs(got-0.075) > 1e-12 {
		t.Fatalf("TV = %g, want 0.075", got)
	}
}

func TestKLDivergence(t *testing.T) {
	if got := KLDivergence([]float64{0.5, 0.5}, []float64{0.5, 0.5}); math.Abs(got) > 1e-12 {
		t.Errorf("KL(p||p) = %g", got)
	}
	got := KLDivergence([]float64{1, 0}, []float64{0.5, 0.5})
	if math.Abs(got-math.Log(2)) > 1e-9 {
		t.Errorf("KL = %g, want ln2", got)
	}
	if math.IsInf(KLDivergence([]float64{0.5, 0.5}, []float64{1, 0}), 0) {
		t.Error("clipped KL should be finite")
	}
}

// #endregion distance-tests
