package experiment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers

// occupancyStudy reports the fraction of time a two-state chain spends in B.
type occupancyStudy struct {
	length int
}

func (occupancyStudy) Name() string { return "occupancy" }

func (s occupancyStudy) Prepare(p Point) (TrialFunc, error) {
	alpha, err := p.Require("alpha")
	if err != nil {
		return nil, err
	}
	beta, err := p.Require("beta")
	if err != nil {
		return nil, err
	}
	c, err := chain.NewTwoState(alpha, beta)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, tr Trial) (Outcome, error) {
		states, err := c.Simulate(s.length, tr.Rand)
		if err != nil {
			return Outcome{}, err
		}
		var inB float64
		for _, st := range states {
			inB += float64(st)
		}
		return Outcome{Values: []float64{inB / float64(len(states))}}, nil
	}, nil
}

// flakyStudy fails every odd trial with a solver failure.
type flakyStudy struct{}

func (flakyStudy) Name() string { return "flaky" }

func (flakyStudy) Prepare(Point) (TrialFunc, error) {
	return func(_ context.Context, tr Trial) (Outcome, error) {
		if tr.Index%2 == 1 {
			return Outcome{}, fault.ErrSolverFailure
		}
		return Outcome{Values: []float64{1}, Resets: 2}, nil
	}, nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	resets   int
}

func (o *countingObserver) ObserveTrial(_, outcome, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome+"/"+kind]++
}

func (o *countingObserver) ObserveResets(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets += n
}

func tenByTen(t *testing.T) []Point {
	t.Helper()
	axis := Linspace(0, 0.9, 10)
	points, err := Grid{Names: []string{"alpha", "beta"}, Axes: [][]float64{axis, axis}}.Points()
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	return points
}

// #endregion helpers

// #region seed-tests
func TestRand_Reproducible(t *testing.T) {
	a, b := Rand(7, 3, 11), Rand(7, 3, 11)
	for i := 0; i < 100; i++ {
		if a.Uint64() != b.Uint64() {
			t.Fatalf("draw %d differs for identical seeds", i)
		}
	}
}

func TestSeeds_Distinct(t *testing.T) {
	seen := map[[2]uint64]bool{}
	for p := 0; p < 20; p++ {
		for tr := 0; tr < 50; tr++ {
			s, st := Seeds(1, p, tr)
			key := [2]uint64{s, st}
			if seen[key] {
				t.Fatalf("seed collision at point %d trial %d", p, tr)
			}
			seen[key] = true
		}
	}
}

// #endregion seed-tests

// #region grid-tests
func TestGrid_CartesianLastAxisFastest(t *testing.T) {
	points, err := Grid{Names: []string{"a", "b"}, Axes: [][]float64{{1, 2}, {3, 4, 5}}}.Points()
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	var got [][]float64
	for i, p := range points {
		if p.Index != i {
			t.Errorf("point %d has index %d", i, p.Index)
		}
		got = append(got, p.Values)
	}
	want := [][]float64{{1, 3}, {1, 4}, {1, 5}, {2, 3}, {2, 4}, {2, 5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("points (-want +got):\n%s", diff)
	}
	if v, ok := points[4].Get("b"); !ok || v != 4 {
		t.Errorf("Get(b) = %g, %v", v, ok)
	}
	if _, err := points[0].Require("c"); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("Require(c) err = %v", err)
	}
}

func TestGrid_Invalid(t *testing.T) {
	if _, err := (Grid{Names: []string{"a"}}).Points(); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("missing axis: err = %v", err)
	}
	if _, err := (Grid{Names: []string{"a"}, Axes: [][]float64{{}}}).Points(); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("empty axis: err = %v", err)
	}
	if _, err := List([]string{"a", "b"}, [][]float64{{1}}); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("short tuple: err = %v", err)
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(0, 1, 5)
	if diff := cmp.Diff([]float64{0, 0.25, 0.5, 0.75, 1}, got, cmpopts.EquateApprox(0, 1e-15)); diff != "" {
		t.Fatalf("Linspace (-want +got):\n%s", diff)
	}
	if got := Linspace(2, 3, 1); len(got) != 1 || got[0] != 2 {
		t.Errorf("Linspace n=1 = %v", got)
	}
}

// #endregion grid-tests

// #region sweep-tests
func TestSweep_DegeneratePointIsRecordedNotFatal(t *testing.T) {
	var failures []Failure
	r := NewRunner(WithTrials(3), WithWorkers(4), WithSeed(42), WithFailureSink(func(f Failure) {
		failures = append(failures, f)
	}))
	res, err := r.Sweep(context.Background(), tenByTen(t), occupancyStudy{length: 50})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := len(res.Succeeded()); got != 99 {
		t.Fatalf("succeeded points = %d, want 99", got)
	}
	if res.FailedPoints != 1 || len(failures) != 1 {
		t.Fatalf("failed points = %d, sink saw %d, want 1", res.FailedPoints, len(failures))
	}
	f := failures[0]
	if f.Kind != fault.KindDegenerateChain || f.Trial != -1 {
		t.Errorf("failure = %+v, want degenerate prepare failure", f)
	}
	if a, _ := f.Point.Get("alpha"); a != 0 {
		t.Errorf("failure at alpha=%g, want the (0,0) point", a)
	}
	if !errors.Is(res.Points[0].PrepareErr, fault.ErrDegenerateChain) {
		t.Errorf("point 0 err = %v", res.Points[0].PrepareErr)
	}
	if math.Abs(res.FailedFraction()-0.01) > 1e-12 {
		t.Errorf("failed fraction = %g, want 0.01", res.FailedFraction())
	}
	for _, p := range res.Succeeded() {
		if len(p.Outcomes) != 3 {
			t.Fatalf("point %s has %d outcomes", p.Point, len(p.Outcomes))
		}
	}
}

func TestSweep_IndependentOfWorkerCount(t *testing.T) {
	points, err := List([]string{"alpha", "beta"}, [][]float64{{0.3, 0.5}, {0.1, 0.2}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ctx := context.Background()
	study := occupancyStudy{length: 200}
	serial, err := NewRunner(WithTrials(16), WithWorkers(1), WithSeed(9)).Sweep(ctx, points, study)
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	parallel, err := NewRunner(WithTrials(16), WithWorkers(8), WithSeed(9)).Sweep(ctx, points, study)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	for i := range points {
		if diff := cmp.Diff(serial.Points[i].Outcomes, parallel.Points[i].Outcomes); diff != "" {
			t.Fatalf("point %d outcomes differ (-serial +parallel):\n%s", i, diff)
		}
	}
	other, _ := NewRunner(WithTrials(16), WithWorkers(8), WithSeed(10)).Sweep(ctx, points, study)
	if cmp.Equal(serial.Points[0].Outcomes, other.Points[0].Outcomes) {
		t.Error("different base seeds produced identical outcomes")
	}
}

func TestSweep_FailedTrialsExcludedFromReduction(t *testing.T) {
	obs := &countingObserver{}
	points, _ := List([]string{"x"}, [][]float64{{0}})
	res, err := NewRunner(WithTrials(10), WithObserver(obs)).Sweep(context.Background(), points, flakyStudy{})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	p := res.Points[0]
	if p.Failed != 5 || p.FailuresByKind[fault.KindSolverFailure] != 5 {
		t.Fatalf("failed = %d by kind %v", p.Failed, p.FailuresByKind)
	}
	if s := p.Summary(0); s.N != 5 || s.Mean != 1 {
		t.Errorf("summary = %+v, want 5 successes with mean 1", s)
	}
	if res.FailedFraction() != 0.5 {
		t.Errorf("failed fraction = %g", res.FailedFraction())
	}
	if p.Resets != 10 || obs.resets != 10 {
		t.Errorf("resets = %d observed %d, want 10", p.Resets, obs.resets)
	}
	if obs.outcomes["ok/"] != 5 || obs.outcomes["failed/"+fault.KindSolverFailure] != 5 {
		t.Errorf("observed %v", obs.outcomes)
	}
}

func TestSweep_PanickingTrialIsAFailure(t *testing.T) {
	study := studyFunc(func(context.Context, Trial) (Outcome, error) { panic("boom") })
	points, _ := List([]string{"x"}, [][]float64{{0}})
	res, err := NewRunner(WithTrials(2)).Sweep(context.Background(), points, study)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.FailedTrials != 2 || res.Points[0].FailuresByKind[fault.KindUnknown] != 2 {
		t.Fatalf("result = %+v", res.Points[0])
	}
}

func TestSweep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(WithTrials(4)).Sweep(ctx, tenByTen(t), occupancyStudy{length: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSweep_InvalidRunner(t *testing.T) {
	if _, err := NewRunner(WithTrials(0)).Sweep(context.Background(), nil, flakyStudy{}); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("zero trials: err = %v", err)
	}
	if _, err := NewRunner().Sweep(context.Background(), nil, nil); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("nil study: err = %v", err)
	}
}

type studyFunc TrialFunc

func (studyFunc) Name() string { return "func" }

func (f studyFunc) Prepare(Point) (TrialFunc, error) { return TrialFunc(f), nil }

// #endregion sweep-tests

// #region reduce-tests
func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, 2, 3, 4})
	want := Summary{N: 4, Mean: 2.5, Std: math.Sqrt(5.0 / 3.0), Min: 1, Max: 4}
	if diff := cmp.Diff(want, s, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("Summarize (-want +got):\n%s", diff)
	}
	if one := Summarize([]float64{7}); one.Std != 0 || one.Mean != 7 {
		t.Errorf("single sample = %+v", one)
	}
	if empty := Summarize(nil); empty.N != 0 || !math.IsNaN(empty.Mean) {
		t.Errorf("empty = %+v", empty)
	}
}

func TestExceedanceRate(t *testing.T) {
	if got := ExceedanceRate([]float64{0.1, 0.2, 0.3, 0.4}, 0.2); got != 0.5 {
		t.Errorf("rate = %g, want 0.5 (strictly above)", got)
	}
	if got := ExceedanceRate(nil, 0); got != 0 {
		t.Errorf("empty rate = %g", got)
	}
}

func TestMeanSeries(t *testing.T) {
	got, err := MeanSeries([][]float64{{1, 2, 3}, {3, 4, 5}})
	if err != nil {
		t.Fatalf("MeanSeries: %v", err)
	}
	if diff := cmp.Diff([]float64{2, 3, 4}, got); diff != "" {
		t.Errorf("mean (-want +got):\n%s", diff)
	}
	if _, err := MeanSeries([][]float64{{1}, {1, 2}}); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("ragged: err = %v", err)
	}
	if _, err := MeanSeries(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty: err = %v", err)
	}
}

func geometric(a, rho float64, n int) []float64 {
	out := make([]float64, n)
	for t := range out {
		out[t] = a * math.Pow(rho, float64(t))
	}
	return out
}

func TestFitDecay_RecoversRate(t *testing.T) {
	fit, err := FitDecay(geometric(2, 0.5, 20))
	if err != nil {
		t.Fatalf("FitDecay: %v", err)
	}
	want := DecayFit{Rate: 0.5, Prefactor: 2, RSquared: 1, Points: 20}
	if diff := cmp.Diff(want, fit, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("fit (-want +got):\n%s", diff)
	}
}

func TestFitTrailingDecay_KeepsTimeOrigin(t *testing.T) {
	series := geometric(3, 0.8, 30)
	series[0] = 100 // outside the window
	fit, err := FitTrailingDecay(series, 12)
	if err != nil {
		t.Fatalf("FitTrailingDecay: %v", err)
	}
	if math.Abs(fit.Rate-0.8) > 1e-9 || math.Abs(fit.Prefactor-3) > 1e-8 || fit.Points != 12 {
		t.Fatalf("fit = %+v", fit)
	}
}

func TestFitDecay_InsufficientData(t *testing.T) {
	series := geometric(1, 0.5, 20)
	for i := 9; i < 20; i++ {
		series[i] = 0
	}
	fit, err := FitDecay(series)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if fit.Points != 9 {
		t.Errorf("points = %d, want 9", fit.Points)
	}
	if _, err := FitDecayWindow(series, 5, 30); !errors.Is(err, fault.ErrInvalidParameter) {
		t.Errorf("bad window: err = %v", err)
	}
}

// #endregion reduce-tests
