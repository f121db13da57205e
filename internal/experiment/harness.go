// Package experiment runs seeded Monte Carlo trials over parameter grids and
// reduces their numeric outcomes.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// #region types

// Trial is the input to one trial: its position and private generator.
type Trial struct {
	Index int
	Point Point
	Rand  *rand.Rand
}

// Outcome is what one trial reports. Values is a scalar or a short vector;
// Resets counts zero-likelihood filter fallbacks seen during the trial.
type Outcome struct {
	Values []float64
	Resets int
}

// TrialFunc runs one trial. It must use only tr.Rand for randomness.
type TrialFunc func(ctx context.Context, tr Trial) (Outcome, error)

// Study builds the per-point trial function. Prepare constructs the
// immutable model for a point (e.g. a chain) once; the returned TrialFunc
// is called concurrently and must not mutate shared state.
type Study interface {
	Name() string
	Prepare(p Point) (TrialFunc, error)
}

// Failure is a trial or point that produced no outcome. Trial is -1 when
// the point itself could not be prepared.
type Failure struct {
	Study string
	Point Point
	Trial int
	Kind  string
	Err   error
}

// Observer receives per-trial accounting after a point is reduced.
type Observer interface {
	ObserveTrial(study, outcome, kind string)
	ObserveResets(study string, n int)
}

// #endregion types

// #region results

// PointResult holds the successful outcomes for one grid point, in trial order.
type PointResult struct {
	Point          Point
	Outcomes       []Outcome
	Failed         int
	FailuresByKind map[string]int
	Resets         int
	PrepareErr     error
}

// OK reports whether the point could be prepared.
func (r PointResult) OK() bool { return r.PrepareErr == nil }

// Column collects component k of every successful outcome.
func (r PointResult) Column(k int) []float64 {
	out := make([]float64, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if k < len(o.Values) {
			out = append(out, o.Values[k])
		}
	}
	return out
}

// Series returns the full value vector of every successful outcome.
func (r PointResult) Series() [][]float64 {
	out := make([][]float64, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Values
	}
	return out
}

// Summary reduces component k.
func (r PointResult) Summary(k int) Summary { return Summarize(r.Column(k)) }

// SweepResult is the whole sweep. Failed trials are counted, never averaged.
type SweepResult struct {
	Study        string
	Seed         uint64
	Trials       int
	Points       []PointResult
	TotalTrials  int
	FailedTrials int
	FailedPoints int
	Elapsed      time.Duration
}

// FailedFraction is FailedTrials / TotalTrials. A point that could not be
// prepared contributes all of its trials as failed.
func (s SweepResult) FailedFraction() float64 {
	if s.TotalTrials == 0 {
		return 0
	}
	return float64(s.FailedTrials) / float64(s.TotalTrials)
}

// Succeeded returns the points that were prepared.
func (s SweepResult) Succeeded() []PointResult {
	out := make([]PointResult, 0, len(s.Points))
	for _, p := range s.Points {
		if p.OK() {
			out = append(out, p)
		}
	}
	return out
}

// #endregion results

// #region runner

// Runner executes studies over points with a bounded worker pool.
type Runner struct {
	trials   int
	workers  int
	seed     uint64
	logger   *zap.Logger
	observer Observer
	sink     func(Failure)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTrials sets the number of trials per point.
func WithTrials(n int) RunnerOption { return func(r *Runner) { r.trials = n } }

// WithWorkers bounds concurrent trials; values below 1 mean GOMAXPROCS.
func WithWorkers(n int) RunnerOption { return func(r *Runner) { r.workers = n } }

// WithSeed sets the base seed.
func WithSeed(seed uint64) RunnerOption { return func(r *Runner) { r.seed = seed } }

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) RunnerOption { return func(r *Runner) { r.observer = o } }

// WithFailureSink receives every failure after its point is reduced.
func WithFailureSink(fn func(Failure)) RunnerOption { return func(r *Runner) { r.sink = fn } }

// NewRunner returns a runner with one trial per point and GOMAXPROCS workers.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{trials: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = runtime.GOMAXPROCS(0)
	}
	return r
}

type slot struct {
	out Outcome
	err error
}

// Sweep runs the configured trials at every point. Point and trial failures are
// recorded and the sweep continues; only ctx cancellation aborts it.
func (r *Runner) Sweep(ctx context.Context, points []Point, study Study) (SweepResult, error) {
	if study == nil {
		return SweepResult{}, fmt.Errorf("nil study: %w", fault.ErrInvalidParameter)
	}
	if r.trials < 1 {
		return SweepResult{}, fmt.Errorf("%d trials per point: %w", r.trials, fault.ErrInvalidParameter)
	}
	start := time.Now()
	name := study.Name()
	res := SweepResult{
		Study:       name,
		Seed:        r.seed,
		Trials:      r.trials,
		Points:      make([]PointResult, len(points)),
		TotalTrials: len(points) * r.trials,
	}

	fns := make([]TrialFunc, len(points))
	for pi, p := range points {
		res.Points[pi] = PointResult{Point: p, FailuresByKind: map[string]int{}}
		fn, err := study.Prepare(p)
		if err != nil {
			r.prepareFailed(&res, pi, err)
			continue
		}
		fns[pi] = fn
	}

	slots := make([][]slot, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for pi, fn := range fns {
		if fn == nil {
			continue
		}
		slots[pi] = make([]slot, r.trials)
		for ti := 0; ti < r.trials; ti++ {
			tr := Trial{Index: ti, Point: points[pi], Rand: Rand(r.seed, pi, ti)}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := runTrial(gctx, fn, tr)
				slots[pi][ti] = slot{out: out, err: err}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SweepResult{}, err
	}

	for pi := range points {
		if slots[pi] != nil {
			r.reduce(&res, pi, slots[pi])
		}
	}
	res.Elapsed = time.Since(start)
	r.logger.Info("sweep finished",
		zap.String("study", name),
		zap.Int("points", len(points)),
		zap.Int("trials", res.TotalTrials),
		zap.Int("failed_trials", res.FailedTrials),
		zap.Int("failed_points", res.FailedPoints),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (r *Runner) prepareFailed(res *SweepResult, pi int, err error) {
	pr := &res.Points[pi]
	kind := fault.Kind(err)
	pr.PrepareErr = err
	pr.Failed = r.trials
	pr.FailuresByKind[kind] = r.trials
	res.FailedPoints++
	res.FailedTrials += r.trials
	r.logger.Warn("point skipped",
		zap.String("study", res.Study),
		zap.Stringer("point", pr.Point),
		zap.String("kind", kind),
		zap.Error(err))
	if r.observer != nil {
		for range r.trials {
			r.observer.ObserveTrial(res.Study, "failed", kind)
		}
	}
	if r.sink != nil {
		r.sink(Failure{Study: res.Study, Point: pr.Point, Trial: -1, Kind: kind, Err: err})
	}
}

func (r *Runner) reduce(res *SweepResult, pi int, slots []slot) {
	pr := &res.Points[pi]
	for ti, s := range slots {
		if s.err != nil {
			kind := fault.Kind(s.err)
			pr.Failed++
			pr.FailuresByKind[kind]++
			res.FailedTrials++
			r.logger.Debug("trial failed",
				zap.String("study", res.Study),
				zap.Stringer("point", pr.Point),
				zap.Int("trial", ti),
				zap.String("kind", kind),
				zap.Error(s.err))
			if r.observer != nil {
				r.observer.ObserveTrial(res.Study, "failed", kind)
			}
			if r.sink != nil {
				r.sink(Failure{Study: res.Study, Point: pr.Point, Trial: ti, Kind: kind, Err: s.err})
			}
			continue
		}
		pr.Outcomes = append(pr.Outcomes, s.out)
		pr.Resets += s.out.Resets
		if r.observer != nil {
			r.observer.ObserveTrial(res.Study, "ok", "")
			if s.out.Resets > 0 {
				r.observer.ObserveResets(res.Study, s.out.Resets)
			}
		}
	}
}

// runTrial converts a panic into an error and rejects empty outcomes.
func runTrial(ctx context.Context, fn TrialFunc, tr Trial) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("trial %d panicked: %v", tr.Index, p)
		}
	}()
	out, err = fn(ctx, tr)
	if err == nil && out.Values == nil {
		err = errors.New("trial returned no values")
	}
	return out, err
}

// #endregion runner
