// Package metrics exposes sweep and solver counters to Prometheus.
//
// A Recorder satisfies both experiment.Observer and transport.Observer, so
// one value can be handed to the runner and to every solver of a sweep.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region definitions

const namespace = "reputation"

// Recorder holds the verifier's metrics.
type Recorder struct {
	// TrialsTotal counts trials by study and outcome (ok, failed).
	TrialsTotal *prometheus.CounterVec

	// FailuresTotal counts failed trials by study and error kind.
	FailuresTotal *prometheus.CounterVec

	// ResetsTotal counts zero-likelihood filter resets by study.
	ResetsTotal *prometheus.CounterVec

	// SolvesTotal counts transport solves by outcome (ok, retried, failed).
	SolvesTotal *prometheus.CounterVec

	// SolveAttempts is the number of strategies tried per solve.
	SolveAttempts prometheus.Histogram

	// SolveDurationSeconds is the wall time of a solve, retries included.
	SolveDurationSeconds prometheus.Histogram
}

// NewRecorder registers the metrics on reg. Registering twice on the same
// registry panics, as promauto does.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		TrialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "trials_total",
			Help:      "Trials run by study and outcome",
		}, []string{"study", "outcome"}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "failures_total",
			Help:      "Failed trials by study and error kind",
		}, []string{"study", "kind"}),
		ResetsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "resets_total",
			Help:      "Zero-likelihood belief resets by study",
		}, []string{"study"}),
		SolvesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "solves_total",
			Help:      "Transport LP solves by outcome",
		}, []string{"outcome"}),
		SolveAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "solve_attempts",
			Help:      "Strategies tried per solve",
			Buckets:   []float64{1, 2, 3, 4},
		}),
		SolveDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "solve_duration_seconds",
			Help:      "Wall time per solve including retries",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

// #endregion definitions

// #region observers

// ObserveTrial records one trial outcome; kind is empty on success.
func (r *Recorder) ObserveTrial(study, outcome, kind string) {
	r.TrialsTotal.WithLabelValues(study, outcome).Inc()
	if kind != "" {
		r.FailuresTotal.WithLabelValues(study, kind).Inc()
	}
}

// ObserveResets adds n filter resets for study.
func (r *Recorder) ObserveResets(study string, n int) {
	r.ResetsTotal.WithLabelValues(study).Add(float64(n))
}

// ObserveSolve records one transport solve.
func (r *Recorder) ObserveSolve(outcome string, attempts int, elapsed time.Duration) {
	r.SolvesTotal.WithLabelValues(outcome).Inc()
	r.SolveAttempts.Observe(float64(attempts))
	r.SolveDurationSeconds.Observe(elapsed.Seconds())
}

// #endregion observers

// #region snapshot

// Snapshot gathers the counters and histograms of g into a flat name{labels} → value map,
// for printing alongside sweep results.
func Snapshot(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				pairs := make([]string, len(labels))
				for i, lp := range labels {
					pairs[i] = lp.GetName() + "=" + lp.GetValue()
				}
				key += "{" + strings.Join(pairs, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
				out[key+"_sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return out, nil
}

// #endregion snapshot
