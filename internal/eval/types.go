package eval

// #region eval-config
// EvalConfig holds thresholds for invariant checks.
type EvalConfig struct {
	MaxResidual    float64 // reject if any stochasticity or stationarity residual exceeds this
	MaxMarginalGap float64 // reject if a plan's marginals drift further than this
	MinSpectralGap float64 // warn if 1-|λ₂| falls below this
}

// DefaultEvalConfig returns thresholds matched to the solver and eigen tolerances.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxResidual:    1e-9,
		MaxMarginalGap: 1e-6,
		MinSpectralGap: 1e-3,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a check run.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// Metric returns the named metric.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
