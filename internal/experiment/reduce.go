package experiment

import (
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// #region constants
const (
	// MinFitPoints is the fewest usable points a decay fit accepts.
	MinFitPoints = 10

	// fitFloor drops values that are zero up to round-off before taking logs.
	fitFloor = 1e-16
)

// ErrInsufficientData is returned when a fit has fewer than MinFitPoints usable values.
var ErrInsufficientData = errors.New("insufficient data")

// #endregion constants

// #region summary

// Summary is the usual five numbers. Std is the sample (N-1) deviation and
// is 0 for N < 2. An empty Summary has N == 0 and NaN moments.
type Summary struct {
	N    int
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Summarize reduces xs.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, Std: nan, Min: nan, Max: nan}
	}
	s := Summary{
		N:    len(xs),
		Mean: stat.Mean(xs, nil),
		Min:  floats.Min(xs),
		Max:  floats.Max(xs),
	}
	if len(xs) > 1 {
		s.Std = stat.StdDev(xs, nil)
	}
	return s
}

// ExceedanceRate is the fraction of xs strictly above threshold.
func ExceedanceRate(xs []float64, threshold float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	n := 0
	for _, x := range xs {
		if x > threshold {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

// MeanSeries averages equal-length series elementwise.
func MeanSeries(series [][]float64) ([]float64, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("no series: %w", ErrInsufficientData)
	}
	out := make([]float64, len(series[0]))
	for i, s := range series {
		if len(s) != len(out) {
			return nil, fmt.Errorf("series %d has length %d, want %d: %w", i, len(s), len(out), fault.ErrInvalidParameter)
		}
		floats.Add(out, s)
	}
	floats.Scale(1/float64(len(series)), out)
	return out, nil
}

// #endregion summary

// #region decay-fit

// DecayFit is value(t) ≈ Prefactor·Rateᵗ, fitted in log space.
type DecayFit struct {
	Rate      float64
	Prefactor float64
	RSquared  float64
	Points    int
}

// FitDecay fits the whole series.
func FitDecay(series []float64) (DecayFit, error) {
	return FitDecayWindow(series, 0, len(series))
}

// FitTrailingDecay fits the last window entries, keeping their original t.
func FitTrailingDecay(series []float64, window int) (DecayFit, error) {
	if window <= 0 {
		return DecayFit{}, fmt.Errorf("window %d: %w", window, fault.ErrInvalidParameter)
	}
	start := max(0, len(series)-window)
	return FitDecayWindow(series, start, len(series))
}

// FitDecayWindow regresses log(series[t]) on t for t in [start, end),
// skipping values at or below 1e-16.
func FitDecayWindow(series []float64, start, end int) (DecayFit, error) {
	if start < 0 || end > len(series) || start > end {
		return DecayFit{}, fmt.Errorf("window [%d,%d) outside series of %d: %w", start, end, len(series), fault.ErrInvalidParameter)
	}
	var ts, logs []float64
	for t := start; t < end; t++ {
		if v := series[t]; v > fitFloor && !math.IsInf(v, 0) {
			ts = append(ts, float64(t))
			logs = append(logs, math.Log(v))
		}
	}
	if len(ts) < MinFitPoints {
		return DecayFit{Points: len(ts)}, fmt.Errorf("%d usable points, need %d: %w", len(ts), MinFitPoints, ErrInsufficientData)
	}
	intercept, slope := stat.LinearRegression(ts, logs, nil, false)
	return DecayFit{
		Rate:      math.Exp(slope),
		Prefactor: math.Exp(intercept),
		RSquared:  stat.RSquared(ts, logs, nil, intercept, slope),
		Points:    len(ts),
	}, nil
}

// #endregion decay-fit
