package filter

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gonum.org/v1/gonum/mat"
)

// #region signal-model
// SignalModel is an n×m row-stochastic matrix S[state, signal] = Pr(signal | state).
// It generates synthetic signals and serves as the filter's likelihood.
type SignalModel struct {
	s *mat.Dense
}

// NewSignalModel validates rows and builds a signal model.
func NewSignalModel(rows [][]float64) (*SignalModel, error) {
	n := len(rows)
	if n == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty signal model: %w", fault.ErrInvalidParameter)
	}
	m := len(rows[0])
	data := make([]float64, 0, n*m)
	for i, row := range rows {
		if len(row) != m {
			return nil, fmt.Errorf("signal row %d has %d entries, want %d: %w", i, len(row), m, fault.ErrInvalidParameter)
		}
		var sum float64
		for j, p := range row {
			if math.IsNaN(p) || p < 0 {
				return nil, fmt.Errorf("signal[%d][%d]=%g: %w", i, j, p, fault.ErrInvalidParameter)
			}
			sum += p
		}
		if math.Abs(sum-1) > chain.RowSumTolerance {
			return nil, fmt.Errorf("signal row %d sums to %.12g: %w", i, sum, fault.ErrInvalidParameter)
		}
		data = append(data, row...)
	}
	return &SignalModel{s: mat.NewDense(n, m, data)}, nil
}

// Deterministic converts a pure strategy (state → signal) into a 0/1 model.
func Deterministic(states, signals int, strategy func(state int) int) (*SignalModel, error) {
	rows := make([][]float64, states)
	for s := range rows {
		rows[s] = make([]float64, signals)
		a := strategy(s)
		if a < 0 || a >= signals {
			return nil, fmt.Errorf("strategy maps state %d to signal %d outside [0,%d): %w", s, a, signals, fault.ErrInvalidParameter)
		}
		rows[s][a] = 1
	}
	return NewSignalModel(rows)
}

// Noisy is the symmetric two-state model: the state-matching signal is sent
// with probability 1-noise. noise=0 is deterministic, noise=0.5 uninformative.
func Noisy(noise float64) (*SignalModel, error) {
	if noise < 0 || noise > 1 {
		return nil, fmt.Errorf("noise %g outside [0,1]: %w", noise, fault.ErrInvalidParameter)
	}
	return NewSignalModel([][]float64{
		{1 - noise, noise},
		{noise, 1 - noise},
	})
}

// #endregion signal-model

// #region accessors
// States returns n.
func (m *SignalModel) States() int {
	r, _ := m.s.Dims()
	return r
}

// Signals returns the number of signals m.
func (m *SignalModel) Signals() int {
	_, c := m.s.Dims()
	return c
}

// Likelihood returns the column S[:, signal].
func (m *SignalModel) Likelihood(signal int) []float64 {
	return mat.Col(nil, signal, m.s)
}

// Draw samples a signal for the given state.
func (m *SignalModel) Draw(state int, rng *rand.Rand) int {
	return chain.Draw(m.s.RawRowView(state), rng)
}

// Predictive returns the signal distribution b·S implied by a belief.
func (m *SignalModel) Predictive(belief []float64) []float64 {
	out := make([]float64, m.Signals())
	dst := mat.NewVecDense(len(out), out)
	dst.MulVec(m.s.T(), mat.NewVecDense(len(belief), append([]float64(nil), belief...)))
	return out
}

// #endregion accessors
