package chain

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// #region tolerances
const (
	// RowSumTolerance bounds how far a kernel row may sum away from 1.
	RowSumTolerance = 1e-9

	// UnitEigenTolerance bounds how far the stationary eigenvalue may sit from 1.
	UnitEigenTolerance = 1e-8

	// negativeMassTolerance is the largest negative entry clipped to zero
	// in a normalised eigenvector before it is treated as sign-indefinite.
	negativeMassTolerance = 1e-9
)

// #endregion tolerances

// #region chain-struct
// Chain is a finite-state time-homogeneous Markov chain. It is immutable
// after construction and safe to share between goroutines.
type Chain struct {
	n      int
	kernel *mat.Dense
	pi     []float64
	moduli []float64 // eigenvalue moduli of the kernel, descending
	labels []string

	liftOnce sync.Once
	lifted   *Lifted
}

// Option customises chain construction.
type Option func(*Chain)

// WithLabels attaches semantic state labels (e.g. "G", "B").
func WithLabels(labels ...string) Option {
	return func(c *Chain) {
		c.labels = append([]string(nil), labels...)
	}
}

// #endregion chain-struct

// #region constructors
// New validates a row-stochastic kernel (kernel[i][j] = Pr(next=j | current=i))
// and derives its stationary distribution from the eigen-decomposition of Tᵀ.
//
// New fails with fault.ErrDegenerateChain when no eigenvalue lies within
// UnitEigenTolerance of 1, and also when more than one does. A reducible
// kernel (for example the identity, or two closed classes) therefore has no
// Chain: its stationary law is not unique and New does not pick one.
func New(kernel [][]float64, opts ...Option) (*Chain, error) {
	n := len(kernel)
	if n == 0 {
		return nil, fmt.Errorf("empty kernel: %w", fault.ErrInvalidParameter)
	}
	data := make([]float64, 0, n*n)
	for i, row := range kernel {
		if len(row) != n {
			return nil, fmt.Errorf("kernel row %d has %d entries, want %d: %w", i, len(row), n, fault.ErrInvalidParameter)
		}
		if err := validateRow(i, row); err != nil {
			return nil, err
		}
		data = append(data, row...)
	}

	c := &Chain{n: n, kernel: mat.NewDense(n, n, data)}
	for _, opt := range opts {
		opt(c)
	}
	if c.labels != nil && len(c.labels) != n {
		return nil, fmt.Errorf("%d labels for %d states: %w", len(c.labels), n, fault.ErrInvalidParameter)
	}

	if err := c.decompose(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewTwoState builds the two-state chain with Pr(B|G)=alpha and Pr(G|B)=beta.
// State 0 is G, state 1 is B.
func NewTwoState(alpha, beta float64) (*Chain, error) {
	return New([][]float64{
		{1 - alpha, alpha},
		{beta, 1 - beta},
	}, WithLabels("G", "B"))
}

// TwoStateStationary is the closed form (β/(α+β), α/(α+β)). It serves as an
// oracle for the eigen path and for analytic formulas.
func TwoStateStationary(alpha, beta float64) ([]float64, error) {
	if alpha+beta <= 0 {
		return nil, fmt.Errorf("alpha+beta=%g: %w", alpha+beta, fault.ErrDegenerateChain)
	}
	s := alpha + beta
	return []float64{beta / s, alpha / s}, nil
}

func validateRow(i int, row []float64) error {
	var sum float64
	for j, p := range row {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("kernel[%d][%d]=%g: %w", i, j, p, fault.ErrInvalidParameter)
		}
		sum += p
	}
	if math.Abs(sum-1) > RowSumTolerance {
		return fmt.Errorf("kernel row %d sums to %.12g: %w", i, sum, fault.ErrInvalidParameter)
	}
	return nil
}

// #endregion constructors

// #region stationary
// decompose computes π as the normalised eigenvector of Tᵀ whose eigenvalue
// is closest to 1, and records eigenvalue moduli for the mixing rate.
func (c *Chain) decompose() error {
	var eig mat.Eigen
	if ok := eig.Factorize(c.kernel.T(), mat.EigenRight); !ok {
		return fmt.Errorf("eigen factorization did not converge: %w", fault.ErrDegenerateChain)
	}
	values := eig.Values(nil)

	best := -1
	bestDist := math.Inf(1)
	nearUnit := 0
	for k, v := range values {
		d := cmplx.Abs(v - 1)
		if d <= UnitEigenTolerance {
			nearUnit++
		}
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	if nearUnit == 0 {
		return fmt.Errorf("no eigenvalue within %g of 1 (closest %g): %w", UnitEigenTolerance, bestDist, fault.ErrDegenerateChain)
	}
	if nearUnit > 1 {
		return fmt.Errorf("%d unit eigenvalues, stationary distribution not unique: %w", nearUnit, fault.ErrDegenerateChain)
	}

	var vecs mat.CDense
	eig.VectorsTo(&vecs)
	pi := make([]float64, c.n)
	for i := range pi {
		pi[i] = real(vecs.At(i, best))
	}
	sum := floats.Sum(pi)
	if math.Abs(sum) < 1e-300 {
		return fmt.Errorf("stationary eigenvector sums to zero: %w", fault.ErrDegenerateChain)
	}
	floats.Scale(1/sum, pi)
	for i, p := range pi {
		if p < 0 {
			if p < -negativeMassTolerance {
				return fmt.Errorf("stationary eigenvector has negative mass %g at %d: %w", p, i, fault.ErrDegenerateChain)
			}
			pi[i] = 0
		}
	}
	floats.Scale(1/floats.Sum(pi), pi)
	c.pi = pi

	moduli := make([]float64, len(values))
	for k, v := range values {
		moduli[k] = cmplx.Abs(v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(moduli)))
	c.moduli = moduli
	return nil
}

// Stationary returns a copy of the stationary distribution π (πT = π, Σπ = 1).
func (c *Chain) Stationary() []float64 {
	return append([]float64(nil), c.pi...)
}

// SecondEigenvalue returns the modulus of the subdominant eigenvalue, the
// geometric rate at which predict-only beliefs approach π. For two states
// this is |1-α-β|.
func (c *Chain) SecondEigenvalue() float64 {
	if len(c.moduli) < 2 {
		return 0
	}
	return c.moduli[1]
}

// #endregion stationary

// #region accessors
// N returns the number of states.
func (c *Chain) N() int { return c.n }

// At returns T[i,j] = Pr(next=j | current=i).
func (c *Chain) At(i, j int) float64 { return c.kernel.At(i, j) }

// Row returns a copy of the transition distribution out of state i.
func (c *Chain) Row(i int) []float64 { return mat.Row(nil, i, c.kernel) }

// Kernel returns a copy of the transition matrix.
func (c *Chain) Kernel() *mat.Dense { return mat.DenseCopyOf(c.kernel) }

// Label returns the semantic label of state i, or its index.
func (c *Chain) Label(i int) string {
	if c.labels != nil {
		return c.labels[i]
	}
	return strconv.Itoa(i)
}

// Propagate advances a distribution one step: returns Tᵀb.
func (c *Chain) Propagate(b []float64) []float64 {
	out := make([]float64, c.n)
	dst := mat.NewVecDense(c.n, out)
	dst.MulVec(c.kernel.T(), mat.NewVecDense(c.n, append([]float64(nil), b...)))
	return out
}

// #endregion accessors

// #region simulate
// Simulate draws a path of the given length, starting from a state drawn from π.
func (c *Chain) Simulate(length int, rng *rand.Rand) ([]int, error) {
	if rng == nil {
		return nil, fmt.Errorf("nil random source: %w", fault.ErrInvalidParameter)
	}
	if length <= 0 {
		return c.SimulateFrom(length, rng, 0)
	}
	return c.SimulateFrom(length, rng, Draw(c.pi, rng))
}

// SimulateFrom draws a path of the given length starting at initial.
func (c *Chain) SimulateFrom(length int, rng *rand.Rand, initial int) ([]int, error) {
	if rng == nil {
		return nil, fmt.Errorf("nil random source: %w", fault.ErrInvalidParameter)
	}
	if length < 0 {
		return nil, fmt.Errorf("length %d: %w", length, fault.ErrInvalidParameter)
	}
	if initial < 0 || initial >= c.n {
		return nil, fmt.Errorf("initial state %d outside [0,%d): %w", initial, c.n, fault.ErrInvalidParameter)
	}
	states := make([]int, length)
	if length == 0 {
		return states, nil
	}
	states[0] = initial
	rows := make([][]float64, c.n)
	for i := range rows {
		rows[i] = c.Row(i)
	}
	for t := 1; t < length; t++ {
		states[t] = Draw(rows[states[t-1]], rng)
	}
	return states, nil
}

// SimulateIID draws length states independently from π. It is the memoryless
// baseline the Markov path is compared against.
func (c *Chain) SimulateIID(length int, rng *rand.Rand) ([]int, error) {
	if rng == nil {
		return nil, fmt.Errorf("nil random source: %w", fault.ErrInvalidParameter)
	}
	if length < 0 {
		return nil, fmt.Errorf("length %d: %w", length, fault.ErrInvalidParameter)
	}
	states := make([]int, length)
	for t := range states {
		states[t] = Draw(c.pi, rng)
	}
	return states, nil
}

// Draw samples an index from the categorical distribution p.
func Draw(p []float64, rng *rand.Rand) int {
	u := rng.Float64()
	var acc float64
	last := 0
	for i, w := range p {
		if w <= 0 {
			continue
		}
		acc += w
		last = i
		if u < acc {
			return i
		}
	}
	return last
}

// #endregion simulate
