package chain

import (
	"fmt"
	"strconv"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
)

// #region pair-space
// Pair is a lifted state (θ_t, θ_{t-1}).
type Pair struct {
	Current  int
	Previous int
}

// PairSpace indexes Θ×Θ densely: index = Current*n + Previous.
type PairSpace struct {
	n      int
	pairs  []Pair
	labels []string
}

// NewPairSpace builds the lifted index over n base states. labels may be nil.
func NewPairSpace(n int, labels []string) (*PairSpace, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pair space over %d states: %w", n, fault.ErrInvalidParameter)
	}
	if labels != nil && len(labels) != n {
		return nil, fmt.Errorf("%d labels for %d states: %w", len(labels), n, fault.ErrInvalidParameter)
	}
	pairs := make([]Pair, n*n)
	for cur := 0; cur < n; cur++ {
		for prev := 0; prev < n; prev++ {
			pairs[cur*n+prev] = Pair{Current: cur, Previous: prev}
		}
	}
	return &PairSpace{n: n, pairs: pairs, labels: labels}, nil
}

// Base returns the number of base states n.
func (s *PairSpace) Base() int { return s.n }

// Len returns n².
func (s *PairSpace) Len() int { return len(s.pairs) }

// Index maps (current, previous) to its dense index.
func (s *PairSpace) Index(current, previous int) int { return current*s.n + previous }

// Pair maps a dense index back to (current, previous).
func (s *PairSpace) Pair(idx int) Pair { return s.pairs[idx] }

// Label renders a lifted state as "(current,previous)".
func (s *PairSpace) Label(idx int) string {
	p := s.pairs[idx]
	return "(" + s.base(p.Current) + "," + s.base(p.Previous) + ")"
}

func (s *PairSpace) base(i int) string {
	if s.labels != nil {
		return s.labels[i]
	}
	return strconv.Itoa(i)
}

// #endregion pair-space

// #region lifted
// Lifted is the order-2 joint law ρ̃(θ,θ') = π(θ')·T(θ',θ) over consecutive
// state pairs, stored against a PairSpace.
type Lifted struct {
	*PairSpace
	dist []float64
}

// Lifted returns the cached lifted distribution, built on first use.
func (c *Chain) Lifted() *Lifted {
	c.liftOnce.Do(func() {
		space, _ := NewPairSpace(c.n, c.labels)
		dist := make([]float64, space.Len())
		for cur := 0; cur < c.n; cur++ {
			for prev := 0; prev < c.n; prev++ {
				dist[space.Index(cur, prev)] = c.pi[prev] * c.kernel.At(prev, cur)
			}
		}
		c.lifted = &Lifted{PairSpace: space, dist: dist}
	})
	return c.lifted
}

// Distribution returns a copy of ρ̃ indexed by the pair space.
func (l *Lifted) Distribution() []float64 {
	return append([]float64(nil), l.dist...)
}

// Prob returns ρ̃(current, previous).
func (l *Lifted) Prob(current, previous int) float64 {
	return l.dist[l.Index(current, previous)]
}

// CurrentMarginal sums ρ̃ over the previous coordinate; it equals π.
func (l *Lifted) CurrentMarginal() []float64 {
	out := make([]float64, l.n)
	for idx, p := range l.dist {
		out[l.pairs[idx].Current] += p
	}
	return out
}

// LiftSequence maps a path θ_0..θ_{L-1} to lifted indices for t=1..L-1.
func (c *Chain) LiftSequence(states []int) []int {
	if len(states) < 2 {
		return nil
	}
	out := make([]int, len(states)-1)
	for t := 1; t < len(states); t++ {
		out[t-1] = states[t]*c.n + states[t-1]
	}
	return out
}

// #endregion lifted
