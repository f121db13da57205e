package monotone

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
)

// Order lists state indices from lowest to highest.
type Order []int

// Ranking assigns each state a rank; equal ranks are incomparable.
type Ranking []int

// Validate checks that o is a permutation of 0..n-1.
func (o Order) Validate(n int) error {
	if len(o) != n {
		return fmt.Errorf("order has %d entries, want %d: %w", len(o), n, fault.ErrInvalidParameter)
	}
	seen := make([]bool, n)
	for _, s := range o {
		if s < 0 || s >= n || seen[s] {
			return fmt.Errorf("order %v is not a permutation: %w", []int(o), fault.ErrInvalidParameter)
		}
		seen[s] = true
	}
	return nil
}

// Ranking converts a total order into ranks (position in the order).
func (o Order) Ranking() Ranking {
	r := make(Ranking, len(o))
	for pos, s := range o {
		r[s] = pos
	}
	return r
}

// Reversed returns the order read from highest to lowest.
func (o Order) Reversed() Order {
	r := make(Order, len(o))
	for i, s := range o {
		r[len(o)-1-i] = s
	}
	return r
}

// Natural returns 0, 1, ..., n-1.
func Natural(n int) Order {
	o := make(Order, n)
	for i := range o {
		o[i] = i
	}
	return o
}

// #region lifted-orders

// Lexicographic orders pairs by current state, then previous state.
func Lexicographic(space *chain.PairSpace) Order {
	return sortedPairs(space, func(a, b chain.Pair) bool {
		if a.Current != b.Current {
			return a.Current < b.Current
		}
		return a.Previous < b.Previous
	})
}

// ReverseLexicographic orders pairs by previous state, then current state.
func ReverseLexicographic(space *chain.PairSpace) Order {
	return sortedPairs(space, func(a, b chain.Pair) bool {
		if a.Previous != b.Previous {
			return a.Previous < b.Previous
		}
		return a.Current < b.Current
	})
}

// SumOrder orders pairs by current+previous, ties broken by current state.
func SumOrder(space *chain.PairSpace) Order {
	return sortedPairs(space, func(a, b chain.Pair) bool {
		sa, sb := a.Current+a.Previous, b.Current+b.Previous
		if sa != sb {
			return sa < sb
		}
		return a.Current < b.Current
	})
}

// CurrentCoordinate ranks pairs by current state only. Pairs sharing a
// current state differ only in history and are left incomparable.
func CurrentCoordinate(space *chain.PairSpace) Ranking {
	r := make(Ranking, space.Len())
	for k := range r {
		r[k] = space.Pair(k).Current
	}
	return r
}

func sortedPairs(space *chain.PairSpace, less func(a, b chain.Pair) bool) Order {
	o := Natural(space.Len())
	sort.SliceStable(o, func(i, j int) bool {
		return less(space.Pair(o[i]), space.Pair(o[j]))
	})
	return o
}

// #endregion lifted-orders
