// Package monotone tests the increasing-differences property of a payoff
// under total and partial orders on its states.
package monotone

import (
	"fmt"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
)

// DefaultTolerance absorbs floating-point noise when comparing differences.
const DefaultTolerance = 1e-10

// #region payoff

// Payoff maps (state, action) to a real number. *mat.Dense satisfies it.
type Payoff interface {
	At(state, action int) float64
}

// PayoffFunc adapts a plain function to Payoff.
type PayoffFunc func(state, action int) float64

// At calls f.
func (f PayoffFunc) At(state, action int) float64 { return f(state, action) }

// #endregion payoff

// #region increasing-differences

// HasIncreasingDifferences reports whether, for every pair of order
// positions i<j and action positions k<l,
//
//	U(order[j], actions[l]) - U(order[j], actions[k]) >= U(order[i], actions[l]) - U(order[i], actions[k])
//
// within DefaultTolerance. order lists states from lowest to highest and
// must be a permutation; the scan stops at the first violation.
func HasIncreasingDifferences(payoff Payoff, order Order, actions []int) bool {
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if _, bad := firstViolation(payoff, order[i], order[j], actions, DefaultTolerance); bad {
				return false
			}
		}
	}
	return true
}

// firstViolation checks one comparable pair (low below high).
func firstViolation(payoff Payoff, low, high int, actions []int, tol float64) (Violation, bool) {
	for k := 0; k < len(actions); k++ {
		for l := k + 1; l < len(actions); l++ {
			a, b := actions[k], actions[l]
			dHigh := payoff.At(high, b) - payoff.At(high, a)
			dLow := payoff.At(low, b) - payoff.At(low, a)
			if dHigh < dLow-tol {
				return Violation{Low: low, High: high, Action: a, Next: b, Deficit: dLow - dHigh}, true
			}
		}
	}
	return Violation{}, false
}

// #endregion increasing-differences

// #region checker

// Violation is one failed increasing-differences comparison.
type Violation struct {
	Low, High    int // states, Low ranked strictly below High
	Action, Next int // actions, Action before Next
	Deficit      float64
}

// Report summarises a full scan.
type Report struct {
	Comparisons int // state pairs that were comparable
	Violations  int
	First       *Violation
}

// Holds reports whether no violation was found.
func (r Report) Holds() bool { return r.Violations == 0 }

// Checker runs the exhaustive scan under a ranking, counting every violation.
type Checker struct {
	Tolerance float64
}

// NewChecker returns a checker with DefaultTolerance.
func NewChecker() Checker { return Checker{Tolerance: DefaultTolerance} }

// Check scans all pairs of states whose ranks differ. States sharing a rank
// are incomparable and impose no constraint.
func (c Checker) Check(payoff Payoff, ranking Ranking, actions []int) (Report, error) {
	if payoff == nil {
		return Report{}, fmt.Errorf("nil payoff: %w", fault.ErrInvalidParameter)
	}
	if len(ranking) == 0 {
		return Report{}, fmt.Errorf("empty ranking: %w", fault.ErrInvalidParameter)
	}
	if len(actions) == 0 {
		return Report{}, fmt.Errorf("no actions: %w", fault.ErrInvalidParameter)
	}

	var rep Report
	for s := range ranking {
		for t := range ranking {
			if ranking[s] >= ranking[t] {
				continue
			}
			rep.Comparisons++
			for k := 0; k < len(actions); k++ {
				for l := k + 1; l < len(actions); l++ {
					v, bad := firstViolation(payoff, s, t, []int{actions[k], actions[l]}, c.Tolerance)
					if !bad {
						continue
					}
					rep.Violations++
					if rep.First == nil {
						rep.First = &v
					}
				}
			}
		}
	}
	return rep, nil
}

// #endregion checker
