package fault

import (
	"context"
	"errors"
)

// #region sentinels
// Sentinel errors shared by the numeric packages. Callers wrap them with
// fmt.Errorf("...: %w", ErrX) and match with errors.Is.
var (
	// ErrInvalidParameter marks malformed kernels, payoffs, priors or marginals.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDegenerateChain marks a chain without a unique stationary distribution.
	ErrDegenerateChain = errors.New("degenerate chain")

	// ErrInfeasibleMarginals marks transport marginals that do not each sum to 1.
	ErrInfeasibleMarginals = errors.New("infeasible marginals")

	// ErrSolverFailure marks an LP backend that failed to converge or timed out.
	ErrSolverFailure = errors.New("solver failure")
)

// #endregion sentinels

// #region kinds
// Stable labels for counting failures in sweeps and metrics.
const (
	KindInvalidParameter   = "invalid_parameter"
	KindDegenerateChain    = "degenerate_chain"
	KindInfeasibleMarginal = "infeasible_marginals"
	KindSolverFailure      = "solver_failure"
	KindCanceled           = "canceled"
	KindUnknown            = "unknown"
)

// Kind classifies err into one of the stable labels. A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, ErrDegenerateChain):
		return KindDegenerateChain
	case errors.Is(err, ErrInfeasibleMarginals):
		return KindInfeasibleMarginal
	case errors.Is(err, ErrSolverFailure):
		return KindSolverFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Retryable reports whether a second attempt with different settings may succeed.
// Only solver failures qualify; everything else needs different inputs.
func Retryable(err error) bool {
	return errors.Is(err, ErrSolverFailure)
}

// #endregion kinds
