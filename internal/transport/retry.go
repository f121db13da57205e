package transport

// #region constants

const maxRetries = 1 // one retry = 2 total attempts

// #endregion

// #region strategy

// Strategy is one way of running the simplex backend.
type Strategy struct {
	Name      string
	Tolerance float64 // maximal reduced cost accepted as optimal
	WarmStart bool    // start from the north-west corner basis instead of phase I
}

// DefaultStrategies tries a cold, tight solve first and falls back to a
// warm-started solve with a looser optimality tolerance.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "simplex", Tolerance: 1e-10},
		{Name: "simplex-warm", Tolerance: 1e-8, WarmStart: true},
	}
}

// #endregion

// #region retry-engine

// retryEngine decides whether another attempt is allowed and with which strategy.
type retryEngine struct {
	strategies []Strategy
}

// next returns the strategy for the given zero-based attempt, or false when
// the retry budget or the strategy list is exhausted.
func (r retryEngine) next(attempt int) (Strategy, bool) {
	if attempt > maxRetries || attempt >= len(r.strategies) {
		return Strategy{}, false
	}
	return r.strategies[attempt], true
}

// #endregion
