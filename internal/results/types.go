package results

import (
	"time"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
)

// #region sweep-record
// SweepRecord is one persisted sweep.
type SweepRecord struct {
	SweepID      string        `json:"sweep_id"`
	Study        string        `json:"study"`
	Seed         uint64        `json:"seed"`
	Trials       int           `json:"trials"`
	Points       int           `json:"points"`
	TotalTrials  int           `json:"total_trials"`
	FailedTrials int           `json:"failed_trials"`
	FailedPoints int           `json:"failed_points"`
	Elapsed      time.Duration `json:"elapsed"`
	ConfigJSON   string        `json:"config,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// FailedFraction is FailedTrials / TotalTrials.
func (r SweepRecord) FailedFraction() float64 {
	if r.TotalTrials == 0 {
		return 0
	}
	return float64(r.FailedTrials) / float64(r.TotalTrials)
}

// #endregion sweep-record

// #region point-record
// PointRecord is the reduced result of one grid point. Summaries holds one
// entry per outcome component.
type PointRecord struct {
	SweepID      string               `json:"sweep_id"`
	Index        int                  `json:"index"`
	Label        string               `json:"label"`
	Params       map[string]float64   `json:"params"`
	Succeeded    int                  `json:"succeeded"`
	Failed       int                  `json:"failed"`
	Resets       int                  `json:"resets"`
	PrepareError string               `json:"prepare_error,omitempty"`
	Summaries    []experiment.Summary `json:"summaries"`
}

// #endregion point-record
