package logging

import "time"

// #region failure-entry
// FailureEntry is a single row in the trial_failures table. Trial is -1
// when the failure happened while preparing the point.
type FailureEntry struct {
	SweepID    string
	Study      string
	PointIndex int
	PointLabel string
	Trial      int
	Kind       string
	Message    string
	CreatedAt  time.Time
}

// #endregion failure-entry
