package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-failure
// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// LogFailure writes a failure entry to the trial_failures table.
func LogFailure(db Execer, entry FailureEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO trial_failures (sweep_id, study, point_index, point_label, trial, kind, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SweepID,
		entry.Study,
		entry.PointIndex,
		nullIfEmpty(entry.PointLabel),
		entry.Trial,
		entry.Kind,
		nullIfEmpty(entry.Message),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log failure: %w", err)
	}
	return nil
}

// #endregion log-failure

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
