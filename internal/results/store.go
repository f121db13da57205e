// Package results persists sweep results in SQLite.
package results

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/logging"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a sweep ID has no row.
var ErrNotFound = errors.New("sweep not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sweeps (
	sweep_id      TEXT PRIMARY KEY,
	study         TEXT NOT NULL,
	seed          TEXT NOT NULL,
	trials        INTEGER NOT NULL,
	points        INTEGER NOT NULL,
	total_trials  INTEGER NOT NULL,
	failed_trials INTEGER NOT NULL,
	failed_points INTEGER NOT NULL,
	elapsed_ns    INTEGER NOT NULL,
	config_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS points (
	sweep_id      TEXT NOT NULL,
	point_index   INTEGER NOT NULL,
	label         TEXT NOT NULL,
	params_json   TEXT NOT NULL,
	succeeded     INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	resets        INTEGER NOT NULL,
	prepare_error TEXT,
	summaries     BLOB NOT NULL,
	PRIMARY KEY (sweep_id, point_index),
	FOREIGN KEY (sweep_id) REFERENCES sweeps(sweep_id)
);

CREATE TABLE IF NOT EXISTS trial_failures (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	sweep_id      TEXT NOT NULL,
	study         TEXT NOT NULL,
	point_index   INTEGER NOT NULL,
	point_label   TEXT,
	trial         INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	message       TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (sweep_id) REFERENCES sweeps(sweep_id)
);
`

// #endregion schema

// #region store-struct
// Store manages sweep results in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region save-sweep
// SaveSweep writes a sweep, its points and its failures in one transaction
// and returns the stored record with a fresh ID.
func (s *Store) SaveSweep(res experiment.SweepResult, failures []experiment.Failure, configJSON string) (SweepRecord, error) {
	rec := SweepRecord{
		SweepID:      uuid.New().String(),
		Study:        res.Study,
		Seed:         res.Seed,
		Trials:       res.Trials,
		Points:       len(res.Points),
		TotalTrials:  res.TotalTrials,
		FailedTrials: res.FailedTrials,
		FailedPoints: res.FailedPoints,
		Elapsed:      res.Elapsed,
		ConfigJSON:   configJSON,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return SweepRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sweeps (sweep_id, study, seed, trials, points, total_trials, failed_trials, failed_points, elapsed_ns, config_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SweepID, rec.Study, strconv.FormatUint(rec.Seed, 10), rec.Trials, rec.Points,
		rec.TotalTrials, rec.FailedTrials, rec.FailedPoints, int64(rec.Elapsed),
		nullIfEmpty(configJSON), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return SweepRecord{}, fmt.Errorf("insert sweep: %w", err)
	}

	for _, pr := range res.Points {
		if err := insertPoint(tx, rec.SweepID, pr); err != nil {
			return SweepRecord{}, err
		}
	}

	for _, f := range failures {
		entry := logging.FailureEntry{
			SweepID:    rec.SweepID,
			Study:      f.Study,
			PointIndex: f.Point.Index,
			PointLabel: f.Point.String(),
			Trial:      f.Trial,
			Kind:       f.Kind,
			CreatedAt:  rec.CreatedAt,
		}
		if f.Err != nil {
			entry.Message = f.Err.Error()
		}
		if err := logging.LogFailure(tx, entry); err != nil {
			return SweepRecord{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return SweepRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func insertPoint(tx *sql.Tx, sweepID string, pr experiment.PointResult) error {
	params := make(map[string]float64, len(pr.Point.Names))
	for i, name := range pr.Point.Names {
		params[name] = pr.Point.Values[i]
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	var prepErr interface{}
	if pr.PrepareErr != nil {
		prepErr = pr.PrepareErr.Error()
	}
	_, err = tx.Exec(
		`INSERT INTO points (sweep_id, point_index, label, params_json, succeeded, failed, resets, prepare_error, summaries)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sweepID, pr.Point.Index, pr.Point.String(), string(paramsJSON),
		len(pr.Outcomes), pr.Failed, pr.Resets, prepErr, encodeSummaries(pointSummaries(pr)),
	)
	if err != nil {
		return fmt.Errorf("insert point %d: %w", pr.Point.Index, err)
	}
	return nil
}

// pointSummaries reduces every outcome component of a point.
func pointSummaries(pr experiment.PointResult) []experiment.Summary {
	width := 0
	for _, o := range pr.Outcomes {
		width = max(width, len(o.Values))
	}
	out := make([]experiment.Summary, width)
	for k := range out {
		out[k] = pr.Summary(k)
	}
	return out
}

// #endregion save-sweep

// #region get-sweep
// GetSweep retrieves a sweep by ID.
func (s *Store) GetSweep(id string) (SweepRecord, error) {
	rec, err := scanSweep(s.db.QueryRow(
		`SELECT sweep_id, study, seed, trials, points, total_trials, failed_trials, failed_points, elapsed_ns, config_json, created_at
		 FROM sweeps WHERE sweep_id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return SweepRecord{}, fmt.Errorf("get sweep %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return SweepRecord{}, fmt.Errorf("get sweep %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-sweep

// #region list-sweeps
// ListSweeps returns the most recent sweeps.
func (s *Store) ListSweeps(limit int) ([]SweepRecord, error) {
	rows, err := s.db.Query(
		`SELECT sweep_id, study, seed, trials, points, total_trials, failed_trials, failed_points, elapsed_ns, config_json, created_at
		 FROM sweeps ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sweeps: %w", err)
	}
	defer rows.Close()

	var records []SweepRecord
	for rows.Next() {
		rec, err := scanSweep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSweep(row scanner) (SweepRecord, error) {
	var rec SweepRecord
	var seed, createdStr string
	var elapsed int64
	var configJSON sql.NullString
	err := row.Scan(&rec.SweepID, &rec.Study, &seed, &rec.Trials, &rec.Points, &rec.TotalTrials,
		&rec.FailedTrials, &rec.FailedPoints, &elapsed, &configJSON, &createdStr)
	if err != nil {
		return SweepRecord{}, err
	}
	rec.Seed, err = strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return SweepRecord{}, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	rec.Elapsed = time.Duration(elapsed)
	if configJSON.Valid {
		rec.ConfigJSON = configJSON.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion list-sweeps

// #region points
// Points returns the points of a sweep in grid order.
func (s *Store) Points(sweepID string) ([]PointRecord, error) {
	rows, err := s.db.Query(
		`SELECT point_index, label, params_json, succeeded, failed, resets, prepare_error, summaries
		 FROM points WHERE sweep_id = ? ORDER BY point_index`, sweepID,
	)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	defer rows.Close()

	var records []PointRecord
	for rows.Next() {
		rec := PointRecord{SweepID: sweepID}
		var paramsJSON string
		var prepErr sql.NullString
		var blob []byte
		if err := rows.Scan(&rec.Index, &rec.Label, &paramsJSON, &rec.Succeeded, &rec.Failed, &rec.Resets, &prepErr, &blob); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
		if prepErr.Valid {
			rec.PrepareError = prepErr.String
		}
		rec.Summaries = decodeSummaries(blob)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion points

// #region failures
// Failures returns the recorded failures of a sweep.
func (s *Store) Failures(sweepID string) ([]logging.FailureEntry, error) {
	rows, err := s.db.Query(
		`SELECT study, point_index, point_label, trial, kind, message, created_at
		 FROM trial_failures WHERE sweep_id = ? ORDER BY id`, sweepID,
	)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var entries []logging.FailureEntry
	for rows.Next() {
		e := logging.FailureEntry{SweepID: sweepID}
		var label, message sql.NullString
		var createdStr string
		if err := rows.Scan(&e.Study, &e.PointIndex, &label, &e.Trial, &e.Kind, &message, &createdStr); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		e.PointLabel = label.String
		e.Message = message.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion failures

// #region summary-encoding
// Each summary is stored as five little-endian float64s: N, Mean, Std, Min, Max.
const summaryWidth = 5

func encodeSummaries(ss []experiment.Summary) []byte {
	buf := make([]byte, len(ss)*summaryWidth*8)
	for i, s := range ss {
		vals := [summaryWidth]float64{float64(s.N), s.Mean, s.Std, s.Min, s.Max}
		for j, v := range vals {
			binary.LittleEndian.PutUint64(buf[(i*summaryWidth+j)*8:], math.Float64bits(v))
		}
	}
	return buf
}

func decodeSummaries(b []byte) []experiment.Summary {
	n := len(b) / (summaryWidth * 8)
	out := make([]experiment.Summary, n)
	for i := range out {
		var vals [summaryWidth]float64
		for j := range vals {
			vals[j] = math.Float64frombits(binary.LittleEndian.Uint64(b[(i*summaryWidth+j)*8:]))
		}
		out[i] = experiment.Summary{N: int(vals[0]), Mean: vals[1], Std: vals[2], Min: vals[3], Max: vals[4]}
	}
	return out
}

// #endregion summary-encoding

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
