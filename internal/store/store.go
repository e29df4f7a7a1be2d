// Package store archives finished investigation runs and their scores in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moolen/sleuth/internal/evaluator"
	"github.com/moolen/sleuth/internal/investigation"
	"github.com/moolen/sleuth/internal/logging"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run is not in the archive.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	scenario        TEXT NOT NULL DEFAULT '',
	incident_id     TEXT NOT NULL,
	service         TEXT NOT NULL,
	status          TEXT NOT NULL,
	resolution_type TEXT,
	step_count      INTEGER NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT,
	snapshot_json   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario);

CREATE TABLE IF NOT EXISTS evaluations (
	run_id         TEXT PRIMARY KEY,
	success        INTEGER NOT NULL,
	score          REAL NOT NULL,
	result_json    TEXT NOT NULL,
	evaluated_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
`

// Record is an archived run with its optional evaluation.
type Record struct {
	Scenario   string
	Run        investigation.RunSnapshot
	Evaluation *evaluator.Result
}

// Summary is one row of the run history.
type Summary struct {
	RunID          string
	Scenario       string
	IncidentID     string
	Service        string
	Status         investigation.RunStatus
	ResolutionType investigation.ResolutionType
	StepCount      int
	StartedAt      time.Time
	Evaluated      bool
	Success        bool
	Score          float64
}

// ListOptions filter ListRuns.
type ListOptions struct {
	// Scenario restricts results to one scenario name.
	Scenario string
	// Limit caps the number of rows. Zero means 50.
	Limit int
}

// Store manages the run archive.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		db:     db,
		logger: logging.GetLogger("store"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run and, when given, its evaluation.
func (s *Store) SaveRun(ctx context.Context, scenario string, run investigation.Run, result *evaluator.Result) error {
	snap := run.Snapshot()
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", snap.ID, err)
	}

	var resolution, completed sql.NullString
	if snap.Resolution != nil {
		resolution = sql.NullString{String: string(snap.Resolution.Type), Valid: true}
	}
	if snap.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*snap.CompletedAt), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, scenario, incident_id, service, status, resolution_type, step_count, started_at, completed_at, snapshot_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			scenario = excluded.scenario,
			status = excluded.status,
			resolution_type = excluded.resolution_type,
			step_count = excluded.step_count,
			completed_at = excluded.completed_at,
			snapshot_json = excluded.snapshot_json`,
		snap.ID, scenario, snap.Incident.ID, snap.Incident.Service, string(snap.Status),
		resolution, snap.StepCount, formatTime(snap.StartedAt), completed, string(snapJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if result != nil {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal evaluation: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO evaluations (run_id, success, score, result_json, evaluated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(run_id) DO UPDATE SET
				success = excluded.success,
				score = excluded.score,
				result_json = excluded.result_json,
				evaluated_at = excluded.evaluated_at`,
			snap.ID, result.Success, result.Score, string(resultJSON), formatTime(s.now()),
		)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("Archived run %s (%s, %d steps)", snap.ID, snap.Status, snap.StepCount)
	return nil
}

// GetRun loads an archived run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Record, error) {
	var (
		rec        Record
		snapJSON   string
		resultJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT r.scenario, r.snapshot_json, e.result_json
		 FROM runs r LEFT JOIN evaluations e ON e.run_id = r.run_id
		 WHERE r.run_id = ?`, runID,
	).Scan(&rec.Scenario, &snapJSON, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	if err := json.Unmarshal([]byte(snapJSON), &rec.Run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	if resultJSON.Valid {
		var res evaluator.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return nil, fmt.Errorf("unmarshal evaluation %s: %w", runID, err)
		}
		rec.Evaluation = &res
	}
	return &rec, nil
}

// ListRuns returns the most recently started runs first.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]Summary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT r.run_id, r.scenario, r.incident_id, r.service, r.status, r.resolution_type,
			r.step_count, r.started_at, e.success, e.score
		FROM runs r LEFT JOIN evaluations e ON e.run_id = r.run_id`
	var args []interface{}
	if opts.Scenario != "" {
		query += ` WHERE r.scenario = ?`
		args = append(args, opts.Scenario)
	}
	query += ` ORDER BY r.started_at DESC, r.run_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			status     string
			resolution sql.NullString
			started    string
			success    sql.NullBool
			score      sql.NullFloat64
		)
		if err := rows.Scan(&sum.RunID, &sum.Scenario, &sum.IncidentID, &sum.Service, &status,
			&resolution, &sum.StepCount, &started, &success, &score); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.Status = investigation.RunStatus(status)
		sum.ResolutionType = investigation.ResolutionType(resolution.String)
		if sum.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at of %s: %w", sum.RunID, err)
		}
		sum.Evaluated = success.Valid
		sum.Success = success.Bool
		sum.Score = score.Float64
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its evaluation.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
