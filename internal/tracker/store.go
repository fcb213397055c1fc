package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists runs and their metric streams in a local SQLite database,
// so runs stay inspectable without a tracking server.
type Store struct {
	db    *sql.DB
	runID int64
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project     TEXT NOT NULL,
	entity      TEXT,
	name        TEXT NOT NULL,
	config      TEXT,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS run_metrics (
	run_id    INTEGER NOT NULL REFERENCES runs(id),
	step      INTEGER NOT NULL,
	name      TEXT NOT NULL,
	value     REAL NOT NULL,
	summary   INTEGER NOT NULL DEFAULT 0,
	logged_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_metrics_run ON run_metrics(run_id, name, step);
`

// NewStore opens (creating if needed) the run database at path
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store %s: %w", path, err)
	}

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize run store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Start inserts the run row
func (s *Store) Start(ctx context.Context, run Run) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (project, entity, name, config, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.Project, run.Entity, run.Name, string(configJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.runID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run id: %w", err)
	}
	return nil
}

// LogMetrics inserts one row per metric at the given step
func (s *Store) LogMetrics(ctx context.Context, step int64, metrics map[string]float64) error {
	return s.insertMetrics(ctx, step, metrics, false)
}

// LogSummary inserts summary rows at step -1
func (s *Store) LogSummary(ctx context.Context, summary map[string]float64) error {
	return s.insertMetrics(ctx, -1, summary, true)
}

func (s *Store) insertMetrics(ctx context.Context, step int64, metrics map[string]float64, summary bool) error {
	if s.runID == 0 {
		return fmt.Errorf("run not started")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin metric transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_metrics (run_id, step, name, value, summary, logged_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare metric insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for name, value := range metrics {
		if _, err := stmt.ExecContext(ctx, s.runID, step, name, value, summary, now); err != nil {
			return fmt.Errorf("failed to insert metric %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metrics: %w", err)
	}
	return nil
}

// Finish stamps the run and closes the database
func (s *Store) Finish(ctx context.Context) error {
	if s.runID != 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now(), s.runID); err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
	}
	return s.db.Close()
}

// MetricHistory returns the logged values of one metric in step order
func (s *Store) MetricHistory(ctx context.Context, name string) (map[int64]float64, error) {
	if s.runID == 0 {
		return nil, fmt.Errorf("run not started")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, value FROM run_metrics WHERE run_id = ? AND name = ? AND summary = 0 ORDER BY step`,
		s.runID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric history: %w", err)
	}
	defer rows.Close()

	history := make(map[int64]float64)
	for rows.Next() {
		var step int64
		var value float64
		if err := rows.Scan(&step, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}
		history[step] = value
	}
	return history, rows.Err()
}
