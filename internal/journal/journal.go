// Package journal keeps a local SQLite history of analysis runs and the rules
// learned during them. It is optional: nothing in the detection path depends
// on it, and callers log its errors instead of failing the run.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deskwatch/internal/analysis"
	"deskwatch/internal/learn"
	"deskwatch/internal/logging"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Mode records how a run was started.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeFolder Mode = "folder"
	ModeWatch  Mode = "watch"
)

// Run is one recorded analysis.
type Run struct {
	ID               string          `json:"id"`
	StartedAt        time.Time       `json:"started_at"`
	Role             string          `json:"role"`
	Company          string          `json:"company,omitempty"`
	Model            string          `json:"model"`
	Mode             Mode            `json:"mode"`
	ScreenshotCount  int             `json:"screenshot_count"`
	AnomalousCount   int             `json:"anomalous_count"`
	OverallAnomalous bool            `json:"overall_anomalous"`
	Result           analysis.Result `json:"result"`
	LearnedCount     int             `json:"learned_count"`
}

// LearnedRule is one journaled rule append.
type LearnedRule struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Item      string    `json:"item"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	LearnedAt time.Time `json:"learned_at"`
}

// Journal is an open history database.
type Journal struct {
	db   *sql.DB
	path string
	now  func() time.Time
	log  *logging.Logger
}

// Open creates or opens the journal at path, creating parent directories.
func Open(path string, log *logging.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One writer at a time; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, path: path, now: time.Now, log: log.For(logging.CategoryJournal)}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	j.log.Debug("journal opened at %s", path)
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		role TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		mode TEXT NOT NULL,
		screenshot_count INTEGER NOT NULL,
		anomalous_count INTEGER NOT NULL,
		overall_anomalous INTEGER NOT NULL,
		result_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS learned_rules (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		item TEXT NOT NULL,
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		learned_at TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_learned_run ON learned_rules(run_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordRun stores run and returns its id. Missing ID and StartedAt are filled in.
func (j *Journal) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = j.now()
	}
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, role, company, model, mode,
			screenshot_count, anomalous_count, overall_anomalous, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), run.Role, run.Company, run.Model, string(run.Mode),
		run.ScreenshotCount, run.AnomalousCount, boolToInt(run.OverallAnomalous), string(resultJSON))
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	j.log.Debug("recorded run %s (%s, %d screenshots)", run.ID, run.Mode, run.ScreenshotCount)
	return run.ID, nil
}

// RecordLearned stores the rules a run appended, in one transaction.
func (j *Journal) RecordLearned(ctx context.Context, runID string, learned []learn.Learned) error {
	if len(learned) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO learned_rules (id, run_id, item, kind, path, learned_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	at := formatTime(j.now())
	for _, l := range learned {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), runID, l.Rule.Item, string(l.Rule.Kind), l.Path, at); err != nil {
			return fmt.Errorf("failed to record learned rule %q: %w", l.Rule.Item, err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns up to limit runs, newest first. limit <= 0 means 20.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.role, r.company, r.model, r.mode,
			r.screenshot_count, r.anomalous_count, r.overall_anomalous, r.result_json,
			(SELECT COUNT(*) FROM learned_rules l WHERE l.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			startedAt  string
			mode       string
			flagged    int
			resultJSON string
		)
		if err := rows.Scan(&run.ID, &startedAt, &run.Role, &run.Company, &run.Model, &mode,
			&run.ScreenshotCount, &run.AnomalousCount, &flagged, &resultJSON, &run.LearnedCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Mode = Mode(mode)
		run.OverallAnomalous = flagged != 0
		if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at %q: %w", run.ID, startedAt, err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &run.Result); err != nil {
			return nil, fmt.Errorf("run %s: bad result_json: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LearnedFor returns the rules recorded for runID, oldest first.
func (j *Journal) LearnedFor(ctx context.Context, runID string) ([]LearnedRule, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, item, kind, path, learned_at
		FROM learned_rules WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned rules: %w", err)
	}
	defer rows.Close()

	var out []LearnedRule
	for rows.Next() {
		var (
			lr LearnedRule
			at string
		)
		if err := rows.Scan(&lr.ID, &lr.RunID, &lr.Item, &lr.Kind, &lr.Path, &at); err != nil {
			return nil, fmt.Errorf("failed to scan learned rule: %w", err)
		}
		if lr.LearnedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("learned rule %s: bad learned_at %q: %w", lr.ID, at, err)
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

// timeLayout is fixed-width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
