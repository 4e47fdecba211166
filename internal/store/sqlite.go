package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vidbatch/internal/logging"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// OutcomeMalformed marks a manifest line that never reached the orchestrator.
const OutcomeMalformed = "malformed"

// Totals are the aggregate counters of a batch run.
type Totals struct {
	TotalLines int `json:"total_lines"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Errored    int `json:"errored"`
	Malformed  int `json:"malformed"`
}

// Run represents a row in the runs table.
type Run struct {
	ID         string     `json:"id"`
	Manifest   string     `json:"manifest"`
	OutputDir  string     `json:"output_dir"`
	Status     string     `json:"status"`
	Totals     Totals     `json:"totals"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Entry represents a row in the entries table: the result of one manifest line.
type Entry struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Line         int       `json:"line"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Target       string    `json:"target"`
	Outcome      string    `json:"outcome"`
	SizeBytes    int64     `json:"size_bytes"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store wraps an sql.DB and provides typed helpers.
type Store struct {
	db  *sql.DB
	log logging.Emitter
}

// Open opens or creates a SQLite database at the given path and ensures schema.
// Events go to sink, which may be nil.
func Open(path string, sink logging.Sink) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	// Pragmas: busy timeout and WAL for better concurrency.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: logging.NewEmitter(sink)}, nil
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    manifest TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    status TEXT NOT NULL,
    total_lines INTEGER NOT NULL DEFAULT 0,
    downloaded INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    errored INTEGER NOT NULL DEFAULT 0,
    malformed INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    line INTEGER NOT NULL,
    name TEXT,
    url TEXT,
    target TEXT,
    outcome TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_entries_run_line ON entries(run_id, line);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

// BeginRun inserts a running run and returns its time-ordered ID.
func (s *Store) BeginRun(ctx context.Context, manifest, outputDir string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	runID := id.String()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs (id, manifest, output_dir, status, started_at)
VALUES (?, ?, ?, ?, ?)`, runID, manifest, outputDir, StatusRunning, time.Now().UTC())
	if err != nil {
		return "", err
	}
	s.log.Debug("journal_run_begin", "run recorded", "run_id", runID)
	return runID, nil
}

// RecordEntry appends the result of one manifest line to a run. Malformed
// lines may have an empty URL.
func (s *Store) RecordEntry(ctx context.Context, e Entry) (int64, error) {
	if e.RunID == "" {
		return 0, ErrEmptyRunID
	}
	if strings.TrimSpace(e.URL) == "" && e.Outcome != OutcomeMalformed {
		return 0, ErrEmptyURL
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO entries (run_id, line, name, url, target, outcome, size_bytes, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Line, e.Name, e.URL, e.Target, e.Outcome, e.SizeBytes, nullIfEmpty(e.ErrorMessage), e.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get insert id: %w", err)
	}
	s.log.Debug("journal_entry", "entry recorded", "run_id", e.RunID, "line", e.Line, "outcome", e.Outcome)
	return id, nil
}

// FinishRun stores the final status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, t Totals) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, total_lines = ?, downloaded = ?, skipped = ?, errored = ?, malformed = ?, finished_at = ?
WHERE id = ?`,
		normalizeStatus(status), t.TotalLines, t.Downloaded, t.Skipped, t.Errored, t.Malformed, time.Now().UTC(), runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	s.log.Debug("journal_run_finish", "run finished", "run_id", runID, "status", normalizeStatus(status))
	return nil
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	Status string // optional: running|completed|interrupted|failed
	Limit  int    // optional
}

const runColumns = `id, manifest, output_dir, status, total_lines, downloaded, skipped, errored, malformed, started_at, finished_at`

// ListRuns returns runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, f ListFilter) ([]Run, error) {
	var args []any
	sb := strings.Builder{}
	sb.WriteString("SELECT " + runColumns + " FROM runs")
	if f.Status != "" {
		sb.WriteString(" WHERE status = ?")
		args = append(args, normalizeStatus(f.Status))
	}
	sb.WriteString(" ORDER BY started_at DESC, id DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Run, 0, 16)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	if id == "" {
		return Run{}, false, ErrEmptyRunID
	}
	r, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return r, true, nil
}

// FindRunByPrefix resolves a full or abbreviated run ID. It fails when the
// prefix matches no run or more than one.
func (s *Store) FindRunByPrefix(ctx context.Context, prefix string) (Run, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Run{}, ErrEmptyRunID
	}
	if r, found, err := s.GetRun(ctx, prefix); err != nil || found {
		return r, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id LIKE ? ESCAPE '\\' LIMIT 2", escapeLike(prefix)+"%")
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()
	var found []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}
	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return Run{}, fmt.Errorf("run id prefix %q is ambiguous", prefix)
	}
}

// ListEntries returns a run's entries in manifest order.
func (s *Store) ListEntries(ctx context.Context, runID string) ([]Entry, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, line, name, url, target, outcome, size_bytes, error_message, created_at
FROM entries
WHERE run_id = ?
ORDER BY line ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var name, url, target, errorMessage sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Line, &name, &url, &target, &e.Outcome, &e.SizeBytes, &errorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Name = name.String
		e.URL = url.String
		e.Target = target.String
		e.ErrorMessage = errorMessage.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (Run, error) {
	var r Run
	var finished sql.NullTime
	err := sc.Scan(&r.ID, &r.Manifest, &r.OutputDir, &r.Status,
		&r.Totals.TotalLines, &r.Totals.Downloaded, &r.Totals.Skipped, &r.Totals.Errored, &r.Totals.Malformed,
		&r.StartedAt, &finished)
	if err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case StatusRunning, StatusCompleted, StatusInterrupted, StatusFailed:
		return s
	case "canceled", "cancelled":
		return StatusInterrupted
	case "error":
		return StatusFailed
	default:
		return StatusCompleted
	}
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
