package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mpataki/nfwatch/internal/models"
)

var ErrNotFound = errors.New("execution not found")

// Record is one stored execution. Text streams are not kept: they stay in
// the run directory and are re-read on demand.
type Record struct {
	Key       string
	Pipeline  string
	Execution *models.Execution
	UpdatedAt time.Time
}

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		run_name TEXT NOT NULL DEFAULT '',
		pipeline TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL,
		command TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		return_code INTEGER,
		pid INTEGER,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		execution_id TEXT NOT NULL REFERENCES executions(id),
		hash TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		exit TEXT,
		started_at TIMESTAMP,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		workdir TEXT,
		PRIMARY KEY (execution_id, hash)
	);

	CREATE INDEX IF NOT EXISTS idx_executions_location ON executions(location);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateExecution records a new execution and returns its key.
func (s *Storage) CreateExecution(pipeline string, exec *models.Execution) (string, error) {
	key := uuid.NewString()
	command, err := encodeCommand(exec.Command)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(
		`INSERT INTO executions (id, run_name, pipeline, location, command, status, pid, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, exec.ID, pipeline, exec.Location, command, string(exec.Status), exec.PID, nullTime(exec.StartedAt), time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert execution: %w", err)
	}
	return key, s.SaveSnapshot(key, exec)
}

// SaveSnapshot overwrites the stored state of key with exec.
func (s *Storage) SaveSnapshot(key string, exec *models.Execution) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	command, err := encodeCommand(exec.Command)
	if err != nil {
		return err
	}

	result, err := tx.Exec(
		`UPDATE executions SET run_name = ?, location = ?, command = ?, status = ?, return_code = ?, pid = ?,
		 started_at = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		exec.ID, exec.Location, command, string(exec.Status), exec.ReturnCode, exec.PID,
		nullTime(exec.StartedAt), exec.FinishedAt, time.Now(), key,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	for i, t := range exec.Tasks() {
		_, err := tx.Exec(
			`INSERT INTO tasks (execution_id, hash, seq, name, status, exit, started_at, duration_ns, workdir)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(execution_id, hash) DO UPDATE SET
			   name = excluded.name, status = excluded.status, exit = excluded.exit,
			   started_at = excluded.started_at, duration_ns = excluded.duration_ns, workdir = excluded.workdir`,
			key, t.Hash, i, t.Name, string(t.Status), t.Exit, t.StartedAt, int64(t.Duration), t.Workdir,
		)
		if err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.Hash, err)
		}
	}

	return tx.Commit()
}

const selectExecution = `SELECT id, run_name, pipeline, location, command, status, return_code, pid, started_at, finished_at, updated_at
	FROM executions`

// GetExecution loads an execution and its tasks. ref may be the full key,
// a unique key prefix or a run name; the most recent match wins.
func (s *Storage) GetExecution(ref string) (*Record, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(
		selectExecution+` WHERE id = ? OR id LIKE ? OR run_name = ? ORDER BY started_at DESC LIMIT 1`,
		ref, ref+"%", ref,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadTasks(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindByLocation returns the latest execution recorded for a run directory.
func (s *Storage) FindByLocation(location string) (*Record, error) {
	row := s.db.QueryRow(selectExecution+` WHERE location = ? ORDER BY started_at DESC LIMIT 1`, location)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadTasks(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListExecutions returns the newest executions first, without tasks.
func (s *Storage) ListExecutions(limit int) ([]*Record, error) {
	rows, err := s.db.Query(selectExecution+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Storage) DeleteExecution(key string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tasks WHERE execution_id = ?`, key); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM executions WHERE id = ?`, key)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return tx.Commit()
}

func (s *Storage) loadTasks(rec *Record) error {
	rows, err := s.db.Query(
		`SELECT hash, name, status, exit, started_at, duration_ns, workdir
		 FROM tasks WHERE execution_id = ? ORDER BY seq`, rec.Key,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	var tasks []*models.TaskExecution
	for rows.Next() {
		var t models.TaskExecution
		var status string
		var exit, workdir sql.NullString
		var startedAt sql.NullTime
		var duration int64

		if err := rows.Scan(&t.Hash, &t.Name, &status, &exit, &startedAt, &duration, &workdir); err != nil {
			return err
		}
		t.Status = models.ParseTaskStatus(status)
		t.Exit = exit.String
		t.Workdir = workdir.String
		t.Duration = time.Duration(duration)
		if startedAt.Valid {
			t.StartedAt = &startedAt.Time
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rec.Execution = rec.Execution.MergeTasks(tasks)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var exec models.Execution
	var status string
	var command sql.NullString
	var returnCode, pid sql.NullInt64
	var startedAt, finishedAt, updatedAt sql.NullTime

	err := row.Scan(
		&rec.Key, &exec.ID, &rec.Pipeline, &exec.Location, &command, &status,
		&returnCode, &pid, &startedAt, &finishedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = models.ExecStatus(status)
	if command.Valid && command.String != "" {
		if err := json.Unmarshal([]byte(command.String), &exec.Command); err != nil {
			return nil, fmt.Errorf("failed to decode command: %w", err)
		}
	}
	if returnCode.Valid {
		code := int(returnCode.Int64)
		exec.ReturnCode = &code
	}
	if pid.Valid {
		exec.PID = int(pid.Int64)
	}
	if startedAt.Valid {
		exec.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		exec.FinishedAt = &finishedAt.Time
		exec.Elapsed = finishedAt.Time.Sub(exec.StartedAt)
	}
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}

	rec.Execution = &exec
	return &rec, nil
}

func encodeCommand(args []string) (*string, error) {
	if args == nil {
		return nil, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if time.Since(t) > 7*24*time.Hour {
		return t.Format("Jan 2")
	}
	return humanize.Time(t)
}
