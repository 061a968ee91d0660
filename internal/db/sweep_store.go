package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/dolphin-sweep/internal/sweep"
)

// SweepStore persists sweep history. It implements sweep.Persister.
type SweepStore struct {
	db *sql.DB
}

var _ sweep.Persister = (*SweepStore)(nil)

// NewSweepStore creates a new SweepStore.
func NewSweepStore(db *DB) *SweepStore {
	return &SweepStore{db: db.DB}
}

// CreateSweep inserts the record written when a sweep starts.
func (s *SweepStore) CreateSweep(rec sweep.SweepRecord) error {
	query := `
		INSERT INTO sweeps (sweep_id, mode, status, config_json, input_order, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	cfg := string(rec.Config)
	if cfg == "" {
		cfg = "{}"
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.SweepID,
			string(rec.Mode),
			string(rec.Status),
			cfg,
			rec.InputOrder,
			rec.StartedAt.UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting sweep %s: %w", rec.SweepID, err)
	}
	return nil
}

// RecordStep appends one step result to a sweep.
func (s *SweepStore) RecordStep(sweepID string, res sweep.StepResult) error {
	query := `
		INSERT INTO sweep_steps (
			sweep_id, phase, artifact, log_path, command,
			block_size_gb, stride_factor, threads_per_worker, slice_count,
			exit_code, started_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	c := res.Combination
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			sweepID,
			string(res.Phase),
			nullStr(res.Artifact),
			nullStr(res.LogPath),
			nullStr(res.Command),
			nullInt(c.BlockSizeGB),
			nullInt(c.StrideFactor),
			nullInt(c.ThreadsPerWorker),
			nullInt(c.SliceCount),
			res.ExitCode,
			res.StartedAt.UTC().Format(time.RFC3339Nano),
			res.Duration.Milliseconds(),
			nullStr(res.ErrorString()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting %s step for sweep %s: %w", res.Phase, sweepID, err)
	}
	return nil
}

// CompleteSweep sets the final status of a sweep.
func (s *SweepStore) CompleteSweep(sweepID string, status sweep.SweepStatus, errMsg string, completedAt time.Time) error {
	query := `UPDATE sweeps SET status = ?, error = ?, completed_at = ? WHERE sweep_id = ?`
	var affected int64
	err := retryOnBusy(func() error {
		result, err := s.db.Exec(query,
			string(status),
			nullStr(errMsg),
			completedAt.UTC().Format(time.RFC3339),
			sweepID,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("completing sweep %s: %w", sweepID, err)
	}
	if affected == 0 {
		return fmt.Errorf("completing sweep %s: %w", sweepID, sql.ErrNoRows)
	}
	return nil
}

// GetSweep returns a single sweep record by ID, or nil if it does not exist.
func (s *SweepStore) GetSweep(sweepID string) (*sweep.SweepRecord, error) {
	query := `
		SELECT sweep_id, mode, status, config_json, input_order, error, started_at, completed_at
		FROM sweeps
		WHERE sweep_id = ?
	`
	var rec sweep.SweepRecord
	var mode, status, cfg string
	var errMsg, completedAt sql.NullString
	var startedAt string

	err := s.db.QueryRow(query, sweepID).Scan(
		&rec.SweepID, &mode, &status, &cfg, &rec.InputOrder, &errMsg, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sweep %s: %w", sweepID, err)
	}

	rec.Mode = sweep.Mode(mode)
	rec.Status = sweep.SweepStatus(status)
	rec.Config = json.RawMessage(cfg)
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at for sweep %s: %w", sweepID, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at for sweep %s: %w", sweepID, err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// SweepSummary is a lightweight view of a sweep for list output.
type SweepSummary struct {
	SweepID     string     `json:"sweep_id"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	InputOrder  string     `json:"input_order"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Runs        int        `json:"runs"`
	FailedRuns  int        `json:"failed_runs"`
}

// ListSweeps returns recent sweeps, most recent first.
func (s *SweepStore) ListSweeps(limit int) ([]SweepSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT s.sweep_id, s.mode, s.status, s.input_order, s.error, s.started_at, s.completed_at,
		       COUNT(st.id),
		       COALESCE(SUM(CASE WHEN st.error IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM sweeps s
		LEFT JOIN sweep_steps st ON st.sweep_id = s.sweep_id AND st.phase = 'run'
		GROUP BY s.id
		ORDER BY s.started_at DESC, s.id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []SweepSummary
	for rows.Next() {
		var rec SweepSummary
		var errMsg, completedAt sql.NullString
		var startedAt string

		if err := rows.Scan(&rec.SweepID, &rec.Mode, &rec.Status, &rec.InputOrder, &errMsg,
			&startedAt, &completedAt, &rec.Runs, &rec.FailedRuns); err != nil {
			return nil, fmt.Errorf("scanning sweep row: %w", err)
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for sweep row: %w", err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing completed_at for sweep row: %w", err)
			}
			rec.CompletedAt = &t
		}
		sweeps = append(sweeps, rec)
	}
	return sweeps, rows.Err()
}

// StepRecord is a persisted step result.
type StepRecord struct {
	ID          int64             `json:"id"`
	SweepID     string            `json:"sweep_id"`
	Phase       sweep.Phase       `json:"phase"`
	Artifact    string            `json:"artifact,omitempty"`
	LogPath     string            `json:"log_path,omitempty"`
	Command     string            `json:"command,omitempty"`
	Combination sweep.Combination `json:"combination"`
	ExitCode    int               `json:"exit_code"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
	Error       string            `json:"error,omitempty"`
}

// ListSteps returns the steps of a sweep in the order they ran. With a
// non-empty phase only steps of that phase are returned.
func (s *SweepStore) ListSteps(sweepID string, phase sweep.Phase) ([]StepRecord, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, sweep_id, phase, artifact, log_path, command,
		       block_size_gb, stride_factor, threads_per_worker, slice_count,
		       exit_code, started_at, duration_ms, error
		FROM sweep_steps
		WHERE sweep_id = ?`)
	args := []interface{}{sweepID}
	if phase != "" {
		sb.WriteString(` AND phase = ?`)
		args = append(args, string(phase))
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing steps for sweep %s: %w", sweepID, err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var rec StepRecord
		var phaseStr, startedAt string
		var artifact, logPath, command, errMsg sql.NullString
		var block, stride, threads, slices sql.NullInt64
		var durationMs int64

		if err := rows.Scan(&rec.ID, &rec.SweepID, &phaseStr, &artifact, &logPath, &command,
			&block, &stride, &threads, &slices,
			&rec.ExitCode, &startedAt, &durationMs, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning step row: %w", err)
		}
		rec.Phase = sweep.Phase(phaseStr)
		rec.Artifact = artifact.String
		rec.LogPath = logPath.String
		rec.Command = command.String
		rec.Error = errMsg.String
		rec.Combination = sweep.Combination{
			BlockSizeGB:      int(block.Int64),
			StrideFactor:     int(stride.Int64),
			ThreadsPerWorker: int(threads.Int64),
			SliceCount:       int(slices.Int64),
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for step %d: %w", rec.ID, err)
		}
		steps = append(steps, rec)
	}
	return steps, rows.Err()
}

// DeleteSweep removes a sweep and its steps.
func (s *SweepStore) DeleteSweep(sweepID string) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM sweep_steps WHERE sweep_id = ?`, sweepID); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`DELETE FROM sweeps WHERE sweep_id = ?`, sweepID); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// retryOnBusy retries fn while SQLite reports the database as locked.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	backoff := 20 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var target interface{ Code() int }
	if errors.As(err, &target) {
		// SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
		code := target.Code() & 0xff
		return code == 5 || code == 6
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// nullStr returns nil for empty strings, pointer to string otherwise.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullInt returns nil for zero, used for combination columns of artifacts
// outside the naming template.
func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
