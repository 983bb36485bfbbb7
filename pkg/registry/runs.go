package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the status of a tracked run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess indicates the run finished every stage.
	RunStatusSuccess RunStatus = "success"
	// RunStatusFailed indicates a stage failed and the run was aborted.
	RunStatusFailed RunStatus = "failed"
)

// Run is one execution of a pipeline step.
type Run struct {
	RunID      string
	JobType    string
	Status     RunStatus
	StartedAt  time.Time
	EndedAt    *time.Time
	ConfigJSON string
	Error      string
}

// RunEvent is a stage-level provenance event within a run.
type RunEvent struct {
	EventID    string
	RunID      string
	OccurredAt time.Time
	Stage      string
	EventType  string
	Detail     string
}

// Event types recorded by the tracker.
const (
	EventTypeStageStarted   = "stage_started"
	EventTypeStageCompleted = "stage_completed"
	EventTypeStageFailed    = "stage_failed"
)

func generateID() string {
	return uuid.NewString()
}

// CreateRun creates a new run in running status with a fresh run ID.
func CreateRun(ctx context.Context, db *DB, jobType string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	run := &Run{
		RunID:     generateID(),
		JobType:   jobType,
		Status:    RunStatusRunning,
		StartedAt: now,
	}

	_, err := db.exec(ctx,
		`INSERT INTO runs (run_id, job_type, status, started_at)
		 VALUES (?, ?, ?, ?)`,
		run.RunID, run.JobType, string(run.Status), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	return run, nil
}

// SetRunConfig stores the run's configuration record (JSON encoded).
func SetRunConfig(ctx context.Context, db *DB, runID string, configJSON string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := db.exec(ctx, `UPDATE runs SET config_json = ? WHERE run_id = ?`, configJSON, runID)
	if err != nil {
		return fmt.Errorf("set run config: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// FinishRun moves a running run to its final status.
//
// A run finishes exactly once; a second call returns ErrRunFinished.
func FinishRun(ctx context.Context, db *DB, runID string, status RunStatus, errMsg string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errCol sql.NullString
	if errMsg != "" {
		errCol = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := db.exec(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, error = ?
		 WHERE run_id = ? AND status = ?`,
		string(status), formatTime(time.Now()), errCol, runID, string(RunStatusRunning))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		if _, getErr := GetRun(ctx, db, runID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("run %s: %w", runID, ErrRunFinished)
	}
	return nil
}

// GetRun retrieves a run by ID.
func GetRun(ctx context.Context, db *DB, runID string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := db.queryRow(ctx,
		`SELECT run_id, job_type, status, started_at, ended_at, config_json, error
		 FROM runs WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first. A limit <= 0 returns all runs.
func ListRuns(ctx context.Context, db *DB, limit int) ([]Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	q := `SELECT run_id, job_type, status, started_at, ended_at, config_json, error
		 FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		status    string
		startedAt string
		endedAt   sql.NullString
		config    sql.NullString
		errMsg    sql.NullString
	)
	if err := row.Scan(&run.RunID, &run.JobType, &status, &startedAt, &endedAt, &config, &errMsg); err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.ConfigJSON = config.String
	run.Error = errMsg.String

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

// RecordRunEvent records a stage event for a run.
func RecordRunEvent(ctx context.Context, db *DB, event RunEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.EventID == "" {
		event.EventID = generateID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	_, err := db.exec(ctx,
		`INSERT INTO run_events (event_id, run_id, occurred_at, stage, event_type, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, formatTime(event.OccurredAt), event.Stage, event.EventType, event.Detail)
	if err != nil {
		return fmt.Errorf("record run event: %w", err)
	}
	return nil
}

// ListRunEvents returns a run's events in occurrence order.
func ListRunEvents(ctx context.Context, db *DB, runID string) ([]RunEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.query(ctx,
		`SELECT event_id, run_id, occurred_at, stage, event_type, detail
		 FROM run_events WHERE run_id = ?
		 ORDER BY occurred_at ASC, event_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []RunEvent
	for rows.Next() {
		var (
			ev         RunEvent
			occurredAt string
			detail     sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.RunID, &occurredAt, &ev.Stage, &ev.EventType, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	return events, nil
}
