package ledger

import (
	"database/sql"
	"time"

	"github.com/mantyx/mantyx/errors"
)

// Store handles persistence of executions
type Store struct {
	db *sql.DB
}

// NewStore creates a new execution store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const executionColumns = `
	id, workload_id, status, started_at, ended_at,
	pid, exit_code, stdout_path, stderr_path,
	error_message, trigger_type, trigger_detail, created_at`

// Create inserts a Pending execution. Called before any process spawn.
func (s *Store) Create(e *Execution) error {
	query := `
		INSERT INTO executions (
			id, workload_id, status, trigger_type, trigger_detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	var detail interface{}
	if e.TriggerDetail != "" {
		detail = e.TriggerDetail
	}

	_, err := s.db.Exec(query,
		e.ID,
		e.WorkloadID,
		string(e.Status),
		string(e.TriggerType),
		detail,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// MarkStarted transitions a Pending execution to Running and records the
// spawn details. Fails if the execution is already terminal.
func (s *Store) MarkStarted(id string, pid int, stdoutPath, stderrPath string) error {
	startedAt := time.Now().UTC()
	query := `
		UPDATE executions
		SET status = ?, started_at = ?, pid = ?, stdout_path = ?, stderr_path = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.Exec(query,
		string(StatusRunning),
		startedAt.Format(time.RFC3339),
		pid,
		stdoutPath,
		stderrPath,
		id,
		string(StatusPending),
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark execution started")
	}
	return s.requireRow(result, id)
}

// Finish transitions an execution to a terminal status. The WHERE guard on
// non-terminal status makes terminal executions immutable: finishing an
// already-finished execution returns an error instead of overwriting it.
func (s *Store) Finish(id string, status Status, exitCode *int, errorMessage string) error {
	if !status.Terminal() {
		return errors.Wrapf(errors.ErrValidation, "status %q is not terminal", status)
	}

	var code interface{}
	if exitCode != nil {
		code = *exitCode
	}
	var msg interface{}
	if errorMessage != "" {
		msg = errorMessage
	}

	query := `
		UPDATE executions
		SET status = ?, ended_at = ?, exit_code = ?, error_message = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := s.db.Exec(query,
		string(status),
		time.Now().UTC().Format(time.RFC3339),
		code,
		msg,
		id,
		string(StatusPending),
		string(StatusRunning),
	)
	if err != nil {
		return errors.Wrap(err, "failed to finish execution")
	}
	return s.requireRow(result, id)
}

// Get retrieves an execution by id.
func (s *Store) Get(id string) (*Execution, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "execution %s", id)
		}
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return e, nil
}

// FindRunning returns the open Running execution for a workload, or nil.
// At most one exists per continuous workload.
func (s *Store) FindRunning(workloadID int64) (*Execution, error) {
	row := s.db.QueryRow(
		`SELECT `+executionColumns+` FROM executions
		 WHERE workload_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		workloadID, string(StatusRunning))

	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find running execution")
	}
	return e, nil
}

// ListByWorkload returns executions for a workload, most recent first.
func (s *Store) ListByWorkload(workloadID int64, limit, offset int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+executionColumns+` FROM executions
		 WHERE workload_id = ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		workloadID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// List returns executions across all workloads, most recent first.
func (s *Store) List(limit, offset int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+executionColumns+` FROM executions
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	return collectExecutions(rows)
}

func (s *Store) requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "execution %s not found or already terminal", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	var status, triggerType, createdAt string
	var startedAt, endedAt, stdoutPath, stderrPath, errorMessage, triggerDetail sql.NullString
	var pid, exitCode sql.NullInt64

	err := row.Scan(
		&e.ID, &e.WorkloadID, &status, &startedAt, &endedAt,
		&pid, &exitCode, &stdoutPath, &stderrPath,
		&errorMessage, &triggerType, &triggerDetail, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.TriggerType = TriggerType(triggerType)
	e.StdoutPath = stdoutPath.String
	e.StderrPath = stderrPath.String
	e.ErrorMessage = errorMessage.String
	e.TriggerDetail = triggerDetail.String

	if pid.Valid {
		p := int(pid.Int64)
		e.PID = &p
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		e.ExitCode = &c
	}

	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for execution %s", e.ID)
	}
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", e.ID)
		}
		e.StartedAt = &t
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339, endedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse ended_at for execution %s", e.ID)
		}
		e.EndedAt = &t
	}

	return &e, nil
}

func collectExecutions(rows *sql.Rows) ([]*Execution, error) {
	var executions []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}
