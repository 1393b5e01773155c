package workload

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mantyx/mantyx/errors"
)

// Store handles persistence of workloads
type Store struct {
	db *sql.DB
}

// NewStore creates a new workload store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const workloadColumns = `
	id, name, display_name, description, kind, state,
	version, update_count, last_updated_at,
	entrypoint, args, environment,
	restart_policy, max_restarts, restart_window_seconds,
	pid, restart_count, last_restart_at, last_error, last_error_at,
	is_deleted, deleted_at,
	git_url, git_branch, git_commit,
	created_at, updated_at`

// Create inserts a new workload and fills in its assigned id.
func (s *Store) Create(w *Workload) error {
	query := `
		INSERT INTO workloads (
			name, display_name, description, kind, state,
			version, entrypoint, args, environment,
			restart_policy, max_restarts, restart_window_seconds,
			git_url, git_branch, git_commit,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	env, err := marshalEnvironment(w.Environment)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(query,
		w.Name,
		w.DisplayName,
		nullIfEmpty(w.Description),
		string(w.Kind),
		string(w.State),
		w.Version,
		w.Entrypoint,
		nullIfEmpty(w.Args),
		env,
		string(w.RestartPolicy),
		w.MaxRestarts,
		w.RestartWindowSeconds,
		nullIfEmpty(w.GitURL),
		nullIfEmpty(w.GitBranch),
		nullIfEmpty(w.GitCommit),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create workload")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get workload id")
	}
	w.ID = id
	w.CreatedAt = now
	w.UpdatedAt = now
	return nil
}

// GetByID retrieves a workload by id.
func (s *Store) GetByID(id int64) (*Workload, error) {
	row := s.db.QueryRow(`SELECT `+workloadColumns+` FROM workloads WHERE id = ?`, id)
	w, err := scanWorkload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "workload %d", id)
		}
		return nil, errors.Wrap(err, "failed to get workload")
	}
	return w, nil
}

// GetByName retrieves a workload by its unique name.
func (s *Store) GetByName(name string) (*Workload, error) {
	row := s.db.QueryRow(`SELECT `+workloadColumns+` FROM workloads WHERE name = ?`, name)
	w, err := scanWorkload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "workload %q", name)
		}
		return nil, errors.Wrap(err, "failed to get workload")
	}
	return w, nil
}

// List returns all workloads, newest first. Soft-deleted workloads are
// excluded unless includeDeleted is set.
func (s *Store) List(includeDeleted bool) ([]*Workload, error) {
	query := `SELECT ` + workloadColumns + ` FROM workloads`
	if !includeDeleted {
		query += ` WHERE is_deleted = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workloads")
	}
	defer rows.Close()

	return collectWorkloads(rows)
}

// ListByState returns non-deleted workloads in the given state. The monitor
// sweep uses this to find everything believed running.
func (s *Store) ListByState(state State) ([]*Workload, error) {
	rows, err := s.db.Query(
		`SELECT `+workloadColumns+` FROM workloads WHERE state = ? AND is_deleted = 0`,
		string(state))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workloads by state")
	}
	defer rows.Close()

	return collectWorkloads(rows)
}

// SetState updates only the lifecycle state.
func (s *Store) SetState(id int64, state State) error {
	return s.exec(`UPDATE workloads SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), now(), id)
}

// MarkRunning records a successful start: state running plus the OS pid.
func (s *Store) MarkRunning(id int64, pid int) error {
	return s.exec(`UPDATE workloads SET state = ?, pid = ?, updated_at = ? WHERE id = ?`,
		string(StateRunning), pid, now(), id)
}

// MarkStopped clears the pid and moves the workload to stopped.
func (s *Store) MarkStopped(id int64) error {
	return s.exec(`UPDATE workloads SET state = ?, pid = NULL, updated_at = ? WHERE id = ?`,
		string(StateStopped), now(), id)
}

// MarkFailed clears the pid, records the error, and moves to failed.
func (s *Store) MarkFailed(id int64, msg string) error {
	return s.exec(`
		UPDATE workloads
		SET state = ?, pid = NULL, last_error = ?, last_error_at = ?, updated_at = ?
		WHERE id = ?`,
		string(StateFailed), msg, now(), now(), id)
}

// RecordRestart sets the restart counter and timestamp. The supervisor
// computes the new count (including window resets) before calling.
func (s *Store) RecordRestart(id int64, count int, at time.Time) error {
	return s.exec(`
		UPDATE workloads
		SET restart_count = ?, last_restart_at = ?, updated_at = ?
		WHERE id = ?`,
		count, at.UTC().Format(time.RFC3339), now(), id)
}

// RecordUpdate bumps the version after a source replacement.
func (s *Store) RecordUpdate(id int64, version, entrypoint string) error {
	return s.exec(`
		UPDATE workloads
		SET version = ?, entrypoint = ?, update_count = update_count + 1,
		    last_updated_at = ?, updated_at = ?
		WHERE id = ?`,
		version, entrypoint, now(), now(), id)
}

// SoftDelete marks the workload deleted without removing the row.
func (s *Store) SoftDelete(id int64) error {
	return s.exec(`
		UPDATE workloads
		SET is_deleted = 1, deleted_at = ?, state = ?, pid = NULL, updated_at = ?
		WHERE id = ?`,
		now(), string(StateDeleted), now(), id)
}

// HardDelete removes the row; schedules and executions cascade.
func (s *Store) HardDelete(id int64) error {
	return s.exec(`DELETE FROM workloads WHERE id = ?`, id)
}

// exec runs a mutation and converts "no rows touched" into ErrNotFound.
func (s *Store) exec(query string, args ...interface{}) error {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update workload")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrap(errors.ErrNotFound, "workload")
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalEnvironment(env map[string]string) (interface{}, error) {
	if len(env) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal environment")
	}
	return string(data), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkload(row rowScanner) (*Workload, error) {
	var w Workload
	var kind, state, policy string
	var createdAt, updatedAt string
	var description, args, environment sql.NullString
	var lastUpdatedAt, lastRestartAt, lastError, lastErrorAt, deletedAt sql.NullString
	var gitURL, gitBranch, gitCommit sql.NullString
	var pid sql.NullInt64
	var isDeleted int

	err := row.Scan(
		&w.ID, &w.Name, &w.DisplayName, &description, &kind, &state,
		&w.Version, &w.UpdateCount, &lastUpdatedAt,
		&w.Entrypoint, &args, &environment,
		&policy, &w.MaxRestarts, &w.RestartWindowSeconds,
		&pid, &w.RestartCount, &lastRestartAt, &lastError, &lastErrorAt,
		&isDeleted, &deletedAt,
		&gitURL, &gitBranch, &gitCommit,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.Kind = Kind(kind)
	w.State = State(state)
	w.RestartPolicy = RestartPolicy(policy)
	w.Description = description.String
	w.Args = args.String
	w.LastError = lastError.String
	w.GitURL = gitURL.String
	w.GitBranch = gitBranch.String
	w.GitCommit = gitCommit.String
	w.IsDeleted = isDeleted != 0

	if pid.Valid {
		p := int(pid.Int64)
		w.PID = &p
	}

	if environment.Valid && environment.String != "" {
		if err := json.Unmarshal([]byte(environment.String), &w.Environment); err != nil {
			return nil, errors.Wrapf(err, "failed to parse environment for workload %d", w.ID)
		}
	}

	if w.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for workload %d", w.ID)
	}
	if w.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for workload %d", w.ID)
	}

	for _, opt := range []struct {
		src  sql.NullString
		dest **time.Time
	}{
		{lastUpdatedAt, &w.LastUpdatedAt},
		{lastRestartAt, &w.LastRestartAt},
		{lastErrorAt, &w.LastErrorAt},
		{deletedAt, &w.DeletedAt},
	} {
		if !opt.src.Valid {
			continue
		}
		t, err := time.Parse(time.RFC3339, opt.src.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse timestamp for workload %d", w.ID)
		}
		*opt.dest = &t
	}

	return &w, nil
}

func collectWorkloads(rows *sql.Rows) ([]*Workload, error) {
	var workloads []*Workload
	for rows.Next() {
		w, err := scanWorkload(rows)
		if err != nil {
			return nil, err
		}
		workloads = append(workloads, w)
	}
	return workloads, rows.Err()
}
