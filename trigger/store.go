package trigger

import (
	"database/sql"
	"time"

	"github.com/mantyx/mantyx/errors"
)

// Store handles persistence of schedules
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `
	id, workload_id, name, description,
	schedule_type, cron_expression, interval_seconds, timezone,
	is_enabled, last_run_at, next_run_at, run_count,
	timeout_seconds, misfire_grace_seconds, coalesce_runs,
	created_at, updated_at`

const qualifiedScheduleColumns = `
	sc.id, sc.workload_id, sc.name, sc.description,
	sc.schedule_type, sc.cron_expression, sc.interval_seconds, sc.timezone,
	sc.is_enabled, sc.last_run_at, sc.next_run_at, sc.run_count,
	sc.timeout_seconds, sc.misfire_grace_seconds, sc.coalesce_runs,
	sc.created_at, sc.updated_at`

// Create validates and inserts a schedule, filling in its assigned id.
func (s *Store) Create(sched *Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	query := `
		INSERT INTO schedules (
			workload_id, name, description,
			schedule_type, cron_expression, interval_seconds, timezone,
			is_enabled, next_run_at,
			timeout_seconds, misfire_grace_seconds, coalesce_runs,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	result, err := s.db.Exec(query,
		sched.WorkloadID,
		sched.Name,
		nullIfEmpty(sched.Description),
		string(sched.Type),
		nullIfEmpty(sched.CronExpression),
		nullIfZero(sched.IntervalSeconds),
		sched.Timezone,
		boolToInt(sched.IsEnabled),
		nullableTime(sched.NextRunAt),
		nullIfZero(sched.TimeoutSeconds),
		sched.MisfireGraceSeconds,
		boolToInt(sched.Coalesce),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create schedule")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get schedule id")
	}
	sched.ID = id
	sched.CreatedAt = now
	sched.UpdatedAt = now
	return nil
}

// Get retrieves a schedule by id.
func (s *Store) Get(id int64) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "schedule %d", id)
		}
		return nil, errors.Wrap(err, "failed to get schedule")
	}
	return sched, nil
}

// ListByWorkload returns all schedules attached to a workload.
func (s *Store) ListByWorkload(workloadID int64) ([]*Schedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleColumns+` FROM schedules WHERE workload_id = ? ORDER BY id`,
		workloadID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// ListEnabled returns every enabled schedule whose owning workload still
// exists; the engine arms these at startup. Schedules of soft-deleted
// workloads are excluded so a restart does not resurrect their triggers.
func (s *Store) ListEnabled() ([]*Schedule, error) {
	rows, err := s.db.Query(`
		SELECT ` + qualifiedScheduleColumns + `
		FROM schedules sc
		JOIN workloads w ON w.id = sc.workload_id
		WHERE sc.is_enabled = 1 AND w.is_deleted = 0
		ORDER BY sc.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enabled schedules")
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// Update rewrites the recurrence rule and policies of an existing schedule.
func (s *Store) Update(sched *Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	return s.exec(`
		UPDATE schedules
		SET name = ?, description = ?,
		    schedule_type = ?, cron_expression = ?, interval_seconds = ?, timezone = ?,
		    timeout_seconds = ?, misfire_grace_seconds = ?, coalesce_runs = ?,
		    updated_at = ?
		WHERE id = ?`,
		sched.Name,
		nullIfEmpty(sched.Description),
		string(sched.Type),
		nullIfEmpty(sched.CronExpression),
		nullIfZero(sched.IntervalSeconds),
		sched.Timezone,
		nullIfZero(sched.TimeoutSeconds),
		sched.MisfireGraceSeconds,
		boolToInt(sched.Coalesce),
		now(),
		sched.ID,
	)
}

// SetEnabled flips the enabled flag.
func (s *Store) SetEnabled(id int64, enabled bool) error {
	return s.exec(`UPDATE schedules SET is_enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), now(), id)
}

// SetNextRun persists the engine's computed next fire time so a restart can
// detect fires that came due while the daemon was down.
func (s *Store) SetNextRun(id int64, next time.Time) error {
	return s.exec(`UPDATE schedules SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		next.UTC().Format(time.RFC3339), now(), id)
}

// RecordRun bumps the run counter and records the last and next fire times
// after a dispatch.
func (s *Store) RecordRun(id int64, lastRun, nextRun time.Time) error {
	return s.exec(`
		UPDATE schedules
		SET last_run_at = ?, next_run_at = ?, run_count = run_count + 1, updated_at = ?
		WHERE id = ?`,
		lastRun.UTC().Format(time.RFC3339),
		nextRun.UTC().Format(time.RFC3339),
		now(), id)
}

// Delete removes the schedule row.
func (s *Store) Delete(id int64) error {
	return s.exec(`DELETE FROM schedules WHERE id = ?`, id)
}

// DeleteByWorkload removes every schedule attached to a workload. No error
// when there are none.
func (s *Store) DeleteByWorkload(workloadID int64) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE workload_id = ?`, workloadID)
	if err != nil {
		return errors.Wrap(err, "failed to delete schedules")
	}
	return nil
}

func (s *Store) exec(query string, args ...interface{}) error {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update schedule")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrap(errors.ErrNotFound, "schedule")
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

func nullIfZero(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var schedType string
	var createdAt, updatedAt string
	var description, cronExpr, lastRunAt, nextRunAt sql.NullString
	var intervalSeconds, timeoutSeconds sql.NullInt64
	var isEnabled, coalesce int

	err := row.Scan(
		&sched.ID, &sched.WorkloadID, &sched.Name, &description,
		&schedType, &cronExpr, &intervalSeconds, &sched.Timezone,
		&isEnabled, &lastRunAt, &nextRunAt, &sched.RunCount,
		&timeoutSeconds, &sched.MisfireGraceSeconds, &coalesce,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sched.Type = ScheduleType(schedType)
	sched.Description = description.String
	sched.CronExpression = cronExpr.String
	sched.IntervalSeconds = int(intervalSeconds.Int64)
	sched.TimeoutSeconds = int(timeoutSeconds.Int64)
	sched.IsEnabled = isEnabled != 0
	sched.Coalesce = coalesce != 0

	if sched.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for schedule %d", sched.ID)
	}
	if sched.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for schedule %d", sched.ID)
	}

	for _, opt := range []struct {
		src  sql.NullString
		dest **time.Time
	}{
		{lastRunAt, &sched.LastRunAt},
		{nextRunAt, &sched.NextRunAt},
	} {
		if !opt.src.Valid {
			continue
		}
		t, err := time.Parse(time.RFC3339, opt.src.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse timestamp for schedule %d", sched.ID)
		}
		*opt.dest = &t
	}

	return &sched, nil
}

func collectSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}
