package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ServerStatus is the last lifecycle event recorded for a server.
type ServerStatus struct {
	ServerName   string     `json:"server_name"`
	State        string     `json:"state"`
	Outcome      string     `json:"outcome,omitempty"`
	PID          int        `json:"pid,omitempty"`
	LastStarted  *time.Time `json:"last_started,omitempty"`
	LastStopped  *time.Time `json:"last_stopped,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StatusStore persists lifecycle history. The pid file stays the source of
// truth for liveness; this table only remembers what happened.
type StatusStore struct {
	db *sql.DB
}

func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

// RecordStart stores the result of a start attempt.
func (s *StatusStore) RecordStart(name, state, outcome string, pid int, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO server_status (server_name, state, outcome, pid, last_started, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_name) DO UPDATE SET
			state = excluded.state,
			outcome = excluded.outcome,
			pid = excluded.pid,
			last_started = excluded.last_started,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, name, state, outcome, pid, now, errMsg, now)
	if err != nil {
		return fmt.Errorf("failed to record start: %w", err)
	}
	return nil
}

// RecordStop stores the result of a stop attempt.
func (s *StatusStore) RecordStop(name, outcome string, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO server_status (server_name, state, outcome, pid, last_stopped, error_message, updated_at)
		VALUES (?, 'stopped', ?, 0, ?, ?, ?)
		ON CONFLICT(server_name) DO UPDATE SET
			state = 'stopped',
			outcome = excluded.outcome,
			pid = 0,
			last_stopped = excluded.last_stopped,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, name, outcome, now, errMsg, now)
	if err != nil {
		return fmt.Errorf("failed to record stop: %w", err)
	}
	return nil
}

// Get returns the stored status, or nil when none was recorded.
func (s *StatusStore) Get(name string) (*ServerStatus, error) {
	var (
		st          ServerStatus
		outcome     sql.NullString
		pid         sql.NullInt64
		lastStarted sql.NullTime
		lastStopped sql.NullTime
		errMsg      sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT server_name, state, outcome, pid, last_started, last_stopped, error_message, updated_at
		FROM server_status WHERE server_name = ?
	`, name).Scan(&st.ServerName, &st.State, &outcome, &pid, &lastStarted, &lastStopped, &errMsg, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status: %w", err)
	}
	st.Outcome = outcome.String
	st.PID = int(pid.Int64)
	st.ErrorMessage = errMsg.String
	if lastStarted.Valid {
		t := lastStarted.Time
		st.LastStarted = &t
	}
	if lastStopped.Valid {
		t := lastStopped.Time
		st.LastStopped = &t
	}
	return &st, nil
}

// ScheduleRun is one execution of a scheduled action.
type ScheduleRun struct {
	ID           int64      `json:"id"`
	ServerName   string     `json:"server_name"`
	Action       string     `json:"action"`
	Cron         string     `json:"cron"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// BeginScheduleRun records that a scheduled action started and returns its id.
func (s *StatusStore) BeginScheduleRun(name, action, cron string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO schedule_runs (server_name, action, cron, started_at) VALUES (?, ?, ?, ?)
	`, name, action, cron, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to record schedule run: %w", err)
	}
	return res.LastInsertId()
}

// FinishScheduleRun stores the outcome of a scheduled action.
func (s *StatusStore) FinishScheduleRun(id int64, outcome, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE schedule_runs SET finished_at = ?, outcome = ?, error_message = ? WHERE id = ?
	`, time.Now().UTC(), outcome, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish schedule run: %w", err)
	}
	return nil
}

// ScheduleRuns returns the most recent runs for a server.
func (s *StatusStore) ScheduleRuns(name string, limit int) ([]ScheduleRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, server_name, action, cron, started_at, finished_at, outcome, error_message
		FROM schedule_runs WHERE server_name = ? ORDER BY started_at DESC, id DESC LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule runs: %w", err)
	}
	defer rows.Close()

	runs := make([]ScheduleRun, 0)
	for rows.Next() {
		var (
			run      ScheduleRun
			finished sql.NullTime
			outcome  sql.NullString
			errMsg   sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.ServerName, &run.Action, &run.Cron, &run.StartedAt, &finished, &outcome, &errMsg); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		run.Outcome = outcome.String
		run.ErrorMessage = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
