package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "IntelHive/internal/errors"
)

// MySQLStore persists jobs and task outcomes in MySQL.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens the database and ensures the schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN cannot be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open MySQL connection")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping MySQL")
	}
	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreFromDB wraps an existing connection pool.
func NewMySQLStoreFromDB(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "db cannot be nil")
	}
	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const jobs = `CREATE TABLE IF NOT EXISTS jobs (
        id VARCHAR(64) PRIMARY KEY,
        user_id BIGINT NOT NULL DEFAULT 0,
        observable VARCHAR(512) NOT NULL,
        observable_type VARCHAR(32) NOT NULL DEFAULT '',
        runtime_configuration TEXT,
        status VARCHAR(32) NOT NULL,
        errors TEXT,
        correlation_id VARCHAR(64) NOT NULL DEFAULT '',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_jobs_status (status),
        INDEX idx_jobs_updated (updated_at)
)`
	const outcomes = `CREATE TABLE IF NOT EXISTS task_outcomes (
        token VARCHAR(64) PRIMARY KEY,
        job_id VARCHAR(64) NOT NULL,
        plugin VARCHAR(100) NOT NULL,
        kind VARCHAR(16) NOT NULL DEFAULT '',
        status VARCHAR(16) NOT NULL,
        errors TEXT,
        started_at BIGINT NOT NULL DEFAULT 0,
        finished_at BIGINT NOT NULL DEFAULT 0,
        INDEX idx_task_outcomes_job (job_id)
)`
	if _, err := s.db.Exec(jobs); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "initialise jobs table")
	}
	if _, err := s.db.Exec(outcomes); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "initialise task_outcomes table")
	}
	return nil
}

// Create implements the Store interface.
func (s *MySQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job cannot be nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "job ID cannot be empty")
	}
	now := time.Now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	runtimeCfg, err := json.Marshal(job.RuntimeConfiguration)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode runtime configuration")
	}
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode job errors")
	}
	const stmt = `INSERT INTO jobs
        (id, user_id, observable, observable_type, runtime_configuration, status, errors, correlation_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		job.ID, job.UserID, job.Observable, job.ObservableType,
		string(runtimeCfg), job.Status, string(errorsJSON), job.CorrelationID,
		job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert job")
	}
	return nil
}

// Get implements the Store interface.
func (s *MySQLStore) Get(ctx context.Context, id string) (*Job, error) {
	const query = `SELECT id, user_id, observable, observable_type, runtime_configuration,
        status, errors, correlation_id, created_at, updated_at FROM jobs WHERE id = ?`
	return s.scanJob(s.db.QueryRowContext(ctx, query, id))
}

func (s *MySQLStore) scanJob(row *sql.Row) (*Job, error) {
	var job Job
	var runtimeCfg, errorsJSON sql.NullString
	err := row.Scan(&job.ID, &job.UserID, &job.Observable, &job.ObservableType,
		&runtimeCfg, &job.Status, &errorsJSON, &job.CorrelationID,
		&job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan job")
	}
	if runtimeCfg.Valid && runtimeCfg.String != "" {
		if err := json.Unmarshal([]byte(runtimeCfg.String), &job.RuntimeConfiguration); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode runtime configuration")
		}
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &job.Errors); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode job errors")
		}
	}
	return &job, nil
}

// SetStatus implements the Store interface. The transition check and the
// update run in one transaction so concurrent transitions cannot cross.
func (s *MySQLStore) SetStatus(ctx context.Context, id string, status Status) (*Job, error) {
	if !IsValidStatus(status) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown job status")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin status transaction")
	}
	defer tx.Rollback()

	var current Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ? FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock job row")
	}
	if current.IsTerminal() {
		return nil, ErrJobTerminal
	}
	if !current.CanTransition(status) {
		return nil, ErrJobConflict
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "update job status")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit status transaction")
	}
	return s.Get(ctx, id)
}

// Fail implements the Store interface.
func (s *MySQLStore) Fail(ctx context.Context, id string, reason string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if reason != "" {
		job.Errors = append(job.Errors, reason)
	}
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode job errors")
	}
	const stmt = `UPDATE jobs SET status = ?, errors = ?, updated_at = ? WHERE id = ? AND status = ?`
	if _, err := s.db.ExecContext(ctx, stmt,
		StatusFailed, string(errorsJSON), time.Now().Unix(), id, job.Status); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mark job failed")
	}
	return nil
}

// AppendOutcome implements the Store interface.
func (s *MySQLStore) AppendOutcome(ctx context.Context, id string, outcome TaskOutcome) error {
	errorsJSON, err := json.Marshal(outcome.Errors)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode outcome errors")
	}
	const stmt = `INSERT INTO task_outcomes
        (token, job_id, plugin, kind, status, errors, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), errors = VALUES(errors), finished_at = VALUES(finished_at)`
	if _, err := s.db.ExecContext(ctx, stmt,
		outcome.Token, id, outcome.Plugin, outcome.Kind, outcome.Status,
		string(errorsJSON), outcome.StartedAt, outcome.FinishedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert task outcome")
	}
	return nil
}

// Outcomes implements the Store interface.
func (s *MySQLStore) Outcomes(ctx context.Context, id string) ([]TaskOutcome, error) {
	const query = `SELECT token, plugin, kind, status, errors, started_at, finished_at
        FROM task_outcomes WHERE job_id = ? ORDER BY finished_at`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query task outcomes")
	}
	defer rows.Close()

	var out []TaskOutcome
	for rows.Next() {
		var outcome TaskOutcome
		var errorsJSON sql.NullString
		if err := rows.Scan(&outcome.Token, &outcome.Plugin, &outcome.Kind, &outcome.Status,
			&errorsJSON, &outcome.StartedAt, &outcome.FinishedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan task outcome")
		}
		if errorsJSON.Valid && errorsJSON.String != "" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &outcome.Errors); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode outcome errors")
			}
		}
		out = append(out, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate task outcomes")
	}
	return out, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
