package plugin

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "IntelHive/internal/errors"
)

// MySQLParameterStore persists parameter values in MySQL.
type MySQLParameterStore struct {
	db *sql.DB
}

// NewMySQLParameterStore opens the database and ensures the schema exists.
func NewMySQLParameterStore(dsn string) (*MySQLParameterStore, error) {
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
	store := &MySQLParameterStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLParameterStoreFromDB wraps an existing connection pool, so the
// parameter store and the job store can share one pool.
func NewMySQLParameterStoreFromDB(db *sql.DB) (*MySQLParameterStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "db cannot be nil")
	}
	store := &MySQLParameterStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLParameterStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS parameter_values (
        plugin VARCHAR(100) NOT NULL,
        parameter VARCHAR(50) NOT NULL,
        owner_id BIGINT NOT NULL DEFAULT 0,
        for_organization BOOLEAN NOT NULL DEFAULT FALSE,
        value TEXT NOT NULL,
        updated_at BIGINT NOT NULL,
        PRIMARY KEY (plugin, parameter, owner_id, for_organization),
        INDEX idx_parameter_values_param (plugin, parameter)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "initialise parameter_values table")
	}
	return nil
}

// Candidates implements the ParameterStore interface.
func (s *MySQLParameterStore) Candidates(ctx context.Context, pluginName, paramName string) ([]ParameterValue, error) {
	const query = `SELECT plugin, parameter, owner_id, for_organization, value, updated_at
        FROM parameter_values WHERE plugin = ? AND parameter = ?`
	rows, err := s.db.QueryContext(ctx, query, pluginName, paramName)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query parameter candidates")
	}
	defer rows.Close()

	var out []ParameterValue
	for rows.Next() {
		var value ParameterValue
		var encoded string
		if err := rows.Scan(&value.Plugin, &value.Parameter, &value.Scope.OwnerID, &value.Scope.ForOrganization, &encoded, &value.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan parameter value")
		}
		if err := json.Unmarshal([]byte(encoded), &value.Value); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode parameter value")
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate parameter values")
	}
	return out, nil
}

// Upsert implements the ParameterStore interface.
func (s *MySQLParameterStore) Upsert(ctx context.Context, value ParameterValue) error {
	if value.Plugin == "" || value.Parameter == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "parameter value needs plugin and parameter names")
	}
	encoded, err := json.Marshal(value.Value)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode parameter value")
	}
	const stmt = `INSERT INTO parameter_values
        (plugin, parameter, owner_id, for_organization, value, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	_, err = s.db.ExecContext(ctx, stmt,
		value.Plugin,
		value.Parameter,
		value.Scope.OwnerID,
		value.Scope.ForOrganization,
		string(encoded),
		time.Now().Unix(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "upsert parameter value")
	}
	return nil
}

// Delete implements the ParameterStore interface.
func (s *MySQLParameterStore) Delete(ctx context.Context, pluginName, paramName string, scope ValueScope) error {
	const stmt = `DELETE FROM parameter_values
        WHERE plugin = ? AND parameter = ? AND owner_id = ? AND for_organization = ?`
	if _, err := s.db.ExecContext(ctx, stmt, pluginName, paramName, scope.OwnerID, scope.ForOrganization); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete parameter value")
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLParameterStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ ParameterStore = (*MySQLParameterStore)(nil)
