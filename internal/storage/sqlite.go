package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-ir/internal/models"
)

const sqliteSchemaVersion = 1

// SQLiteStore persists incidents and audit chains in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating when needed) the database at path and migrates its schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serialises writers, which keeps chain appends atomic.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for maintenance tooling and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) init() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, st := range pragmas {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	var userVersion int
	if err := s.db.QueryRow(`PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if userVersion == 0 {
		if err := s.migrateToV1(); err != nil {
			return err
		}
		if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, sqliteSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
		userVersion = sqliteSchemaVersion
	}
	if userVersion != sqliteSchemaVersion {
		return fmt.Errorf("unsupported sqlite schema version %d", userVersion)
	}
	return nil
}

func (s *SQLiteStore) migrateToV1() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS incidents(
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			severity TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			data_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_records(
			policy_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL UNIQUE,
			ts INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			data_json TEXT NOT NULL,
			PRIMARY KEY(policy_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_records(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_type_ts ON audit_records(event_type, ts);`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range ddl {
		if _, err := tx.Exec(st); err != nil {
			return fmt.Errorf("sqlite ddl: %w", err)
		}
	}
	return tx.Commit()
}

// PutIncident upserts the incident snapshot.
func (s *SQLiteStore) PutIncident(ctx context.Context, incident *models.Incident) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents(id, status, severity, created_at, updated_at, data_json)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, severity=excluded.severity,
		   updated_at=excluded.updated_at, data_json=excluded.data_json`,
		incident.ID, string(incident.Status), string(incident.Severity),
		incident.CreatedAt.UnixNano(), incident.UpdatedAt.UnixNano(), string(data),
	)
	return classify(err)
}

// DeleteIncident removes the row of id.
func (s *SQLiteStore) DeleteIncident(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE id=?`, id)
	return classify(err)
}

// LoadIncidents reads every incident ordered by creation.
func (s *SQLiteStore) LoadIncidents(ctx context.Context) ([]*models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data_json FROM incidents ORDER BY created_at, id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var inc models.Incident
		if err := json.Unmarshal([]byte(raw), &inc); err != nil {
			return nil, fmt.Errorf("decode incident: %w", err)
		}
		out = append(out, &inc)
	}
	return out, rows.Err()
}

// PutAuditRecord appends record inside a transaction after checking the chain head.
func (s *SQLiteStore) PutAuditRecord(ctx context.Context, policyID, prevHash string, record models.AuditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	head, seq, err := lastHash(ctx, tx, policyID)
	if err != nil {
		return classify(err)
	}
	if head != prevHash || record.Sequence != seq+1 {
		return fmt.Errorf("%w: policy %s head %d", ErrChainConflict, policyID, seq)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_records(policy_id, seq, id, ts, event_type, actor_id, severity, prev_hash, hash, data_json)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		policyID, record.Sequence, record.ID, record.Timestamp.UnixNano(), record.EventType,
		record.Actor.ID, string(record.Severity), prevHash, record.IntegrityHash, string(data),
	)
	if err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// GetLastHash returns the chain head of policyID.
func (s *SQLiteStore) GetLastHash(ctx context.Context, policyID string) (string, int64, error) {
	hash, seq, err := lastHash(ctx, s.db, policyID)
	return hash, seq, classify(err)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastHash(ctx context.Context, q queryer, policyID string) (string, int64, error) {
	var hash string
	var seq int64
	err := q.QueryRowContext(ctx,
		`SELECT hash, seq FROM audit_records WHERE policy_id=? ORDER BY seq DESC LIMIT 1`, policyID,
	).Scan(&hash, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ZeroHash, 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return hash, seq, nil
}

// ScanAudit pushes time, policy and event-type bounds into SQL and applies the remaining
// criteria in Go.
func (s *SQLiteStore) ScanAudit(ctx context.Context, criteria models.AuditCriteria) ([]models.AuditRecord, error) {
	var where []string
	var args []any
	if !criteria.Start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, criteria.Start.UnixNano())
	}
	if !criteria.End.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, criteria.End.UnixNano())
	}
	if criteria.RetentionPolicyID != "" {
		where = append(where, "policy_id = ?")
		args = append(args, criteria.RetentionPolicyID)
	}
	if len(criteria.EventTypes) > 0 {
		where = append(where, "event_type IN ("+placeholders(len(criteria.EventTypes))+")")
		for _, et := range criteria.EventTypes {
			args = append(args, et)
		}
	}

	query := `SELECT data_json FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec models.AuditRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		if Matches(criteria, rec) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// classify marks busy/locked errors as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "busy") {
		return transient(err)
	}
	return err
}
