package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// AuditEntry records one keep/delete decision. It is written before any of
// DeletedIDs are removed.
type AuditEntry struct {
	RunID      uuid.UUID   `json:"run_id"`
	Pass       string      `json:"pass"`
	GroupKey   string      `json:"group_key"`
	KeptID     uuid.UUID   `json:"kept_id"`
	DeletedIDs []uuid.UUID `json:"deleted_ids"`
	Reason     string      `json:"reason"`
	Timestamp  time.Time   `json:"timestamp"`
}

// AuditLog is an append-only sink for reconciliation decisions.
type AuditLog interface {
	Append(ctx context.Context, e AuditEntry) error
}

// FileAuditLog writes one JSON document per line.
type FileAuditLog struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func OpenFileAuditLog(path string) (*FileAuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileAuditLog{f: f, enc: json.NewEncoder(f)}, nil
}

func (l *FileAuditLog) Append(_ context.Context, e AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(e); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	// Entries must be durable before the delete they describe.
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

func (l *FileAuditLog) Close() error {
	return l.f.Close()
}

// SQLiteAuditLog keeps decisions in a local SQLite file, queryable after
// the run without access to the main database.
type SQLiteAuditLog struct {
	db *sql.DB
}

func OpenSQLiteAuditLog(ctx context.Context, path string) (*SQLiteAuditLog, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reconciliation_audit (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			pass        TEXT NOT NULL,
			group_key   TEXT NOT NULL,
			kept_id     TEXT NOT NULL,
			deleted_ids TEXT NOT NULL,
			reason      TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite audit store: %w", err)
	}

	return &SQLiteAuditLog{db: db}, nil
}

func (l *SQLiteAuditLog) Append(ctx context.Context, e AuditEntry) error {
	deleted, err := json.Marshal(e.DeletedIDs)
	if err != nil {
		return fmt.Errorf("marshal deleted ids: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO reconciliation_audit (run_id, pass, group_key, kept_id, deleted_ids, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID.String(), e.Pass, e.GroupKey, e.KeptID.String(), string(deleted), e.Reason,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Entries returns the decisions of one run in insertion order.
func (l *SQLiteAuditLog) Entries(ctx context.Context, runID uuid.UUID) ([]AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, pass, group_key, kept_id, deleted_ids, reason, created_at
		FROM reconciliation_audit
		WHERE run_id = ?
		ORDER BY id`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                     AuditEntry
			run, kept, ids, stamp string
		)
		if err := rows.Scan(&run, &e.Pass, &e.GroupKey, &kept, &ids, &e.Reason, &stamp); err != nil {
			return nil, err
		}
		if e.RunID, err = uuid.Parse(run); err != nil {
			return nil, err
		}
		if e.KeptID, err = uuid.Parse(kept); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &e.DeletedIDs); err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteAuditLog) Close() error {
	return l.db.Close()
}

// PgAuditLog stores decisions next to the appointments they describe.
type PgAuditLog struct {
	pool *pgxpool.Pool
}

func NewPgAuditLog(pool *pgxpool.Pool) *PgAuditLog {
	return &PgAuditLog{pool: pool}
}

// EnsureTable creates the audit table on databases that predate it. It does
// not apply the full schema, whose unique index cannot be built until
// duplicates are gone.
func (l *PgAuditLog) EnsureTable(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reconciliation_audit (
			id           BIGSERIAL PRIMARY KEY,
			run_id       UUID NOT NULL,
			pass         TEXT NOT NULL,
			group_key    TEXT NOT NULL,
			kept_id      UUID NOT NULL,
			deleted_ids  UUID[] NOT NULL,
			reason       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

func (l *PgAuditLog) Append(ctx context.Context, e AuditEntry) error {
	deleted := make([]string, len(e.DeletedIDs))
	for i, id := range e.DeletedIDs {
		deleted[i] = id.String()
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO reconciliation_audit (run_id, pass, group_key, kept_id, deleted_ids, reason, created_at)
		VALUES ($1, $2, $3, $4, $5::uuid[], $6, $7)
	`, e.RunID, e.Pass, e.GroupKey, e.KeptID, deleted, e.Reason, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// MultiAudit appends to every log in order and fails if any of them fails.
type MultiAudit []AuditLog

func (m MultiAudit) Append(ctx context.Context, e AuditEntry) error {
	var errs []error
	for _, l := range m {
		if err := l.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func groupKey(parts ...string) string {
	return strings.Join(parts, "|")
}
