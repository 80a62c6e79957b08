package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNilDB is returned by [NewAuditLog] when no database handle is given.
var ErrNilDB = errors.New("sqlite: nil database")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA busy_timeout=5000",
}

// AuditLog stores audit entries in a single table indexed by identity and time.
type AuditLog struct {
	db    *sql.DB
	owned bool
}

// Open opens (or creates) the database at path and prepares the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*AuditLog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// One writer at a time. A single connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	l, err := NewAuditLog(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.owned = true
	return l, nil
}

// NewAuditLog wraps an already open database and creates the schema.
func NewAuditLog(ctx context.Context, db *sql.DB) (*AuditLog, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Close closes the database when it was opened by [Open].
func (l *AuditLog) Close() error {
	if l == nil || !l.owned {
		return nil
	}
	return l.db.Close()
}

func (l *AuditLog) Create(ctx context.Context, e audit.Entry) error {
	kind, data, err := audit.MarshalAttempt(e.Attempt)
	if err != nil {
		return fmt.Errorf("sqlite: encode attempt: %w", err)
	}
	ts := e.Timestamp.UTC()
	_, err = l.db.ExecContext(ctx, `INSERT INTO audit_entries (
		id, seq, ts, ts_nanos, user_id, action, method, success, reason, actor,
		ip, device, detail, attempt_kind, attempt_data, prev_hash, hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, int64(e.Seq), ts.Format(time.RFC3339Nano), ts.UnixNano(),
		e.UserID, e.Action, string(e.Method), e.Success, e.Reason, e.Actor,
		e.IP, e.Device, e.Detail, string(kind), data, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *AuditLog) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	q := `SELECT ` + selectColumns + ` FROM audit_entries ORDER BY rowid DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.query(ctx, q, args...)
}

// ByUserID returns the entries of userID at or after since, oldest first.
func (l *AuditLog) ByUserID(ctx context.Context, userID string, since time.Time) ([]audit.Entry, error) {
	return l.query(ctx, `SELECT `+selectColumns+` FROM audit_entries
		WHERE user_id = ? AND ts_nanos >= ? ORDER BY rowid ASC`, userID, nanos(since))
}

// Since returns every entry at or after from, oldest first.
func (l *AuditLog) Since(ctx context.Context, from time.Time) ([]audit.Entry, error) {
	return l.query(ctx, `SELECT `+selectColumns+` FROM audit_entries
		WHERE ts_nanos >= ? ORDER BY rowid ASC`, nanos(from))
}

// Query evaluates f in SQL. Results are newest first, like [audit.Apply].
func (l *AuditLog) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Method != model.MethodNone {
		where = append(where, "method = ?")
		args = append(args, string(f.Method))
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *f.Success)
	}
	if !f.From.IsZero() {
		where = append(where, "ts_nanos >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "ts_nanos <= ?")
		args = append(args, f.To.UnixNano())
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + selectColumns + ` FROM audit_entries`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ts_nanos DESC, seq DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	return l.query(ctx, b.String(), args...)
}

// DeleteBefore removes entries strictly older than cutoff.
func (l *AuditLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE ts_nanos < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (l *AuditLog) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count audit entries: %w", err)
	}
	return n, nil
}

func (l *AuditLog) query(ctx context.Context, q string, args ...any) ([]audit.Entry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read audit entries: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (audit.Entry, error) {
	var (
		e           audit.Entry
		seq         int64
		ts          string
		method      string
		attemptKind string
		attemptData []byte
	)
	if err := rows.Scan(&e.ID, &seq, &ts, &e.UserID, &e.Action, &method, &e.Success,
		&e.Reason, &e.Actor, &e.IP, &e.Device, &e.Detail, &attemptKind, &attemptData,
		&e.PrevHash, &e.Hash); err != nil {
		return audit.Entry{}, fmt.Errorf("sqlite: scan audit entry: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("sqlite: parse timestamp of %s: %w", e.ID, err)
	}
	e.Seq = uint64(seq)
	e.Timestamp = parsed.UTC()
	e.Method = model.Method(method)
	e.Attempt, err = audit.UnmarshalAttempt(model.Method(attemptKind), attemptData)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("sqlite: decode attempt of %s: %w", e.ID, err)
	}
	return e, nil
}

// nanos maps the zero time to the smallest key so unbounded scans match
// every row.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return -1 << 63
	}
	return t.UnixNano()
}
