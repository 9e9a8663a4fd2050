package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists envelope records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

const envelopeColumns = `envelope_id, root_id, parent_id, kind, event_type, state,
	priority, cursor, envelope, error, attempts, created_at, updated_at`

// NewSQLiteStore opens (or creates) a store at path. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Envelope, task and ledger stores may share one database file.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS envelopes (
			envelope_id TEXT PRIMARY KEY,
			root_id TEXT NOT NULL DEFAULT '',
			parent_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			event_type TEXT NOT NULL,
			state TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			cursor INTEGER,
			envelope BLOB NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_envelopes_state
		ON envelopes(state, priority DESC, created_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.EnvelopeID == "" {
		return ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	var cursor sql.NullInt64
	if rec.Cursor != nil {
		cursor = sql.NullInt64{Int64: int64(*rec.Cursor), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO envelopes (`+envelopeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(envelope_id) DO UPDATE SET
			root_id = excluded.root_id,
			parent_id = excluded.parent_id,
			kind = excluded.kind,
			event_type = excluded.event_type,
			state = excluded.state,
			priority = excluded.priority,
			cursor = excluded.cursor,
			envelope = excluded.envelope,
			error = excluded.error,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at
	`, rec.EnvelopeID, rec.RootID, rec.ParentID, string(rec.Kind), string(rec.EventType),
		string(rec.State), int(rec.Priority), cursor, rec.Envelope, rec.Error, rec.Attempts,
		created.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("save envelope record: %w", err)
	}

	var createdNanos int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM envelopes WHERE envelope_id = ?`, rec.EnvelopeID,
	).Scan(&createdNanos); err != nil {
		return fmt.Errorf("read back envelope record: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdNanos).UTC()
	rec.UpdatedAt = now
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, envelopeID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes WHERE envelope_id = ?`, envelopeID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load envelope record: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	where, args := filterClause(filter)
	query := `SELECT ` + envelopeColumns + ` FROM envelopes` + where +
		` ORDER BY priority DESC, created_at, rowid`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list envelope records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelope records: %w", err)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	where, args := filterClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM envelopes`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count envelope records: %w", err)
	}
	return n, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, envelopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE envelope_id = ?`, envelopeID); err != nil {
		return fmt.Errorf("delete envelope record: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func filterClause(f Filter) (string, []any) {
	var conds []string
	var args []any

	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if f.RootID != "" {
		conds = append(conds, "root_id = ?")
		args = append(args, f.RootID)
	}
	if !f.UpdatedBefore.IsZero() {
		conds = append(conds, "updated_at < ?")
		args = append(args, f.UpdatedBefore.UTC().UnixNano())
	}
	if f.MaxAttempts > 0 {
		conds = append(conds, "attempts < ?")
		args = append(args, f.MaxAttempts)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec                  Record
		kind, evType, state  string
		priority             int
		cursor               sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := sc.Scan(&rec.EnvelopeID, &rec.RootID, &rec.ParentID, &kind, &evType, &state,
		&priority, &cursor, &rec.Envelope, &rec.Error, &rec.Attempts, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Kind = event.ContentKind(kind)
	rec.EventType = event.Type(evType)
	rec.State = State(state)
	rec.Priority = event.Priority(priority)
	if cursor.Valid {
		c := int(cursor.Int64)
		rec.Cursor = &c
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, nil
}
