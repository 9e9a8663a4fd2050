package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists tasks to SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

const taskColumns = `id, type, trigger_name, state, counter, count, capabilities, dry_run,
	cancel_requested, result, params, created_at, started_at, ended_at`

// NewSQLiteStore opens (or creates) a task store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
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
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			trigger_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			counter INTEGER NOT NULL DEFAULT 0,
			count INTEGER,
			capabilities TEXT NOT NULL DEFAULT '{}',
			dry_run INTEGER NOT NULL DEFAULT 0,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '{}',
			params TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			started_at INTEGER NOT NULL DEFAULT 0,
			ended_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_type_trigger
		ON tasks(type, trigger_name, state)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying handle, for example to build a SQLTransactor
// sharing the task database.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) error {
	if t == nil || t.ID == "" || t.Type == "" {
		return ErrInvalidTask
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, args...)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrExists
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return t, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		conds []string
		args  []any
	)
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Trigger != "" {
		conds = append(conds, "trigger_name = ?")
		args = append(args, filter.Trigger)
	}
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "state IN ("+strings.Join(marks, ", ")+")")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	// id, type and created_at are immutable.
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			trigger_name = ?, state = ?, counter = ?, count = ?, capabilities = ?,
			dry_run = ?, cancel_requested = MAX(cancel_requested, ?), result = ?,
			params = ?, started_at = ?, ended_at = ?
		WHERE id = ?
	`, args[2], args[3], args[4], args[5], args[6], args[7], args[8], args[9],
		args[10], args[12], args[13], t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Checkpoint implements Store.
func (s *SQLiteStore) Checkpoint(ctx context.Context, id string, counter int64, count *int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	var cancel bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET counter = ?, count = COALESCE(?, count)
		WHERE id = ?
		RETURNING cancel_requested
	`, counter, nullInt(count), id).Scan(&cancel)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("checkpoint task: %w", err)
	}
	return cancel, nil
}

// RequestCancel implements Store.
func (s *SQLiteStore) RequestCancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET cancel_requested = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
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

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// taskArgs returns the values of taskColumns for t.
func taskArgs(t *Task) ([]any, error) {
	caps, err := json.Marshal(t.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("encode capabilities: %w", err)
	}
	result, err := json.Marshal(t.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	params, err := json.Marshal(t.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return []any{
		t.ID, t.Type, t.Trigger, string(t.State), t.Counter, nullInt(t.Count),
		string(caps), t.DryRun, t.CancelRequested, string(result), string(params),
		nanos(t.CreatedAt), nanos(t.StartedAt), nanos(t.EndedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	var (
		t                            Task
		state                        string
		count                        sql.NullInt64
		caps, result, params         string
		created, started, endedNanos int64
	)
	if err := sc.Scan(&t.ID, &t.Type, &t.Trigger, &state, &t.Counter, &count, &caps,
		&t.DryRun, &t.CancelRequested, &result, &params, &created, &started, &endedNanos); err != nil {
		return nil, err
	}
	t.State = State(state)
	if count.Valid {
		n := count.Int64
		t.Count = &n
	}
	if err := json.Unmarshal([]byte(caps), &t.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	var res operation.Result
	if err := json.Unmarshal([]byte(result), &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	t.Result = res
	if params != "null" {
		if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	t.CreatedAt = fromNanos(created)
	t.StartedAt = fromNanos(started)
	t.EndedAt = fromNanos(endedNanos)
	return &t, nil
}
