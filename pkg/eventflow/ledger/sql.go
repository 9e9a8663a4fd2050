package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Dialect adapts SQL to a database engine.
type Dialect struct {
	Name       string
	driverName string
	numbered   bool
	schema     []string
}

// DialectSQLite targets modernc.org/sqlite.
var DialectSQLite = Dialect{
	Name:       "sqlite",
	driverName: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS processed_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			item_ref TEXT NOT NULL,
			state TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			cause TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_items_owner ON processed_items(owner, item_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_items_task ON processed_items(task_id)`,
	},
}

// DialectPostgres targets github.com/lib/pq.
var DialectPostgres = Dialect{
	Name:       "postgres",
	driverName: "postgres",
	numbered:   true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS processed_items (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			item_ref TEXT NOT NULL,
			state TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			cause TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_items_owner ON processed_items(owner, item_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_items_task ON processed_items(task_id)`,
	},
}

// rebind rewrites ? placeholders to $n for numbered dialects.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLLedger stores entries in a processed_items table.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	ownsDB  bool
	closed  atomic.Bool
}

// NewSQLLedger wraps an open database. Call Migrate to create the schema.
func NewSQLLedger(db *sql.DB, dialect Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect}
}

// OpenSQLite opens a SQLite ledger at path and creates its schema.
func OpenSQLite(ctx context.Context, path string) (*SQLLedger, error) {
	return open(ctx, DialectSQLite, path)
}

// OpenPostgres connects to PostgreSQL and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLLedger, error) {
	return open(ctx, DialectPostgres, dsn)
}

func open(ctx context.Context, d Dialect, dsn string) (*SQLLedger, error) {
	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", d.Name, err)
	}
	if d.driverName == "sqlite" {
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("open %s ledger: %w", d.Name, err)
		}
	}
	l := &SQLLedger{db: db, dialect: d, ownsDB: true}
	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Migrate creates the table and indexes if they don't exist.
func (l *SQLLedger) Migrate(ctx context.Context) error {
	for _, stmt := range l.dialect.schema {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

// Record implements Ledger.
func (l *SQLLedger) Record(ctx context.Context, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrClosed
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		INSERT INTO processed_items (task_id, owner, item_ref, state, code, cause, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.TaskID, e.Owner, e.ItemRef, string(e.State), e.Code, e.Cause, e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

// Contains implements Ledger.
func (l *SQLLedger) Contains(ctx context.Context, owner, itemRef string) (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}
	var one int
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(
		`SELECT 1 FROM processed_items WHERE owner = ? AND item_ref = ? LIMIT 1`),
		owner, itemRef).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return true, nil
}

// List implements Ledger.
func (l *SQLLedger) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	where, args := l.where(filter)
	query := `SELECT task_id, owner, item_ref, state, code, cause, created_at FROM processed_items` + where
	if filter.Last > 0 {
		query += ` ORDER BY id DESC LIMIT ?`
		args = append(args, filter.Last)
	} else {
		query += ` ORDER BY id`
	}

	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			state   string
			created int64
		)
		if err := rows.Scan(&e.TaskID, &e.Owner, &e.ItemRef, &state, &e.Code, &e.Cause, &created); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.State = operation.State(state)
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	if filter.Last > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// Count implements Ledger.
func (l *SQLLedger) Count(ctx context.Context, filter Filter) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	where, args := l.where(filter)
	var n int
	if err := l.db.QueryRowContext(ctx, l.dialect.rebind(`SELECT COUNT(*) FROM processed_items`+where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Close implements Ledger. The database is closed only if the ledger
// opened it.
func (l *SQLLedger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if l.ownsDB {
		return l.db.Close()
	}
	return nil
}

func (l *SQLLedger) where(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.TaskID != "" {
		conds = append(conds, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, f.Owner)
	}
	if f.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(f.State))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
