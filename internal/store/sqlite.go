package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/quantmesh/sentinel/internal/errdefs"
)

// SQLite is a Store backed by a local SQLite database. It offers the
// same primitives as the Redis backend for single-node deployments
// where running a separate server is not worth the trouble.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database at path and runs
// schema migrations.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate creates all required tables if they do not already exist.
func (s *SQLite) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_hash (
    key TEXT NOT NULL,
    field TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (key, field)
);

CREATE TABLE IF NOT EXISTS kv_list (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_list_key ON kv_list(key);
`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value at key, or errdefs.ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("key %s: %w", key, errdefs.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return v, nil
}

// Set writes the value at key.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return nil
}

// Delete removes key from every namespace.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	for _, q := range []string{
		"DELETE FROM kv WHERE key = ?",
		"DELETE FROM kv_hash WHERE key = ?",
		"DELETE FROM kv_list WHERE key = ?",
	} {
		if _, err := s.db.ExecContext(ctx, q, key); err != nil {
			return fmt.Errorf("delete %s: %w: %v", key, errdefs.ErrStore, err)
		}
	}
	return nil
}

// HGet returns a single hash field.
func (s *SQLite) HGet(ctx context.Context, key, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_hash WHERE key = ? AND field = ?", key, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("hash %s field %s: %w", key, field, errdefs.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("hget %s %s: %w: %v", key, field, errdefs.ErrStore, err)
	}
	return v, nil
}

// HSet writes a single hash field.
func (s *SQLite) HSet(ctx context.Context, key, field, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?) ON CONFLICT(key, field) DO UPDATE SET value = excluded.value",
		key, field, value)
	if err != nil {
		return fmt.Errorf("hset %s %s: %w: %v", key, field, errdefs.ErrStore, err)
	}
	return nil
}

// HGetAll returns all fields of a hash.
func (s *SQLite) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT field, value FROM kv_hash WHERE key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w: %v", key, errdefs.ErrStore, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, fmt.Errorf("hgetall %s: %w: %v", key, errdefs.ErrStore, err)
		}
		out[f] = v
	}
	return out, rows.Err()
}

// Keys returns all keys matching the glob pattern across all namespaces.
func (s *SQLite) Keys(ctx context.Context, pattern string) ([]string, error) {
	like := globToLike(pattern)
	rows, err := s.db.QueryContext(ctx, `
SELECT key FROM kv WHERE key LIKE ? ESCAPE '\'
UNION
SELECT DISTINCT key FROM kv_hash WHERE key LIKE ? ESCAPE '\'
UNION
SELECT DISTINCT key FROM kv_list WHERE key LIKE ? ESCAPE '\'`,
		like, like, like)
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w: %v", pattern, errdefs.ErrStore, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("keys %s: %w: %v", pattern, errdefs.ErrStore, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ListPush prepends value to the list at key. The head of the list is
// the most recently inserted row.
func (s *SQLite) ListPush(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO kv_list (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("lpush %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return nil
}

// ListTrim keeps only the elements between start and stop inclusive,
// counted from the head (newest first).
func (s *SQLite) ListTrim(ctx context.Context, key string, start, stop int64) error {
	limit := int64(-1)
	if stop >= 0 {
		limit = stop - start + 1
		if limit < 0 {
			limit = 0
		}
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM kv_list WHERE key = ? AND id NOT IN (
    SELECT id FROM kv_list WHERE key = ? ORDER BY id DESC LIMIT ? OFFSET ?
)`, key, key, limit, start)
	if err != nil {
		return fmt.Errorf("ltrim %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return nil
}

// ListRange returns the elements between start and stop inclusive,
// counted from the head (newest first).
func (s *SQLite) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	limit := int64(-1)
	if stop >= 0 {
		limit = stop - start + 1
		if limit < 0 {
			limit = 0
		}
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT value FROM kv_list WHERE key = ? ORDER BY id DESC LIMIT ? OFFSET ?",
		key, limit, start)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w: %v", key, errdefs.ErrStore, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("lrange %s: %w: %v", key, errdefs.ErrStore, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// globToLike converts a Redis-style glob pattern to a SQL LIKE pattern,
// escaping LIKE metacharacters in the literal parts.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
