package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// SQLite is a Store persisted in a SQLite database.
// Mapping entries live in their own rows, so MergeFields from
// concurrent writers only ever touches the rows it was given.
type SQLite struct {
	db *sql.DB
	mu sync.RWMutex
}

// memSeq names in-memory databases so each open gets its own.
var memSeq atomic.Uint64

// OpenSQLite opens (or creates) the store at dbPath.
// ":memory:" opens a private in-memory database.
func OpenSQLite(dbPath string) (*SQLite, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = fmt.Sprintf("file:feedfilter-%d?mode=memory&cache=shared", memSeq.Add(1))
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// In-memory databases are per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &SQLite{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv_fields (
		key TEXT NOT NULL,
		field TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (key, field)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(keys) == 0 {
		all, err := s.allKeys(ctx)
		if err != nil {
			return nil, err
		}
		keys = all
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var value []byte
		err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
		switch {
		case err == nil:
			out[key] = value
			continue
		case err != sql.ErrNoRows:
			return nil, fmt.Errorf("get %s: %w", key, err)
		}

		fields, found, err := s.fields(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("assemble %s: %w", key, err)
		}
		out[key] = data
	}
	return out, nil
}

func (s *SQLite) allKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv UNION SELECT DISTINCT key FROM kv_fields")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) fields(ctx context.Context, key string) (map[string]json.RawMessage, bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT field, value FROM kv_fields WHERE key = ?", key)
	if err != nil {
		return nil, false, fmt.Errorf("get fields %s: %w", key, err)
	}
	defer rows.Close()

	fields := make(map[string]json.RawMessage)
	found := false
	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return nil, false, fmt.Errorf("scan field: %w", err)
		}
		fields[name] = value
		found = true
	}
	return fields, found, rows.Err()
}

func (s *SQLite) Set(ctx context.Context, values map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv_fields WHERE key = ?", key); err != nil {
				return fmt.Errorf("clear fields %s: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
				key, []byte(value)); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *SQLite) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("remove keys: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv_fields WHERE key IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("remove fields: %w", err)
		}
		return nil
	})
}

func (s *SQLite) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv"); err != nil {
			return fmt.Errorf("clear kv: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv_fields"); err != nil {
			return fmt.Errorf("clear fields: %w", err)
		}
		return nil
	})
}

func (s *SQLite) MergeFields(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var value []byte
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
		switch {
		case err == nil:
			fields = FoldValue(value, fields)
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
				return fmt.Errorf("drop value %s: %w", key, err)
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("read value %s: %w", key, err)
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO kv_fields (key, field, value) VALUES (?, ?, ?) ON CONFLICT(key, field) DO UPDATE SET value = excluded.value")
		if err != nil {
			return fmt.Errorf("prepare merge: %w", err)
		}
		defer stmt.Close()

		for name, value := range fields {
			if _, err := stmt.ExecContext(ctx, key, name, []byte(value)); err != nil {
				return fmt.Errorf("merge %s.%s: %w", key, name, err)
			}
		}
		return nil
	})
}

func (s *SQLite) RemoveFields(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, name := range fields {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv_fields WHERE key = ? AND field = ?", key, name); err != nil {
				return fmt.Errorf("remove %s.%s: %w", key, name, err)
			}
		}
		return nil
	})
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
