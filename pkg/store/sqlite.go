package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Turn is one entry of a user's conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Greeting seeds every new user's history so the first prompt always has at
// least one assistant turn.
const Greeting = "Hello! How can I assist you today?"

// SQLiteStore persists profile fields and conversation histories.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the personality database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. Use one shared connection to avoid writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS profiles (
			uid TEXT NOT NULL,
			field TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}',
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY(uid, field)
		);`,
		`CREATE TABLE IF NOT EXISTS histories (
			uid TEXT PRIMARY KEY,
			turns TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init store schema: %w", err)
		}
	}
	return nil
}

// GetField returns the stored mapping for one profile field. A user seen
// for the first time gets all profile fields initialized to empty mappings
// and an empty result back.
func (s *SQLiteStore) GetField(ctx context.Context, uid string, field ProfileField) (map[string]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM profiles WHERE uid = ? AND field = ?`, uid, string(field)).Scan(&data)
	if err == sql.ErrNoRows {
		if err := s.initProfile(ctx, uid); err != nil {
			return nil, err
		}
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile field %s: %w", field, err)
	}

	values := map[string]string{}
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("decode profile field %s: %w", field, err)
	}
	return values, nil
}

// SetField replaces the stored mapping for one profile field.
func (s *SQLiteStore) SetField(ctx context.Context, uid string, field ProfileField, values map[string]string) error {
	if values == nil {
		values = map[string]string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode profile field %s: %w", field, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (uid, field, data, updated_at_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(uid, field) DO UPDATE SET data = excluded.data, updated_at_ms = excluded.updated_at_ms`,
		uid, string(field), string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write profile field %s: %w", field, err)
	}
	return nil
}

func (s *SQLiteStore) initProfile(ctx context.Context, uid string) error {
	now := time.Now().UnixMilli()
	for _, field := range ProfileFields() {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO profiles (uid, field, data, updated_at_ms) VALUES (?, ?, '{}', ?)
			 ON CONFLICT(uid, field) DO NOTHING`,
			uid, string(field), now)
		if err != nil {
			return fmt.Errorf("initialize profile for %s: %w", uid, err)
		}
	}
	return nil
}

// GetHistory returns the ordered conversation history for a user, seeding a
// single greeting turn on first access.
func (s *SQLiteStore) GetHistory(ctx context.Context, uid string) ([]Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM histories WHERE uid = ?`, uid).Scan(&raw)
	if err == sql.ErrNoRows {
		seeded := []Turn{{Role: "assistant", Content: Greeting}}
		if err := s.SetHistory(ctx, uid, seeded); err != nil {
			return nil, err
		}
		return seeded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}

// SetHistory replaces the stored history for a user.
func (s *SQLiteStore) SetHistory(ctx context.Context, uid string, turns []Turn) error {
	if turns == nil {
		turns = []Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO histories (uid, turns, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET turns = excluded.turns, updated_at_ms = excluded.updated_at_ms`,
		uid, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// AppendHistory loads, extends, and rewrites a user's history in order.
func (s *SQLiteStore) AppendHistory(ctx context.Context, uid string, turns ...Turn) error {
	existing, err := s.GetHistory(ctx, uid)
	if err != nil {
		return err
	}
	return s.SetHistory(ctx, uid, append(existing, turns...))
}
