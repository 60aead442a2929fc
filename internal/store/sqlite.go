package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"keydance/internal/chatter"
	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// Store represents the SQLite store. It satisfies mode.Persister and
// chatter.Sink.
type Store struct {
	db *sql.DB

	// onError receives chatter insert failures; Emit has no error return.
	mu      sync.Mutex
	onError func(error)
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// OnError sets the callback for errors that cannot be returned to a caller.
func (s *Store) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Load returns the persisted config byte, or zero if none was ever saved.
func (s *Store) Load() (byte, error) {
	var raw int64
	err := s.db.QueryRow("SELECT raw FROM user_config WHERE id = 1").Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("load user config: %w", err)
	}
	return byte(raw), nil
}

// Save writes the config byte. It is synchronous.
func (s *Store) Save(raw byte) error {
	_, err := s.db.Exec(`
		INSERT INTO user_config (id, raw, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET raw = excluded.raw, updated_at = excluded.updated_at`,
		int64(raw), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save user config: %w", err)
	}
	return nil
}

// UpdatedAt returns when the config byte was last saved.
func (s *Store) UpdatedAt() (time.Time, error) {
	var ns int64
	err := s.db.QueryRow("SELECT updated_at FROM user_config WHERE id = 1").Scan(&ns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("load user config: %w", err)
	}
	return time.Unix(0, ns), nil
}

// InsertChatter stores one chatter record and returns its ID.
func (s *Store) InsertChatter(r chatter.Record) (int64, error) {
	deltas, err := json.Marshal(r.Deltas)
	if err != nil {
		return 0, fmt.Errorf("marshal deltas: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO chatter_events (recorded_at, key_code, pressed, deltas)
		VALUES (?, ?, ?, ?)`,
		time.Now().UnixNano(), int64(r.Key), r.Pressed, string(deltas),
	)
	if err != nil {
		return 0, fmt.Errorf("insert chatter: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Emit implements chatter.Sink. It must only be called off the event loop,
// behind a chatter.ChanSink.
func (s *Store) Emit(r chatter.Record) {
	if _, err := s.InsertChatter(r); err != nil {
		s.mu.Lock()
		fn := s.onError
		s.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}
}

// RecentChatter returns up to limit chatter rows, newest first.
func (s *Store) RecentChatter(limit int) ([]ChatterRow, error) {
	rows, err := s.db.Query(`
		SELECT id, recorded_at, key_code, pressed, deltas
		FROM chatter_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chatter: %w", err)
	}
	defer rows.Close()
	return scanChatter(rows)
}

// ChatterCounts returns the number of stored chatter records per key.
func (s *Store) ChatterCounts() (map[keycode.KeyID]int, error) {
	rows, err := s.db.Query("SELECT key_code, COUNT(*) FROM chatter_events GROUP BY key_code")
	if err != nil {
		return nil, fmt.Errorf("count chatter: %w", err)
	}
	defer rows.Close()

	counts := make(map[keycode.KeyID]int)
	for rows.Next() {
		var code int64
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("scan chatter count: %w", err)
		}
		counts[keycode.KeyID(code)] = n
	}
	return counts, rows.Err()
}

func scanChatter(rows *sql.Rows) ([]ChatterRow, error) {
	var out []ChatterRow
	for rows.Next() {
		var row ChatterRow
		var at, code int64
		var deltas string
		if err := rows.Scan(&row.ID, &at, &code, &row.Pressed, &deltas); err != nil {
			return nil, fmt.Errorf("scan chatter: %w", err)
		}
		row.RecordedAt = time.Unix(0, at)
		row.Key = keycode.KeyID(code)
		var ds []tick.Duration
		if err := json.Unmarshal([]byte(deltas), &ds); err != nil {
			return nil, fmt.Errorf("decode deltas: %w", err)
		}
		row.Deltas = ds
		out = append(out, row)
	}
	return out, rows.Err()
}
