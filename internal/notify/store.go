package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/speakcapture/internal/session"

	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically in time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store journals telemetry events in SQLite
type Store struct {
	db *sql.DB
}

func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  attempt TEXT NOT NULL,
  question INTEGER NOT NULL,
  reason TEXT,
  at TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS events_at ON events(at)`); err != nil {
		return fmt.Errorf("create events index: %w", err)
	}
	return nil
}

// Record inserts one event
func (s *Store) Record(ctx context.Context, ev Event) error {
	const stmt = `INSERT INTO events (id, name, attempt, question, reason, at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		ev.ID,
		ev.Name,
		ev.Attempt,
		ev.Question,
		ev.Reason,
		ev.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) Emit(t session.Telemetry) {
	ev := NewEvent(t)
	if err := s.Record(context.Background(), ev); err != nil {
		slog.Error("Failed to journal telemetry", "event", ev.Name, "error", err)
	}
}

// Toast is a no-op; toasts are not journaled
func (*Store) Toast(session.ToastLevel, string) {}

// Recent returns up to limit events, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, attempt, question, COALESCE(reason, ''), at FROM events ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var at string
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Attempt, &ev.Question, &ev.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.At, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parse event time %q: %w", at, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
