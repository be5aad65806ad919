package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwebster45206/storyforge/pkg/storage"
)

// savedAtFormat has fixed width so saved_at sorts as text.
const savedAtFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteSlots keeps named save slots in a SQLite database.
type SQLiteSlots struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.SlotStore = (*SQLiteSlots)(nil)

// OpenSlots opens or creates the slot database at path.
func OpenSlots(path string, logger *slog.Logger) (*SQLiteSlots, error) {
	if path == "" {
		return nil, fmt.Errorf("empty slots db path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create slots directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open slots db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS slots (
			name TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			title TEXT NOT NULL,
			turns INTEGER NOT NULL,
			saved_at TEXT NOT NULL,
			data BLOB NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize slots db: %w", err)
		}
	}
	logger.Debug("Opened slots db", "path", path)
	return &SQLiteSlots{db: db, logger: logger}, nil
}

func (s *SQLiteSlots) SaveSlot(ctx context.Context, slot storage.Slot, data []byte) error {
	if slot.Name == "" {
		return fmt.Errorf("slot name cannot be empty")
	}
	if slot.SavedAt.IsZero() {
		slot.SavedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slots (name, session_id, title, turns, saved_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			session_id = excluded.session_id,
			title = excluded.title,
			turns = excluded.turns,
			saved_at = excluded.saved_at,
			data = excluded.data`,
		slot.Name, slot.SessionID, slot.Title, slot.Turns, slot.SavedAt.UTC().Format(savedAtFormat), data)
	if err != nil {
		s.logger.Error("Failed to save slot", "slot", slot.Name, "error", err)
		return fmt.Errorf("failed to save slot: %w", err)
	}
	return nil
}

func (s *SQLiteSlots) LoadSlot(ctx context.Context, name string) (storage.Slot, []byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, session_id, title, turns, saved_at, data FROM slots WHERE name = ?`, name)
	var (
		slot    storage.Slot
		savedAt string
		data    []byte
	)
	if err := row.Scan(&slot.Name, &slot.SessionID, &slot.Title, &slot.Turns, &savedAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Slot{}, nil, fmt.Errorf("%w: %s", storage.ErrSlotNotFound, name)
		}
		return storage.Slot{}, nil, fmt.Errorf("failed to load slot: %w", err)
	}
	slot.SavedAt = parseTime(savedAt)
	return slot, data, nil
}

func (s *SQLiteSlots) ListSlots(ctx context.Context) ([]storage.Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, session_id, title, turns, saved_at FROM slots ORDER BY saved_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	slots := []storage.Slot{}
	for rows.Next() {
		var (
			slot    storage.Slot
			savedAt string
		)
		if err := rows.Scan(&slot.Name, &slot.SessionID, &slot.Title, &slot.Turns, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slot.SavedAt = parseTime(savedAt)
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (s *SQLiteSlots) DeleteSlot(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrSlotNotFound, name)
	}
	return nil
}

func (s *SQLiteSlots) Close() error {
	return s.db.Close()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(savedAtFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
