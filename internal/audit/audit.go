package audit

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store is the durable intrusion audit trail. Room, chat and comment
// state is deliberately memory-only and dies with the process; intrusion
// records are the one thing operators need to review after the fact, so
// they are additionally written here. A write failure is reported to the
// caller but never affects room state.
type Store struct {
	db *sql.DB
}

// Entry is one persisted intrusion record.
type Entry struct {
	ID          int       `json:"id"`
	RoomCode    string    `json:"room_code"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Reason      string    `json:"reason"`
	AttemptedAt time.Time `json:"attempted_at"`
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	logrus.WithField("path", dbPath).Info("Audit trail initialized")
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS intrusions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_code TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL,
		attempted_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intrusions_room_code ON intrusions(room_code);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one intrusion record.
func (s *Store) Record(roomCode, userID, displayName, reason string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO intrusions (room_code, user_id, display_name, reason, attempted_at) VALUES (?, ?, ?, ?, ?)",
		roomCode, userID, displayName, reason, at.UTC(),
	)
	return err
}

// Count returns the total number of recorded intrusions.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM intrusions").Scan(&count)
	return count, err
}

// ListByRoom returns a room's intrusion records, newest first.
func (s *Store) ListByRoom(roomCode string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.Query(
		"SELECT id, room_code, user_id, display_name, reason, attempted_at FROM intrusions WHERE room_code = ? ORDER BY attempted_at DESC LIMIT ?",
		roomCode, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RoomCode, &e.UserID, &e.DisplayName, &e.Reason, &e.AttemptedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
