package ledger

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processed_messages (
    internet_message_id TEXT PRIMARY KEY,
    marked_at           TEXT NOT NULL
);`

// SQLite stores processed ids one row each, avoiding the whole-set rewrite
// of the snapshot backend on large ledgers.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) a sqlite-backed ledger at path. An
// unopenable or corrupt database logs a warning and degrades to an
// in-memory ledger rather than failing the run.
func OpenSQLite(path string, logger *slog.Logger) Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err == nil {
		_, err = db.Exec(sqliteSchema)
	}
	if err != nil {
		logger.Warn("ledger database unusable, falling back to in-memory set", "path", path, "error", err)
		if db != nil {
			db.Close()
		}
		return newMemory()
	}
	return &SQLite{db: db, logger: logger}
}

func (s *SQLite) IsProcessed(id string) bool {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM processed_messages WHERE internet_message_id = ?`, id,
	).Scan(&one)
	if err != nil && err != sql.ErrNoRows {
		s.logger.Warn("ledger query failed", "error", err)
	}
	return err == nil
}

func (s *SQLite) MarkProcessed(id string) error {
	_, err := s.db.Exec(
		`INSERT INTO processed_messages (internet_message_id, marked_at) VALUES (?, ?)
		 ON CONFLICT(internet_message_id) DO UPDATE SET marked_at = excluded.marked_at`,
		id, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *SQLite) Count() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM processed_messages`).Scan(&n); err != nil {
		s.logger.Warn("ledger count failed", "error", err)
		return 0
	}
	return n
}

func (s *SQLite) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM processed_messages`); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

var _ Ledger = (*SQLite)(nil)
