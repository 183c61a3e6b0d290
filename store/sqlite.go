// Package store persists the records that must survive a session restart:
// the best score and a log of finished rounds. Everything inside GameState
// resets on restart; this is the one place round outcomes outlive it.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SessionRecord is one finished round.
type SessionRecord struct {
	Score    int       `json:"score"`
	Accuracy float64   `json:"accuracy"`
	Examples int       `json:"examples"`
	TestedAt time.Time `json:"tested_at"`
}

// Store wraps the SQLite database holding cross-session records.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
    CREATE TABLE IF NOT EXISTS session_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        score INTEGER NOT NULL,
        accuracy REAL NOT NULL,
        examples INTEGER NOT NULL,
        tested_at DATETIME NOT NULL
    );
    `
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordSession appends one finished round and reports whether it set a new
// best score.
func (s *Store) RecordSession(rec SessionRecord) (newBest bool, err error) {
	best, err := s.BestScore()
	if err != nil {
		return false, err
	}

	_, err = s.db.Exec(`
        INSERT INTO session_log (score, accuracy, examples, tested_at)
        VALUES (?, ?, ?, ?)`,
		rec.Score, rec.Accuracy, rec.Examples, rec.TestedAt)
	if err != nil {
		return false, err
	}
	return rec.Score > best, nil
}

// BestScore returns the highest score on record, zero when none exists.
func (s *Store) BestScore() (int, error) {
	var best sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(score) FROM session_log`).Scan(&best)
	if err != nil {
		return 0, err
	}
	if !best.Valid {
		return 0, nil
	}
	return int(best.Int64), nil
}

// SessionHistory returns the most recent rounds, newest first.
func (s *Store) SessionHistory(limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(`
        SELECT score, accuracy, examples, tested_at
        FROM session_log
        ORDER BY tested_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]SessionRecord, 0, limit)
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.Score, &rec.Accuracy, &rec.Examples, &rec.TestedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
