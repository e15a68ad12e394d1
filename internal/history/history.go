// Package history records every provisioning attempt in a local SQLite
// database so failed units can be reviewed across runs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one unit driven through the state machine: a single address
// on sequential platforms or a batch on batched ones.
type Attempt struct {
	ID        int64
	Platform  string
	Addresses []string
	Outcome   Outcome
	Reason    string // Failure reason, empty on success
	StartedAt time.Time
	EndedAt   time.Time
}

type Store struct {
	db *sql.DB
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "provisioner.db"
	}
	return filepath.Join(home, ".provisioner", "history.db")
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		platform TEXT NOT NULL,
		addresses TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_platform ON attempts(platform);
	CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome);
	CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON attempts(started_at);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(a *Attempt) error {
	query := `
	INSERT INTO attempts (platform, addresses, outcome, reason, started_at, ended_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		a.Platform,
		strings.Join(a.Addresses, ","),
		a.Outcome,
		a.Reason,
		a.StartedAt,
		a.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	a.ID, _ = result.LastInsertId()
	return nil
}

// Recent returns the most recent attempts, newest first
func (s *Store) Recent(limit int) ([]Attempt, error) {
	query := `
	SELECT id, platform, addresses, outcome, reason, started_at, ended_at
	FROM attempts
	ORDER BY started_at DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var addresses string
		var reason sql.NullString
		var startedAt, endedAt sql.NullTime

		if err := rows.Scan(&a.ID, &a.Platform, &addresses, &a.Outcome, &reason, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		if addresses != "" {
			a.Addresses = strings.Split(addresses, ",")
		}
		a.Reason = reason.String
		a.StartedAt = startedAt.Time
		a.EndedAt = endedAt.Time
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// Stats returns total, confirmed, and failed attempt counts
func (s *Store) Stats() (total, confirmed, failed int, err error) {
	query := `
	SELECT
		COUNT(*),
		COUNT(CASE WHEN outcome = 'confirmed' THEN 1 END),
		COUNT(CASE WHEN outcome = 'failed' THEN 1 END)
	FROM attempts
	`
	err = s.db.QueryRow(query).Scan(&total, &confirmed, &failed)
	if err != nil {
		err = fmt.Errorf("failed to get stats: %w", err)
	}
	return
}
