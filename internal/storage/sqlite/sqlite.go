package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"time"

	"github.com/goodtune/playlimit/internal/storage"
	_ "modernc.org/sqlite"
)

// Store implements storage.Ledger on top of a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies any pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := storage.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn, err := buildDSN(path)
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes every reader and writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// buildDSN turns path into a SQLite URI filename. Characters such as '?'
// and '#' are percent-encoded so they stay part of the file name.
func buildDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "synchronous(NORMAL)")

	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: query.Encode(),
	}
	return u.String(), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts one period. A zero timestamp lets the column default fill it in.
func (s *Store) Append(ctx context.Context, userID string, minutes int64, at time.Time) error {
	if err := storage.ValidateAppend(userID, minutes); err != nil {
		return err
	}

	var ts any
	if !at.IsZero() {
		ts = at.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (user_id, length_minutes, created_at)
		VALUES (?, ?, COALESCE(?, CAST(strftime('%s', 'now') AS INTEGER)))
	`, userID, minutes, ts)
	return storage.Wrap("append period", err)
}

// SumSince returns the minutes recorded for userID at or after since.
func (s *Store) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(length_minutes), 0)
		FROM periods
		WHERE user_id = ? AND created_at >= ?
	`, userID, since.Unix()).Scan(&total)
	if err != nil {
		return 0, storage.Wrap("sum periods", err)
	}
	return total, nil
}

// GroupedSumSince returns per-user minutes recorded at or after since.
func (s *Store) GroupedSumSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, SUM(length_minutes)
		FROM periods
		WHERE created_at >= ?
		GROUP BY user_id
	`, since.Unix())
	if err != nil {
		return nil, storage.Wrap("group periods", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var userID string
		var total int64
		if err := rows.Scan(&userID, &total); err != nil {
			return nil, storage.Wrap("scan grouped period", err)
		}
		totals[userID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("iterate grouped periods", err)
	}

	return totals, nil
}

// runMigrations applies all database migrations
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	// Map iteration order is random; migrations must run in version order.
	migrations := getMigrations()
	versions := make([]int, 0, len(migrations))
	for version := range migrations {
		versions = append(versions, version)
	}
	sort.Ints(versions)

	for _, version := range versions {
		if version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(migrations[version]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}

	return nil
}

// getMigrations returns all database migrations
func getMigrations() map[int]string {
	return map[int]string{
		1: migration001Periods,
	}
}

const migration001Periods = `
CREATE TABLE IF NOT EXISTS periods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	length_minutes INTEGER NOT NULL CHECK (length_minutes >= 1),
	created_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s', 'now') AS INTEGER))
);

CREATE INDEX IF NOT EXISTS idx_periods_user_time ON periods(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_periods_time ON periods(created_at);
`
