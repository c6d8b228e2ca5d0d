package journal

import (
	"database/sql"
	"fmt"

	"distribox/internal/dbx"
	"distribox/internal/journal/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements the Journal interface using SQLite.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// NewSQLiteJournal opens (or creates) the journal database at path and runs
// pending migrations. path can be a file path or ":memory:".
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	return &SQLiteJournal{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tests that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Record appends one entry. The caller's timestamp is stored as-is.
func (j *SQLiteJournal) Record(e dbx.JournalEntry) error {
	_, err := j.db.Exec(
		`INSERT INTO journal_entries (operation, peer, events, blobs, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Operation, e.Peer, e.Events, e.Blobs, e.Outcome, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording journal entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *SQLiteJournal) Recent(limit int) ([]dbx.JournalEntry, error) {
	rows, err := j.db.Query(
		`SELECT id, operation, peer, events, blobs, outcome, created_at
		 FROM journal_entries ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing journal entries: %w", err)
	}
	defer rows.Close()

	var out []dbx.JournalEntry
	for rows.Next() {
		var e dbx.JournalEntry
		if err := rows.Scan(&e.ID, &e.Operation, &e.Peer, &e.Events, &e.Blobs, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading journal entries: %w", err)
	}
	return out, nil
}

// Path returns the database file path (or ":memory:").
func (j *SQLiteJournal) Path() string {
	return j.path
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteJournal implements the Journal interface
var _ dbx.Journal = (*SQLiteJournal)(nil)
