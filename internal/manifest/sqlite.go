package manifest

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the manifest in a SQLite table. Each mutation is its own transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates dir/manifest.db and initializes the schema.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	path := filepath.Join(dir, SQLiteFileName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS manifest (
		path_key TEXT PRIMARY KEY,
		filename TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Get returns the filename stored for key.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var filename string
	err := s.db.QueryRow(`SELECT filename FROM manifest WHERE path_key = ?`, key).Scan(&filename)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return filename, true, nil
}

// Put sets key -> filename, replacing any previous value.
func (s *SQLiteStore) Put(key, filename string) error {
	_, err := s.db.Exec(
		`INSERT INTO manifest (path_key, filename) VALUES (?, ?)
		 ON CONFLICT(path_key) DO UPDATE SET filename = excluded.filename`,
		key, filename,
	)
	return err
}

// PutMany writes entries in one transaction.
func (s *SQLiteStore) PutMany(entries []Entry, overwrite bool) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `INSERT OR IGNORE INTO manifest (path_key, filename) VALUES (?, ?)`
	if overwrite {
		query = `INSERT INTO manifest (path_key, filename) VALUES (?, ?)
		 ON CONFLICT(path_key) DO UPDATE SET filename = excluded.filename`
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, e := range entries {
		res, err := stmt.Exec(e.Key, e.Filename)
		if err != nil {
			return 0, err
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Remove deletes key and returns the filename it pointed to.
func (s *SQLiteStore) Remove(key string) (string, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	var filename string
	err = tx.QueryRow(`SELECT filename FROM manifest WHERE path_key = ?`, key).Scan(&filename)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := tx.Exec(`DELETE FROM manifest WHERE path_key = ?`, key); err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return filename, true, nil
}

// Entries returns all rows sorted by key (BINARY collation matches Go string order).
func (s *SQLiteStore) Entries() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT path_key, filename FROM manifest ORDER BY path_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Filename); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear deletes every row.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM manifest`)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
