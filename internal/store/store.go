package store

import (
	"database/sql"
	"fmt"
)

// Store is the audit log of upstream fetches. Estimates never read from it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens a sqlite database at path and applies migrations. The caller
// closes the returned *sql.DB.
func Open(path string) (*Store, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := New(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return s, db, nil
}
