// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

// SQLite persists records in a SQLite database.
type SQLite struct {
	db    *sql.DB
	owned bool
}

// NewSQLite uses db and ensures the schema exists.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureSchema(db); err != nil {
		return nil, errors.New(errors.CodeIO, "creating catalog schema", err)
	}
	return &SQLite{db: db}, nil
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(errors.CodeIO, "creating catalog directory", err).WithContext("path", path)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeIO, "opening catalog", err).WithContext("path", path)
	}
	// Index workers record concurrently; a single connection serialises writers.
	db.SetMaxOpenConns(1)
	s, err := NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, errors.As(err).WithContext("path", path)
	}
	s.owned = true
	return s, nil
}

// Close closes the database if it was opened by OpenSQLite.
func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores a single record.
func (s *SQLite) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_records (
			run_id, kind, path, grib_file, messages, fingerprint, level_type, identifier, skipped, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID,
		string(rec.Kind),
		rec.Path,
		rec.GribFile,
		rec.Messages,
		rec.Fingerprint,
		rec.LevelType,
		rec.Identifier,
		rec.Skipped,
		normalizeTime(rec.CreatedAt),
	)
	if err != nil {
		return errors.New(errors.CodeIO, "recording catalog entry", err).WithContext("path", rec.Path)
	}
	return nil
}

// List returns records matching the filter, oldest first.
func (s *SQLite) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT run_id, kind, path, grib_file, messages, fingerprint, level_type, identifier, skipped, created_at
		FROM catalog_records
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Kind != "" {
		addFilter("kind = ?", string(filter.Kind))
	}
	if filter.LevelType != "" {
		addFilter("level_type = ?", filter.LevelType)
	}
	query += where + " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeIO, "querying catalog", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			kind    string
			created sql.NullTime
		)
		if err := rows.Scan(
			&rec.RunID,
			&kind,
			&rec.Path,
			&rec.GribFile,
			&rec.Messages,
			&rec.Fingerprint,
			&rec.LevelType,
			&rec.Identifier,
			&rec.Skipped,
			&created,
		); err != nil {
			return nil, errors.New(errors.CodeIO, "reading catalog row", err)
		}
		rec.Kind = Kind(kind)
		if created.Valid {
			rec.CreatedAt = created.Time.UTC()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeIO, "reading catalog rows", err)
	}
	return records, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			grib_file TEXT NOT NULL DEFAULT '',
			messages INTEGER NOT NULL DEFAULT 0,
			fingerprint TEXT NOT NULL DEFAULT '',
			level_type TEXT NOT NULL DEFAULT '',
			identifier TEXT NOT NULL DEFAULT '',
			skipped BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_catalog_run ON catalog_records(run_id);
		CREATE INDEX IF NOT EXISTS idx_catalog_kind ON catalog_records(kind);
		CREATE INDEX IF NOT EXISTS idx_catalog_level_type ON catalog_records(level_type);
	`)
	return err
}
