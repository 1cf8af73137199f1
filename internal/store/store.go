// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package store keeps pbexd state in SQLite: port label overrides that are
// applied on every start and the last snapshot of the feature table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/riclolsen/go-powerbox/internal/config"
	"github.com/riclolsen/go-powerbox/powerbox"
)

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	msPerSecond       = 1000
	connectionTimeout = 5 * time.Second
)

var (
	ErrInvalidPort  = errors.New("store: port must be 1 or greater")
	ErrInvalidLabel = errors.New("store: label cannot be empty")
)

const schema = `
CREATE TABLE IF NOT EXISTS port_labels (
	port INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	feature_index INTEGER PRIMARY KEY,
	kind          TEXT NOT NULL,
	name          TEXT NOT NULL,
	value         REAL NOT NULL,
	state         INTEGER NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
`

// Store is a SQLite database holding daemon state.
type Store struct {
	db   *sql.DB
	path string
}

// SavedFeature is one row of the persisted snapshot.
type SavedFeature struct {
	Index     int
	Kind      string
	Name      string
	Value     float64
	State     bool
	UpdatedAt time.Time
}

// Open opens or creates the database and applies the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions)

	return &Store{db: db, path: cfg.Path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetPortLabel stores a label override for a 1-based port.
func (s *Store) SetPortLabel(ctx context.Context, port int, name string) error {
	if port < 1 {
		return ErrInvalidPort
	}
	if name == "" {
		return ErrInvalidLabel
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO port_labels (port, name) VALUES (?, ?)
		 ON CONFLICT(port) DO UPDATE SET name = excluded.name`,
		port, name)
	if err != nil {
		return fmt.Errorf("saving label of port %d: %w", port, err)
	}
	return nil
}

// DeletePortLabel removes the override of a port.
func (s *Store) DeletePortLabel(ctx context.Context, port int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM port_labels WHERE port = ?`, port); err != nil {
		return fmt.Errorf("deleting label of port %d: %w", port, err)
	}
	return nil
}

// PortLabels returns every override keyed by port.
func (s *Store) PortLabels(ctx context.Context) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT port, name FROM port_labels ORDER BY port`)
	if err != nil {
		return nil, fmt.Errorf("querying port labels: %w", err)
	}
	defer rows.Close()

	labels := make(map[int]string)
	for rows.Next() {
		var port int
		var name string
		if err := rows.Scan(&port, &name); err != nil {
			return nil, fmt.Errorf("scanning port label: %w", err)
		}
		labels[port] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating port labels: %w", err)
	}
	return labels, nil
}

// HandleSnapshot replaces the persisted snapshot.
func (s *Store) HandleSnapshot(ctx context.Context, snap powerbox.Snapshot) error {
	ts := snap.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, f := range snap.Features {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (feature_index, kind, name, value, state, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(feature_index) DO UPDATE SET
			   kind = excluded.kind, name = excluded.name, value = excluded.value,
			   state = excluded.state, updated_at = excluded.updated_at`,
			f.Index, f.Kind.String(), f.Name, f.Value, f.State, ts.UTC())
		if err != nil {
			return fmt.Errorf("saving feature %d: %w", f.Index, err)
		}
	}
	// the table can shrink after a rediscovery
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE feature_index >= ?`, len(snap.Features)); err != nil {
		return fmt.Errorf("trimming snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted snapshot ordered by feature index.
func (s *Store) LoadSnapshot(ctx context.Context) ([]SavedFeature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feature_index, kind, name, value, state, updated_at
		 FROM snapshots ORDER BY feature_index`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	var out []SavedFeature
	for rows.Next() {
		var f SavedFeature
		if err := rows.Scan(&f.Index, &f.Kind, &f.Name, &f.Value, &f.State, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot: %w", err)
	}
	return out, nil
}
