// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/nishisan-dev/stashd/internal/config"
)

// PostgresStore implements Store against the schema of spec.md §6.3 over
// database/sql + lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to the relational store described by cfg and verifies
// reachability with a ping.
func Open(cfg *config.ServerConfig) (*PostgresStore, error) {
	sslmode := "disable"
	if cfg.DBSSL {
		sslmode = "require"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBUser, cfg.DBPassword, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	var rec UserRecord
	rec.Username = username
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password FROM "user" WHERE username = $1`, username,
	).Scan(&rec.ID, &rec.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %q: %w", username, err)
	}
	return &rec, nil
}

func (s *PostgresStore) StashByOwnerAndName(ctx context.Context, owner uint64, name string) (*StashRecord, error) {
	rec := StashRecord{Owner: owner, Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM stash WHERE owner = $1 AND name = $2`, owner, name,
	).Scan(&rec.ID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying stash %q for owner %d: %w", name, owner, err)
	}
	return &rec, nil
}

func (s *PostgresStore) StashNamesByOwner(ctx context.Context, owner uint64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM stash WHERE owner = $1`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying stashes for owner %d: %w", owner, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning stash name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *PostgresStore) FilesByStash(ctx context.Context, stash uint64) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, update_time FROM file WHERE stash = $1`, stash,
	)
	if err != nil {
		return nil, fmt.Errorf("querying files for stash %d: %w", stash, err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		f := FileRecord{Stash: stash}
		if err := rows.Scan(&f.ID, &f.Name, &f.UpdateTime); err != nil {
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) InsertAudit(ctx context.Context, row AuditRow) error {
	success := "N"
	if row.Success {
		success = "Y"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit ("user", address, event, success, info) VALUES ($1, $2, $3, $4, $5)`,
		row.UserID, row.Address, row.Event, success, row.Info,
	)
	if err != nil {
		return fmt.Errorf("inserting audit row: %w", err)
	}
	return nil
}
