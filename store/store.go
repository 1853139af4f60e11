/*
Logic:  Opens the embedded relational store (SQLite, WAL mode) and
        applies schema DDL idempotently at startup. A single *sql.DB
        is shared by every component; Go's connection pool plus WAL
        mode is what spec.md's "reads do not block the writer"
        requirement relies on — no separate blocking-task pool is
        layered on top, since a blocking database/sql call already
        only parks its own goroutine.
*/

package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the shared *sql.DB handle used by every pipeline.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path,
// enables WAL mode with synchronous=NORMAL and a busy timeout, and
// creates every table the core depends on.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"busy_timeout(5000)",
			"foreign_keys(ON)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// SQLite serializes writers regardless of pool size; a generous
	// reader pool is safe under WAL because readers never block on
	// the writer.
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}

	s := &Store{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range AllSchemas() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// BeginTx starts a transaction using the caller's context. Flush
// transactions intentionally pass context.Background() — a stuck
// store stalls the pipeline and backs up the queue rather than
// aborting a batch partway through.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, &sql.TxOptions{})
}

// NowMillis returns the current time in epoch milliseconds, the unit every
// persisted timestamp column uses.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
