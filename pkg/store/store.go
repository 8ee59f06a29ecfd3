package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps the shared *sql.DB. Every entity's CRUD methods hang off
// this type; callers never see database/sql directly.
type Store struct {
	DB     *sql.DB
	Driver string // "sqlite" | "postgres"
}

// Open connects to the configured backend and applies the schema.
// "sqlite" driver name is "sqlite" (modernc.org/sqlite, pure Go, no
// cgo); "postgres" is lib/pq.
func Open(driver, dsn string) (*Store, error) {
	driverName := driver
	if driverName == "postgres" {
		driverName = "postgres"
	} else {
		driverName = "sqlite"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driverName, err)
	}
	if driverName == "sqlite" {
		db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline
	}

	s := &Store{DB: db, Driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Queries is every entity's CRUD surface, bound to either the
// top-level *sql.DB (Store.Q) or a live *sql.Tx (inside WithTx). No
// handler or engine package imports database/sql directly; they only
// ever hold a *Queries.
type Queries struct {
	q execer
}

// Q returns a Queries bound to the store's connection pool, for
// standalone reads and single-statement writes outside a transaction.
func (s *Store) Q() *Queries {
	return &Queries{q: s.DB}
}

// WithTx runs fn inside a single BEGIN IMMEDIATE-equivalent
// transaction, committing on success and rolling back on error or
// panic. Every multi-row mutation spanning the case, runtime,
// transcript, claims, and seal-job tables goes through this helper,
// so a crash mid-handler can never leave the store partially updated.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
