// Package migrations embeds the primary backend's schema and applies
// it with golang-migrate, the same migration tool the teslacoil and
// RAIL-BACKEND-SERVICE examples in the retrieval pack use for their
// Postgres schemas.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var sqlFS embed.FS

// Apply migrates the database reachable through db up to the latest
// version. It is idempotent: running it against an already-migrated
// database is a no-op.
func Apply(db *sql.DB) error {
	src, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return fmt.Errorf("migrations: load embedded sql: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations: postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}

	log.Info("schema migrations applied")
	return nil
}
