package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	MigrationsSchema = "weappauth"
	MigrationsTable  = "schema_migrations"
)

//go:embed migrations/*.sql
var migrations embed.FS

func MigrationSource() (source.Driver, error) {
	driver, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: open embedded migrations: %w", err)
	}
	return driver, nil
}

func Migrate(db *sql.DB) error {
	if db == nil {
		return ErrNilDB
	}

	if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS ` + MigrationsSchema); err != nil {
		return fmt.Errorf("postgres adapter: ensure schema %s: %w", MigrationsSchema, err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{
		MigrationsTable:       fmt.Sprintf(`"%s"."%s"`, MigrationsSchema, MigrationsTable),
		MigrationsTableQuoted: true,
	})
	if err != nil {
		return fmt.Errorf("postgres adapter: create migrate driver: %w", err)
	}

	src, err := MigrationSource()
	if err != nil {
		return err
	}

	runner, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres adapter: create migrate runner: %w", err)
	}

	if err := runner.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres adapter: apply migrations: %w", err)
	}
	return nil
}
