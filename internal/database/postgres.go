package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PgPeriskopeRepository struct {
	conn *sql.DB
}

func NewPgPeriskopeRepository(dsn string) (*PgPeriskopeRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgPeriskopeRepository{conn: db}, nil
}

// Migrate applies any pending schema migrations, including the change feed
// notify trigger on messages.
func (db *PgPeriskopeRepository) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db.conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

func (db *PgPeriskopeRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgPeriskopeRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
