// Package migrations embeds the Postgres schema and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" //nolint:blankimports // pgx5 database driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Direction selects which way Run migrates.
type Direction string

// Supported directions.
const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection validates a CLI argument.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case Up, Down:
		return d, nil
	default:
		return "", fmt.Errorf("invalid direction %q (must be %q or %q)", raw, Up, Down)
	}
}

// Run applies every embedded migration in the given direction against dsn.
// It reports whether anything changed.
func Run(dsn string, dir Direction) (bool, error) {
	if dir != Up && dir != Down {
		return false, fmt.Errorf("invalid direction %q", dir)
	}
	m, err := newMigrate(dsn)
	if err != nil {
		return false, err
	}
	defer func() { _, _ = m.Close() }()

	if dir == Up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migrate %s: %w", dir, err)
	}
	return true, nil
}

func newMigrate(dsn string) (*migrate.Migrate, error) {
	url, err := DatabaseURL(dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// DatabaseURL rewrites a postgres:// DSN to the pgx5:// scheme the migrate driver registers.
func DatabaseURL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("db.dsn must be a postgres:// URL for migrations")
}
