package db

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Direction selects whether migrations are applied or rolled back.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrations returns the embedded schema migrations.
func Migrations() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}
}

// Migrate applies (or rolls back, up to max steps; 0 means all) the embedded
// migrations against dsn and returns the number executed.
func Migrate(dsn string, dir Direction, max int) (int, error) {
	var d migrate.MigrationDirection
	switch dir {
	case Up:
		d = migrate.Up
	case Down:
		d = migrate.Down
	default:
		return 0, fmt.Errorf("platform/db: unknown migration direction %q", dir)
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("platform/db: open: %w", err)
	}
	defer conn.Close()

	n, err := migrate.ExecMax(conn, "postgres", Migrations(), d, max)
	if err != nil {
		return n, fmt.Errorf("platform/db: migrate %s: %w", dir, err)
	}
	return n, nil
}
