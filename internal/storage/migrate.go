package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// RunMigrations applies every pending migration for the configured driver.
func RunMigrations(cfg Config) error {
	// Create a separate connection for migrations to avoid interfering with the main connection
	var (
		migrateDB *sql.DB
		driver    database.Driver
		err       error
	)

	switch cfg.Driver {
	case DriverSQLite:
		migrateDB, err = sql.Open("sqlite", sqliteDSN(cfg.SQLitePath))
		if err != nil {
			return fmt.Errorf("open migration database: %w", err)
		}
		defer migrateDB.Close()

		driver, err = sqlite.WithInstance(migrateDB, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("create sqlite driver: %w", err)
		}
	case DriverMySQL:
		var mcfg *mysql.Config
		mcfg, err = mysqlConfig(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		// Migration files hold several statements each.
		mcfg.MultiStatements = true

		migrateDB, err = sql.Open("mysql", mcfg.FormatDSN())
		if err != nil {
			return fmt.Errorf("open migration database: %w", err)
		}
		defer migrateDB.Close()

		driver, err = migratemysql.WithInstance(migrateDB, &migratemysql.Config{})
		if err != nil {
			return fmt.Errorf("create mysql driver: %w", err)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	d, err := iofs.New(migrationsFS, "migrations/"+cfg.Driver)
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, cfg.Driver, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
