package storage

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config selects and locates the database.
type Config struct {
	Driver     string // DriverSQLite or DriverMySQL
	SQLitePath string
	// DatabaseURL is a mysql:// or mariadb:// URL, or a native driver DSN.
	DatabaseURL string
}

func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
}

// mysqlConfig converts a mariadb:// or mysql:// URL into a driver config.
// Native DSNs ("user:pass@tcp(host)/db") are parsed as is.
func mysqlConfig(dsn string) (*mysql.Config, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}
		cfg := mysql.NewConfig()
		if u.User != nil {
			cfg.User = u.User.Username()
			cfg.Passwd, _ = u.User.Password()
		}
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		if cfg.User == "" || cfg.Addr == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("incomplete dsn: user, host and database are required")
		}
		applyMySQLDefaults(cfg)
		return cfg, nil
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	applyMySQLDefaults(cfg)
	return cfg, nil
}

func applyMySQLDefaults(cfg *mysql.Config) {
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.InterpolateParams = true
}
