package db

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/engineerpark/cdulog/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// NormalizeDialect maps DATABASE_TYPE spellings onto the supported dialects.
func NormalizeDialect(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg", "":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", raw)
	}
}

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dialect, err := NormalizeDialect(cfg.DBType)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case DialectMySQL:
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBName,
		)), nil
	case DialectSQLite:
		return sqlite.Open(sqliteDSN(cfg.DBName)), nil
	default:
		return postgres.Open(postgresDSN(cfg)), nil
	}
}

// postgresDSN builds a URL so passwords with spaces or quotes survive.
func postgresDSN(cfg config.Config) string {
	sslMode := strings.TrimSpace(cfg.DBSSLMode)
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:   cfg.DBHost + ":" + cfg.DBPort,
		Path:   "/" + cfg.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("TimeZone", "UTC")
	u.RawQuery = q.Encode()
	return u.String()
}

// sqliteDSN points at a file next to the binary unless DATABASE_NAME names
// one. ":memory:" gives a throwaway shared-cache database.
func sqliteDSN(name string) string {
	path := strings.TrimSpace(name)
	switch path {
	case "", "cdulog":
		path = "cdulog.db"
	case ":memory:":
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
}
