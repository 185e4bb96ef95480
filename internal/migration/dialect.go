package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"

	"github.com/BaSui01/agentweave/config"
)

// Dialect 数据库方言，决定 SQL 驱动、迁移目录与 golang-migrate 数据库驱动
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect 解析驱动名，接受常见别名
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %q", s)
}

// sqlDriver 返回 database/sql 驱动名。
// "sqlite" 由二进制链接的纯 Go 实现注册（服务端为 glebarez/go-sqlite，测试为 modernc）。
func (d Dialect) sqlDriver() string {
	return string(d)
}

func (d Dialect) dir() string {
	return path.Join("migrations", string(d))
}

func (d Dialect) valid() bool {
	switch d {
	case Postgres, MySQL, SQLite:
		return true
	}
	return false
}

// driver 在已打开的连接上创建 golang-migrate 数据库驱动
func (d Dialect) driver(db *sql.DB, table string) (database.Driver, error) {
	switch d {
	case Postgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case MySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case SQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	}
	return nil, fmt.Errorf("unsupported database type: %q", d)
}

// DSN 由数据库配置拼出方言与连接串。
// sqlite 下 Name 为文件路径；mysql 连接串开启 multiStatements 以执行多语句迁移。
func DSN(cfg config.DatabaseConfig) (Dialect, string, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return "", "", err
	}

	switch d {
	case Postgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return d, u.String(), nil
	case MySQL:
		return d, fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name), nil
	default:
		if cfg.Name == "" {
			return "", "", errors.New("sqlite database path is required")
		}
		return d, "file:" + cfg.Name + "?_pragma=foreign_keys(1)", nil
	}
}
