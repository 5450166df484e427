/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/bunhook/utils"
)

// defaultConnectTimeout applies when a datastore sets no connect_timeout.
var defaultConnectTimeout = utils.EnvDefaultDuration("DB_CONNECT_TIMEOUT", 30*time.Second)

// HealthStatus is the outcome of a connection health check.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
}

// DBStats mirrors sql.DBStats.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// OpenConnection opens the datastore described by cfg. The database is not
// contacted; the first query or Ping establishes the session.
func OpenConnection(name string, cfg *DatastoreConfig, logger Logger) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("datastore %s: configuration cannot be empty", name)
	}
	opts := cfg.Options
	if opts == nil {
		opts = &DatastoreOptions{}
	}

	dialect := cfg.DialectName()
	var (
		sqlDB *sql.DB
		err   error
	)
	switch dialect {
	case DialectMySQL:
		sqlDB, err = createMySQLConnection(cfg, opts)
	case DialectPostgres:
		sqlDB, err = createPostgreSQLConnection(cfg, opts)
	case DialectSQLite:
		sqlDB, err = createSQLiteConnection(cfg, opts)
	case "":
		return nil, fmt.Errorf("datastore %s: dialect is not configured", name)
	default:
		return nil, fmt.Errorf("datastore %s: unsupported database type: %s", name, dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("datastore %s: %w", name, err)
	}
	configureConnectionPool(sqlDB, opts)

	conn, err := NewConnection(name, dialect, sqlDB, opts, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	conn.logger.Debug("Database connection opened", "connection", name, "dialect", dialect, "host", cfg.Host)
	return conn, nil
}

func newDialect(name string) (schema.Dialect, error) {
	switch normalizeDialect(name) {
	case DialectPostgres:
		return pgdialect.New(), nil
	case DialectMySQL:
		return mysqldialect.New(), nil
	case DialectSQLite:
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", name)
	}
}

func connectTimeout(opts *DatastoreOptions) time.Duration {
	if opts.ConnectTimeout > 0 {
		return opts.ConnectTimeout
	}
	return defaultConnectTimeout
}

func createMySQLConnection(cfg *DatastoreConfig, opts *DatastoreOptions) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.ParseTime = true
	mc.Timeout = connectTimeout(opts)

	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql url: %w", err)
		}
		mc.User = u.User.Username()
		mc.Passwd, _ = u.User.Password()
		mc.Addr = u.Host
		mc.DBName = strings.TrimPrefix(u.Path, "/")
		for key, values := range u.Query() {
			if len(values) > 0 {
				if mc.Params == nil {
					mc.Params = map[string]string{}
				}
				mc.Params[key] = values[0]
			}
		}
	} else {
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.DBName = cfg.Database
		host := cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = fmt.Sprintf("%s:%d", host, port)
	}
	if !strings.Contains(mc.Addr, ":") && mc.Addr != "" {
		mc.Addr += ":3306"
	}
	charset := opts.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	if _, ok := mc.Params["charset"]; !ok {
		mc.Params["charset"] = charset
	}

	return sql.Open("mysql", mc.FormatDSN())
}

func createPostgreSQLConnection(cfg *DatastoreConfig, opts *DatastoreOptions) (*sql.DB, error) {
	sslMode := opts.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	var dsn string
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres url: %w", err)
		}
		u.Scheme = "postgres"
		q := u.Query()
		if q.Get("sslmode") == "" {
			q.Set("sslmode", sslMode)
		}
		if q.Get("connect_timeout") == "" {
			q.Set("connect_timeout", strconv.Itoa(int(connectTimeout(opts).Seconds())))
		}
		u.RawQuery = q.Encode()
		dsn = u.String()
	} else {
		host := cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		u := &url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   fmt.Sprintf("%s:%d", host, port),
			Path:   "/" + cfg.Database,
		}
		q := url.Values{}
		q.Set("sslmode", sslMode)
		q.Set("connect_timeout", strconv.Itoa(int(connectTimeout(opts).Seconds())))
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	return sql.Open("postgres", dsn)
}

func createSQLiteConnection(cfg *DatastoreConfig, opts *DatastoreOptions) (*sql.DB, error) {
	dsn := sqliteDSN(cfg)
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	// Every pooled connection to an in-memory database sees its own
	// database, so the pool is pinned to one connection.
	if isMemorySQLite(dsn) && opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 1
	}
	return sqlDB, nil
}

func sqliteDSN(cfg *DatastoreConfig) string {
	if cfg.URL != "" {
		dsn := cfg.URL
		for _, prefix := range []string{"sqlite3://", "sqlite://", "sqlite3:", "sqlite:"} {
			if strings.HasPrefix(dsn, prefix) {
				dsn = strings.TrimPrefix(dsn, prefix)
				break
			}
		}
		if dsn == "" {
			return ":memory:"
		}
		return dsn
	}
	name := cfg.Database
	switch {
	case name == "" || name == ":memory:":
		return ":memory:"
	case strings.HasPrefix(name, "file:") || strings.Contains(name, "."):
		return name
	default:
		return name + ".db"
	}
}

func isMemorySQLite(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func configureConnectionPool(sqlDB *sql.DB, opts *DatastoreOptions) {
	if sqlDB == nil || opts == nil {
		return
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

// Ping verifies the database is reachable within the connect timeout.
func (c *Connection) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not connected")
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, connectTimeout(c.options))
	defer cancel()
	return c.db.PingContext(ctxTimeout)
}

// HealthCheck pings the database and reports pool usage.
func (c *Connection) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}

	if c.db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
		c.logger.Warn("Database health check failed", "connection", c.name, "error", err.Error())
	} else {
		status.Healthy = true
		status.Connected = true
	}

	if c.sqlDB != nil {
		stats := c.sqlDB.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}
	return status
}

// Stats returns the pool statistics of the connection.
func (c *Connection) Stats() *DBStats {
	if c.sqlDB == nil {
		return &DBStats{}
	}
	stats := c.sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}
