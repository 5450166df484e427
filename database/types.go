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
	"net/url"
	"strings"
	"time"
)

// Dialect names understood by the resolver.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// DefaultConnectionName is the synthetic key a default datastore is also
// registered under.
const DefaultConnectionName = "default"

// DatastoreOptions carries engine specific settings of one datastore.
type DatastoreOptions struct {
	Dialect string `koanf:"dialect" yaml:"dialect"`
	// Logging names a log severity. When set, every query is logged at that
	// severity with its elapsed time.
	Logging   string `koanf:"logging" yaml:"logging"`
	Benchmark bool   `koanf:"benchmark" yaml:"benchmark"`
	// OperatorsAliases installs the "$eq"-style operator table. Leaving it
	// unset or enabling it logs a security warning.
	OperatorsAliases *bool         `koanf:"operators_aliases" yaml:"operators_aliases"`
	Debug            bool          `koanf:"debug" yaml:"debug"`
	SlowQueryTime    time.Duration `koanf:"slow_query_time" yaml:"slow_query_time"`

	MaxIdleConns    int           `koanf:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `koanf:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	SSLMode         string        `koanf:"sslmode" yaml:"sslmode"`
	Charset         string        `koanf:"charset" yaml:"charset"`

	ForeignKeys     bool   `koanf:"foreign_keys" yaml:"foreign_keys"`
	ForeignKeyFile  string `koanf:"foreign_key_file" yaml:"foreign_key_file"`
	AllowColumnDrop bool   `koanf:"allow_column_drop" yaml:"allow_column_drop"`
	SeedPath        string `koanf:"seed_path" yaml:"seed_path"`
	SeedEnvironment string `koanf:"seed_environment" yaml:"seed_environment"`
}

// DatastoreConfig describes one named datastore. An entry with Adapter set
// belongs to another persistence layer and is ignored.
type DatastoreConfig struct {
	Adapter  string            `koanf:"adapter" yaml:"adapter"`
	URL      string            `koanf:"url" yaml:"url"`
	Dialect  string            `koanf:"dialect" yaml:"dialect"`
	Host     string            `koanf:"host" yaml:"host"`
	Port     int               `koanf:"port" yaml:"port"`
	Database string            `koanf:"database" yaml:"database"`
	User     string            `koanf:"user" yaml:"user"`
	Password string            `koanf:"password" yaml:"password"`
	Default  bool              `koanf:"default" yaml:"default"`
	Options  *DatastoreOptions `koanf:"options" yaml:"options"`
}

// Foreign reports whether the datastore is owned by another adapter.
func (c *DatastoreConfig) Foreign() bool {
	return c == nil || c.Adapter != ""
}

// DialectName returns the normalized dialect of the datastore, taken from
// Dialect, Options.Dialect or the URL scheme in that order.
func (c *DatastoreConfig) DialectName() string {
	name := c.Dialect
	if name == "" && c.Options != nil {
		name = c.Options.Dialect
	}
	if name == "" && c.URL != "" {
		if u, err := url.Parse(c.URL); err == nil {
			name = u.Scheme
		}
	}
	return normalizeDialect(name)
}

// Clone returns a copy that can be mutated without touching the
// configuration it came from.
func (c *DatastoreConfig) Clone() *DatastoreConfig {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Options != nil {
		opts := *c.Options
		if c.Options.OperatorsAliases != nil {
			v := *c.Options.OperatorsAliases
			opts.OperatorsAliases = &v
		}
		cp.Options = &opts
	} else {
		cp.Options = &DatastoreOptions{}
	}
	return &cp
}

func normalizeDialect(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres
	case "mysql", "mariadb":
		return DialectMySQL
	case "sqlite", "sqlite3", "file":
		return DialectSQLite
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// DefaultAttribute is an attribute injected into every model that does not
// declare it.
type DefaultAttribute struct {
	Type      string `koanf:"type" yaml:"type"`
	AllowNull *bool  `koanf:"allow_null" yaml:"allow_null"`
}

// Config holds the bootstrap settings shared by every datastore.
type Config struct {
	HookTimeout       time.Duration
	ClsNamespace      string
	ExposeToGlobal    bool
	CustomGlobal      string
	ExposeModels      bool
	DefaultAttributes map[string]*DefaultAttribute
	DefaultDatastore  string
	Migrate           string
}

// DefaultConfig mirrors the defaults of a fresh installation.
func DefaultConfig() *Config {
	return &Config{
		HookTimeout:      30 * time.Second,
		ClsNamespace:     "bunhook",
		ExposeToGlobal:   true,
		DefaultDatastore: DefaultConnectionName,
	}
}

// ResolveDatastores returns the first non-empty datastore map. Callers pass
// the current configuration key first and legacy keys after it.
func ResolveDatastores(candidates ...map[string]*DatastoreConfig) map[string]*DatastoreConfig {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return map[string]*DatastoreConfig{}
}

// ResolveDefaultDatastore returns the first non-blank name, falling back to
// "default".
func ResolveDefaultDatastore(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return DefaultConnectionName
}
