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
	"sort"
	"sync"

	"github.com/uptrace/bun"
	"go.uber.org/multierr"
)

// SyncOptions selects how Sync treats existing tables. Force drops and
// recreates every table; Alter reconciles columns and indexes in place.
type SyncOptions struct {
	Force bool
	Alter bool
}

// Engine is a live connection models are defined against.
type Engine interface {
	Name() string
	Dialect() string
	SupportsSchemas() bool
	OperatorAliases() map[string]Op
	Define(name string, attrs Attributes, opts *ModelOptions) (*ModelClass, error)
	Models() []*ModelClass
	Sync(ctx context.Context, opts SyncOptions) error
	ShowAllSchemas(ctx context.Context) ([]string, error)
	CreateSchema(ctx context.Context, name string) error
	DB() *bun.DB
	Close() error
}

// Seeder is implemented by engines that can load initial data after a
// migration.
type Seeder interface {
	Seed(ctx context.Context) error
}

// Connection is the bun backed Engine.
type Connection struct {
	name    string
	dialect string
	db      *bun.DB
	sqlDB   *sql.DB
	options *DatastoreOptions
	logger  Logger
	aliases map[string]Op

	mu     sync.RWMutex
	models []*ModelClass
	byName map[string]*ModelClass
}

var (
	_ Engine = (*Connection)(nil)
	_ Seeder = (*Connection)(nil)
)

// NewConnection wraps an opened database handle. It installs the query
// hooks requested by opts and the operator alias table.
func NewConnection(name, dialect string, sqlDB *sql.DB, opts *DatastoreOptions, logger Logger) (*Connection, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("connection %s: database handle cannot be nil", name)
	}
	if opts == nil {
		opts = &DatastoreOptions{}
	}
	logger = orDefaultLogger(logger)

	bunDialect, err := newDialect(dialect)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		name:    name,
		dialect: normalizeDialect(dialect),
		db:      bun.NewDB(sqlDB, bunDialect),
		sqlDB:   sqlDB,
		options: opts,
		logger:  logger,
		byName:  map[string]*ModelClass{},
	}
	if err := installQueryHooks(c.db, name, opts, logger); err != nil {
		return nil, err
	}
	if opts.OperatorsAliases == nil || *opts.OperatorsAliases {
		logger.Warn("String based operator aliases are a security risk, disable them with operators_aliases: false",
			"connection", name)
	}
	if opts.OperatorsAliases != nil && *opts.OperatorsAliases {
		c.aliases = OperatorAliases()
	}
	return c, nil
}

func (c *Connection) Name() string    { return c.name }
func (c *Connection) Dialect() string { return c.dialect }
func (c *Connection) DB() *bun.DB     { return c.db }

// Options returns the datastore options the connection was opened with.
func (c *Connection) Options() *DatastoreOptions { return c.options }

// SupportsSchemas reports whether tables can live in named schemas.
func (c *Connection) SupportsSchemas() bool { return c.dialect == DialectPostgres }

// OperatorAliases returns the "$name" operator table or nil when aliases are
// disabled.
func (c *Connection) OperatorAliases() map[string]Op { return c.aliases }

// Define creates a model class on this connection.
func (c *Connection) Define(name string, attrs Attributes, opts *ModelOptions) (*ModelClass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[name]; exists {
		return nil, fmt.Errorf("model %s is already defined on connection %s", name, c.name)
	}
	m, err := NewModelClass(c, name, attrs, opts)
	if err != nil {
		return nil, err
	}
	c.models = append(c.models, m)
	c.byName[name] = m
	return m, nil
}

// Models returns the defined classes in definition order.
func (c *Connection) Models() []*ModelClass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*ModelClass(nil), c.models...)
}

// Model looks up a defined class by name.
func (c *Connection) Model(name string) (*ModelClass, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byName[name]
	return m, ok
}

// Sync brings the tables of every defined model in line with its
// attributes. Foreign keys are added afterwards when enabled.
func (c *Connection) Sync(ctx context.Context, opts SyncOptions) error {
	models := c.Models()
	var specs []*tableSpec
	for _, m := range models {
		ts, err := m.tableSpecs(c.dialect, c.SupportsSchemas())
		if err != nil {
			return fmt.Errorf("model %s: %w", m.Name(), err)
		}
		specs = append(specs, ts...)
	}

	syncer := &schemaSyncer{
		db:        c.db,
		dialect:   c.dialect,
		allowDrop: c.options.AllowColumnDrop,
		logger:    c.logger,
	}
	if opts.Force {
		for i := len(specs) - 1; i >= 0; i-- {
			if err := syncer.drop(ctx, specs[i]); err != nil {
				return err
			}
		}
	}
	for _, t := range specs {
		if err := syncer.sync(ctx, t, opts.Alter); err != nil {
			return err
		}
	}
	c.logger.Info("Schema synchronized", "connection", c.name, "tables", len(specs), "force", opts.Force, "alter", opts.Alter)

	if c.options.ForeignKeys {
		return c.addForeignKeys(ctx, models)
	}
	return nil
}

func (c *Connection) addForeignKeys(ctx context.Context, models []*ModelClass) error {
	constraints := ModelForeignKeys(models)
	if c.options.ForeignKeyFile != "" {
		extra, err := LoadForeignKeys(c.options.ForeignKeyFile)
		if err != nil {
			return err
		}
		constraints = append(constraints, extra...)
	}
	if !c.SupportsSchemas() {
		for i := range constraints {
			constraints[i].Schema = ""
			constraints[i].ReferenceSchema = ""
		}
	}
	manager := NewForeignKeyManager(c.logger, constraints...)
	if errs := manager.ValidateConstraints(); len(errs) > 0 {
		return multierr.Combine(errs...)
	}
	added, err := manager.AddAllForeignKeys(ctx, c.db, c.dialect)
	c.logger.Debug("Foreign keys applied", "connection", c.name, "added", added, "total", len(constraints))
	return err
}

// ShowAllSchemas lists the user schemas of a postgres database.
func (c *Connection) ShowAllSchemas(ctx context.Context) ([]string, error) {
	if !c.SupportsSchemas() {
		return nil, fmt.Errorf("connection %s: dialect %s has no schemas", c.name, c.dialect)
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT schema_name FROM information_schema.schemata WHERE schema_name <> 'information_schema' AND schema_name != 'public' AND schema_name !~ E'^pg_'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

// CreateSchema creates a postgres schema. A schema that already exists is
// not an error.
func (c *Connection) CreateSchema(ctx context.Context, name string) error {
	if !c.SupportsSchemas() {
		return fmt.Errorf("connection %s: dialect %s has no schemas", c.name, c.dialect)
	}
	if _, err := c.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS ?", bun.Ident(name)); err != nil {
		if ok, kind := IsSqlError(err); ok && kind == ExistSchemaErr {
			return nil
		}
		return err
	}
	c.logger.Info("Schema created", "connection", c.name, "schema", name)
	return nil
}

// Seed runs the SQL seed files configured for this datastore.
func (c *Connection) Seed(ctx context.Context) error {
	if c.options.SeedPath == "" {
		return nil
	}
	_, err := NewSeedRunner(c.db, c.name, c.options.SeedEnvironment, c.options.SeedPath, c.logger).Run(ctx)
	return err
}

// Close closes the underlying database.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Connections maps datastore names to engines. A default datastore is
// present twice, under its own name and under "default".
type Connections map[string]Engine

// Get returns the engine of a datastore.
func (cs Connections) Get(name string) (Engine, bool) {
	e, ok := cs[name]
	return e, ok
}

// Names returns the sorted datastore names.
func (cs Connections) Names() []string {
	names := make([]string, 0, len(cs))
	for name := range cs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every distinct engine once and combines the errors.
func (cs Connections) Close() error {
	var err error
	seen := map[Engine]bool{}
	for _, name := range cs.Names() {
		e := cs[name]
		if e == nil || seen[e] {
			continue
		}
		seen[e] = true
		err = multierr.Append(err, e.Close())
	}
	return err
}
