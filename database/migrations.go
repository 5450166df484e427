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
	"fmt"
	"sort"

	"github.com/tomoncle/bunhook/types"
	"golang.org/x/sync/errgroup"
)

// Migrator reconciles the schema of every owned datastore with the models
// defined on it.
type Migrator struct {
	logger Logger
	// Seed runs the datastore seed files after a successful sync.
	Seed bool
}

func NewMigrator(logger Logger) *Migrator {
	return &Migrator{logger: orDefaultLogger(logger), Seed: true}
}

// SyncOptionsFor maps a strategy to the sync flags it uses. The second
// result is false for MigrateSafe, which syncs nothing.
func SyncOptionsFor(strategy types.MigrationStrategy) (SyncOptions, bool) {
	switch strategy {
	case types.MigrateSafe:
		return SyncOptions{}, false
	case types.MigrateDrop:
		return SyncOptions{Force: true}, true
	case types.MigrateAlter:
		return SyncOptions{Alter: true}, true
	default:
		return SyncOptions{}, true
	}
}

// Migrate syncs every datastore concurrently and waits for all of them.
// The first failure is returned; the other tasks still run to completion
// since a half applied schema change cannot be rolled back.
func (mg *Migrator) Migrate(ctx context.Context, strategy types.MigrationStrategy, datastores map[string]*DatastoreConfig, conns Connections) error {
	opts, run := SyncOptionsFor(strategy)
	if !run {
		mg.logger.Info("Migration strategy is safe, schema left untouched")
		return nil
	}

	names := make([]string, 0, len(datastores))
	for name := range datastores {
		names = append(names, name)
	}
	sort.Strings(names)

	engines := map[string]Engine{}
	var owned []string
	for _, name := range names {
		if datastores[name].Foreign() {
			mg.logger.Debug("Skipping migration of datastore owned by another adapter", "datastore", name)
			continue
		}
		engine, ok := conns.Get(name)
		if !ok {
			return migrationError(name, fmt.Errorf("datastore has no open connection"))
		}
		engines[name] = engine
		owned = append(owned, name)
	}

	// Schema operations must not be interrupted by the caller.
	taskCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, name := range owned {
		engine := engines[name]
		g.Go(func() error {
			if err := mg.migrateConnection(taskCtx, engine, opts); err != nil {
				mg.logger.Error("Migration failed", "datastore", name, "error", err.Error())
				return migrationError(name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	mg.logger.Info("Migration completed", "strategy", strategy.String(), "datastores", len(owned))
	return nil
}

func (mg *Migrator) migrateConnection(ctx context.Context, engine Engine, opts SyncOptions) error {
	if engine.SupportsSchemas() {
		if err := mg.ensureSchemas(ctx, engine); err != nil {
			return err
		}
	}
	if err := engine.Sync(ctx, opts); err != nil {
		return err
	}
	if seeder, ok := engine.(Seeder); ok && mg.Seed {
		if err := seeder.Seed(ctx); err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}
	}
	return nil
}

// ensureSchemas creates the named schemas the engine's models live in.
func (mg *Migrator) ensureSchemas(ctx context.Context, engine Engine) error {
	known, err := engine.ShowAllSchemas(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schemas: %w", err)
	}
	for _, m := range engine.Models() {
		schema := m.Schema()
		if schema == "" || containsString(known, schema) {
			continue
		}
		if err := engine.CreateSchema(ctx, schema); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", schema, err)
		}
		known = append(known, schema)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
