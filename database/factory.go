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
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// OpenFunc opens one datastore. ResolveConnections uses OpenConnection
// unless ResolveOptions.Open replaces it.
type OpenFunc func(ctx context.Context, name string, cfg *DatastoreConfig, logger Logger) (Engine, error)

// ResolveOptions tunes ResolveConnections.
type ResolveOptions struct {
	Logger Logger
	// EnvOverrides applies DB_<NAME>_* environment variables to each
	// datastore before it is opened.
	EnvOverrides bool
	Open         OpenFunc
}

func defaultOpen(_ context.Context, name string, cfg *DatastoreConfig, logger Logger) (Engine, error) {
	return OpenConnection(name, cfg, logger)
}

// ResolveConnections opens one engine per datastore this layer owns.
// Entries with an adapter are skipped. The datastore marked default is
// also reachable under "default". defaultName must be a configured
// datastore, otherwise nothing is opened.
func ResolveConnections(ctx context.Context, datastores map[string]*DatastoreConfig, defaultName string, opts ResolveOptions) (Connections, error) {
	logger := orDefaultLogger(opts.Logger)
	if _, ok := datastores[defaultName]; !ok {
		return nil, configurationError(defaultName,
			fmt.Errorf("default datastore %q is not defined in the datastore configuration", defaultName))
	}
	open := opts.Open
	if open == nil {
		open = defaultOpen
	}

	names := make([]string, 0, len(datastores))
	for name := range datastores {
		names = append(names, name)
	}
	sort.Strings(names)

	conns := Connections{}
	for _, name := range names {
		cfg := datastores[name]
		if cfg.Foreign() {
			logger.Debug("Skipping datastore owned by another adapter", "datastore", name)
			continue
		}
		cfg = cfg.Clone()
		if opts.EnvOverrides {
			overrideFromEnv(name, cfg)
		}

		engine, err := open(ctx, name, cfg, logger)
		if err != nil {
			return nil, multierr.Append(configurationError(name, err), conns.Close())
		}
		conns[name] = engine
		if cfg.Default && name != DefaultConnectionName {
			conns[DefaultConnectionName] = engine
		}
		logger.Info("Datastore connection resolved", "datastore", name, "dialect", engine.Dialect())
	}
	return conns, nil
}

func envKey(name, field string) string {
	upper := strings.ToUpper(strings.Map(func(r rune) rune {
		if r == '-' || r == '.' || r == ' ' {
			return '_'
		}
		return r
	}, name))
	return fmt.Sprintf("DB_%s_%s", upper, field)
}

// overrideFromEnv overrides datastore values from DB_<NAME>_* variables.
func overrideFromEnv(name string, cfg *DatastoreConfig) {
	if v := os.Getenv(envKey(name, "URL")); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv(envKey(name, "HOST")); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(envKey(name, "PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv(envKey(name, "USER")); v != "" {
		cfg.User = v
	}
	if v := os.Getenv(envKey(name, "PASSWORD")); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv(envKey(name, "DATABASE")); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv(envKey(name, "SSLMODE")); v != "" {
		cfg.Options.SSLMode = v
	}
	if v := os.Getenv(envKey(name, "MAX_IDLE_CONNS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Options.MaxIdleConns = n
		}
	}
	if v := os.Getenv(envKey(name, "MAX_OPEN_CONNS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Options.MaxOpenConns = n
		}
	}
	if v := os.Getenv(envKey(name, "CONN_MAX_LIFETIME")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Options.ConnMaxLifetime = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(envKey(name, "LOGGING")); v != "" {
		cfg.Options.Logging = v
	}
}
