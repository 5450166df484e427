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

// Package config loads the bootstrap settings from defaults, a YAML file,
// BUNHOOK_ environment variables and command line flags, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/tomoncle/bunhook"
	"github.com/tomoncle/bunhook/database"
)

// EnvPrefix prefixes the environment variables read by Load. A double
// underscore separates nested keys: BUNHOOK_ORM__HOOK_TIMEOUT sets
// orm.hook_timeout.
const EnvPrefix = "BUNHOOK_"

// DefaultFiles are looked up in the working directory when no file is
// given explicitly.
var DefaultFiles = []string{"bunhook.yaml", "bunhook.yml"}

type ORMSettings struct {
	HookTimeout       time.Duration                         `koanf:"hook_timeout"`
	ClsNamespace      string                                `koanf:"cls_namespace"`
	ExposeToGlobal    bool                                  `koanf:"expose_to_global"`
	CustomGlobal      string                                `koanf:"custom_global"`
	DefaultAttributes map[string]*database.DefaultAttribute `koanf:"default_attributes"`
	Datastores        map[string]*database.DatastoreConfig  `koanf:"datastores"`
	ModelsDir         string                                `koanf:"models_dir"`
	// Filter names the interceptor polarity, "foreign" or "claimed".
	Filter string `koanf:"filter"`
	// EnvOverrides applies DB_<NAME>_* variables to each datastore.
	EnvOverrides bool `koanf:"env_overrides"`
}

type ModelsSettings struct {
	Migrate    string `koanf:"migrate"`
	Datastore  string `koanf:"datastore"`
	Connection string `koanf:"connection"`
}

type GlobalsSettings struct {
	Models bool `koanf:"models"`
}

type HooksSettings struct {
	// ORM makes the bootstrap wait for the host's model hook.
	ORM bool `koanf:"orm"`
}

// Settings is the whole configuration surface. Datastores may live under
// orm.datastores, datastores or the legacy connections key.
type Settings struct {
	ORM         ORMSettings                          `koanf:"orm"`
	Models      ModelsSettings                       `koanf:"models"`
	Datastores  map[string]*database.DatastoreConfig `koanf:"datastores"`
	Connections map[string]*database.DatastoreConfig `koanf:"connections"`
	Globals     GlobalsSettings                      `koanf:"globals"`
	Hooks       HooksSettings                        `koanf:"hooks"`

	// File is the configuration file that was read, if any.
	File string `koanf:"-"`
}

func defaults() map[string]interface{} {
	cfg := database.DefaultConfig()
	return map[string]interface{}{
		"orm.hook_timeout":     cfg.HookTimeout.String(),
		"orm.cls_namespace":    cfg.ClsNamespace,
		"orm.expose_to_global": cfg.ExposeToGlobal,
		"orm.filter":           "foreign",
		"globals.models":       false,
		"hooks.orm":            false,
	}
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"migrate":      "models.migrate",
	"datastore":    "models.datastore",
	"models-dir":   "orm.models_dir",
	"filter":       "orm.filter",
	"hook-timeout": "orm.hook_timeout",
}

// BindFlags registers the flags Load understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("migrate", "", "migration strategy: safe, drop, alter or default")
	fs.String("datastore", "", "name of the default datastore")
	fs.String("models-dir", "", "directory of model description files")
	fs.String("filter", "", "models to bootstrap: foreign or claimed")
	fs.Duration("hook-timeout", 0, "how long to wait for the orm hook")
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads the configuration. path may be empty; flags may be nil. Only
// flags that were set on the command line override other sources.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(path)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	s.File = used
	return &s, nil
}

// ResolvedDatastores returns the datastore map, preferring orm.datastores
// over datastores over connections.
func (s *Settings) ResolvedDatastores() map[string]*database.DatastoreConfig {
	return database.ResolveDatastores(s.ORM.Datastores, s.Datastores, s.Connections)
}

// DefaultDatastore returns models.datastore, then models.connection, then
// "default".
func (s *Settings) DefaultDatastore() string {
	return database.ResolveDefaultDatastore(s.Models.Datastore, s.Models.Connection)
}

// DatabaseConfig converts the settings into the bootstrap configuration.
func (s *Settings) DatabaseConfig() *database.Config {
	return &database.Config{
		HookTimeout:       s.ORM.HookTimeout,
		ClsNamespace:      s.ORM.ClsNamespace,
		ExposeToGlobal:    s.ORM.ExposeToGlobal,
		CustomGlobal:      s.ORM.CustomGlobal,
		ExposeModels:      s.Globals.Models,
		DefaultAttributes: s.ORM.DefaultAttributes,
		DefaultDatastore:  s.DefaultDatastore(),
		Migrate:           s.Models.Migrate,
	}
}

// HookOptions builds the options of a bunhook.Hook. A nil source falls back
// to the model files of orm.models_dir.
func (s *Settings) HookOptions(source database.ModelSource) (bunhook.Options, error) {
	filter, err := database.ModelFilterByName(s.ORM.Filter)
	if err != nil {
		return bunhook.Options{}, err
	}
	if source == nil {
		if s.ORM.ModelsDir == "" {
			return bunhook.Options{}, fmt.Errorf("orm.models_dir is required when no model source is given")
		}
		source = &database.FileSource{Dir: s.ORM.ModelsDir}
	}
	return bunhook.Options{
		Config:       s.DatabaseConfig(),
		Datastores:   s.ResolvedDatastores(),
		Source:       source,
		Filter:       filter,
		WaitForORM:   s.Hooks.ORM,
		EnvOverrides: s.ORM.EnvOverrides,
	}, nil
}
