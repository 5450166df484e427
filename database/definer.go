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
)

// Definer turns model descriptions into model classes in two passes.
// DefineAll creates every class; WireAll then declares associations and
// default scopes, which may refer to any class of the same bootstrap.
type Definer struct {
	config  *Config
	exposer Exposer
	logger  Logger
}

// NewDefiner creates a definer. A nil exposer disables model exposure even
// when the configuration asks for it.
func NewDefiner(cfg *Config, exposer Exposer, logger Logger) *Definer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Definer{config: cfg, exposer: exposer, logger: orDefaultLogger(logger)}
}

// DefineAll defines every description of models in insertion order and
// registers the classes. Descriptions are copied first, models is never
// modified. The first failure aborts the pass and the partial registry is
// discarded.
func (d *Definer) DefineAll(ctx context.Context, models *ModelSet, conns Connections) (*Registry, error) {
	reg := NewRegistry()
	var err error
	models.Range(func(name string, desc *ModelDescription) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		err = d.define(reg, name, desc.Clone(), conns)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("Models defined", "count", reg.Len())
	return reg, nil
}

func (d *Definer) define(reg *Registry, name string, desc *ModelDescription, conns Connections) error {
	if desc == nil {
		return nil
	}
	desc.mergeDefinition()
	if desc.Options == nil {
		d.logger.Debug("Skipping model without options", "model", name)
		return nil
	}
	if desc.GlobalID == "" {
		desc.GlobalID = name
	}
	if desc.Attributes == nil {
		desc.Attributes = Attributes{}
	}

	if err := d.applyDefaultAttributes(desc); err != nil {
		return definitionError(desc.GlobalID, "", err)
	}

	connName := desc.ConnectionName(d.config.DefaultDatastore)
	engine, ok := conns.Get(connName)
	if !ok {
		return definitionError(desc.GlobalID, connName, fmt.Errorf("connection %q is not configured", connName))
	}
	// Define attaches the class and instance behaviours of desc.Options.
	class, err := engine.Define(desc.GlobalID, desc.Attributes, desc.Options)
	if err != nil {
		return definitionError(desc.GlobalID, connName, err)
	}
	class.SetNamespace(d.config.ClsNamespace)

	if desc.Hierarchy.Enabled() {
		if _, err := class.EnableHierarchy(desc.Hierarchy); err != nil {
			return definitionError(desc.GlobalID, connName, err)
		}
	}

	if d.config.ExposeModels && d.exposer != nil {
		d.exposer.Expose(d.config.CustomGlobal, desc.GlobalID, class)
	}

	if err := reg.Register(desc.GlobalID, class); err != nil {
		return definitionError(desc.GlobalID, connName, err)
	}
	reg.describe(name, desc)
	d.logger.Debug("Model defined", "model", desc.GlobalID, "connection", connName, "table", class.TableName())
	return nil
}

// applyDefaultAttributes injects the configured default attributes. A model
// opts out of one by declaring it disabled; a model that declares it keeps
// its own definition.
func (d *Definer) applyDefaultAttributes(desc *ModelDescription) error {
	names := make([]string, 0, len(d.config.DefaultAttributes))
	for name := range d.config.DefaultAttributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := d.config.DefaultAttributes[name]
		if existing, ok := desc.Attributes[name]; ok {
			if existing == nil || existing.Disabled {
				delete(desc.Attributes, name)
			}
			continue
		}
		if def == nil {
			continue
		}
		attr := &Attribute{Type: def.Type, AllowNull: def.AllowNull}
		if _, err := sqlType("", attr); err != nil {
			return fmt.Errorf("default attribute %s: %w", name, err)
		}
		desc.Attributes[name] = attr
	}
	return nil
}

// WireAll runs the association and default scope callbacks of every model
// DefineAll defined, in the order of models, then marks the registry
// loaded. Callbacks receive the defined copy of their description. Panics
// in callbacks are reported as association errors.
func (d *Definer) WireAll(ctx context.Context, models *ModelSet, reg *Registry) error {
	var err error
	models.Range(func(name string, _ *ModelDescription) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		desc, ok := reg.description(name)
		if !ok {
			return true
		}
		class, ok := reg.Get(desc.GlobalID)
		if !ok {
			return true
		}
		err = d.wire(desc, class, reg)
		return err == nil
	})
	if err != nil {
		return err
	}
	reg.markLoaded()
	return nil
}

func (d *Definer) wire(desc *ModelDescription, class *ModelClass, reg *Registry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = associationError(class.Name(), fmt.Errorf("panic: %v", r))
		}
	}()

	if desc.Associations != nil {
		if err := desc.Associations(desc, reg); err != nil {
			return associationError(class.Name(), err)
		}
	}
	if desc.DefaultScope != nil {
		if err := class.AddScope(DefaultScopeName, desc.DefaultScope(), ScopeOptions{Override: true}); err != nil {
			return associationError(class.Name(), err)
		}
	}
	return nil
}
