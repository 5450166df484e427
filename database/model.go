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

	"gopkg.in/yaml.v3"
)

// Attribute is the declared shape of one model field.
type Attribute struct {
	Type          string      `yaml:"type"`
	AllowNull     *bool       `yaml:"allow_null"`
	PrimaryKey    bool        `yaml:"primary_key"`
	AutoIncrement bool        `yaml:"auto_increment"`
	Unique        bool        `yaml:"unique"`
	DefaultValue  interface{} `yaml:"default"`
	// Field overrides the column name.
	Field     string `yaml:"field"`
	Length    int    `yaml:"length"`
	Precision int    `yaml:"precision"`
	Scale     int    `yaml:"scale"`
	// Disabled marks an attribute the model opted out of; default
	// attributes with this name are not injected.
	Disabled bool `yaml:"-"`
}

// DisabledAttribute is the opt-out sentinel for a default attribute.
func DisabledAttribute() *Attribute { return &Attribute{Disabled: true} }

// UnmarshalYAML accepts `false` (disabled), a bare type name, or a mapping.
func (a *Attribute) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.ShortTag() == "!!bool" {
			var b bool
			if err := value.Decode(&b); err != nil {
				return err
			}
			if b {
				return fmt.Errorf("line %d: attribute must be false, a type name or a mapping", value.Line)
			}
			*a = Attribute{Disabled: true}
			return nil
		}
		*a = Attribute{Type: value.Value}
		return nil
	}
	type plain Attribute
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = Attribute(p)
	return nil
}

// Column returns the column name of the attribute.
func (a *Attribute) Column(name string) string {
	if a.Field != "" {
		return a.Field
	}
	return name
}

// Nullable reports whether the column accepts NULL. Primary keys never do.
func (a *Attribute) Nullable() bool {
	if a.PrimaryKey {
		return false
	}
	if a.AllowNull == nil {
		return true
	}
	return *a.AllowNull
}

func (a *Attribute) clone() *Attribute {
	if a == nil {
		return nil
	}
	cp := *a
	if a.AllowNull != nil {
		v := *a.AllowNull
		cp.AllowNull = &v
	}
	return &cp
}

// Attributes maps attribute names to their declarations.
type Attributes map[string]*Attribute

// Names returns the attribute names with primary keys first, the rest sorted.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for name, attr := range a {
		if attr == nil || attr.Disabled {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := a[names[i]].PrimaryKey, a[names[j]].PrimaryKey
		if pi != pj {
			return pi
		}
		return names[i] < names[j]
	})
	return names
}

func (a Attributes) clone() Attributes {
	if a == nil {
		return nil
	}
	cp := make(Attributes, len(a))
	for k, v := range a {
		cp[k] = v.clone()
	}
	return cp
}

// IndexOptions declares an extra index on the model table.
type IndexOptions struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

// ClassMethod is a behaviour attached to a model class.
type ClassMethod func(ctx context.Context, m *ModelClass, args ...interface{}) (interface{}, error)

// InstanceMethod is a behaviour attached to rows of a model class.
type InstanceMethod func(ctx context.Context, m *ModelClass, row map[string]interface{}, args ...interface{}) (interface{}, error)

// ModelOptions are the per-model settings passed to Engine.Define.
type ModelOptions struct {
	TableName  string         `yaml:"table_name"`
	Schema     string         `yaml:"schema"`
	Connection string         `yaml:"connection"`
	Datastore  string         `yaml:"datastore"`
	Timestamps bool           `yaml:"timestamps"`
	Indexes    []IndexOptions `yaml:"indexes"`

	ClassMethods    map[string]ClassMethod    `yaml:"-"`
	InstanceMethods map[string]InstanceMethod `yaml:"-"`
}

func (o *ModelOptions) clone() *ModelOptions {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Indexes = append([]IndexOptions(nil), o.Indexes...)
	if o.ClassMethods != nil {
		cp.ClassMethods = make(map[string]ClassMethod, len(o.ClassMethods))
		for k, v := range o.ClassMethods {
			cp.ClassMethods[k] = v
		}
	}
	if o.InstanceMethods != nil {
		cp.InstanceMethods = make(map[string]InstanceMethod, len(o.InstanceMethods))
		for k, v := range o.InstanceMethods {
			cp.InstanceMethods[k] = v
		}
	}
	return &cp
}

// HierarchyOptions configures self-referential tree support.
type HierarchyOptions struct {
	// As names the parent relation. Defaults to "parent".
	As                string `yaml:"as"`
	ForeignKey        string `yaml:"foreign_key"`
	LevelFieldName    string `yaml:"level_field_name"`
	ThroughTable      string `yaml:"through_table"`
	ThroughKey        string `yaml:"through_key"`
	ThroughForeignKey string `yaml:"through_foreign_key"`

	disabled bool
}

// UnmarshalYAML accepts a boolean toggle or a mapping.
func (h *HierarchyOptions) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("line %d: hierarchy must be a boolean or a mapping", value.Line)
		}
		*h = HierarchyOptions{disabled: !b}
		return nil
	}
	type plain HierarchyOptions
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*h = HierarchyOptions(p)
	return nil
}

// Enabled reports whether the hierarchy was requested.
func (h *HierarchyOptions) Enabled() bool { return h != nil && !h.disabled }

func (h *HierarchyOptions) clone() *HierarchyOptions {
	if h == nil {
		return nil
	}
	cp := *h
	return &cp
}

// AssociationsFunc declares relations of a model. It runs after every model
// of the bootstrap has been defined, so reg resolves sibling models.
type AssociationsFunc func(desc *ModelDescription, reg *Registry) error

// DefaultScopeFunc returns the default scope of a model. A nil result means
// an empty scope.
type DefaultScopeFunc func() *Scope

// ModelDescription is the declarative input for one model.
type ModelDescription struct {
	Name         string            `yaml:"-"`
	GlobalID     string            `yaml:"global_id"`
	Attributes   Attributes        `yaml:"attributes"`
	Options      *ModelOptions     `yaml:"options"`
	Hierarchy    *HierarchyOptions `yaml:"hierarchy"`
	Associations AssociationsFunc  `yaml:"-"`
	DefaultScope DefaultScopeFunc  `yaml:"-"`
	// Definition is an engine native definition merged over the
	// description before it is defined.
	Definition *ModelDescription `yaml:"-"`

	// Legacy placement of the connection override.
	Connection string `yaml:"connection"`
	Datastore  string `yaml:"datastore"`
}

// Clone returns a copy that shares callbacks but no mutable maps.
func (d *ModelDescription) Clone() *ModelDescription {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Attributes = d.Attributes.clone()
	cp.Options = d.Options.clone()
	cp.Hierarchy = d.Hierarchy.clone()
	cp.Definition = d.Definition.Clone()
	return &cp
}

// mergeDefinition copies every set field of Definition over d.
func (d *ModelDescription) mergeDefinition() {
	t := d.Definition
	if t == nil {
		return
	}
	if t.GlobalID != "" {
		d.GlobalID = t.GlobalID
	}
	if t.Attributes != nil {
		d.Attributes = t.Attributes
	}
	if t.Options != nil {
		d.Options = t.Options
	}
	if t.Hierarchy != nil {
		d.Hierarchy = t.Hierarchy
	}
	if t.Associations != nil {
		d.Associations = t.Associations
	}
	if t.DefaultScope != nil {
		d.DefaultScope = t.DefaultScope
	}
	if t.Connection != "" {
		d.Connection = t.Connection
	}
	if t.Datastore != "" {
		d.Datastore = t.Datastore
	}
}

// ConnectionName resolves the connection a model is routed to.
func (d *ModelDescription) ConnectionName(fallback string) string {
	if d.Options != nil {
		if d.Options.Connection != "" {
			return d.Options.Connection
		}
		if d.Options.Datastore != "" {
			return d.Options.Datastore
		}
	}
	if d.Connection != "" {
		return d.Connection
	}
	if d.Datastore != "" {
		return d.Datastore
	}
	return fallback
}

// ModelSet is an insertion ordered collection of model descriptions.
type ModelSet struct {
	names  []string
	byName map[string]*ModelDescription
}

func NewModelSet() *ModelSet {
	return &ModelSet{byName: map[string]*ModelDescription{}}
}

// Add inserts or replaces a description. A replaced entry keeps its position.
func (s *ModelSet) Add(name string, d *ModelDescription) {
	if d != nil && d.Name == "" {
		d.Name = name
	}
	if _, ok := s.byName[name]; !ok {
		s.names = append(s.names, name)
	}
	s.byName[name] = d
}

func (s *ModelSet) Get(name string) (*ModelDescription, bool) {
	if s == nil {
		return nil, false
	}
	d, ok := s.byName[name]
	return d, ok
}

func (s *ModelSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

func (s *ModelSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Range calls fn in insertion order until it returns false.
func (s *ModelSet) Range(fn func(name string, d *ModelDescription) bool) {
	if s == nil {
		return
	}
	for _, name := range s.names {
		if !fn(name, s.byName[name]) {
			return
		}
	}
}

// Clone deep copies every description.
func (s *ModelSet) Clone() *ModelSet {
	cp := NewModelSet()
	s.Range(func(name string, d *ModelDescription) bool {
		cp.Add(name, d.Clone())
		return true
	})
	return cp
}
