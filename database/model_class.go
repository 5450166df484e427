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
	"strings"
	"sync"
	"unicode"

	"github.com/jinzhu/inflection"
	"github.com/uptrace/bun"
)

// ModelClass is a model defined against one engine. It is created by
// Engine.Define and completed by the wiring pass.
type ModelClass struct {
	name      string
	tableName string
	schema    string
	engine    Engine
	namespace string

	mu              sync.RWMutex
	attributes      Attributes
	options         *ModelOptions
	scopes          map[string]*Scope
	associations    []*Association
	classMethods    map[string]ClassMethod
	instanceMethods map[string]InstanceMethod
	hierarchy       *HierarchyOptions
}

// NewModelClass builds a class bound to engine. Engines call it from Define;
// it validates attribute types against the engine dialect and adds an "id"
// primary key when none is declared.
func NewModelClass(engine Engine, name string, attrs Attributes, opts *ModelOptions) (*ModelClass, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}
	if opts == nil {
		opts = &ModelOptions{}
	}
	m := &ModelClass{
		name:            name,
		tableName:       opts.TableName,
		schema:          opts.Schema,
		engine:          engine,
		attributes:      Attributes{},
		options:         opts,
		scopes:          map[string]*Scope{},
		classMethods:    map[string]ClassMethod{},
		instanceMethods: map[string]InstanceMethod{},
	}
	if m.tableName == "" {
		m.tableName = DefaultTableName(name)
	}

	dialect := ""
	if engine != nil {
		dialect = engine.Dialect()
	}
	hasPK := false
	for attrName, attr := range attrs {
		if attr == nil || attr.Disabled {
			continue
		}
		if _, err := sqlType(dialect, attr); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", attrName, err)
		}
		if attr.PrimaryKey {
			hasPK = true
		}
		m.attributes[attrName] = attr.clone()
	}
	if !hasPK {
		if _, taken := m.attributes["id"]; taken {
			return nil, fmt.Errorf("attribute id must be the primary key when no other primary key is declared")
		}
		m.attributes["id"] = &Attribute{Type: "INTEGER", PrimaryKey: true, AutoIncrement: true}
	}
	if opts.Timestamps {
		for _, col := range []string{"created_at", "updated_at"} {
			if _, ok := m.attributes[col]; !ok {
				m.attributes[col] = &Attribute{Type: "DATE", AllowNull: boolPtr(false), DefaultValue: "CURRENT_TIMESTAMP"}
			}
		}
	}
	for k, v := range opts.ClassMethods {
		m.classMethods[k] = v
	}
	for k, v := range opts.InstanceMethods {
		m.instanceMethods[k] = v
	}
	return m, nil
}

// DefaultTableName derives the table of a model the way bun does for
// structs: snake case, pluralized.
func DefaultTableName(globalID string) string {
	return inflection.Plural(underscore(globalID))
}

func underscore(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func boolPtr(b bool) *bool { return &b }

func (m *ModelClass) Name() string      { return m.name }
func (m *ModelClass) TableName() string { return m.tableName }
func (m *ModelClass) Schema() string    { return m.schema }
func (m *ModelClass) Engine() Engine    { return m.engine }

// Options returns the options the class was defined with.
func (m *ModelClass) Options() *ModelOptions { return m.options }

// Attributes returns a copy of the current attribute set.
func (m *ModelClass) Attributes() Attributes {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attributes.clone()
}

// HasAttribute reports whether name is declared.
func (m *ModelClass) HasAttribute(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.attributes[name]
	return ok
}

// PrimaryKeys returns the primary key column names.
func (m *ModelClass) PrimaryKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pks []string
	for _, name := range m.attributes.Names() {
		if a := m.attributes[name]; a.PrimaryKey {
			pks = append(pks, a.Column(name))
		}
	}
	return pks
}

// Columns returns the column names in table order.
func (m *ModelClass) Columns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := m.attributes.Names()
	cols := make([]string, len(names))
	for i, name := range names {
		cols[i] = m.attributes[name].Column(name)
	}
	return cols
}

// addAttribute declares name unless it exists already.
func (m *ModelClass) addAttribute(name string, attr *Attribute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attributes[name]; !ok {
		m.attributes[name] = attr
	}
}

// SetNamespace sets the context namespace transactions are looked up in.
func (m *ModelClass) SetNamespace(ns string) { m.namespace = ns }

// Namespace returns the context namespace transactions are bound under.
func (m *ModelClass) Namespace() string { return m.namespace }

// AddScope attaches a named scope. An existing scope is only replaced when
// opts.Override is set.
func (m *ModelClass) AddScope(name string, scope *Scope, opts ScopeOptions) error {
	if scope == nil {
		scope = &Scope{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scopes[name]; exists && !opts.Override {
		return fmt.Errorf("scope %s already defined on %s", name, m.name)
	}
	m.scopes[name] = scope
	return nil
}

// Scope returns a named scope.
func (m *ModelClass) Scope(name string) (*Scope, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[name]
	return s, ok
}

// DefaultScope returns the default scope or nil.
func (m *ModelClass) DefaultScope() *Scope {
	s, _ := m.Scope(DefaultScopeName)
	return s
}

// AddClassMethod attaches a class behaviour.
func (m *ModelClass) AddClassMethod(name string, fn ClassMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classMethods[name] = fn
}

// AddInstanceMethod attaches a row behaviour.
func (m *ModelClass) AddInstanceMethod(name string, fn InstanceMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instanceMethods[name] = fn
}

// ClassMethods returns the sorted names of class behaviours.
func (m *ModelClass) ClassMethods() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedMethodNames(m.classMethods)
}

// InstanceMethods returns the sorted names of row behaviours.
func (m *ModelClass) InstanceMethods() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedMethodNames(m.instanceMethods)
}

func sortedMethodNames[T any](methods map[string]T) []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a class behaviour.
func (m *ModelClass) Call(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	m.mu.RLock()
	fn, ok := m.classMethods[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s has no class method %s", m.name, name)
	}
	return fn(ctx, m, args...)
}

// CallInstance invokes a row behaviour on row.
func (m *ModelClass) CallInstance(ctx context.Context, name string, row map[string]interface{}, args ...interface{}) (interface{}, error) {
	m.mu.RLock()
	fn, ok := m.instanceMethods[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s has no instance method %s", m.name, name)
	}
	return fn(ctx, m, row, args...)
}

// DB returns the transaction bound to ctx, or the engine database.
func (m *ModelClass) DB(ctx context.Context) bun.IDB {
	if tx, ok := TxFromContext(ctx, m.namespace); ok {
		return tx
	}
	if m.engine == nil || m.engine.DB() == nil {
		return nil
	}
	return m.engine.DB()
}

func (m *ModelClass) dialect() string {
	if m.engine == nil {
		return ""
	}
	return m.engine.Dialect()
}

func (m *ModelClass) aliases() map[string]Op {
	if m.engine == nil {
		return nil
	}
	return m.engine.OperatorAliases()
}

// TableExpr returns the table reference with its schema on engines that
// support schemas.
func (m *ModelClass) TableExpr() (string, []interface{}) {
	if m.schema != "" && m.engine != nil && m.engine.SupportsSchemas() {
		return "?.?", []interface{}{bun.Ident(m.schema), bun.Ident(m.tableName)}
	}
	return "?", []interface{}{bun.Ident(m.tableName)}
}

// NewSelect starts a select on the model table with the default scope and
// the named scopes applied.
func (m *ModelClass) NewSelect(ctx context.Context, scopes ...string) (*bun.SelectQuery, error) {
	db := m.DB(ctx)
	if db == nil {
		return nil, fmt.Errorf("model %s is not bound to a database", m.name)
	}
	expr, args := m.TableExpr()
	q := db.NewSelect().TableExpr(expr, args...)
	return m.ApplyScopes(q, append([]string{DefaultScopeName}, scopes...)...)
}

// NewUnscopedSelect starts a select without the default scope.
func (m *ModelClass) NewUnscopedSelect(ctx context.Context) (*bun.SelectQuery, error) {
	db := m.DB(ctx)
	if db == nil {
		return nil, fmt.Errorf("model %s is not bound to a database", m.name)
	}
	expr, args := m.TableExpr()
	return db.NewSelect().TableExpr(expr, args...), nil
}

// ApplyScopes applies the named scopes in order. A missing default scope is
// ignored; any other missing scope is an error.
func (m *ModelClass) ApplyScopes(q *bun.SelectQuery, names ...string) (*bun.SelectQuery, error) {
	for _, name := range names {
		s, ok := m.Scope(name)
		if !ok {
			if name == DefaultScopeName {
				continue
			}
			return nil, fmt.Errorf("scope %s is not defined on %s", name, m.name)
		}
		var err error
		if q, err = s.Apply(q, m.dialect(), m.aliases()); err != nil {
			return nil, fmt.Errorf("scope %s on %s: %w", name, m.name, err)
		}
	}
	return q, nil
}

// CompileWhere renders w with this class's dialect and operator aliases.
func (m *ModelClass) CompileWhere(w Where) (string, []interface{}, error) {
	return CompileWhere(m.dialect(), w, m.aliases())
}
