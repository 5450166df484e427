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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.DefaultDatastore = "main"
	return cfg
}

func singleConnection() (Connections, *fakeEngine) {
	engine := newFakeEngine("main", DialectSQLite)
	return Connections{"main": engine}, engine
}

func TestDefineAll_SkipsDescriptionsWithoutOptions(t *testing.T) {
	conns, engine := singleConnection()
	models := NewModelSet()
	models.Add("Waterline", &ModelDescription{Attributes: Attributes{"name": {Type: "STRING"}}})
	models.Add("Nil", nil)
	models.Add("User", &ModelDescription{Options: &ModelOptions{}})

	reg, err := NewDefiner(testConfig(), nil, NopLogger()).DefineAll(context.Background(), models, conns)
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("waterline")
	assert.False(t, ok)
	assert.Len(t, engine.Models(), 1)
}

func TestDefineAll_DefaultAttributes(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultAttributes = map[string]*DefaultAttribute{
		"tenant_id":  {Type: "STRING", AllowNull: boolPtr(false)},
		"created_by": {Type: "INTEGER"},
	}
	conns, _ := singleConnection()
	models := NewModelSet()
	models.Add("OptOut", &ModelDescription{
		Options:    &ModelOptions{},
		Attributes: Attributes{"tenant_id": DisabledAttribute()},
	})
	models.Add("Explicit", &ModelDescription{
		Options:    &ModelOptions{},
		Attributes: Attributes{"created_by": {Type: "STRING", Length: 64}},
	})
	models.Add("Plain", &ModelDescription{Options: &ModelOptions{}})

	reg, err := NewDefiner(cfg, nil, NopLogger()).DefineAll(context.Background(), models, conns)
	require.NoError(t, err)

	optOut := reg.MustGet("OptOut")
	assert.False(t, optOut.HasAttribute("tenant_id"))
	assert.True(t, optOut.HasAttribute("created_by"))

	explicit := reg.MustGet("Explicit").Attributes()
	assert.Equal(t, "STRING", explicit["created_by"].Type)
	assert.Equal(t, 64, explicit["created_by"].Length)

	plain := reg.MustGet("Plain").Attributes()
	require.Contains(t, plain, "tenant_id")
	assert.Equal(t, "STRING", plain["tenant_id"].Type)
	assert.False(t, plain["tenant_id"].Nullable())
	assert.Equal(t, "INTEGER", plain["created_by"].Type)
}

func TestDefineAll_Failures(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(*Config)
		models func() *ModelSet
		errMsg string
	}{
		{
			name: "unknown default attribute type",
			cfg: func(c *Config) {
				c.DefaultAttributes = map[string]*DefaultAttribute{"flag": {Type: "BOOLISH"}}
			},
			models: func() *ModelSet {
				s := NewModelSet()
				s.Add("User", &ModelDescription{Options: &ModelOptions{}})
				return s
			},
			errMsg: "unknown attribute type",
		},
		{
			name: "unknown attribute type",
			models: func() *ModelSet {
				s := NewModelSet()
				s.Add("User", &ModelDescription{Options: &ModelOptions{}, Attributes: Attributes{"n": {Type: "VECTOR"}}})
				return s
			},
			errMsg: "unknown attribute type",
		},
		{
			name: "missing connection",
			models: func() *ModelSet {
				s := NewModelSet()
				s.Add("User", &ModelDescription{Options: &ModelOptions{Connection: "reporting"}})
				return s
			},
			errMsg: `connection "reporting" is not configured`,
		},
		{
			name: "duplicate definition",
			models: func() *ModelSet {
				s := NewModelSet()
				s.Add("User", &ModelDescription{Options: &ModelOptions{}})
				s.Add("Account", &ModelDescription{GlobalID: "User", Options: &ModelOptions{}})
				return s
			},
			errMsg: "already defined",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			conns, _ := singleConnection()

			reg, err := NewDefiner(cfg, nil, NopLogger()).DefineAll(context.Background(), tt.models(), conns)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.True(t, errors.Is(err, ErrDefinition))
			assert.Contains(t, err.Error(), tt.errMsg)

			var bootErr *BootstrapError
			require.True(t, errors.As(err, &bootErr))
			assert.Equal(t, "User", bootErr.Model)
		})
	}
}

func TestDefineAll_ConnectionRouting(t *testing.T) {
	main := newFakeEngine("main", DialectSQLite)
	reporting := newFakeEngine("reporting", DialectPostgres)
	conns := Connections{"main": main, "reporting": reporting}

	models := NewModelSet()
	models.Add("Event", &ModelDescription{Options: &ModelOptions{Datastore: "reporting"}})
	models.Add("Legacy", &ModelDescription{Options: &ModelOptions{}, Connection: "reporting"})
	models.Add("User", &ModelDescription{Options: &ModelOptions{}})

	_, err := NewDefiner(testConfig(), nil, NopLogger()).DefineAll(context.Background(), models, conns)
	require.NoError(t, err)

	assert.Len(t, reporting.Models(), 2)
	require.Len(t, main.Models(), 1)
	assert.Equal(t, "User", main.Models()[0].Name())
}

func TestDefineAll_DefinitionMergeAndHierarchy(t *testing.T) {
	conns, _ := singleConnection()
	models := NewModelSet()
	models.Add("category", &ModelDescription{
		GlobalID: "Category",
		Options:  &ModelOptions{TableName: "ignored"},
		Definition: &ModelDescription{
			Options:    &ModelOptions{TableName: "categories"},
			Attributes: Attributes{"title": {Type: "STRING"}},
		},
		Hierarchy: &HierarchyOptions{},
	})

	reg, err := NewDefiner(testConfig(), nil, NopLogger()).DefineAll(context.Background(), models, conns)
	require.NoError(t, err)

	class := reg.MustGet("category")
	assert.Equal(t, "categories", class.TableName())
	assert.True(t, class.HasAttribute("title"))
	assert.True(t, class.HasAttribute("parent_id"))
	assert.True(t, class.HasAttribute("hierarchy_level"))
	require.NotNil(t, class.Hierarchy())
	assert.Equal(t, "categoriesancestors", class.Hierarchy().ThroughTable)
}

func TestDefineAll_ExposesModelsAndMethods(t *testing.T) {
	cfg := testConfig()
	cfg.ExposeModels = true
	cfg.CustomGlobal = "app"
	ns := NewNamespace()
	conns, _ := singleConnection()

	greet := func(_ context.Context, m *ModelClass, args ...interface{}) (interface{}, error) {
		return "hello " + m.Name(), nil
	}
	models := NewModelSet()
	models.Add("User", &ModelDescription{Options: &ModelOptions{
		ClassMethods: map[string]ClassMethod{"greet": greet},
	}})

	reg, err := NewDefiner(cfg, ns, NopLogger()).DefineAll(context.Background(), models, conns)
	require.NoError(t, err)

	exposed, ok := ns.Lookup("app", "User")
	require.True(t, ok)
	assert.Same(t, reg.MustGet("user"), exposed)

	out, err := reg.MustGet("user").Call(context.Background(), "greet")
	require.NoError(t, err)
	assert.Equal(t, "hello User", out)
}

func TestWireAll_RunsAfterEverySiblingIsDefined(t *testing.T) {
	conns, _ := singleConnection()
	var sawSibling bool
	models := NewModelSet()
	models.Add("Pet", &ModelDescription{
		Options: &ModelOptions{},
		Associations: func(desc *ModelDescription, reg *Registry) error {
			owner, ok := reg.Get("owner")
			sawSibling = ok
			if !ok {
				return errors.New("owner missing")
			}
			pet := reg.MustGet(desc.GlobalID)
			_, err := pet.BelongsTo(owner, AssociationOptions{As: "owner"})
			return err
		},
	})
	models.Add("Owner", &ModelDescription{Options: &ModelOptions{}})

	definer := NewDefiner(testConfig(), nil, NopLogger())
	reg, err := definer.DefineAll(context.Background(), models, conns)
	require.NoError(t, err)
	assert.False(t, reg.Loaded())

	require.NoError(t, definer.WireAll(context.Background(), models, reg))
	assert.True(t, sawSibling)
	assert.True(t, reg.Loaded())

	pet := reg.MustGet("pet")
	assert.True(t, pet.HasAttribute("owner_id"))
	a, ok := pet.Association("owner")
	require.True(t, ok)
	assert.Equal(t, BelongsTo, a.Kind)
}

func TestWireAll_DefaultScope(t *testing.T) {
	conns, _ := singleConnection()
	models := NewModelSet()
	models.Add("Active", &ModelDescription{
		Options:      &ModelOptions{},
		DefaultScope: func() *Scope { return &Scope{Where: Where{"active": true}} },
	})
	models.Add("Empty", &ModelDescription{
		Options:      &ModelOptions{},
		DefaultScope: func() *Scope { return nil },
	})

	definer := NewDefiner(testConfig(), nil, NopLogger())
	reg, err := definer.DefineAll(context.Background(), models, conns)
	require.NoError(t, err)
	require.NoError(t, definer.WireAll(context.Background(), models, reg))

	active := reg.MustGet("active").DefaultScope()
	require.NotNil(t, active)
	assert.Equal(t, true, active.Where["active"])

	empty := reg.MustGet("empty").DefaultScope()
	require.NotNil(t, empty)
	assert.True(t, empty.IsEmpty())
}

func TestWireAll_CallbackFailures(t *testing.T) {
	tests := []struct {
		name string
		desc *ModelDescription
	}{
		{
			name: "association error",
			desc: &ModelDescription{
				Options:      &ModelOptions{},
				Associations: func(*ModelDescription, *Registry) error { return errors.New("target not found") },
			},
		},
		{
			name: "association panic",
			desc: &ModelDescription{
				Options:      &ModelOptions{},
				Associations: func(_ *ModelDescription, reg *Registry) error { reg.MustGet("ghost"); return nil },
			},
		},
		{
			name: "scope panic",
			desc: &ModelDescription{
				Options:      &ModelOptions{},
				DefaultScope: func() *Scope { panic("boom") },
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conns, _ := singleConnection()
			models := NewModelSet()
			models.Add("User", tt.desc)

			definer := NewDefiner(testConfig(), nil, NopLogger())
			reg, err := definer.DefineAll(context.Background(), models, conns)
			require.NoError(t, err)

			err = definer.WireAll(context.Background(), models, reg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrAssociation))
			assert.False(t, reg.Loaded())
		})
	}
}

func TestDefineAll_LeavesDescriptionsUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultAttributes = map[string]*DefaultAttribute{"created_at": {Type: "DATE"}}
	shared := &ModelDescription{
		Options:    &ModelOptions{},
		Attributes: Attributes{"created_at": DisabledAttribute()},
		Definition: &ModelDescription{Attributes: Attributes{
			"created_at": DisabledAttribute(),
			"title":      {Type: "STRING"},
		}},
	}
	source := ModelSourceFunc(func(context.Context) (*ModelSet, error) {
		set := NewModelSet()
		set.Add("Note", shared)
		return set, nil
	})

	for i := 0; i < 2; i++ {
		models, err := source.Discover(context.Background())
		require.NoError(t, err)
		conns, _ := singleConnection()
		definer := NewDefiner(cfg, nil, NopLogger())
		reg, err := definer.DefineAll(context.Background(), models, conns)
		require.NoError(t, err)
		require.NoError(t, definer.WireAll(context.Background(), models, reg))

		note := reg.MustGet("Note")
		assert.False(t, note.HasAttribute("created_at"), "generation %d", i)
		assert.True(t, note.HasAttribute("title"), "generation %d", i)
	}

	assert.Empty(t, shared.GlobalID)
	require.Contains(t, shared.Attributes, "created_at")
	assert.True(t, shared.Attributes["created_at"].Disabled)
	assert.True(t, shared.Definition.Attributes["created_at"].Disabled)
	assert.NotContains(t, shared.Attributes, "title")
}
