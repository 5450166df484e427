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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAttribute_UnmarshalYAML(t *testing.T) {
	var attrs Attributes
	require.NoError(t, yaml.Unmarshal([]byte(`
name: STRING(64)
legacy: false
email:
  type: STRING
  unique: true
  allow_null: false
  field: email_address
`), &attrs))

	assert.Equal(t, "STRING(64)", attrs["name"].Type)
	assert.True(t, attrs["legacy"].Disabled)
	assert.True(t, attrs["email"].Unique)
	assert.False(t, attrs["email"].Nullable())
	assert.Equal(t, "email_address", attrs["email"].Column("email"))
	assert.Equal(t, []string{"email", "name"}, attrs.Names())

	assert.Error(t, yaml.Unmarshal([]byte("flag: true"), &attrs))
}

func TestHierarchyOptions_UnmarshalYAML(t *testing.T) {
	var d ModelDescription
	require.NoError(t, yaml.Unmarshal([]byte("hierarchy: true"), &d))
	assert.True(t, d.Hierarchy.Enabled())

	d = ModelDescription{}
	require.NoError(t, yaml.Unmarshal([]byte("hierarchy: false"), &d))
	assert.False(t, d.Hierarchy.Enabled())

	d = ModelDescription{}
	require.NoError(t, yaml.Unmarshal([]byte("hierarchy:\n  as: folder\n  through_table: folder_paths\n"), &d))
	assert.True(t, d.Hierarchy.Enabled())
	assert.Equal(t, "folder", d.Hierarchy.As)
	assert.Equal(t, "folder_paths", d.Hierarchy.ThroughTable)

	assert.False(t, (*HierarchyOptions)(nil).Enabled())
	assert.Error(t, yaml.Unmarshal([]byte("hierarchy: sometimes"), &d))
}

func TestAttributes_NamesPutsPrimaryKeysFirst(t *testing.T) {
	attrs := Attributes{
		"zeta":  {Type: "STRING"},
		"uuid":  {Type: "UUID", PrimaryKey: true},
		"alpha": {Type: "STRING"},
		"gone":  DisabledAttribute(),
		"nil":   nil,
	}
	assert.Equal(t, []string{"uuid", "alpha", "zeta"}, attrs.Names())
}

func TestModelDescription_ConnectionName(t *testing.T) {
	tests := []struct {
		name string
		desc ModelDescription
		want string
	}{
		{"options connection wins", ModelDescription{Options: &ModelOptions{Connection: "a", Datastore: "b"}, Connection: "c"}, "a"},
		{"options datastore", ModelDescription{Options: &ModelOptions{Datastore: "b"}, Connection: "c"}, "b"},
		{"top level connection", ModelDescription{Options: &ModelOptions{}, Connection: "c", Datastore: "d"}, "c"},
		{"top level datastore", ModelDescription{Datastore: "d"}, "d"},
		{"fallback", ModelDescription{Options: &ModelOptions{}}, "main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.desc.ConnectionName("main"))
		})
	}
}

func TestModelDescription_MergeDefinition(t *testing.T) {
	keep := &ModelDescription{GlobalID: "Order", Connection: "main"}
	keep.Definition = &ModelDescription{Datastore: "archive", Options: &ModelOptions{TableName: "orders_v2"}}
	keep.mergeDefinition()

	assert.Equal(t, "Order", keep.GlobalID)
	assert.Equal(t, "main", keep.Connection)
	assert.Equal(t, "archive", keep.Datastore)
	assert.Equal(t, "orders_v2", keep.Options.TableName)
}

func TestModelSet_OrderAndClone(t *testing.T) {
	set := NewModelSet()
	set.Add("b", &ModelDescription{Options: &ModelOptions{}})
	set.Add("a", &ModelDescription{Attributes: Attributes{"x": {Type: "STRING"}}})
	set.Add("b", &ModelDescription{Options: &ModelOptions{TableName: "bees"}})

	assert.Equal(t, []string{"b", "a"}, set.Names())
	b, _ := set.Get("b")
	assert.Equal(t, "bees", b.Options.TableName)
	assert.Equal(t, "b", b.Name)

	cp := set.Clone()
	a, _ := cp.Get("a")
	a.Attributes["x"].Type = "TEXT"
	orig, _ := set.Get("a")
	assert.Equal(t, "STRING", orig.Attributes["x"].Type)

	var visited []string
	set.Range(func(name string, _ *ModelDescription) bool {
		visited = append(visited, name)
		return false
	})
	assert.Equal(t, []string{"b"}, visited)

	var nilSet *ModelSet
	assert.Zero(t, nilSet.Len())
	assert.Nil(t, nilSet.Names())
}

func TestDefaultTableName(t *testing.T) {
	tests := map[string]string{
		"Person":      "people",
		"Category":    "categories",
		"UserProfile": "user_profiles",
		"HTTPRequest": "http_requests",
		"order_line":  "order_lines",
	}
	for in, want := range tests {
		assert.Equal(t, want, DefaultTableName(in), in)
	}
}

func TestNewModelClass(t *testing.T) {
	engine := newFakeEngine("main", DialectSQLite)

	m, err := NewModelClass(engine, "Account", Attributes{
		"uuid": {Type: "UUID", PrimaryKey: true},
		"gone": DisabledAttribute(),
	}, &ModelOptions{Timestamps: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"uuid"}, m.PrimaryKeys())
	assert.False(t, m.HasAttribute("id"))
	assert.False(t, m.HasAttribute("gone"))
	assert.True(t, m.HasAttribute("created_at"))

	_, err = NewModelClass(engine, " ", nil, nil)
	assert.Error(t, err)
	_, err = NewModelClass(engine, "Broken", Attributes{"id": {Type: "STRING"}}, nil)
	assert.Error(t, err)
}

func TestModelClass_Methods(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine("main", DialectSQLite)
	m, err := engine.Define("Invoice", Attributes{"total": {Type: "INTEGER"}}, &ModelOptions{
		InstanceMethods: map[string]InstanceMethod{
			"withTax": func(_ context.Context, _ *ModelClass, row map[string]interface{}, args ...interface{}) (interface{}, error) {
				return row["total"].(int) * (100 + args[0].(int)) / 100, nil
			},
		},
	})
	require.NoError(t, err)
	m.AddClassMethod("table", func(_ context.Context, m *ModelClass, _ ...interface{}) (interface{}, error) {
		return m.TableName(), nil
	})

	assert.Equal(t, []string{"table"}, m.ClassMethods())
	assert.Equal(t, []string{"withTax"}, m.InstanceMethods())

	out, err := m.Call(ctx, "table")
	require.NoError(t, err)
	assert.Equal(t, "invoices", out)

	out, err = m.CallInstance(ctx, "withTax", map[string]interface{}{"total": 200}, 20)
	require.NoError(t, err)
	assert.Equal(t, 240, out)

	_, err = m.CallInstance(ctx, "refund", nil)
	assert.EqualError(t, err, "Invoice has no instance method refund")
}
