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
)

func defineCategories(t *testing.T) (*Connection, *ModelClass) {
	t.Helper()
	conn := openMemoryConnection(t)
	class, err := conn.Define("Category", Attributes{"title": {Type: "STRING"}}, &ModelOptions{})
	require.NoError(t, err)
	_, err = class.EnableHierarchy(nil)
	require.NoError(t, err)
	require.NoError(t, conn.Sync(context.Background(), SyncOptions{}))
	return conn, class
}

func TestEnableHierarchy_Defaults(t *testing.T) {
	engine := newFakeEngine("main", DialectSQLite)
	class, err := engine.Define("MenuItem", nil, &ModelOptions{})
	require.NoError(t, err)

	h, err := class.EnableHierarchy(&HierarchyOptions{As: "owner"})
	require.NoError(t, err)
	assert.Equal(t, "owner_id", h.ForeignKey)
	assert.Equal(t, "hierarchy_level", h.LevelFieldName)
	assert.Equal(t, "menu_itemsancestors", h.ThroughTable)
	assert.Equal(t, "menu_item_id", h.ThroughKey)
	assert.Equal(t, "ancestor_id", h.ThroughForeignKey)
	assert.True(t, class.HasAttribute("owner_id"))

	other, err := engine.Define("Node", nil, &ModelOptions{})
	require.NoError(t, err)
	_, err = other.EnableHierarchy(&HierarchyOptions{ThroughKey: "x", ThroughForeignKey: "x"})
	assert.Error(t, err)
}

func TestRebuildHierarchy(t *testing.T) {
	ctx := context.Background()
	conn, class := defineCategories(t)
	_, err := conn.DB().ExecContext(ctx, `INSERT INTO "categories" ("id", "title", "parent_id") VALUES
		(1, 'root', NULL), (2, 'books', 1), (3, 'novels', 2), (4, 'music', 1)`)
	require.NoError(t, err)

	require.NoError(t, class.RebuildHierarchy(ctx))

	var levels []int
	require.NoError(t, conn.DB().NewRaw(`SELECT "hierarchy_level" FROM "categories" ORDER BY "id"`).Scan(ctx, &levels))
	assert.Equal(t, []int{1, 2, 3, 2}, levels)

	ancestors, err := class.Ancestors(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ancestors)

	ancestors, err = class.Ancestors(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ancestors)

	// Rebuilding again replaces the ancestors rows instead of duplicating them.
	require.NoError(t, class.RebuildHierarchy(ctx))
	var count int
	require.NoError(t, conn.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM "categoriesancestors"`).Scan(&count))
	assert.Equal(t, 4, count)
}

func TestRebuildHierarchy_DetectsCycles(t *testing.T) {
	ctx := context.Background()
	conn, class := defineCategories(t)
	_, err := conn.DB().ExecContext(ctx, `INSERT INTO "categories" ("id", "title", "parent_id") VALUES
		(1, 'a', 2), (2, 'b', 1)`)
	require.NoError(t, err)

	err = class.RebuildHierarchy(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent cycle detected")
}

func TestRebuildHierarchy_RequiresTree(t *testing.T) {
	engine := newFakeEngine("main", DialectSQLite)
	class, err := engine.Define("Flat", nil, &ModelOptions{})
	require.NoError(t, err)

	assert.Error(t, class.RebuildHierarchy(context.Background()))
	_, err = class.Ancestors(context.Background(), 1)
	assert.Error(t, err)
}
