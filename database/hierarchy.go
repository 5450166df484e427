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

	"github.com/uptrace/bun"
)

// EnableHierarchy turns m into a tree: it adds the parent and level columns
// and records an ancestors through table that Sync creates next to the
// model table.
func (m *ModelClass) EnableHierarchy(opts *HierarchyOptions) (*HierarchyOptions, error) {
	h := &HierarchyOptions{}
	if opts != nil {
		*h = *opts
	}
	if h.As == "" {
		h.As = "parent"
	}
	if h.ForeignKey == "" {
		h.ForeignKey = h.As + "_id"
	}
	if h.LevelFieldName == "" {
		h.LevelFieldName = "hierarchy_level"
	}
	if h.ThroughTable == "" {
		h.ThroughTable = m.tableName + "ancestors"
	}
	if h.ThroughKey == "" {
		h.ThroughKey = underscore(m.name) + "_id"
	}
	if h.ThroughForeignKey == "" {
		h.ThroughForeignKey = "ancestor_id"
	}
	if h.ThroughKey == h.ThroughForeignKey {
		return nil, fmt.Errorf("hierarchy on %s: through keys must differ", m.name)
	}
	pks := m.PrimaryKeys()
	if len(pks) != 1 {
		return nil, fmt.Errorf("hierarchy on %s: model needs exactly one primary key", m.name)
	}

	m.addAttribute(h.ForeignKey, &Attribute{Type: "INTEGER", AllowNull: boolPtr(true)})
	m.addAttribute(h.LevelFieldName, &Attribute{Type: "INTEGER", AllowNull: boolPtr(true)})

	m.mu.Lock()
	m.hierarchy = h
	m.mu.Unlock()
	return h, nil
}

// Hierarchy returns the tree settings, or nil when m is not a tree.
func (m *ModelClass) Hierarchy() *HierarchyOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hierarchy
}

func (m *ModelClass) throughTableExpr() (string, []interface{}) {
	h := m.Hierarchy()
	if m.schema != "" && m.engine != nil && m.engine.SupportsSchemas() {
		return "?.?", []interface{}{bun.Ident(m.schema), bun.Ident(h.ThroughTable)}
	}
	return "?", []interface{}{bun.Ident(h.ThroughTable)}
}

type treeNode struct {
	ID       int64         `bun:"id"`
	ParentID sql.NullInt64 `bun:"parent_id"`
}

// RebuildHierarchy recomputes the level column and the ancestors table from
// the parent column. It runs inside a single transaction.
func (m *ModelClass) RebuildHierarchy(ctx context.Context) error {
	h := m.Hierarchy()
	if h == nil {
		return fmt.Errorf("%s is not a hierarchy", m.name)
	}
	db := m.DB(ctx)
	if db == nil {
		return fmt.Errorf("model %s is not bound to a database", m.name)
	}
	pk := m.PrimaryKeys()[0]
	table, tableArgs := m.TableExpr()

	var rows []treeNode
	err := db.NewSelect().
		TableExpr(table, tableArgs...).
		ColumnExpr("? AS id", bun.Ident(pk)).
		ColumnExpr("? AS parent_id", bun.Ident(h.ForeignKey)).
		Scan(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to load %s tree: %w", m.name, err)
	}

	parents := make(map[int64]int64, len(rows))
	for _, r := range rows {
		if r.ParentID.Valid {
			parents[r.ID] = r.ParentID.Int64
		}
	}
	ancestors := make(map[int64][]int64, len(rows))
	for _, r := range rows {
		seen := map[int64]bool{r.ID: true}
		cur := r.ID
		for {
			p, ok := parents[cur]
			if !ok {
				break
			}
			if seen[p] {
				return fmt.Errorf("%s %d: parent cycle detected", m.name, r.ID)
			}
			seen[p] = true
			ancestors[r.ID] = append(ancestors[r.ID], p)
			cur = p
		}
	}

	through, throughArgs := m.throughTableExpr()
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().TableExpr(through, throughArgs...).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := tx.NewUpdate().
				TableExpr(table, tableArgs...).
				Set("? = ?", bun.Ident(h.LevelFieldName), len(ancestors[r.ID])+1).
				Where("? = ?", bun.Ident(pk), r.ID).
				Exec(ctx); err != nil {
				return err
			}
			for _, a := range ancestors[r.ID] {
				values := map[string]interface{}{h.ThroughKey: r.ID, h.ThroughForeignKey: a}
				if _, err := tx.NewInsert().Model(&values).TableExpr(through, throughArgs...).Exec(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Ancestors returns the ancestor ids of id ordered from the nearest one.
func (m *ModelClass) Ancestors(ctx context.Context, id int64) ([]int64, error) {
	h := m.Hierarchy()
	if h == nil {
		return nil, fmt.Errorf("%s is not a hierarchy", m.name)
	}
	db := m.DB(ctx)
	if db == nil {
		return nil, fmt.Errorf("model %s is not bound to a database", m.name)
	}
	pk := m.PrimaryKeys()[0]
	table, tableArgs := m.TableExpr()
	through, throughArgs := m.throughTableExpr()

	var ids []int64
	err := db.NewSelect().
		TableExpr(through+" AS a", throughArgs...).
		Join("JOIN "+table+" AS t", tableArgs...).
		JoinOn("t.? = a.?", bun.Ident(pk), bun.Ident(h.ThroughForeignKey)).
		ColumnExpr("a.?", bun.Ident(h.ThroughForeignKey)).
		Where("a.? = ?", bun.Ident(h.ThroughKey), id).
		OrderExpr("t.? DESC", bun.Ident(h.LevelFieldName)).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
