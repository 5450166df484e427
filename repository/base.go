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

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/bunhook/database"
	"github.com/tomoncle/bunhook/types"
)

type baseRepositoryImpl struct {
	model *database.ModelClass
}

// NewRepository returns a repository over the rows of model.
func NewRepository(model *database.ModelClass) Repository {
	return &baseRepositoryImpl{model: model}
}

func (r *baseRepositoryImpl) Model() *database.ModelClass { return r.model }

func (r *baseRepositoryImpl) Dialect() schema.Dialect {
	if db := r.model.Engine().DB(); db != nil {
		return db.Dialect()
	}
	return nil
}

func (r *baseRepositoryImpl) db(ctx context.Context) (bun.IDB, error) {
	db := r.model.DB(ctx)
	if db == nil {
		return nil, fmt.Errorf("model %s is not bound to a database", r.model.Name())
	}
	return db, nil
}

func (r *baseRepositoryImpl) primaryKey() (string, error) {
	pks := r.model.PrimaryKeys()
	if len(pks) != 1 {
		return "", fmt.Errorf("model %s needs exactly one primary key, has %d", r.model.Name(), len(pks))
	}
	return pks[0], nil
}

func (r *baseRepositoryImpl) NewSelect(ctx context.Context, scopes ...string) (*bun.SelectQuery, error) {
	return r.model.NewSelect(ctx, scopes...)
}

func (r *baseRepositoryImpl) NewInsert(ctx context.Context) (*bun.InsertQuery, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	expr, args := r.model.TableExpr()
	return db.NewInsert().TableExpr(expr, args...), nil
}

func (r *baseRepositoryImpl) NewUpdate(ctx context.Context) (*bun.UpdateQuery, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	expr, args := r.model.TableExpr()
	return db.NewUpdate().TableExpr(expr, args...), nil
}

func (r *baseRepositoryImpl) NewDelete(ctx context.Context) (*bun.DeleteQuery, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	expr, args := r.model.TableExpr()
	return db.NewDelete().TableExpr(expr, args...), nil
}

func (r *baseRepositoryImpl) GetOne(ctx context.Context, id any) (Row, error) {
	pk, err := r.primaryKey()
	if err != nil {
		return nil, err
	}
	query, err := r.NewSelect(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.scan(ctx, query.Where("? = ?", bun.Ident(pk), id).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

func (r *baseRepositoryImpl) GetAll(ctx context.Context) ([]Row, error) {
	query, err := r.NewSelect(ctx)
	if err != nil {
		return nil, err
	}
	return r.scan(ctx, query)
}

func (r *baseRepositoryImpl) List(ctx context.Context, filter *types.QueryFilter) ([]Row, error) {
	query, err := r.NewSelect(ctx)
	if err != nil {
		return nil, err
	}
	if query, err = r.applyFilter(query, filter); err != nil {
		return nil, err
	}
	return r.scan(ctx, query)
}

func (r *baseRepositoryImpl) Query(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	q, err := r.NewSelect(ctx)
	if err != nil {
		return nil, err
	}
	return r.scan(ctx, q.Where(query, args...))
}

func (r *baseRepositoryImpl) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[Row], error) {
	if pageRequest == nil {
		pageRequest = types.NewPageRequest(1, types.DefaultPageSize)
	}
	query, err := r.NewSelect(ctx, pageRequest.Scopes...)
	if err != nil {
		return nil, err
	}
	if query, err = r.applyFilter(query, pageRequest.Filter); err != nil {
		return nil, err
	}
	pagination := types.NewPagination[Row](pageRequest)
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	if len(pageRequest.Orders) > 0 {
		query = query.Order(pageRequest.Orders...)
	}
	rows, err := r.scan(ctx, query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()))
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = rows
	return pagination, nil
}

func (r *baseRepositoryImpl) Create(ctx context.Context, rows ...Row) error {
	if len(rows) == 0 {
		return nil
	}
	return r.RunInTx(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			values, err := r.prepare(row, true)
			if err != nil {
				return err
			}
			query, err := r.NewInsert(ctx)
			if err != nil {
				return err
			}
			if _, err := query.Model(&values).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update writes changes to the row with the given primary key. It returns
// sql.ErrNoRows when no row matched.
func (r *baseRepositoryImpl) Update(ctx context.Context, id any, changes Row) error {
	pk, err := r.primaryKey()
	if err != nil {
		return err
	}
	if _, hasPK := changes[pk]; len(changes) == 0 || (hasPK && len(changes) == 1) {
		return fmt.Errorf("no columns to update on %s", r.model.Name())
	}
	values, err := r.prepare(changes, false)
	if err != nil {
		return err
	}
	delete(values, pk)
	query, err := r.NewUpdate(ctx)
	if err != nil {
		return err
	}
	res, err := query.Model(&values).Where("? = ?", bun.Ident(pk), id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *baseRepositoryImpl) Delete(ctx context.Context, id any) error {
	pk, err := r.primaryKey()
	if err != nil {
		return err
	}
	query, err := r.NewDelete(ctx)
	if err != nil {
		return err
	}
	_, err = query.Where("? = ?", bun.Ident(pk), id).Exec(ctx)
	return err
}

func (r *baseRepositoryImpl) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	db := r.model.Engine().DB()
	if db == nil {
		return fmt.Errorf("model %s is not bound to a database", r.model.Name())
	}
	return database.RunInTx(ctx, db, r.model.Namespace(), fn)
}

// Upsert inserts rows and, on a key conflict, overwrites fields. The
// statement depends on what the dialect supports.
func (r *baseRepositoryImpl) Upsert(ctx context.Context, fields []string, duplicateKeys []string, rows ...Row) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}
	if len(duplicateKeys) == 0 {
		pk, err := r.primaryKey()
		if err != nil {
			return err
		}
		duplicateKeys = []string{pk}
	}
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	features := db.Dialect().Features()

	return r.RunInTx(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			values, err := r.prepare(row, true)
			if err != nil {
				return err
			}
			switch {
			case features.Has(feature.InsertOnConflict):
				err = r.upsertOnConflict(ctx, values, fields, duplicateKeys)
			case features.Has(feature.InsertOnDuplicateKey):
				err = r.upsertOnDuplicateKey(ctx, values, fields)
			default:
				err = r.upsertFallback(ctx, values, fields, duplicateKeys)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *baseRepositoryImpl) upsertOnConflict(ctx context.Context, values Row, fields, duplicateKeys []string) error {
	query, err := r.NewInsert(ctx)
	if err != nil {
		return err
	}
	query = query.Model(&values).On("CONFLICT (?) DO UPDATE", bun.In(idents(duplicateKeys)))
	for _, field := range fields {
		query = query.Set("? = EXCLUDED.?", bun.Ident(field), bun.Ident(field))
	}
	_, err = query.Exec(ctx)
	return err
}

func (r *baseRepositoryImpl) upsertOnDuplicateKey(ctx context.Context, values Row, fields []string) error {
	query, err := r.NewInsert(ctx)
	if err != nil {
		return err
	}
	query = query.Model(&values).On("DUPLICATE KEY UPDATE")
	for _, field := range fields {
		query = query.Set("? = VALUES(?)", bun.Ident(field), bun.Ident(field))
	}
	_, err = query.Exec(ctx)
	return err
}

func (r *baseRepositoryImpl) upsertFallback(ctx context.Context, values Row, fields, duplicateKeys []string) error {
	query, err := r.NewInsert(ctx)
	if err != nil {
		return err
	}
	_, insertErr := query.Model(&values).Exec(ctx)
	if insertErr == nil {
		return nil
	}
	update, err := r.NewUpdate(ctx)
	if err != nil {
		return err
	}
	changes := Row{}
	for _, field := range fields {
		if v, ok := values[field]; ok {
			changes[field] = v
		}
	}
	update = update.Model(&changes)
	for _, key := range duplicateKeys {
		update = update.Where("? = ?", bun.Ident(key), values[key])
	}
	if _, updateErr := update.Exec(ctx); updateErr != nil {
		return fmt.Errorf("upsert failed: insert error: %v, update error: %w", insertErr, updateErr)
	}
	return nil
}

func (r *baseRepositoryImpl) applyFilter(query *bun.SelectQuery, filter *types.QueryFilter) (*bun.SelectQuery, error) {
	if filter.IsEmpty() {
		return query, nil
	}
	if len(filter.Conditions) > 0 {
		expr, args, err := r.model.CompileWhere(database.Where(filter.Conditions))
		if err != nil {
			return nil, err
		}
		query = query.Where(expr, args...)
	}
	if filter.Expr != "" {
		query = query.Where(filter.Expr, filter.Args...)
	}
	return query, nil
}

func (r *baseRepositoryImpl) scan(ctx context.Context, query *bun.SelectQuery) ([]Row, error) {
	rows := make([]Row, 0)
	if err := query.Scan(ctx, &rows); err != nil {
		return nil, err
	}
	jsonCols := r.jsonColumns()
	if len(jsonCols) == 0 {
		return rows, nil
	}
	for _, row := range rows {
		for col := range jsonCols {
			v, ok := row[col]
			if !ok || v == nil {
				continue
			}
			decoded, err := types.DecodeJSON(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			row[col] = decoded
		}
	}
	return rows, nil
}

// prepare validates the columns of row and encodes JSON values. New rows
// get their timestamps filled in; updates refresh updated_at.
func (r *baseRepositoryImpl) prepare(row Row, insert bool) (Row, error) {
	known := map[string]bool{}
	for _, col := range r.model.Columns() {
		known[col] = true
	}
	jsonCols := r.jsonColumns()

	values := make(Row, len(row)+2)
	for col, v := range row {
		if !known[col] {
			return nil, fmt.Errorf("model %s has no column %s", r.model.Name(), col)
		}
		if jsonCols[col] {
			encoded, err := types.JSONValue(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			v = encoded
		}
		values[col] = v
	}
	if opts := r.model.Options(); opts != nil && opts.Timestamps {
		now := time.Now().UTC()
		if _, ok := values["created_at"]; insert && !ok {
			values["created_at"] = now
		}
		if _, ok := values["updated_at"]; !ok {
			values["updated_at"] = now
		}
	}
	return values, nil
}

func (r *baseRepositoryImpl) jsonColumns() map[string]bool {
	cols := map[string]bool{}
	for name, attr := range r.model.Attributes() {
		if attr == nil || attr.Disabled {
			continue
		}
		switch strings.ToUpper(attr.Type) {
		case "JSON", "JSONB":
			cols[attr.Column(name)] = true
		}
	}
	return cols
}

func idents(names []string) []bun.Ident {
	out := make([]bun.Ident, len(names))
	for i, n := range names {
		out[i] = bun.Ident(n)
	}
	return out
}
