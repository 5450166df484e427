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

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/bunhook/database"
	"github.com/tomoncle/bunhook/types"
)

// Row is one table row keyed by column name.
type Row = map[string]interface{}

// CrudRepository defines basic CRUD operations on the rows of a model.
type CrudRepository interface {
	GetOne(ctx context.Context, id any) (Row, error)

	GetAll(ctx context.Context) ([]Row, error)

	List(ctx context.Context, filter *types.QueryFilter) ([]Row, error)

	// Query filters the model table by a WHERE condition.
	Query(ctx context.Context, query string, args ...interface{}) ([]Row, error)

	Create(ctx context.Context, rows ...Row) error

	Upsert(ctx context.Context, fields []string, duplicateKeys []string, rows ...Row) error

	Update(ctx context.Context, id any, changes Row) error

	Delete(ctx context.Context, id any) error
}

// TransactionRepository runs several operations in one transaction. The
// transaction travels in the context, so every repository of models sharing
// the namespace joins it.
type TransactionRepository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PageQueryRepository defines pagination functionality for listing rows.
type PageQueryRepository interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[Row], error)
}

// Repository combines CRUD, pagination and transactions, and exposes the
// bun query builders of the model table for advanced use cases.
type Repository interface {
	CrudRepository
	PageQueryRepository
	TransactionRepository
	Model() *database.ModelClass
	Dialect() schema.Dialect
	NewSelect(ctx context.Context, scopes ...string) (*bun.SelectQuery, error)
	NewInsert(ctx context.Context) (*bun.InsertQuery, error)
	NewUpdate(ctx context.Context) (*bun.UpdateQuery, error)
	NewDelete(ctx context.Context) (*bun.DeleteQuery, error)
}
