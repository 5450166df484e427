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

package bunhook

import (
	"context"
	"fmt"

	"github.com/tomoncle/bunhook/database"
	"github.com/tomoncle/bunhook/repository"
	"github.com/tomoncle/bunhook/types"
	"github.com/uptrace/bun"
)

type Service interface {
	// Get returns a single row by its primary key.
	Get(ctx context.Context, id any) (repository.Row, error)

	// All returns every row visible through the default scope.
	All(ctx context.Context) ([]repository.Row, error)

	// List returns rows that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]repository.Row, error)

	// Query returns the rows of the model table matching a WHERE condition
	// with ? placeholders, default scope applied.
	Query(ctx context.Context, query string, args ...interface{}) ([]repository.Row, error)

	// Page returns a paginated list of rows.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[repository.Row], error)

	// Update changes the columns of the row identified by id.
	Update(ctx context.Context, id any, changes repository.Row) error

	// Delete removes a row by its primary key.
	Delete(ctx context.Context, id any) error

	// Save inserts one or more rows.
	Save(ctx context.Context, rows ...repository.Row) error

	// SaveOrUpdate upserts rows based on fields and duplicate keys.
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, rows ...repository.Row) error

	// InTx runs fn in a transaction; service calls made with the ctx it
	// receives join that transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Call invokes a class method registered on the model.
	Call(ctx context.Context, method string, args ...interface{}) (interface{}, error)

	// SelectBuilder returns a select query with the default scope and the
	// named scopes applied.
	SelectBuilder(ctx context.Context, scopes ...string) (*bun.SelectQuery, error)

	// InsertBuilder returns an insert query for the model's table.
	InsertBuilder(ctx context.Context) (*bun.InsertQuery, error)

	// UpdateBuilder returns an update query for the model's table.
	UpdateBuilder(ctx context.Context) (*bun.UpdateQuery, error)

	// DeleteBuilder returns a delete query for the model's table.
	DeleteBuilder(ctx context.Context) (*bun.DeleteQuery, error)
}

type baseServiceImpl struct {
	name     string
	registry func() *database.Registry
}

// NewService returns a Service for the model registered under name in reg.
func NewService(reg *database.Registry, name string) Service {
	return &baseServiceImpl{name: name, registry: func() *database.Registry { return reg }}
}

// Service returns a Service bound to the hook. The model is looked up on
// every call so a service survives a reload.
func (h *Hook) Service(name string) Service {
	return &baseServiceImpl{name: name, registry: h.Registry}
}

func (s *baseServiceImpl) baseRepo() (repository.Repository, error) {
	reg := s.registry()
	if reg == nil {
		return nil, fmt.Errorf("models are not loaded yet")
	}
	model, ok := reg.Get(s.name)
	if !ok {
		return nil, fmt.Errorf("model %s is not defined", s.name)
	}
	return repository.NewRepository(model), nil
}

func (s *baseServiceImpl) Save(ctx context.Context, rows ...repository.Row) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Create(ctx, rows...)
}

func (s *baseServiceImpl) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, rows ...repository.Row) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Upsert(ctx, fields, duplicateKeys, rows...)
}

func (s *baseServiceImpl) Get(ctx context.Context, id any) (repository.Row, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.GetOne(ctx, id)
}

func (s *baseServiceImpl) All(ctx context.Context) ([]repository.Row, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.GetAll(ctx)
}

func (s *baseServiceImpl) List(ctx context.Context, filter *types.QueryFilter) ([]repository.Row, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.List(ctx, filter)
}

func (s *baseServiceImpl) Query(ctx context.Context, query string, args ...interface{}) ([]repository.Row, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Query(ctx, query, args...)
}

func (s *baseServiceImpl) Update(ctx context.Context, id any, changes repository.Row) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Update(ctx, id, changes)
}

func (s *baseServiceImpl) Delete(ctx context.Context, id any) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Delete(ctx, id)
}

func (s *baseServiceImpl) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[repository.Row], error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Page(ctx, page)
}

func (s *baseServiceImpl) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.RunInTx(ctx, fn)
}

func (s *baseServiceImpl) Call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Model().Call(ctx, method, args...)
}

func (s *baseServiceImpl) SelectBuilder(ctx context.Context, scopes ...string) (*bun.SelectQuery, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.NewSelect(ctx, scopes...)
}

func (s *baseServiceImpl) InsertBuilder(ctx context.Context) (*bun.InsertQuery, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.NewInsert(ctx)
}

func (s *baseServiceImpl) UpdateBuilder(ctx context.Context) (*bun.UpdateQuery, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.NewUpdate(ctx)
}

func (s *baseServiceImpl) DeleteBuilder(ctx context.Context) (*bun.DeleteQuery, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.NewDelete(ctx)
}
