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

package types

// QueryFilter narrows a listing. Conditions use the column condition syntax
// of model scopes; Expr is a raw query fragment with "?" placeholders. Both
// may be set and are joined with AND.
type QueryFilter struct {
	Conditions map[string]interface{}
	Expr       string
	Args       []interface{}
}

// NewQueryFilter creates a filter from a raw fragment and its arguments.
func NewQueryFilter(expr string, args ...interface{}) *QueryFilter {
	return &QueryFilter{Expr: expr, Args: args}
}

// NewConditionFilter creates a filter from column conditions.
func NewConditionFilter(conditions map[string]interface{}) *QueryFilter {
	return &QueryFilter{Conditions: conditions}
}

// IsEmpty reports whether the filter restricts nothing.
func (f *QueryFilter) IsEmpty() bool {
	return f == nil || (len(f.Conditions) == 0 && f.Expr == "")
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// PageRequest describes pagination, an optional filter, ordering and the
// named scopes applied on top of the default scope.
type PageRequest struct {
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Filter   *QueryFilter `json:"-"`
	Orders   []string     `json:"orders,omitempty"` // "id ASC", "name DESC"
	Scopes   []string     `json:"scopes,omitempty"`
}

// NewPageRequest constructs a PageRequest without filter or ordering.
func NewPageRequest(page, pageSize int) *PageRequest {
	return &PageRequest{Page: page, PageSize: pageSize}
}

func (p *PageRequest) WithFilter(filter *QueryFilter) *PageRequest {
	p.Filter = filter
	return p
}

func (p *PageRequest) WithOrders(orders ...string) *PageRequest {
	p.Orders = append(p.Orders, orders...)
	return p
}

func (p *PageRequest) WithScopes(scopes ...string) *PageRequest {
	p.Scopes = append(p.Scopes, scopes...)
	return p
}

func (p *PageRequest) GetPageSize() int {
	switch {
	case p.PageSize < 1:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return p.PageSize
}

func (p *PageRequest) GetPage() int {
	if p.Page < 1 {
		return 1
	}
	return p.Page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// Pagination holds one page of items along with pagination metadata.
type Pagination[T any] struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
	Items    []T `json:"items"`
}

// NewPagination constructs an empty page for req.
func NewPagination[T any](req *PageRequest) *Pagination[T] {
	return &Pagination[T]{Page: req.GetPage(), PageSize: req.GetPageSize(), Items: make([]T, 0)}
}

// Pages returns the number of pages needed for Total items.
func (p *Pagination[T]) Pages() int {
	if p.PageSize < 1 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

func (p *Pagination[T]) HasNext() bool {
	return p.Page < p.Pages()
}
