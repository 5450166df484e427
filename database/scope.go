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
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/uptrace/bun"
)

// DefaultScopeName is the scope applied to every query of a model class.
const DefaultScopeName = "defaultScope"

// Where maps column names to conditions. A condition is a plain value
// (equality), nil (IS NULL), a slice (IN), a map[Op]interface{} or, on
// connections with operator aliases, a map[string]interface{} keyed by
// "$op" literals.
type Where map[string]interface{}

// Scope is a reusable set of query constraints.
type Scope struct {
	Where Where
	// Or holds alternative condition groups; a row passes when it matches
	// any of them.
	Or    []Where
	Order []string
	Limit int
}

// IsEmpty reports whether the scope filters nothing.
func (s *Scope) IsEmpty() bool {
	return s == nil || (len(s.Where) == 0 && len(s.Or) == 0 && len(s.Order) == 0 && s.Limit == 0)
}

// Merge returns a scope holding the constraints of s and other. Conditions
// of other win on conflicting columns.
func (s *Scope) Merge(other *Scope) *Scope {
	out := &Scope{Where: Where{}}
	for _, sc := range []*Scope{s, other} {
		if sc == nil {
			continue
		}
		for k, v := range sc.Where {
			out.Where[k] = v
		}
		out.Or = append(out.Or, sc.Or...)
		out.Order = append(out.Order, sc.Order...)
		if sc.Limit > 0 {
			out.Limit = sc.Limit
		}
	}
	return out
}

// ScopeOptions controls AddScope.
type ScopeOptions struct {
	Override bool
}

// Apply adds the scope constraints to q.
func (s *Scope) Apply(q *bun.SelectQuery, dialect string, aliases map[string]Op) (*bun.SelectQuery, error) {
	if s.IsEmpty() {
		return q, nil
	}
	if len(s.Where) > 0 {
		expr, args, err := CompileWhere(dialect, s.Where, aliases)
		if err != nil {
			return nil, err
		}
		q = q.Where(expr, args...)
	}
	if len(s.Or) > 0 {
		type group struct {
			expr string
			args []interface{}
		}
		groups := make([]group, 0, len(s.Or))
		for _, w := range s.Or {
			expr, args, err := CompileWhere(dialect, w, aliases)
			if err != nil {
				return nil, err
			}
			if expr != "" {
				groups = append(groups, group{expr, args})
			}
		}
		if len(groups) > 0 {
			q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				for _, g := range groups {
					q = q.WhereOr(g.expr, g.args...)
				}
				return q
			})
		}
	}
	if len(s.Order) > 0 {
		q = q.Order(s.Order...)
	}
	if s.Limit > 0 {
		q = q.Limit(s.Limit)
	}
	return q, nil
}

// CompileWhere renders w as a bun query fragment joined with AND. Columns are
// visited in sorted order so the output is stable.
func CompileWhere(dialect string, w Where, aliases map[string]Op) (string, []interface{}, error) {
	if len(w) == 0 {
		return "", nil, nil
	}
	cols := make([]string, 0, len(w))
	for c := range w {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var parts []string
	var args []interface{}
	for _, col := range cols {
		ops, err := conditionOps(w[col], aliases)
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", col, err)
		}
		for _, oc := range ops {
			expr, a, err := compileOp(dialect, col, oc.op, oc.value)
			if err != nil {
				return "", nil, fmt.Errorf("column %s: %w", col, err)
			}
			parts = append(parts, expr)
			args = append(args, a...)
		}
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", args, nil
}

type opValue struct {
	op    Op
	value interface{}
}

func conditionOps(v interface{}, aliases map[string]Op) ([]opValue, error) {
	switch t := v.(type) {
	case map[Op]interface{}:
		out := make([]opValue, 0, len(t))
		for op, val := range t {
			out = append(out, opValue{op, val})
		}
		sortOps(out)
		return out, nil
	case map[string]interface{}:
		if aliases == nil {
			return nil, fmt.Errorf("operator aliases are not enabled on this connection")
		}
		out := make([]opValue, 0, len(t))
		for alias, val := range t {
			op, ok := aliases[alias]
			if !ok {
				return nil, fmt.Errorf("unknown operator alias %q", alias)
			}
			out = append(out, opValue{op, val})
		}
		sortOps(out)
		return out, nil
	case nil:
		return []opValue{{OpIs, nil}}, nil
	default:
		if isList(v) {
			return []opValue{{OpIn, v}}, nil
		}
		return []opValue{{OpEq, v}}, nil
	}
}

func sortOps(ops []opValue) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].op < ops[j].op })
}

func isList(v interface{}) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	return rv.Type().Elem().Kind() != reflect.Uint8
}

func listValues(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func compileOp(dialect, col string, op Op, v interface{}) (string, []interface{}, error) {
	ident := bun.Ident(col)
	switch op {
	case OpEq:
		if v == nil {
			return "? IS NULL", []interface{}{ident}, nil
		}
		return "? = ?", []interface{}{ident, v}, nil
	case OpNe:
		if v == nil {
			return "? IS NOT NULL", []interface{}{ident}, nil
		}
		return "? != ?", []interface{}{ident, v}, nil
	case OpGt:
		return "? > ?", []interface{}{ident, v}, nil
	case OpGte:
		return "? >= ?", []interface{}{ident, v}, nil
	case OpLt:
		return "? < ?", []interface{}{ident, v}, nil
	case OpLte:
		return "? <= ?", []interface{}{ident, v}, nil
	case OpIn, OpNotIn:
		if !isList(v) {
			return "", nil, fmt.Errorf("%s expects a list", op)
		}
		vals := listValues(v)
		if len(vals) == 0 {
			if op == OpIn {
				return "1 = 0", nil, nil
			}
			return "1 = 1", nil, nil
		}
		kw := "IN"
		if op == OpNotIn {
			kw = "NOT IN"
		}
		return "? " + kw + " (?)", []interface{}{ident, bun.In(vals)}, nil
	case OpLike:
		return "? LIKE ?", []interface{}{ident, v}, nil
	case OpNotLike:
		return "? NOT LIKE ?", []interface{}{ident, v}, nil
	case OpILike, OpNotILike:
		not := ""
		if op == OpNotILike {
			not = "NOT "
		}
		if dialect == DialectPostgres {
			return "? " + not + "ILIKE ?", []interface{}{ident, v}, nil
		}
		return "LOWER(?) " + not + "LIKE LOWER(?)", []interface{}{ident, v}, nil
	case OpIs, OpNot:
		kw := "IS"
		if op == OpNot {
			kw = "IS NOT"
		}
		switch b := v.(type) {
		case nil:
			return "? " + kw + " NULL", []interface{}{ident}, nil
		case bool:
			if b {
				return "? " + kw + " TRUE", []interface{}{ident}, nil
			}
			return "? " + kw + " FALSE", []interface{}{ident}, nil
		}
		if op == OpNot {
			return "? != ?", []interface{}{ident, v}, nil
		}
		return "", nil, fmt.Errorf("is expects nil or a boolean")
	case OpBetween, OpNotBetween:
		if !isList(v) {
			return "", nil, fmt.Errorf("%s expects two values", op)
		}
		vals := listValues(v)
		if len(vals) != 2 {
			return "", nil, fmt.Errorf("%s expects two values", op)
		}
		kw := "BETWEEN"
		if op == OpNotBetween {
			kw = "NOT BETWEEN"
		}
		return "? " + kw + " ? AND ?", []interface{}{ident, vals[0], vals[1]}, nil
	case OpRegexp, OpNotRegexp:
		kw := "REGEXP"
		if dialect == DialectPostgres {
			kw = "~"
		}
		if op == OpNotRegexp {
			if dialect == DialectPostgres {
				kw = "!~"
			} else {
				kw = "NOT REGEXP"
			}
		}
		return "? " + kw + " ?", []interface{}{ident, v}, nil
	default:
		return "", nil, fmt.Errorf("operator %q is not supported on a column", op)
	}
}
