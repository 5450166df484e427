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
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Bootstrap failure kinds, matched with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrDiscovery     = errors.New("model discovery error")
	ErrDefinition    = errors.New("model definition error")
	ErrAssociation   = errors.New("association error")
	ErrMigration     = errors.New("migration error")
)

// BootstrapError annotates a failure with the model and connection it
// happened on.
type BootstrapError struct {
	Kind       error
	Model      string
	Connection string
	Err        error
}

func (e *BootstrapError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Model != "" {
		fmt.Fprintf(&b, " (model %s)", e.Model)
	}
	if e.Connection != "" {
		fmt.Fprintf(&b, " (connection %s)", e.Connection)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BootstrapError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func configurationError(conn string, err error) error {
	return &BootstrapError{Kind: ErrConfiguration, Connection: conn, Err: err}
}

func definitionError(model, conn string, err error) error {
	return &BootstrapError{Kind: ErrDefinition, Model: model, Connection: conn, Err: err}
}

func associationError(model string, err error) error {
	return &BootstrapError{Kind: ErrAssociation, Model: model, Err: err}
}

func migrationError(conn string, err error) error {
	return &BootstrapError{Kind: ErrMigration, Connection: conn, Err: err}
}

// DiscoveryError wraps a model source failure.
func DiscoveryError(err error) error {
	return &BootstrapError{Kind: ErrDiscovery, Err: err}
}

// SQLError classifies driver errors the schema code needs to tell apart.
type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
	ExistSchemaErr
	ExistConstraintErr
)

var mysqlErrorKinds = map[uint16]SQLError{
	1007: ExistSchemaErr,
	1048: NotNullViolationErr,
	1050: ExistTableErr,
	1054: NoColumnErr,
	1060: ExistColumnErr,
	1061: ExistIndexErr,
	1062: DuplicateKeyErr,
	1091: NoIndexErr,
	1146: NoTableErr,
	1826: ExistConstraintErr,
	1216: ForeignKeyViolationErr,
	1217: ForeignKeyViolationErr,
	1265: DataTruncatedErr,
	3819: CheckConstraintViolationErr,
}

var postgresErrorKinds = map[pq.ErrorCode]SQLError{
	"22001": DataTruncatedErr,
	"23502": NotNullViolationErr,
	"23503": ForeignKeyViolationErr,
	"23505": DuplicateKeyErr,
	"23514": CheckConstraintViolationErr,
	"42701": ExistColumnErr,
	"42703": NoColumnErr,
	"42704": NoIndexErr,
	"42804": InvalidTypeCastErr,
	"42P01": NoTableErr,
	"42P06": ExistSchemaErr,
	"42P07": ExistTableErr,
	"42710": ExistConstraintErr,
}

// messageRule matches a lower-cased error message containing any of
// phrases, or every word of one of the combos. Rules are tried in order.
type messageRule struct {
	kind    SQLError
	phrases []string
	combos  [][]string
}

func (r messageRule) match(msg string) bool {
	for _, p := range r.phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	for _, combo := range r.combos {
		all := true
		for _, word := range combo {
			if !strings.Contains(msg, word) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

var messageRules = []messageRule{
	{kind: NoColumnErr, phrases: []string{"sqlstate 42703", "undefined column", "no such column"}},
	{kind: NoIndexErr, phrases: []string{"sqlstate 42704", "no such index"}, combos: [][]string{{"does not exist", "index"}}},
	{kind: NoTableErr, phrases: []string{"sqlstate 42p01", "undefined table", "no such table"}},
	{kind: ExistSchemaErr, phrases: []string{"sqlstate 42p06"}, combos: [][]string{{"already exists", "schema"}}},
	{kind: ExistConstraintErr, phrases: []string{"sqlstate 42710", "duplicate foreign key constraint name"}, combos: [][]string{{"already exists", "constraint"}}},
	{kind: ExistIndexErr, combos: [][]string{{"already exists", "index"}}},
	{kind: ExistTableErr, combos: [][]string{{"already exists", "table"}, {"already exists", "relation"}}},
	{kind: DuplicateKeyErr, phrases: []string{"duplicate key value", "unique constraint failed", "sqlstate 23505"}},
	{kind: NotNullViolationErr, phrases: []string{"not-null constraint", "not null constraint failed", "sqlstate 23502"}},
	{kind: ForeignKeyViolationErr, phrases: []string{"foreign key violation", "foreign key constraint failed", "sqlstate 23503"}},
	{kind: CheckConstraintViolationErr, phrases: []string{"check constraint", "sqlstate 23514"}},
	{kind: DataTruncatedErr, phrases: []string{"string data right truncation", "data truncated", "sqlstate 22001"}},
	{kind: InvalidTypeCastErr, phrases: []string{"datatype mismatch", "sqlstate 42804"}},
}

// IsSqlError reports whether err came from the database and which kind it
// is. Driver error types are checked first; sqlite and wrapped errors fall
// back to matching the message.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return true, mysqlErrorKinds[mysqlErr.Number]
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return true, postgresErrorKinds[pqErr.Code]
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		if rule.match(msg) {
			return true, rule.kind
		}
	}
	return false, UnknownErr
}
