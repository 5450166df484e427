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
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func petOwnerConstraint() ForeignKeyConstraint {
	return ForeignKeyConstraint{
		Schema:          "app",
		Table:           "pets",
		Column:          "owner_id",
		ReferenceSchema: "app",
		ReferenceTable:  "owners",
		ReferenceColumn: "id",
		OnDelete:        "cascade",
		OnUpdate:        "CASCADE",
	}
}

func TestForeignKeyConstraint_GenerateSQL(t *testing.T) {
	fk := petOwnerConstraint()
	assert.Equal(t, "fk_pets_owner_id", fk.GenerateConstraintName())
	assert.Equal(t,
		`ALTER TABLE "app"."pets" ADD CONSTRAINT "fk_pets_owner_id" FOREIGN KEY ("owner_id") REFERENCES "app"."owners" ("id") ON DELETE CASCADE ON UPDATE CASCADE`,
		fk.GenerateSQL(DialectPostgres))

	fk.Schema, fk.ReferenceSchema, fk.OnUpdate = "", "", ""
	fk.ConstraintName = "pets_owner"
	assert.Equal(t,
		"ALTER TABLE `pets` ADD CONSTRAINT `pets_owner` FOREIGN KEY (`owner_id`) REFERENCES `owners` (`id`) ON DELETE CASCADE",
		fk.GenerateSQL(DialectMySQL))
}

func TestForeignKeyManager_ValidateConstraints(t *testing.T) {
	bad := ForeignKeyConstraint{Table: "pets", OnDelete: "EXPLODE"}
	errs := NewForeignKeyManager(NopLogger(), petOwnerConstraint(), bad).ValidateConstraints()

	require.Len(t, errs, 4)
	assert.Contains(t, errs[0].Error(), "column name cannot be empty")
	assert.Contains(t, errs[3].Error(), "invalid referential action: EXPLODE")
}

func TestForeignKeyManager_AddAll(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	conn, err := NewConnection("tenants", DialectPostgres, sqlDB, &DatastoreOptions{OperatorsAliases: boolPtr(false)}, NopLogger())
	require.NoError(t, err)

	ok := petOwnerConstraint()
	dup := petOwnerConstraint()
	dup.Column, dup.ConstraintName = "vet_id", "fk_pets_vet"
	mock.ExpectExec(regexp.QuoteMeta(ok.GenerateSQL(DialectPostgres))).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(dup.GenerateSQL(DialectPostgres))).WillReturnError(errors.New(`constraint "fk_pets_vet" already exists`))

	manager := NewForeignKeyManager(NopLogger(), ok, dup)
	added, err := manager.AddAllForeignKeys(context.Background(), conn.DB(), DialectPostgres)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.NoError(t, mock.ExpectationsWereMet())

	added, err = manager.AddAllForeignKeys(context.Background(), conn.DB(), DialectSQLite)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Len(t, manager.GetConstraintsByTable("PETS"), 2)
}

func TestForeignKeyManager_ReportsFailures(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	conn, err := NewConnection("tenants", DialectPostgres, sqlDB, &DatastoreOptions{OperatorsAliases: boolPtr(false)}, NopLogger())
	require.NoError(t, err)

	existing := petOwnerConstraint()
	missing := petOwnerConstraint()
	missing.Column, missing.ReferenceTable, missing.ConstraintName = "clinic_id", "clinics", "fk_pets_clinic"
	trailing := petOwnerConstraint()
	trailing.Column, trailing.ConstraintName = "vet_id", "fk_pets_vet"

	mock.ExpectExec(regexp.QuoteMeta(existing.GenerateSQL(DialectPostgres))).
		WillReturnError(&pq.Error{Code: "42710", Message: `constraint "fk_pets_owner_id" for relation "pets" already exists`})
	mock.ExpectExec(regexp.QuoteMeta(missing.GenerateSQL(DialectPostgres))).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "app.clinics" does not exist`})
	mock.ExpectExec(regexp.QuoteMeta(trailing.GenerateSQL(DialectPostgres))).WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := NewForeignKeyManager(NopLogger(), existing, missing, trailing).
		AddAllForeignKeys(context.Background(), conn.DB(), DialectPostgres)
	require.Error(t, err)
	assert.Equal(t, 1, added)
	assert.Contains(t, err.Error(), "foreign key fk_pets_clinic")
	assert.NotContains(t, err.Error(), "fk_pets_owner_id")
	_, kind := IsSqlError(err)
	assert.Equal(t, NoTableErr, kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnection_ForeignKeyFailuresAreReturned(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	conn, err := NewConnection("tenants", DialectPostgres, sqlDB,
		&DatastoreOptions{OperatorsAliases: boolPtr(false), ForeignKeys: true}, NopLogger())
	require.NoError(t, err)

	owner, err := conn.Define("Owner", nil, &ModelOptions{})
	require.NoError(t, err)
	pet, err := conn.Define("Pet", nil, &ModelOptions{})
	require.NoError(t, err)
	_, err = pet.BelongsTo(owner, AssociationOptions{})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "pets" ADD CONSTRAINT "fk_pets_owner_id"`)).
		WillReturnError(&pq.Error{Code: "42703", Message: `column "owner_id" referenced in foreign key constraint does not exist`})

	err = conn.addForeignKeys(context.Background(), conn.Models())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreign key fk_pets_owner_id")
	assert.NoError(t, mock.ExpectationsWereMet())
}
