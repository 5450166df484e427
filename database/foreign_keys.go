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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/uptrace/bun"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ForeignKeyConstraint describes a foreign key relationship between tables.
type ForeignKeyConstraint struct {
	Schema          string
	Table           string
	Column          string
	ReferenceSchema string
	ReferenceTable  string
	ReferenceColumn string
	OnDelete        string // CASCADE, RESTRICT, SET NULL, NO ACTION
	OnUpdate        string // CASCADE, RESTRICT, SET NULL, NO ACTION
	ConstraintName  string
}

// GenerateConstraintName returns the explicit name or a derived name.
func (fk *ForeignKeyConstraint) GenerateConstraintName() string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fmt.Sprintf("fk_%s_%s", fk.Table, fk.Column)
}

// GenerateSQL returns the ALTER TABLE statement to add the constraint.
func (fk *ForeignKeyConstraint) GenerateSQL(dialect string) string {
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		qualifiedTable(dialect, fk.Schema, fk.Table),
		quoteIdent(dialect, fk.GenerateConstraintName()),
		quoteIdent(dialect, fk.Column),
		qualifiedTable(dialect, fk.ReferenceSchema, fk.ReferenceTable),
		quoteIdent(dialect, fk.ReferenceColumn))

	if fk.OnDelete != "" {
		sql += fmt.Sprintf(" ON DELETE %s", strings.ToUpper(fk.OnDelete))
	}
	if fk.OnUpdate != "" {
		sql += fmt.Sprintf(" ON UPDATE %s", strings.ToUpper(fk.OnUpdate))
	}

	return sql
}

// ForeignKeyManager adds foreign key constraints after tables exist.
type ForeignKeyManager struct {
	constraints []ForeignKeyConstraint
	logger      Logger
}

func NewForeignKeyManager(logger Logger, constraints ...ForeignKeyConstraint) *ForeignKeyManager {
	return &ForeignKeyManager{
		constraints: constraints,
		logger:      orDefaultLogger(logger),
	}
}

// AddAllForeignKeys adds every constraint and returns how many were added.
// A constraint that already exists is skipped; every other failure is
// collected into the returned error. sqlite cannot add constraints to
// existing tables and is skipped entirely.
func (fkm *ForeignKeyManager) AddAllForeignKeys(ctx context.Context, db bun.IDB, dialect string) (int, error) {
	if dialect == DialectSQLite {
		return 0, nil
	}
	added := 0
	var errs error
	for _, constraint := range fkm.constraints {
		name := constraint.GenerateConstraintName()
		if _, err := db.ExecContext(ctx, constraint.GenerateSQL(dialect)); err != nil {
			if _, kind := IsSqlError(err); kind == ExistConstraintErr {
				fkm.logger.Debug("Foreign key constraint already exists", "constraint", name)
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("foreign key %s: %w", name, err))
			continue
		}
		added++
		fkm.logger.Debug("Successfully added foreign key constraint", "constraint", name)
	}
	return added, errs
}

// GetConstraintsByTable returns the constraints defined for a table.
func (fkm *ForeignKeyManager) GetConstraintsByTable(tableName string) []ForeignKeyConstraint {
	var result []ForeignKeyConstraint
	for _, constraint := range fkm.constraints {
		if strings.EqualFold(constraint.Table, tableName) {
			result = append(result, constraint)
		}
	}
	return result
}

var referentialActions = []string{"CASCADE", "RESTRICT", "SET NULL", "SET DEFAULT", "NO ACTION"}

func validateReferentialAction(action string) error {
	if action == "" {
		return nil
	}
	for _, a := range referentialActions {
		if strings.EqualFold(action, a) {
			return nil
		}
	}
	return fmt.Errorf("invalid referential action: %s", action)
}

// ValidateConstraints checks the configured constraints for common issues.
func (fkm *ForeignKeyManager) ValidateConstraints() []error {
	var errors []error

	for _, constraint := range fkm.constraints {
		if constraint.Table == "" {
			errors = append(errors, fmt.Errorf("table name cannot be empty"))
		}
		if constraint.Column == "" {
			errors = append(errors, fmt.Errorf("column name cannot be empty: %s", constraint.Table))
		}
		if constraint.ReferenceTable == "" {
			errors = append(errors, fmt.Errorf("reference table name cannot be empty: %s.%s", constraint.Table, constraint.Column))
		}
		if constraint.ReferenceColumn == "" {
			errors = append(errors, fmt.Errorf("reference column name cannot be empty: %s.%s -> %s", constraint.Table, constraint.Column, constraint.ReferenceTable))
		}
		if err := validateReferentialAction(constraint.OnDelete); err != nil {
			errors = append(errors, fmt.Errorf("%w, constraint: %s", err, constraint.GenerateConstraintName()))
		}
		if err := validateReferentialAction(constraint.OnUpdate); err != nil {
			errors = append(errors, fmt.Errorf("%w, constraint: %s", err, constraint.GenerateConstraintName()))
		}
	}

	return errors
}

// ForeignKeyConfig is the YAML structure that lists foreign key constraints.
type ForeignKeyConfig struct {
	ForeignKeys []ForeignKeyConstraintConfig `yaml:"foreign_keys"`
}

// ForeignKeyConstraintConfig describes a single foreign key in configuration.
type ForeignKeyConstraintConfig struct {
	Schema          string `yaml:"schema,omitempty"`
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceSchema string `yaml:"reference_schema,omitempty"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete,omitempty"`
	OnUpdate        string `yaml:"on_update,omitempty"`
	ConstraintName  string `yaml:"constraint_name,omitempty"`
	Description     string `yaml:"description,omitempty"`
}

// ToForeignKeyConstraint converts the config entry into a runtime constraint.
func (fkc *ForeignKeyConstraintConfig) ToForeignKeyConstraint() ForeignKeyConstraint {
	return ForeignKeyConstraint{
		Schema:          fkc.Schema,
		Table:           fkc.Table,
		Column:          fkc.Column,
		ReferenceSchema: fkc.ReferenceSchema,
		ReferenceTable:  fkc.ReferenceTable,
		ReferenceColumn: fkc.ReferenceColumn,
		OnDelete:        fkc.OnDelete,
		OnUpdate:        fkc.OnUpdate,
		ConstraintName:  fkc.ConstraintName,
	}
}

// LoadForeignKeys reads constraints from a YAML file.
func LoadForeignKeys(path string) ([]ForeignKeyConstraint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ForeignKeyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	constraints := make([]ForeignKeyConstraint, 0, len(config.ForeignKeys))
	for _, fkConfig := range config.ForeignKeys {
		constraints = append(constraints, fkConfig.ToForeignKeyConstraint())
	}
	return constraints, nil
}

// ExportForeignKeys writes constraints into a YAML file, creating parent
// directories as needed.
func ExportForeignKeys(outputPath string, constraints []ForeignKeyConstraint) error {
	configConstraints := make([]ForeignKeyConstraintConfig, 0, len(constraints))
	for _, constraint := range constraints {
		configConstraints = append(configConstraints, ForeignKeyConstraintConfig{
			Schema:          constraint.Schema,
			Table:           constraint.Table,
			Column:          constraint.Column,
			ReferenceSchema: constraint.ReferenceSchema,
			ReferenceTable:  constraint.ReferenceTable,
			ReferenceColumn: constraint.ReferenceColumn,
			OnDelete:        constraint.OnDelete,
			OnUpdate:        constraint.OnUpdate,
			ConstraintName:  constraint.ConstraintName,
			Description:     fmt.Sprintf("%s.%s -> %s.%s", constraint.Table, constraint.Column, constraint.ReferenceTable, constraint.ReferenceColumn),
		})
	}

	data, err := yaml.Marshal(&ForeignKeyConfig{ForeignKeys: configConstraints})
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ModelForeignKeys collects the constraints declared through associations
// of models.
func ModelForeignKeys(models []*ModelClass) []ForeignKeyConstraint {
	var out []ForeignKeyConstraint
	for _, m := range models {
		for _, a := range m.Associations() {
			if fk, ok := a.Constraint(); ok {
				out = append(out, fk)
			}
		}
	}
	return out
}
