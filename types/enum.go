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

import "strings"

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// MigrationStrategy selects how the live schema is reconciled with the
// declared models.
type MigrationStrategy int

const (
	// MigrateDefault creates missing tables and never touches existing ones.
	MigrateDefault MigrationStrategy = iota
	// MigrateSafe leaves the schema alone.
	MigrateSafe
	// MigrateDrop recreates every table.
	MigrateDrop
	// MigrateAlter adjusts existing tables in place.
	MigrateAlter
)

var _ BaseEnum = MigrateDefault

var migrationStrategies = []struct {
	name string
	desc string
}{
	MigrateDefault: {"default", "create missing tables only"},
	MigrateSafe:    {"safe", "issue no schema operations"},
	MigrateDrop:    {"drop", "drop and recreate every table"},
	MigrateAlter:   {"alter", "alter existing tables in place"},
}

// ParseMigrationStrategy maps a configured strategy name to its value.
// Unknown names fall back to MigrateDefault.
func ParseMigrationStrategy(s string) MigrationStrategy {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, st := range migrationStrategies {
		if st.name == name {
			return MigrationStrategy(i)
		}
	}
	return MigrateDefault
}

func (m MigrationStrategy) IsValid() bool {
	return m >= MigrateDefault && int(m) < len(migrationStrategies)
}

func (m MigrationStrategy) Number() int {
	if !m.IsValid() {
		return IllegalValue
	}
	return int(m)
}

func (m MigrationStrategy) Name() string {
	if !m.IsValid() {
		return IllegalName
	}
	return migrationStrategies[m].name
}

func (m MigrationStrategy) String() string { return m.Name() }

func (m MigrationStrategy) Desc() string {
	if !m.IsValid() {
		return IllegalDesc
	}
	return migrationStrategies[m].desc
}
