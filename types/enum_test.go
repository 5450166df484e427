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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMigrationStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want MigrationStrategy
	}{
		{"safe", MigrateSafe},
		{" DROP ", MigrateDrop},
		{"alter", MigrateAlter},
		{"default", MigrateDefault},
		{"", MigrateDefault},
		{"sometimes", MigrateDefault},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseMigrationStrategy(tt.in), tt.in)
	}
}

func TestMigrationStrategy_Enum(t *testing.T) {
	assert.Equal(t, "alter", MigrateAlter.String())
	assert.Equal(t, 3, MigrateAlter.Number())
	assert.Equal(t, "issue no schema operations", MigrateSafe.Desc())
	assert.True(t, MigrateDrop.IsValid())

	bogus := MigrationStrategy(42)
	assert.False(t, bogus.IsValid())
	assert.Equal(t, IllegalValue, bogus.Number())
	assert.Equal(t, IllegalName, bogus.Name())
	assert.Equal(t, IllegalDesc, bogus.Desc())
}
