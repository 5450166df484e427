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
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// fakeEngine records the schema operations issued against it.
type fakeEngine struct {
	name    string
	dialect string

	mu        sync.Mutex
	models    []*ModelClass
	existing  []string
	created   []string
	syncCalls []SyncOptions
	showCalls int
	syncErr   error
	seeded    int
	closed    int
}

var _ Engine = (*fakeEngine)(nil)

func newFakeEngine(name, dialect string) *fakeEngine {
	return &fakeEngine{name: name, dialect: dialect}
}

func (f *fakeEngine) Name() string                   { return f.name }
func (f *fakeEngine) Dialect() string                { return f.dialect }
func (f *fakeEngine) SupportsSchemas() bool          { return f.dialect == DialectPostgres }
func (f *fakeEngine) OperatorAliases() map[string]Op { return nil }
func (f *fakeEngine) DB() *bun.DB                    { return nil }

func (f *fakeEngine) Define(name string, attrs Attributes, opts *ModelOptions) (*ModelClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.models {
		if m.Name() == name {
			return nil, fmt.Errorf("model %s is already defined", name)
		}
	}
	m, err := NewModelClass(f, name, attrs, opts)
	if err != nil {
		return nil, err
	}
	f.models = append(f.models, m)
	return m, nil
}

func (f *fakeEngine) Models() []*ModelClass {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ModelClass(nil), f.models...)
}

func (f *fakeEngine) Sync(_ context.Context, opts SyncOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls = append(f.syncCalls, opts)
	return f.syncErr
}

func (f *fakeEngine) ShowAllSchemas(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.showCalls++
	return append([]string(nil), f.existing...), nil
}

func (f *fakeEngine) CreateSchema(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	return nil
}

func (f *fakeEngine) Seed(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded++
	return nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeEngine) operations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.syncCalls) + len(f.created) + f.showCalls + f.seeded
}

var nonWord = regexp.MustCompile(`\W+`)

// memoryDatastore returns a sqlite datastore private to the test.
func memoryDatastore(t *testing.T) *DatastoreConfig {
	t.Helper()
	name := strings.Trim(nonWord.ReplaceAllString(t.Name(), "_"), "_")
	return &DatastoreConfig{
		Dialect:  DialectSQLite,
		Database: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Options:  &DatastoreOptions{OperatorsAliases: boolPtr(true)},
	}
}

func openMemoryConnection(t *testing.T) *Connection {
	t.Helper()
	conn, err := OpenConnection("main", memoryDatastore(t), NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
