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
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/bunhook/database"
)

func sqliteDatastores(t *testing.T) map[string]*database.DatastoreConfig {
	t.Helper()
	aliases := false
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return map[string]*database.DatastoreConfig{
		"main": {
			Dialect:  database.DialectSQLite,
			Database: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
			Default:  true,
			Options:  &database.DatastoreOptions{OperatorsAliases: &aliases},
		},
		"legacy": {Adapter: "sails-disk"},
	}
}

func testConfig() *database.Config {
	cfg := database.DefaultConfig()
	cfg.DefaultDatastore = "main"
	cfg.CustomGlobal = "app"
	return cfg
}

// petShopSource declares an owner without a table name and a pet with one,
// so the filtered view and the bootstrap see different sets.
func petShopSource() *database.StaticSource {
	notNull := false
	return database.NewStaticSource().
		Add("Owner", &database.ModelDescription{
			Attributes: database.Attributes{"name": {Type: "STRING", AllowNull: &notNull}},
			Options:    &database.ModelOptions{},
		}).
		Add("Pet", &database.ModelDescription{
			Attributes: database.Attributes{"name": {Type: "STRING"}},
			Options:    &database.ModelOptions{TableName: "pets"},
			Associations: func(desc *database.ModelDescription, reg *database.Registry) error {
				owner, ok := reg.Get("Owner")
				if !ok {
					return errors.New("owner is not defined")
				}
				pet, _ := reg.Get(desc.GlobalID)
				_, err := pet.BelongsTo(owner, database.AssociationOptions{})
				return err
			},
		}).
		Add("Waterline", &database.ModelDescription{
			Attributes: database.Attributes{"name": {Type: "STRING"}},
		})
}

func newTestHook(t *testing.T, opts Options) (*Hook, *database.Namespace) {
	t.Helper()
	ns := database.NewNamespace()
	if opts.Config == nil {
		opts.Config = testConfig()
	}
	if opts.Datastores == nil {
		opts.Datastores = sqliteDatastores(t)
	}
	if opts.Source == nil {
		opts.Source = petShopSource()
	}
	opts.Exposer = ns
	opts.Logger = database.NopLogger()
	h := New(opts)
	t.Cleanup(func() { _ = h.Close() })
	return h, ns
}

func tableNames(t *testing.T, h *Hook) []string {
	t.Helper()
	engine, ok := h.Connections().Get("main")
	require.True(t, ok)
	var names []string
	require.NoError(t, engine.DB().NewRaw(
		`SELECT "name" FROM "sqlite_master" WHERE "type" = 'table' AND "name" NOT LIKE 'sqlite_%' ORDER BY "name"`,
	).Scan(context.Background(), &names))
	return names
}

func TestHook_Configure(t *testing.T) {
	h, ns := newTestHook(t, Options{})

	models, err := h.Configure().Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Owner", "Waterline"}, models.Names())

	op, ok := ns.Lookup("", database.GlobalOperators)
	require.True(t, ok)
	assert.Equal(t, database.Operators, op)

	cfg := testConfig()
	cfg.ExposeToGlobal = false
	quiet, quietNS := newTestHook(t, Options{Config: cfg, Filter: database.ClaimedModelFilter})
	models, err = quiet.Configure().Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Pet"}, models.Names())
	assert.Empty(t, quietNS.Names(""))
}

func TestHook_RunDefinesWiresAndMigrates(t *testing.T) {
	h, ns := newTestHook(t, Options{})
	h.Configure()
	require.NoError(t, h.Run(context.Background()))

	reg := h.Registry()
	require.NotNil(t, reg)
	assert.Equal(t, 2, reg.Len())
	pet, ok := h.Model("pet")
	require.True(t, ok)
	assert.True(t, pet.HasAttribute("owner_id"))
	_, ok = h.Model("Waterline")
	assert.False(t, ok)

	assert.Equal(t, []string{"owners", "pets"}, tableNames(t, h))

	conns, ok := ns.Lookup("", database.GlobalConnections)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"default", "main"}, conns.(database.Connections).Names())
	loaded, ok := ns.Lookup("app", database.GlobalLoaded)
	require.True(t, ok)
	assert.Equal(t, true, loaded)
}

func TestHook_SafeStrategyLeavesSchemaAlone(t *testing.T) {
	cfg := testConfig()
	cfg.Migrate = "safe"
	h, _ := newTestHook(t, Options{Config: cfg})
	require.NoError(t, h.Run(context.Background()))

	assert.Empty(t, tableNames(t, h))
	assert.Equal(t, 2, h.Registry().Len())
}

func TestHook_InitializeWaitsForReady(t *testing.T) {
	ready := make(chan struct{})
	h, _ := newTestHook(t, Options{Ready: ready, WaitForORM: true})

	done := make(chan error, 1)
	h.Initialize(context.Background(), func(err error) { done <- err })

	select {
	case err := <-done:
		t.Fatalf("bootstrap finished before the ready signal: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Nil(t, h.Registry())

	close(ready)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap did not finish")
	}
	assert.NotNil(t, h.Registry())
}

func TestHook_ReadyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HookTimeout = 20 * time.Millisecond
	h, _ := newTestHook(t, Options{Config: cfg, Ready: make(chan struct{}), WaitForORM: true})

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHookTimeout))
	assert.Nil(t, h.Connections())
}

func TestHook_SkipsWaitWhenORMHookDisabled(t *testing.T) {
	h, _ := newTestHook(t, Options{Ready: make(chan struct{})})
	require.NoError(t, h.Run(context.Background()))
	assert.NotNil(t, h.Registry())
}

func TestHook_ConfigurationErrors(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultDatastore = "missing"
	h, _ := newTestHook(t, Options{Config: cfg})

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrConfiguration))

	broken, _ := newTestHook(t, Options{Source: database.ModelSourceFunc(func(context.Context) (*database.ModelSet, error) {
		return nil, errors.New("models directory is unreadable")
	})})
	err = broken.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrDiscovery))
	assert.Nil(t, broken.Registry())
}

func TestHook_ReloadFailureKeepsPreviousGeneration(t *testing.T) {
	var failing atomic.Value
	failing.Store("")
	healthy := petShopSource()
	source := database.ModelSourceFunc(func(ctx context.Context) (*database.ModelSet, error) {
		switch failing.Load().(string) {
		case "discovery":
			return nil, errors.New("boom")
		case "wiring":
			set, err := healthy.Discover(ctx)
			if err != nil {
				return nil, err
			}
			set.Add("Vet", &database.ModelDescription{
				Options: &database.ModelOptions{},
				Associations: func(*database.ModelDescription, *database.Registry) error {
					return errors.New("clinic is not defined")
				},
			})
			return set, nil
		}
		return healthy.Discover(ctx)
	})
	cfg := testConfig()
	cfg.ExposeModels = true
	h, ns := newTestHook(t, Options{Config: cfg, Source: source})
	ctx := context.Background()

	require.NoError(t, h.Run(ctx))
	first := h.Registry()

	require.NoError(t, h.Reload(ctx))
	second := h.Registry()
	assert.NotSame(t, first, second)
	assert.Equal(t, []string{"owners", "pets"}, tableNames(t, h))

	assertExposedActive := func() {
		t.Helper()
		exposed, ok := ns.Lookup("", database.GlobalConnections)
		require.True(t, ok)
		conns := exposed.(database.Connections)
		active, _ := h.Connections().Get("main")
		published, _ := conns.Get("main")
		assert.Same(t, active, published)
		assert.NoError(t, published.DB().PingContext(ctx))

		pet, ok := ns.Lookup("app", "Pet")
		require.True(t, ok)
		assert.Same(t, h.Registry().MustGet("Pet"), pet)
		_, ok = ns.Lookup("app", "Vet")
		assert.False(t, ok)
	}
	assertExposedActive()

	for _, mode := range []string{"discovery", "wiring"} {
		failing.Store(mode)
		err := h.Reload(ctx)
		require.Error(t, err, mode)
		assert.Same(t, second, h.Registry(), mode)
		assert.Equal(t, []string{"owners", "pets"}, tableNames(t, h), mode)
		assertExposedActive()
	}
	assert.True(t, errors.Is(h.Reload(ctx), database.ErrAssociation))
}

func TestHook_Close(t *testing.T) {
	h, _ := newTestHook(t, Options{})
	assert.NoError(t, h.Close())

	require.NoError(t, h.Run(context.Background()))
	assert.NoError(t, h.Close())
	assert.Nil(t, h.Registry())
	_, ok := h.Model("Pet")
	assert.False(t, ok)
}

func TestHook_HealthCheck(t *testing.T) {
	h, _ := newTestHook(t, Options{})
	assert.Empty(t, h.HealthCheck(context.Background()))

	require.NoError(t, h.Run(context.Background()))
	statuses := h.HealthCheck(context.Background())
	require.Len(t, statuses, 1)
	require.Contains(t, statuses, "main")
	assert.True(t, statuses["main"].Healthy)
	assert.Equal(t, 1, statuses["main"].MaxOpenConns)
}
