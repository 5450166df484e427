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
	"sync"
	"time"

	"github.com/tomoncle/bunhook/database"
	"github.com/tomoncle/bunhook/types"
)

// ErrHookTimeout is reported when the readiness signal does not arrive
// within the configured hook timeout.
var ErrHookTimeout = errors.New("timed out waiting for the orm hook to become ready")

// Options configures a Hook.
type Options struct {
	Config *database.Config

	// Datastores maps datastore names to their settings.
	Datastores map[string]*database.DatastoreConfig

	// Source is the host's own model loader. Reload always discovers from
	// it directly; Configure hands the host a filtered view of it.
	Source database.ModelSource
	Filter database.ModelFilter

	// Ready is closed by the host once its model hook has loaded. It is
	// only awaited when WaitForORM is set.
	Ready      <-chan struct{}
	WaitForORM bool

	// Exposer receives the globally published values. Defaults to
	// database.Globals.
	Exposer database.Exposer
	Logger  database.Logger

	EnvOverrides bool
	Open         database.OpenFunc
}

// Hook sequences the bootstrap: resolve connections, discover, define, wire
// and migrate. A Hook can be reloaded; the previous connections are closed
// once the new generation is in place.
type Hook struct {
	opts    Options
	config  *database.Config
	logger  database.Logger
	exposer database.Exposer

	mu       sync.RWMutex
	loader   *database.FilterSource
	conns    database.Connections
	registry *database.Registry
}

func New(opts Options) *Hook {
	cfg := opts.Config
	if cfg == nil {
		cfg = database.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = database.GetLogger()
	}
	exposer := opts.Exposer
	if exposer == nil {
		exposer = database.Globals
	}
	return &Hook{opts: opts, config: cfg, logger: logger, exposer: exposer}
}

// Configure installs the filtering loader and, when global exposure is on,
// publishes the operator table. The returned source is what the host should
// use in place of its own loader.
func (h *Hook) Configure() database.ModelSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loader == nil {
		h.loader = &database.FilterSource{Source: h.opts.Source, Filter: h.opts.Filter, Logger: h.logger}
	}
	if h.config.ExposeToGlobal {
		h.exposer.Expose("", database.GlobalOperators, database.Operators)
	}
	return h.loader
}

// Initialize starts the bootstrap in the background and reports its outcome
// to next exactly once.
func (h *Hook) Initialize(ctx context.Context, next func(error)) {
	go func() {
		err := h.Run(ctx)
		if next != nil {
			next(err)
		}
	}()
}

// Run waits for readiness when required and then reloads synchronously.
func (h *Hook) Run(ctx context.Context) error {
	if h.opts.WaitForORM {
		if err := h.awaitReady(ctx); err != nil {
			return err
		}
	}
	return h.Reload(ctx)
}

func (h *Hook) awaitReady(ctx context.Context) error {
	if h.opts.Ready == nil {
		return nil
	}
	timeout := h.config.HookTimeout
	if timeout <= 0 {
		timeout = database.DefaultConfig().HookTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	h.logger.Debug("Waiting for the orm hook", "timeout", timeout.String())
	select {
	case <-h.opts.Ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w (%s)", ErrHookTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload builds a new generation of connections and models and migrates
// them. On failure the new connections are closed and the previous
// generation stays active.
func (h *Hook) Reload(ctx context.Context) (err error) {
	start := time.Now()
	conns, err := database.ResolveConnections(ctx, h.opts.Datastores, h.config.DefaultDatastore, database.ResolveOptions{
		Logger:       h.logger,
		EnvOverrides: h.opts.EnvOverrides,
		Open:         h.opts.Open,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if cerr := conns.Close(); cerr != nil {
				h.logger.Warn("Failed to close connections of the aborted bootstrap", "error", cerr.Error())
			}
		}
	}()

	// Globals of this generation are published only once it is active.
	staged := &stagedExposer{}
	if h.config.ExposeToGlobal {
		staged.Expose("", database.GlobalConnections, conns)
	}

	if h.opts.Source == nil {
		return database.DiscoveryError(fmt.Errorf("model source is not configured"))
	}
	models, err := h.opts.Source.Discover(ctx)
	if err != nil {
		return database.DiscoveryError(err)
	}

	definer := database.NewDefiner(h.config, staged, h.logger)
	registry, err := definer.DefineAll(ctx, models, conns)
	if err != nil {
		return err
	}
	if err = definer.WireAll(ctx, models, registry); err != nil {
		return err
	}

	strategy := types.ParseMigrationStrategy(h.config.Migrate)
	if err = database.NewMigrator(h.logger).Migrate(ctx, strategy, h.opts.Datastores, conns); err != nil {
		return err
	}

	h.mu.Lock()
	previous := h.conns
	h.conns, h.registry = conns, registry
	h.mu.Unlock()

	if previous != nil {
		if cerr := previous.Close(); cerr != nil {
			h.logger.Warn("Failed to close previous connections", "error", cerr.Error())
		}
	}
	staged.publish(h.exposer)
	if h.config.ExposeToGlobal {
		h.exposer.Expose(h.config.CustomGlobal, database.GlobalLoaded, true)
	}
	h.logger.Info("Bootstrap completed",
		"models", registry.Len(), "strategy", strategy.String(), "elapsed", time.Since(start).String())
	return nil
}

type exposure struct {
	namespace, name string
	value           interface{}
}

// stagedExposer records exposures of a generation that is still being built.
type stagedExposer struct {
	entries []exposure
}

func (s *stagedExposer) Expose(namespace, name string, value interface{}) {
	s.entries = append(s.entries, exposure{namespace, name, value})
}

func (s *stagedExposer) publish(to database.Exposer) {
	for _, e := range s.entries {
		to.Expose(e.namespace, e.name, e.value)
	}
}

// Registry returns the models of the active generation, nil before the
// first successful reload.
func (h *Hook) Registry() *database.Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry
}

// Connections returns the connections of the active generation.
func (h *Hook) Connections() database.Connections {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns
}

// Model looks up a defined model by name.
func (h *Hook) Model(name string) (*database.ModelClass, bool) {
	reg := h.Registry()
	if reg == nil {
		return nil, false
	}
	return reg.Get(name)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) *database.HealthStatus
}

// HealthCheck pings every connection of the active generation. The
// "default" alias is reported under the datastore's own name.
func (h *Hook) HealthCheck(ctx context.Context) map[string]*database.HealthStatus {
	out := map[string]*database.HealthStatus{}
	for name, engine := range h.Connections() {
		if name != engine.Name() {
			continue
		}
		if c, ok := engine.(healthChecker); ok {
			out[name] = c.HealthCheck(ctx)
		}
	}
	return out
}

// Close releases the active connections.
func (h *Hook) Close() error {
	h.mu.Lock()
	conns := h.conns
	h.conns, h.registry = nil, nil
	h.mu.Unlock()
	if conns == nil {
		return nil
	}
	return conns.Close()
}
