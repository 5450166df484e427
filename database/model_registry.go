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
	"strings"
	"sync"
)

// Registry holds the model classes of one bootstrap cycle keyed by
// lower-cased globalId. Writes happen during bootstrap only; reads are safe
// from any goroutine afterwards.
type Registry struct {
	mutex  sync.RWMutex
	models map[string]*ModelClass
	order  []string
	loaded bool
	// defined descriptions keyed by their name in the discovered set
	descriptions map[string]*ModelDescription
}

func NewRegistry() *Registry {
	return &Registry{
		models:       make(map[string]*ModelClass),
		descriptions: make(map[string]*ModelDescription),
	}
}

// Register adds m under the lower-cased name.
func (r *Registry) Register(name string, m *ModelClass) error {
	key := strings.ToLower(name)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.models[key]; exists {
		return fmt.Errorf("model %s is already registered", name)
	}
	r.models[key] = m
	r.order = append(r.order, key)
	return nil
}

// Get looks a model up by globalId, case insensitively.
func (r *Registry) Get(name string) (*ModelClass, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	m, ok := r.models[strings.ToLower(name)]
	return m, ok
}

// MustGet is Get for association callbacks where a missing sibling is a
// programming error.
func (r *Registry) MustGet(name string) *ModelClass {
	m, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("model %s is not registered", name))
	}
	return m
}

// Models returns the classes in registration order.
func (r *Registry) Models() []*ModelClass {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*ModelClass, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.models[k])
	}
	return out
}

// Keys returns the registry keys in registration order.
func (r *Registry) Keys() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.order)
}

// Loaded reports whether the wiring pass completed.
func (r *Registry) Loaded() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.loaded
}

func (r *Registry) describe(name string, d *ModelDescription) {
	r.mutex.Lock()
	r.descriptions[name] = d
	r.mutex.Unlock()
}

func (r *Registry) description(name string) (*ModelDescription, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	d, ok := r.descriptions[name]
	return d, ok
}

func (r *Registry) markLoaded() {
	r.mutex.Lock()
	r.loaded = true
	r.mutex.Unlock()
}
