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
	"sort"
	"sync"
)

// Keys published by the bootstrap when global exposure is on.
const (
	GlobalOperators   = "Op"
	GlobalConnections = "BunConnections"
	GlobalLoaded      = "isLoaded"
)

// Exposer publishes values under a name for code that cannot receive the
// registry explicitly.
type Exposer interface {
	Expose(namespace, name string, value interface{})
}

// Namespace is a concurrency safe name to value table.
type Namespace struct {
	mu     sync.RWMutex
	values map[string]map[string]interface{}
}

func NewNamespace() *Namespace {
	return &Namespace{values: map[string]map[string]interface{}{}}
}

// Globals is the process wide namespace used when no Exposer is configured.
var Globals = NewNamespace()

// Expose stores value. An empty namespace means the top level.
func (n *Namespace) Expose(namespace, name string, value interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ns, ok := n.values[namespace]
	if !ok {
		ns = map[string]interface{}{}
		n.values[namespace] = ns
	}
	ns[name] = value
}

// Lookup returns an exposed value.
func (n *Namespace) Lookup(namespace, name string) (interface{}, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.values[namespace][name]
	return v, ok
}

// Names lists the names exposed in namespace.
func (n *Namespace) Names(namespace string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.values[namespace]))
	for k := range n.values[namespace] {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Reset drops everything.
func (n *Namespace) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.values = map[string]map[string]interface{}{}
}
