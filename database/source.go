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
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModelSource discovers model descriptions. Discover may be called more
// than once and returns descriptions the caller is free to mutate.
type ModelSource interface {
	Discover(ctx context.Context) (*ModelSet, error)
}

// ModelSourceFunc adapts a function to ModelSource.
type ModelSourceFunc func(ctx context.Context) (*ModelSet, error)

func (f ModelSourceFunc) Discover(ctx context.Context) (*ModelSet, error) { return f(ctx) }

// ModelFilter decides whether a discovered description is kept.
type ModelFilter func(name string, d *ModelDescription) bool

// ForeignModelFilter keeps descriptions without options or without an
// explicit table name, leaving the rest to the other persistence layer.
func ForeignModelFilter(_ string, d *ModelDescription) bool {
	return d == nil || d.Options == nil || d.Options.TableName == ""
}

// ClaimedModelFilter keeps only descriptions with an explicit table name.
func ClaimedModelFilter(name string, d *ModelDescription) bool {
	return !ForeignModelFilter(name, d)
}

// ModelFilterByName returns the filter registered under name: "foreign"
// (the default) or "claimed".
func ModelFilterByName(name string) (ModelFilter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "foreign":
		return ForeignModelFilter, nil
	case "claimed":
		return ClaimedModelFilter, nil
	default:
		return nil, fmt.Errorf("unknown model filter %q", name)
	}
}

// FilterSource wraps a source and drops the descriptions Filter rejects.
type FilterSource struct {
	Source ModelSource
	Filter ModelFilter
	Logger Logger
}

// Discover runs the wrapped source. Its failure is returned as a discovery
// error.
func (s *FilterSource) Discover(ctx context.Context) (*ModelSet, error) {
	if s.Source == nil {
		return nil, DiscoveryError(fmt.Errorf("model source is not configured"))
	}
	found, err := s.Source.Discover(ctx)
	if err != nil {
		return nil, DiscoveryError(err)
	}
	filter := s.Filter
	if filter == nil {
		filter = ForeignModelFilter
	}
	logger := orDefaultLogger(s.Logger)

	out := NewModelSet()
	found.Range(func(name string, d *ModelDescription) bool {
		if filter(name, d) {
			out.Add(name, d)
		} else {
			logger.Debug("Model filtered out of bootstrap", "model", name)
		}
		return true
	})
	return out, nil
}

// StaticSource serves descriptions registered in code.
type StaticSource struct {
	mu  sync.RWMutex
	set *ModelSet
}

func NewStaticSource() *StaticSource {
	return &StaticSource{set: NewModelSet()}
}

// Add registers a description under name.
func (s *StaticSource) Add(name string, d *ModelDescription) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.Add(name, d)
	return s
}

func (s *StaticSource) Discover(context.Context) (*ModelSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Clone(), nil
}

// FileSource reads one description per YAML file of Dir. The file name
// without extension is the model name.
type FileSource struct {
	Dir string
}

type associationSpec struct {
	Type        string `yaml:"type"`
	Target      string `yaml:"target"`
	As          string `yaml:"as"`
	ForeignKey  string `yaml:"foreign_key"`
	TargetKey   string `yaml:"target_key"`
	OnDelete    string `yaml:"on_delete"`
	OnUpdate    string `yaml:"on_update"`
	Constraints *bool  `yaml:"constraints"`
}

type scopeSpec struct {
	Where map[string]interface{}   `yaml:"where"`
	Or    []map[string]interface{} `yaml:"or"`
	Order []string                 `yaml:"order"`
	Limit int                      `yaml:"limit"`
}

type modelFile struct {
	ModelDescription `yaml:",inline"`
	AssociationSpecs []associationSpec `yaml:"associations"`
	DefaultScopeSpec *scopeSpec        `yaml:"default_scope"`
}

func (s *FileSource) Discover(ctx context.Context) (*ModelSet, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	set := NewModelSet()
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(file, filepath.Ext(file))
		d, err := loadModelFile(filepath.Join(s.Dir, file))
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", name, err)
		}
		set.Add(name, d)
	}
	return set, nil
}

func loadModelFile(path string) (*ModelDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf modelFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	d := mf.ModelDescription
	if len(mf.AssociationSpecs) > 0 {
		specs := mf.AssociationSpecs
		d.Associations = func(desc *ModelDescription, reg *Registry) error {
			return wireAssociationSpecs(desc, reg, specs)
		}
	}
	if mf.DefaultScopeSpec != nil {
		spec := *mf.DefaultScopeSpec
		d.DefaultScope = func() *Scope { return spec.scope() }
	}
	return &d, nil
}

func (s scopeSpec) scope() *Scope {
	sc := &Scope{Order: append([]string(nil), s.Order...), Limit: s.Limit}
	if len(s.Where) > 0 {
		sc.Where = Where{}
		for k, v := range s.Where {
			sc.Where[k] = v
		}
	}
	for _, w := range s.Or {
		sc.Or = append(sc.Or, Where(w))
	}
	return sc
}

func wireAssociationSpecs(desc *ModelDescription, reg *Registry, specs []associationSpec) error {
	self, ok := reg.Get(desc.GlobalID)
	if !ok {
		return fmt.Errorf("model %s is not registered", desc.GlobalID)
	}
	for _, spec := range specs {
		target, ok := reg.Get(spec.Target)
		if !ok {
			return fmt.Errorf("association target %s is not registered", spec.Target)
		}
		opts := AssociationOptions{
			As:          spec.As,
			ForeignKey:  spec.ForeignKey,
			TargetKey:   spec.TargetKey,
			OnDelete:    spec.OnDelete,
			OnUpdate:    spec.OnUpdate,
			Constraints: spec.Constraints,
		}
		var err error
		switch AssociationKind(spec.Type) {
		case BelongsTo:
			_, err = self.BelongsTo(target, opts)
		case HasOne:
			_, err = self.HasOne(target, opts)
		case HasMany:
			_, err = self.HasMany(target, opts)
		default:
			err = fmt.Errorf("unknown association type %q", spec.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
