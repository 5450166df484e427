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
)

type AssociationKind string

const (
	BelongsTo AssociationKind = "belongsTo"
	HasOne    AssociationKind = "hasOne"
	HasMany   AssociationKind = "hasMany"
)

// AssociationOptions tunes a relation. Empty fields take derived defaults.
type AssociationOptions struct {
	As         string
	ForeignKey string
	TargetKey  string
	OnDelete   string
	OnUpdate   string
	// Constraints disables the database constraint when set to false.
	Constraints *bool
}

// Association is a relation between two model classes. ForeignKey always
// lives on the Owner table and references Referenced.
type Association struct {
	Kind       AssociationKind
	As         string
	Source     *ModelClass
	Target     *ModelClass
	ForeignKey string
	TargetKey  string
	OnDelete   string
	OnUpdate   string
	constraint bool
}

// Owner returns the class whose table holds the foreign key.
func (a *Association) Owner() *ModelClass {
	if a.Kind == BelongsTo {
		return a.Source
	}
	return a.Target
}

// Referenced returns the class the foreign key points at.
func (a *Association) Referenced() *ModelClass {
	if a.Kind == BelongsTo {
		return a.Target
	}
	return a.Source
}

// Constraint returns the database constraint backing the relation.
func (a *Association) Constraint() (ForeignKeyConstraint, bool) {
	if !a.constraint {
		return ForeignKeyConstraint{}, false
	}
	owner, ref := a.Owner(), a.Referenced()
	return ForeignKeyConstraint{
		Schema:          owner.Schema(),
		Table:           owner.TableName(),
		Column:          a.ForeignKey,
		ReferenceSchema: ref.Schema(),
		ReferenceTable:  ref.TableName(),
		ReferenceColumn: a.TargetKey,
		OnDelete:        a.OnDelete,
		OnUpdate:        a.OnUpdate,
	}, true
}

// BelongsTo declares that m holds a foreign key to target.
func (m *ModelClass) BelongsTo(target *ModelClass, opts AssociationOptions) (*Association, error) {
	return m.associate(BelongsTo, target, opts)
}

// HasOne declares that target holds a foreign key to m and there is at most
// one such row.
func (m *ModelClass) HasOne(target *ModelClass, opts AssociationOptions) (*Association, error) {
	return m.associate(HasOne, target, opts)
}

// HasMany declares that target holds a foreign key to m.
func (m *ModelClass) HasMany(target *ModelClass, opts AssociationOptions) (*Association, error) {
	return m.associate(HasMany, target, opts)
}

func (m *ModelClass) associate(kind AssociationKind, target *ModelClass, opts AssociationOptions) (*Association, error) {
	if target == nil {
		return nil, fmt.Errorf("%s %s: target model is nil", m.name, kind)
	}
	a := &Association{
		Kind:       kind,
		As:         opts.As,
		Source:     m,
		Target:     target,
		ForeignKey: opts.ForeignKey,
		TargetKey:  opts.TargetKey,
		OnDelete:   opts.OnDelete,
		OnUpdate:   opts.OnUpdate,
		constraint: opts.Constraints == nil || *opts.Constraints,
	}
	owner, ref := a.Owner(), a.Referenced()
	if a.As == "" {
		a.As = target.name
	}
	if a.TargetKey == "" {
		pks := ref.PrimaryKeys()
		if len(pks) != 1 {
			return nil, fmt.Errorf("%s %s %s: referenced model needs exactly one primary key", m.name, kind, target.name)
		}
		a.TargetKey = pks[0]
	}
	if a.ForeignKey == "" {
		if kind == BelongsTo {
			a.ForeignKey = underscore(a.As) + "_" + a.TargetKey
		} else {
			a.ForeignKey = underscore(ref.name) + "_" + a.TargetKey
		}
	}
	if a.OnDelete == "" {
		a.OnDelete = "SET NULL"
	}
	if a.OnUpdate == "" {
		a.OnUpdate = "CASCADE"
	}
	if err := validateReferentialAction(a.OnDelete); err != nil {
		return nil, err
	}
	if err := validateReferentialAction(a.OnUpdate); err != nil {
		return nil, err
	}

	refType := "INTEGER"
	if attr, ok := ref.Attributes()[a.TargetKey]; ok && attr.Type != "" {
		refType = attr.Type
	}
	owner.addAttribute(a.ForeignKey, &Attribute{Type: refType, AllowNull: boolPtr(true)})

	m.mu.Lock()
	m.associations = append(m.associations, a)
	m.mu.Unlock()
	return a, nil
}

// Associations returns the relations declared on m.
func (m *ModelClass) Associations() []*Association {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Association(nil), m.associations...)
}

// Association looks up a relation by alias.
func (m *ModelClass) Association(as string) (*Association, bool) {
	for _, a := range m.Associations() {
		if a.As == as {
			return a, true
		}
	}
	return nil, false
}
