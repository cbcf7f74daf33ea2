// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"fmt"
	"regexp"
)

var resourceIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Well-known property keys.
const (
	PropertyDescription = "Description"
	PropertyWarning     = "Warning"
	PropertyUnit        = "Unit"
	PropertyGroups      = "Groups"
)

// ValidResourceID reports whether id is a valid resource identifier.
func ValidResourceID(id string) bool {
	return resourceIDPattern.MatchString(id)
}

// Resource is one measured quantity.
type Resource struct {
	ID              string
	Properties      map[string]any
	Representations []Representation
}

// NewResource returns a validated resource.
func NewResource(id string, properties map[string]any, representations []Representation) (Resource, error) {
	r := Resource{ID: id, Properties: properties, Representations: representations}
	if err := r.Validate(); err != nil {
		return Resource{}, err
	}
	return r, nil
}

// Validate checks the id grammar and that representation ids are unique.
func (r Resource) Validate() error {
	if !ValidResourceID(r.ID) {
		return fmt.Errorf("%w: resource id %q", ErrInvalidID, r.ID)
	}
	seen := make(map[string]struct{}, len(r.Representations))
	for _, rep := range r.Representations {
		if err := rep.Validate(); err != nil {
			return fmt.Errorf("resource %q: %w", r.ID, err)
		}
		id := rep.ID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: representation %q in resource %q", ErrDuplicateID, id, r.ID)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Representation looks up a representation by its derived id.
func (r Resource) Representation(id string) (Representation, bool) {
	for _, rep := range r.Representations {
		if rep.ID() == id {
			return rep, true
		}
	}
	return Representation{}, false
}

// Unit returns the Unit property, if set.
func (r Resource) Unit() string {
	return stringProperty(r.Properties, PropertyUnit)
}

// Description returns the Description property, if set.
func (r Resource) Description() string {
	return stringProperty(r.Properties, PropertyDescription)
}

// Groups returns the Groups property as a string list.
func (r Resource) Groups() []string {
	raw, ok := r.Properties[PropertyGroups].([]any)
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(raw))
	for _, g := range raw {
		if s, ok := g.(string); ok {
			groups = append(groups, s)
		}
	}
	return groups
}

func stringProperty(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}
