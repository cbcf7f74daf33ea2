// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"maps"
	"slices"
)

// ResourceBuilder accumulates properties and representations for a Resource.
type ResourceBuilder struct {
	id              string
	properties      map[string]any
	representations []Representation
}

// NewResourceBuilder starts a resource with the given id.
func NewResourceBuilder(id string) *ResourceBuilder {
	return &ResourceBuilder{id: id}
}

// WithProperty sets an arbitrary property.
func (b *ResourceBuilder) WithProperty(key string, value any) *ResourceBuilder {
	if b.properties == nil {
		b.properties = make(map[string]any)
	}
	b.properties[key] = value
	return b
}

func (b *ResourceBuilder) WithUnit(unit string) *ResourceBuilder {
	return b.WithProperty(PropertyUnit, unit)
}

func (b *ResourceBuilder) WithDescription(description string) *ResourceBuilder {
	return b.WithProperty(PropertyDescription, description)
}

func (b *ResourceBuilder) WithWarning(warning string) *ResourceBuilder {
	return b.WithProperty(PropertyWarning, warning)
}

// WithGroups appends to the Groups property.
func (b *ResourceBuilder) WithGroups(groups ...string) *ResourceBuilder {
	existing, _ := b.properties[PropertyGroups].([]any)
	existing = slices.Clone(existing)
	for _, g := range groups {
		existing = append(existing, g)
	}
	return b.WithProperty(PropertyGroups, existing)
}

func (b *ResourceBuilder) AddRepresentation(r Representation) *ResourceBuilder {
	b.representations = append(b.representations, r)
	return b
}

func (b *ResourceBuilder) AddRepresentations(rs ...Representation) *ResourceBuilder {
	b.representations = append(b.representations, rs...)
	return b
}

// Build validates and returns the resource. Later calls on the builder do
// not affect it.
func (b *ResourceBuilder) Build() (Resource, error) {
	return NewResource(b.id, maps.Clone(b.properties), slices.Clone(b.representations))
}

// ResourceCatalogBuilder accumulates properties and resources for a catalog.
type ResourceCatalogBuilder struct {
	id         string
	properties map[string]any
	resources  []Resource
}

// NewResourceCatalogBuilder starts a catalog with the given id.
func NewResourceCatalogBuilder(id string) *ResourceCatalogBuilder {
	return &ResourceCatalogBuilder{id: id}
}

func (b *ResourceCatalogBuilder) WithProperty(key string, value any) *ResourceCatalogBuilder {
	if b.properties == nil {
		b.properties = make(map[string]any)
	}
	b.properties[key] = value
	return b
}

func (b *ResourceCatalogBuilder) WithDescription(description string) *ResourceCatalogBuilder {
	return b.WithProperty(PropertyDescription, description)
}

func (b *ResourceCatalogBuilder) AddResource(r Resource) *ResourceCatalogBuilder {
	b.resources = append(b.resources, r)
	return b
}

func (b *ResourceCatalogBuilder) AddResources(rs ...Resource) *ResourceCatalogBuilder {
	b.resources = append(b.resources, rs...)
	return b
}

// Build validates and returns the catalog. Later calls on the builder do
// not affect it.
func (b *ResourceCatalogBuilder) Build() (ResourceCatalog, error) {
	return NewResourceCatalog(b.id, maps.Clone(b.properties), slices.Clone(b.resources))
}
