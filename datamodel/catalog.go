// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"fmt"
	"regexp"
	"strings"
)

var catalogIDPattern = regexp.MustCompile(`^(?:/[a-zA-Z][a-zA-Z0-9_]*)+$`)

// ValidCatalogID reports whether id is a valid catalog identifier.
func ValidCatalogID(id string) bool {
	return catalogIDPattern.MatchString(id)
}

// ResourceCatalog is the top-level namespace node.
type ResourceCatalog struct {
	ID         string
	Properties map[string]any
	Resources  []Resource
}

// NewResourceCatalog returns a validated catalog.
func NewResourceCatalog(id string, properties map[string]any, resources []Resource) (ResourceCatalog, error) {
	c := ResourceCatalog{ID: id, Properties: properties, Resources: resources}
	if err := c.Validate(); err != nil {
		return ResourceCatalog{}, err
	}
	return c, nil
}

// Validate checks the id grammar, every resource, and resource id uniqueness.
func (c ResourceCatalog) Validate() error {
	if !ValidCatalogID(c.ID) {
		return fmt.Errorf("%w: catalog id %q", ErrInvalidID, c.ID)
	}
	seen := make(map[string]struct{}, len(c.Resources))
	for _, r := range c.Resources {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("catalog %q: %w", c.ID, err)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: resource %q in catalog %q", ErrDuplicateID, r.ID, c.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// Resource looks up a resource by id.
func (c ResourceCatalog) Resource(id string) (Resource, bool) {
	for _, r := range c.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}

// Find resolves a resource path (/A/B/C/T1/1_s) within this catalog.
func (c ResourceCatalog) Find(path string) (CatalogItem, error) {
	catalogID, resourceID, representationID, err := ParseResourcePath(path)
	if err != nil {
		return CatalogItem{}, err
	}
	if catalogID != c.ID {
		return CatalogItem{}, fmt.Errorf("%w: catalog %q", ErrNotFound, catalogID)
	}
	resource, ok := c.Resource(resourceID)
	if !ok {
		return CatalogItem{}, fmt.Errorf("%w: resource %q in catalog %q", ErrNotFound, resourceID, catalogID)
	}
	representation, ok := resource.Representation(representationID)
	if !ok {
		return CatalogItem{}, fmt.Errorf("%w: representation %q of resource %q", ErrNotFound, representationID, resource.ID)
	}
	return CatalogItem{Catalog: c, Resource: resource, Representation: representation}, nil
}

// ParseResourcePath splits /A/B/C/T1/1_s into its catalog, resource, and
// representation ids.
func ParseResourcePath(path string) (catalogID, resourceID, representationID string, err error) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "", "", "", fmt.Errorf("%w: resource path %q", ErrInvalidID, path)
	}
	representationID = path[i+1:]
	rest := path[:i]
	j := strings.LastIndexByte(rest, '/')
	if j <= 0 {
		return "", "", "", fmt.Errorf("%w: resource path %q", ErrInvalidID, path)
	}
	catalogID, resourceID = rest[:j], rest[j+1:]
	if !ValidCatalogID(catalogID) || !ValidResourceID(resourceID) || representationID == "" {
		return "", "", "", fmt.Errorf("%w: resource path %q", ErrInvalidID, path)
	}
	return catalogID, resourceID, representationID, nil
}

// CatalogItem addresses one concrete time series.
type CatalogItem struct {
	Catalog        ResourceCatalog
	Resource       Resource
	Representation Representation
}

// Path returns catalog/resource/representation.
func (i CatalogItem) Path() string {
	return i.Catalog.ID + "/" + i.Resource.ID + "/" + i.Representation.ID()
}

// CatalogRegistration announces where a catalog can be found. Transient
// catalogs must be rebuilt on every request.
type CatalogRegistration struct {
	Path        string
	Title       string
	IsTransient bool
}

// NewCatalogRegistration validates the path.
func NewCatalogRegistration(path, title string, isTransient bool) (CatalogRegistration, error) {
	if !ValidCatalogID(path) {
		return CatalogRegistration{}, fmt.Errorf("%w: catalog registration path %q", ErrInvalidID, path)
	}
	return CatalogRegistration{Path: path, Title: title, IsTransient: isTransient}, nil
}
