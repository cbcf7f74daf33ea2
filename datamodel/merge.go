// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"fmt"
	"reflect"
)

// Merge combines two catalogs with the same id. Resources are matched by id;
// properties of matched resources are merged recursively and their
// representations must either be new or identical.
func (c ResourceCatalog) Merge(other ResourceCatalog) (ResourceCatalog, error) {
	if c.ID != other.ID {
		return ResourceCatalog{}, fmt.Errorf("%w: cannot merge catalog %q into %q", ErrMergeConflict, other.ID, c.ID)
	}

	resources := make([]Resource, len(c.Resources))
	copy(resources, c.Resources)
	index := make(map[string]int, len(resources))
	for i, r := range resources {
		index[r.ID] = i
	}

	for _, r := range other.Resources {
		i, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(resources)
			resources = append(resources, r)
			continue
		}
		merged, err := resources[i].Merge(r)
		if err != nil {
			return ResourceCatalog{}, fmt.Errorf("catalog %q: %w", c.ID, err)
		}
		resources[i] = merged
	}

	return NewResourceCatalog(c.ID, MergeProperties(c.Properties, other.Properties), resources)
}

// Merge combines two resources with the same id.
func (r Resource) Merge(other Resource) (Resource, error) {
	if r.ID != other.ID {
		return Resource{}, fmt.Errorf("%w: cannot merge resource %q into %q", ErrMergeConflict, other.ID, r.ID)
	}

	reps := make([]Representation, len(r.Representations))
	copy(reps, r.Representations)
	for _, rep := range other.Representations {
		existing, ok := r.Representation(rep.ID())
		if !ok {
			reps = append(reps, rep)
			continue
		}
		if existing != rep {
			return Resource{}, fmt.Errorf("%w: representation %q of resource %q differs", ErrMergeConflict, rep.ID(), r.ID)
		}
	}

	return Resource{ID: r.ID, Properties: MergeProperties(r.Properties, other.Properties), Representations: reps}, nil
}

// MergeProperties deep-merges b into a copy of a. Nested maps merge
// recursively, lists are concatenated skipping values already present, and
// any other value in b replaces the one in a.
func MergeProperties(a, b map[string]any) map[string]any {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func mergeValue(a, b any) any {
	switch bv := b.(type) {
	case map[string]any:
		if av, ok := a.(map[string]any); ok {
			return MergeProperties(av, bv)
		}
	case []any:
		if av, ok := a.([]any); ok {
			merged := append([]any(nil), av...)
			for _, item := range bv {
				if !containsValue(merged, item) {
					merged = append(merged, item)
				}
			}
			return merged
		}
	}
	return b
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}
