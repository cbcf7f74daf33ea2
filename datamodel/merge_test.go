// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCatalogs(t *testing.T) {
	secondly := mustRep(t, Float64, time.Second)
	minutely := mustRep(t, Float64, time.Minute)

	a1, err := NewResourceBuilder("T1").WithUnit("°C").WithGroups("g1").AddRepresentation(secondly).Build()
	require.NoError(t, err)
	a2, err := NewResourceBuilder("V1").AddRepresentation(secondly).Build()
	require.NoError(t, err)
	b1, err := NewResourceBuilder("T1").WithDescription("temp").WithGroups("g1", "g2").AddRepresentation(minutely).Build()
	require.NoError(t, err)

	a, err := NewResourceCatalogBuilder("/A").AddResources(a1, a2).Build()
	require.NoError(t, err)
	b, err := NewResourceCatalogBuilder("/A").AddResource(b1).Build()
	require.NoError(t, err)

	merged, err := a.Merge(b)
	require.NoError(t, err)
	require.Len(t, merged.Resources, 2)

	t1 := merged.Resources[0]
	assert.Equal(t, "T1", t1.ID)
	assert.Equal(t, "°C", t1.Unit())
	assert.Equal(t, "temp", t1.Description())
	assert.Equal(t, []string{"g1", "g2"}, t1.Groups())
	ids := []string{t1.Representations[0].ID(), t1.Representations[1].ID()}
	assert.Equal(t, []string{"1_s", "1_min"}, ids)
}

func TestMergeConflict(t *testing.T) {
	float := mustRep(t, Float64, time.Second)
	integer := mustRep(t, Int32, time.Second)

	a1, err := NewResource("T1", nil, []Representation{float})
	require.NoError(t, err)
	b1, err := NewResource("T1", nil, []Representation{integer})
	require.NoError(t, err)

	_, err = a1.Merge(b1)
	assert.ErrorIs(t, err, ErrMergeConflict)

	a, _ := NewResourceCatalog("/A", nil, nil)
	b, _ := NewResourceCatalog("/B", nil, nil)
	_, err = a.Merge(b)
	assert.ErrorIs(t, err, ErrMergeConflict)
}

func TestMergeProperties(t *testing.T) {
	a := map[string]any{
		"Unit":   "m/s",
		"nested": map[string]any{"x": 1.0, "list": []any{"a"}},
	}
	b := map[string]any{
		"Unit":   "km/h",
		"nested": map[string]any{"y": 2.0, "list": []any{"a", "b"}},
	}

	want := map[string]any{
		"Unit":   "km/h",
		"nested": map[string]any{"x": 1.0, "y": 2.0, "list": []any{"a", "b"}},
	}
	if diff := cmp.Diff(want, MergeProperties(a, b)); diff != "" {
		t.Errorf("MergeProperties mismatch (-want +got):\n%s", diff)
	}

	assert.Nil(t, MergeProperties(nil, nil))
	assert.Equal(t, "m/s", a["Unit"])
}
