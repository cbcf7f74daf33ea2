// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// treeHost answers registration and time range queries from fixed data.
type treeHost struct {
	host
	tree       map[string][]datamodel.CatalogRegistration
	begin, end time.Time
}

func (h *treeHost) GetCatalogRegistrations(_ context.Context, path string) ([]datamodel.CatalogRegistration, error) {
	return h.tree[path], nil
}

func (h *treeHost) GetTimeRange(context.Context, string) (time.Time, time.Time, error) {
	return h.begin, h.end, nil
}

func reg(t *testing.T, path, title string) datamodel.CatalogRegistration {
	t.Helper()
	r, err := datamodel.NewCatalogRegistration(path, title, false)
	require.NoError(t, err)
	return r
}

func TestWalkRegistrations(t *testing.T) {
	h := &treeHost{tree: map[string][]datamodel.CatalogRegistration{
		"/":    {reg(t, "/A", "a")},
		"/A":   {reg(t, "/A/B", "b"), reg(t, "/A/C", "c")},
		"/A/B": {reg(t, "/A", "loop")},
	}}

	var got []string
	err := walkRegistrations(context.Background(), h, "/", map[string]bool{}, func(r datamodel.CatalogRegistration) {
		got = append(got, r.Path)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/A", "/A/B", "/A/C"}, got)
}

func TestWindowResolve(t *testing.T) {
	begin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &treeHost{begin: begin, end: begin.Add(time.Hour)}
	ctx := context.Background()

	b, e, err := (&window{}).resolve(ctx, h, "/A")
	require.NoError(t, err)
	assert.Equal(t, begin, b)
	assert.Equal(t, begin.Add(time.Hour), e)

	b, e, err = (&window{begin: "2020-01-01T00:30:00Z"}).resolve(ctx, h, "/A")
	require.NoError(t, err)
	assert.Equal(t, begin.Add(30*time.Minute), b)
	assert.Equal(t, begin.Add(time.Hour), e)

	_, _, err = (&window{begin: "2020-01-01T02:00:00Z"}).resolve(ctx, h, "/A")
	assert.ErrorContains(t, err, "is not before")

	_, _, err = (&window{begin: "yesterday", end: "today"}).resolve(ctx, h, "/A")
	assert.ErrorContains(t, err, "--begin")
}

func TestWriteText(t *testing.T) {
	rep, err := datamodel.NewRepresentation(datamodel.Int64, time.Second)
	require.NoError(t, err)
	r, err := datamodel.NewResourceBuilder("T1").AddRepresentation(rep).Build()
	require.NoError(t, err)
	c, err := datamodel.NewResourceCatalogBuilder("/A").AddResource(r).Build()
	require.NoError(t, err)
	item, err := c.Find("/A/T1/1_s")
	require.NoError(t, err)

	begin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	req, err := datamodel.NewReadRequest(item, begin, begin.Add(2*time.Second))
	require.NoError(t, err)
	req.Data[8] = 7
	req.Status[1] = datamodel.StatusValid

	batch, err := nexusrpc.ReadResultToArrow(memory.DefaultAllocator, req, begin)
	require.NoError(t, err)
	defer batch.Release()

	var buf bytes.Buffer
	require.NoError(t, writeText(&buf, batch))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2020-01-01T00:00:00"))
	assert.True(t, strings.HasSuffix(lines[0], "(null)"))
	assert.True(t, strings.HasSuffix(lines[1], "7"))
}

func TestPrintJSON(t *testing.T) {
	r, err := datamodel.NewCatalogRegistration("/A", "a", true)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, nexusrpc.CatalogRegistrationShape, r))
	assert.JSONEq(t, `{"path":"/A","title":"a","isTransient":true}`, buf.String())
	assert.Contains(t, buf.String(), "\n  ")
}

func TestResolveRequiresPlugin(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"catalogs"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "no plugin command")
}
