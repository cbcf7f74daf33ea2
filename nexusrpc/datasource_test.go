// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/nexus-rpc/datamodel"
)

func TestCatalogCache(t *testing.T) {
	cache := NewCatalogCache()
	var loads int
	load := func(_ context.Context, id string) (datamodel.ResourceCatalog, error) {
		loads++
		return datamodel.NewResourceCatalog(id, nil, nil)
	}
	ctx := context.Background()

	reg, err := datamodel.NewCatalogRegistration("/T", "", true)
	require.NoError(t, err)
	cache.Register([]datamodel.CatalogRegistration{reg})

	for range 2 {
		_, err := cache.Get(ctx, "/A", load)
		require.NoError(t, err)
		_, err = cache.Get(ctx, "/T", load)
		require.NoError(t, err)
	}
	// /A is loaded once, the transient /T on every request.
	assert.Equal(t, 3, loads)
	assert.Equal(t, 1, cache.Len())
}

func TestCatalogCacheRejectsWrongID(t *testing.T) {
	cache := NewCatalogCache()
	_, err := cache.Get(context.Background(), "/A", func(context.Context, string) (datamodel.ResourceCatalog, error) {
		return datamodel.NewResourceCatalog("/B", nil, nil)
	})
	assert.ErrorIs(t, err, datamodel.ErrNotFound)

	boom := errors.New("boom")
	_, err = cache.Get(context.Background(), "/A", func(context.Context, string) (datamodel.ResourceCatalog, error) {
		return datamodel.ResourceCatalog{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())
}

func TestProgressTracker(t *testing.T) {
	var got []float64
	p := newProgressTracker(func(v float64) { got = append(got, v) })
	for _, v := range []float64{-1, 0.25, 0.1, math.NaN(), 0.5, 2} {
		p.Report(v)
	}
	assert.Equal(t, []float64{0, 0.25, 0.5, 1}, got)
}

func TestStreamLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStreamLogger(&buf)
	logger.Log(LogWarning, "disk \"almost\" full")
	logger.Log(LogTrace, "detail")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"LogLevel":"Warning","Message":"disk \"almost\" full"}`, string(lines[0]))

	rec, err := ParseLogLine(lines[1])
	require.NoError(t, err)
	assert.Equal(t, LogRecord{Level: LogTrace, Message: "detail"}, rec)

	_, err = ParseLogLine([]byte(`{"LogLevel":"Loud","Message":"x"}`))
	assert.ErrorIs(t, err, ErrMarshal)
}

func TestRpcErrorIs(t *testing.T) {
	err := &RpcError{Type: ErrorTypeProtocolViolation, Message: "bad"}
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorIs(t, err, ErrRpc)
	assert.NotErrorIs(t, err, ErrDomain)

	wrapped := toRpcError(datamodel.ErrNotFound)
	assert.Equal(t, ErrorTypeDomain, wrapped.Type)
	assert.ErrorIs(t, wrapped, datamodel.ErrNotFound)
	assert.Same(t, err, toRpcError(err))
}
