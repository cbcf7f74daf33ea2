// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

var benchBegin = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func newSource(tb testing.TB) *Source {
	tb.Helper()
	src, err := NewSource()
	require.NoError(tb, err)
	return src
}

func pipeHost(tb testing.TB, src nexusrpc.DataSource) nexusrpc.Host {
	tb.Helper()
	hostR, pluginW, err := os.Pipe()
	require.NoError(tb, err)
	pluginR, hostW, err := os.Pipe()
	require.NoError(tb, err)

	srv := nexusrpc.NewServer(src)
	srv.SetLogOutput(io.Discard)
	go func() {
		_ = srv.Serve(pluginR, pluginW)
		pluginW.Close()
		pluginR.Close()
	}()

	h := nexusrpc.NewPipeHost(hostR, hostW)
	require.NoError(tb, h.Connect(context.Background()))
	tb.Cleanup(func() {
		_ = h.Close()
		hostR.Close()
	})
	require.NoError(tb, h.SetContext(context.Background(), nexusrpc.DataSourceContext{}))
	return h
}

func socketHost(tb testing.TB, src nexusrpc.DataSource) nexusrpc.Host {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = nexusrpc.NewSocketServer(src).DialAndServe(ctx, ln.Addr().String()) }()

	h, err := nexusrpc.AcceptSocketHost(context.Background(), ln)
	require.NoError(tb, err)
	tb.Cleanup(func() {
		_ = h.Close()
		ln.Close()
		cancel()
	})
	require.NoError(tb, h.SetContext(context.Background(), nexusrpc.DataSourceContext{}))
	return h
}

func TestSourceCatalog(t *testing.T) {
	src := newSource(t)
	c, err := src.GetCatalog(context.Background(), CatalogID)
	require.NoError(t, err)
	assert.Len(t, c.Resources, len(datamodel.DataTypeNames()))

	item, err := src.Item(datamodel.Uint16, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/BENCH/UINT16/1_s", item.Path())
}

func TestSourceReadOverBothTransports(t *testing.T) {
	src := newSource(t)
	item, err := src.Item(datamodel.Int32, time.Millisecond)
	require.NoError(t, err)

	for name, h := range map[string]nexusrpc.Host{
		"pipe":   pipeHost(t, src),
		"socket": socketHost(t, src),
	} {
		t.Run(name, func(t *testing.T) {
			req, err := h.ReadSingle(context.Background(), item, benchBegin, benchBegin.Add(time.Second))
			require.NoError(t, err)
			require.Equal(t, 1000, req.Length())
			assert.Equal(t, uint32(999), binary.LittleEndian.Uint32(req.Data[999*4:]))
			assert.Equal(t, datamodel.StatusValid, req.Status[999])
		})
	}
}

func benchmarkRead(b *testing.B, h nexusrpc.Host, item datamodel.CatalogItem, n int) {
	end := benchBegin.Add(time.Duration(n) * item.Representation.SamplePeriod)
	b.SetBytes(int64(n * (item.Representation.ElementSize() + 1)))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := h.ReadSingle(context.Background(), item, benchBegin, end); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPipeReadSingle(b *testing.B) {
	src := newSource(b)
	item, err := src.Item(datamodel.Float64, time.Millisecond)
	require.NoError(b, err)
	h := pipeHost(b, src)
	for _, n := range []int{1, 1_000, 1_000_000} {
		b.Run(strconv.Itoa(n), func(b *testing.B) { benchmarkRead(b, h, item, n) })
	}
}

func BenchmarkSocketReadSingle(b *testing.B) {
	src := newSource(b)
	item, err := src.Item(datamodel.Float64, time.Millisecond)
	require.NoError(b, err)
	h := socketHost(b, src)
	// Socket bounds travel in whole seconds.
	for _, n := range []int{1_000, 1_000_000} {
		b.Run(strconv.Itoa(n), func(b *testing.B) { benchmarkRead(b, h, item, n) })
	}
}

func BenchmarkPipeGetCatalog(b *testing.B) {
	h := pipeHost(b, newSource(b))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := h.GetCatalog(context.Background(), CatalogID); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMarshalCatalog(b *testing.B) {
	src := newSource(b)
	b.ReportAllocs()
	for b.Loop() {
		if _, err := nexusrpc.Marshal(nexusrpc.ResourceCatalogShape, src.catalog); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFrameRoundTrip(b *testing.B) {
	body := bytes.Repeat([]byte("x"), 4096)
	var buf bytes.Buffer
	fw := nexusrpc.NewFrameWriter(&buf, nexusrpc.PipeByteOrder)
	fr := nexusrpc.NewFrameReader(&buf, nexusrpc.PipeByteOrder)
	b.SetBytes(int64(len(body)))
	for b.Loop() {
		if err := fw.WriteFrame(body); err != nil {
			b.Fatal(err)
		}
		if _, err := fr.ReadFrame(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadResultToArrow(b *testing.B) {
	src := newSource(b)
	item, err := src.Item(datamodel.Float64, time.Millisecond)
	require.NoError(b, err)
	req, err := datamodel.NewReadRequest(item, benchBegin, benchBegin.Add(time.Minute))
	require.NoError(b, err)
	require.NoError(b, src.Read(context.Background(), benchBegin, benchBegin.Add(time.Minute), []datamodel.ReadRequest{req}, func(float64) {}))

	b.SetBytes(int64(len(req.Data)))
	b.ReportAllocs()
	for b.Loop() {
		batch, err := nexusrpc.ReadResultToArrow(memory.DefaultAllocator, req, benchBegin)
		if err != nil {
			b.Fatal(err)
		}
		batch.Release()
	}
}
