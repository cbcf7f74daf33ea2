// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"encoding/binary"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// writeDataFile stores int64 samples for a file starting at start.
func writeDataFile(t *testing.T, root string, start time.Time, compress bool, samples ...int64) {
	t.Helper()
	dir := filepath.Join(root, "DATA", "test", start.Format("2006-01"), start.Format("2006-01-02"))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	buf := make([]byte, 8*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	name := start.Format(fileTimeLayout) + ".dat"
	if compress {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		buf = enc.EncodeAll(buf, nil)
		require.NoError(t, enc.Close())
		name += ".zst"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf, 0o644))
}

func newFiles(t *testing.T, root string) *Files {
	t.Helper()
	s := NewFiles()
	locator := &url.URL{Scheme: "file", Path: filepath.ToSlash(root)}
	require.NoError(t, s.SetContext(context.Background(), nexusrpc.DataSourceContext{ResourceLocator: locator}, &recordingLogger{}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func filesItem(t *testing.T, s *Files) datamodel.CatalogItem {
	t.Helper()
	c, err := s.GetCatalog(context.Background(), FilesCatalogID)
	require.NoError(t, err)
	item, err := c.Find(FilesCatalogID + "/T1/1_s")
	require.NoError(t, err)
	return item
}

func TestParseFileName(t *testing.T) {
	ts, ok := parseFileName("2020-01-02_00-10-00.dat")
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 10, 0, 0, time.UTC), ts)

	ts, ok = parseFileName("2020-01-02_00-10-00.dat.zst")
	require.True(t, ok)
	assert.Equal(t, 10, ts.Minute())

	_, ok = parseFileName("readme.txt")
	assert.False(t, ok)
	_, ok = parseFileName("2020-13-02_00-10-00.dat")
	assert.False(t, ok)
}

func TestFilesSetContextRequiresRoot(t *testing.T) {
	s := NewFiles()
	err := s.SetContext(context.Background(), nexusrpc.DataSourceContext{}, &recordingLogger{})
	assert.Error(t, err)

	err = s.SetContext(context.Background(), nexusrpc.DataSourceContext{
		ResourceLocator: &url.URL{Scheme: "https", Host: "example.com"},
	}, &recordingLogger{})
	assert.Error(t, err)

	root := t.TempDir()
	require.NoError(t, s.SetContext(context.Background(), nexusrpc.DataSourceContext{
		SourceConfiguration: map[string]any{"root": root},
	}, &recordingLogger{}))
	assert.Equal(t, root, s.Root())
	require.NoError(t, s.Close())
}

func TestFilesReadPartialCoverage(t *testing.T) {
	root := t.TempDir()
	begin := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	writeDataFile(t, root, begin.Add(time.Second), false, 42)
	s := newFiles(t, root)

	end := begin.Add(2 * time.Second)
	req, err := datamodel.NewReadRequest(filesItem(t, s), begin, end)
	require.NoError(t, err)

	var progress []float64
	require.NoError(t, s.Read(context.Background(), begin, end, []datamodel.ReadRequest{req}, func(v float64) { progress = append(progress, v) }))

	assert.Equal(t, []byte{0, 1}, req.Status)
	assert.Equal(t, int64(0), int64(binary.LittleEndian.Uint64(req.Data[0:])))
	assert.Equal(t, int64(42), int64(binary.LittleEndian.Uint64(req.Data[8:])))
	assert.Equal(t, []float64{1}, progress)
}

func TestFilesReadAcrossMidnight(t *testing.T) {
	root := t.TempDir()
	fileStart := time.Date(2020, 1, 1, 23, 55, 0, 0, time.UTC)
	samples := make([]int64, samplesPerFile)
	for i := range samples {
		samples[i] = fileStart.Unix() + int64(i)
	}
	writeDataFile(t, root, fileStart, true, samples...)
	s := newFiles(t, root)

	begin := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	end := begin.Add(6 * time.Minute)
	req, err := datamodel.NewReadRequest(filesItem(t, s), begin, end)
	require.NoError(t, err)
	require.NoError(t, s.Read(context.Background(), begin, end, []datamodel.ReadRequest{req}, func(float64) {}))

	// The file covers 23:55 to 00:05.
	assert.Equal(t, byte(1), req.Status[0])
	assert.Equal(t, byte(1), req.Status[299])
	assert.Equal(t, byte(0), req.Status[300])
	assert.Equal(t, begin.Unix(), int64(binary.LittleEndian.Uint64(req.Data[0:])))
}

func TestFilesTimeRangeAndAvailability(t *testing.T) {
	root := t.TempDir()
	first := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	writeDataFile(t, root, first, false, 1)
	writeDataFile(t, root, first.Add(10*time.Minute), false, 1)
	writeDataFile(t, root, first.Add(24*time.Hour), true, 1)
	s := newFiles(t, root)
	ctx := context.Background()

	begin, end, err := s.GetTimeRange(ctx, FilesCatalogID)
	require.NoError(t, err)
	assert.Equal(t, first, begin)
	assert.Equal(t, first.Add(24*time.Hour+10*time.Minute), end)

	a, err := s.GetAvailability(ctx, FilesCatalogID, first, first.Add(40*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a, 1e-9)

	_, err = s.GetAvailability(ctx, "/X", first, first.Add(time.Hour))
	assert.ErrorIs(t, err, datamodel.ErrNotFound)
}

func TestFilesTimeRangeWithoutData(t *testing.T) {
	s := newFiles(t, t.TempDir())
	_, _, err := s.GetTimeRange(context.Background(), FilesCatalogID)
	assert.ErrorIs(t, err, datamodel.ErrNotFound)
}

func TestFilesRegistrations(t *testing.T) {
	s := newFiles(t, t.TempDir())
	regs, err := s.GetCatalogRegistrations(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, FilesCatalogID, regs[0].Path)
	assert.Equal(t, datamodel.Int64, filesItem(t, s).Representation.DataType)
}
