// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

const (
	// FilesCatalogID is the only catalog served by Files.
	FilesCatalogID = "/A/B/C"

	filePeriod     = 10 * time.Minute
	samplesPerFile = 600
	fileTimeLayout = "2006-01-02_15-04-05"
	sampleSize     = 8
)

// Files reads one-second int64 samples from ten-minute files laid out as
//
//	<root>/DATA/test/YYYY-MM/YYYY-MM-DD/YYYY-MM-DD_HH-MM-SS.dat
//
// Files ending in .dat.zst are zstd compressed. The root is the path of a
// file:// resource locator or the "root" source configuration entry.
type Files struct {
	root    string
	logger  nexusrpc.Logger
	decoder *zstd.Decoder
}

// NewFiles returns an unconfigured file source.
func NewFiles() *Files {
	return &Files{}
}

// Root is the configured data directory.
func (s *Files) Root() string {
	return s.root
}

func (s *Files) SetContext(_ context.Context, dsc nexusrpc.DataSourceContext, logger nexusrpc.Logger) error {
	switch {
	case dsc.ResourceLocator != nil && dsc.ResourceLocator.Scheme != "":
		if dsc.ResourceLocator.Scheme != "file" {
			return fmt.Errorf("expected 'file' URI scheme, but got %q", dsc.ResourceLocator.Scheme)
		}
		s.root = filepath.FromSlash(dsc.ResourceLocator.Path)
	default:
		root, ok := dsc.SourceString("root")
		if !ok || root == "" {
			return errors.New("no data root: set a file:// resource locator or the \"root\" source configuration")
		}
		s.root = root
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("zstd decoder: %w", err)
	}
	s.decoder = dec
	s.logger = logger
	logger.Log(nexusrpc.LogInformation, "reading files from "+s.root)
	return nil
}

// Close releases the zstd decoder.
func (s *Files) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
		s.decoder = nil
	}
	return nil
}

func (s *Files) GetCatalogRegistrations(_ context.Context, path string) ([]datamodel.CatalogRegistration, error) {
	if path != "/" {
		return nil, nil
	}
	reg, err := datamodel.NewCatalogRegistration(FilesCatalogID, "Test files", false)
	if err != nil {
		return nil, err
	}
	return []datamodel.CatalogRegistration{reg}, nil
}

func (s *Files) GetCatalog(_ context.Context, catalogID string) (datamodel.ResourceCatalog, error) {
	if err := checkFilesCatalog(catalogID); err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	rep, err := datamodel.NewRepresentation(datamodel.Int64, time.Second)
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	r, err := datamodel.NewResourceBuilder("T1").
		WithUnit("s").
		WithDescription("Unix time").
		WithGroups("Group 1").
		AddRepresentation(rep).
		Build()
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	return datamodel.NewResourceCatalogBuilder(catalogID).AddResource(r).Build()
}

// GetTimeRange spans from the first file start to the end of the last file.
func (s *Files) GetTimeRange(_ context.Context, catalogID string) (time.Time, time.Time, error) {
	if err := checkFilesCatalog(catalogID); err != nil {
		return time.Time{}, time.Time{}, err
	}
	starts, err := s.fileStarts()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(starts) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: no data files below %s", datamodel.ErrNotFound, s.root)
	}
	return starts[0], starts[len(starts)-1].Add(filePeriod), nil
}

// GetAvailability is the share of expected files present in [begin, end).
func (s *Files) GetAvailability(_ context.Context, catalogID string, begin, end time.Time) (float64, error) {
	if err := checkFilesCatalog(catalogID); err != nil {
		return 0, err
	}
	starts, err := s.fileStarts()
	if err != nil {
		return 0, err
	}
	var present int
	for _, t := range starts {
		if !t.Before(begin) && t.Before(end) {
			present++
		}
	}
	expected := math.Ceil(float64(end.Sub(begin)) / float64(filePeriod))
	if expected <= 0 {
		return 0, nil
	}
	return min(max(float64(present)/expected, 0), 1), nil
}

func (s *Files) Read(ctx context.Context, begin, end time.Time, requests []datamodel.ReadRequest, progress func(float64)) error {
	for i, req := range requests {
		if err := checkFilesCatalog(req.CatalogItem.Catalog.ID); err != nil {
			return err
		}
		rep := req.CatalogItem.Representation
		if rep.ElementSize() != sampleSize || rep.SamplePeriod != time.Second {
			return fmt.Errorf("%w: %s is not a 1 s 64-bit representation", datamodel.ErrInvalidRequest, req.CatalogItem.Path())
		}

		// A file that started up to ten minutes before begin still overlaps.
		day := begin.Add(-filePeriod).UTC().Truncate(24 * time.Hour)
		for ; day.Before(end); day = day.Add(24 * time.Hour) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.readDay(day, begin, req); err != nil {
				return err
			}
		}
		progress(float64(i+1) / float64(len(requests)))
	}
	return nil
}

func (s *Files) readDay(day, begin time.Time, req datamodel.ReadRequest) error {
	dir := filepath.Join(s.root, "DATA", "test", day.Format("2006-01"), day.Format("2006-01-02"))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	n := int64(req.Length())
	for _, e := range entries {
		start, ok := parseFileName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		offset := start.Sub(begin)
		if offset >= time.Duration(n)*time.Second || offset <= -filePeriod {
			continue
		}

		samples, err := s.load(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		count := min(int64(len(samples)/sampleSize), samplesPerFile)
		var copied int
		for k := range count {
			at := offset + time.Duration(k)*time.Second
			if at < 0 {
				continue
			}
			idx := int64(at / time.Second)
			if idx >= n {
				break
			}
			copy(req.Data[idx*sampleSize:(idx+1)*sampleSize], samples[k*sampleSize:(k+1)*sampleSize])
			req.Status[idx] = datamodel.StatusValid
			copied++
		}
		s.logger.Log(nexusrpc.LogTrace, fmt.Sprintf("copied %d samples from %s", copied, e.Name()))
	}
	return nil
}

func (s *Files) load(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return raw, nil
	}
	if s.decoder == nil {
		return nil, errors.New("file source is closed")
	}
	out, err := s.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// fileStarts lists the start time of every data file in ascending order.
func (s *Files) fileStarts() ([]time.Time, error) {
	base := filepath.Join(s.root, "DATA", "test")
	var starts []time.Time
	err := filepath.WalkDir(base, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if t, ok := parseFileName(d.Name()); ok {
			starts = append(starts, t)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	return starts, nil
}

// parseFileName extracts the start time from YYYY-MM-DD_HH-MM-SS.dat[.zst].
func parseFileName(name string) (time.Time, bool) {
	stem, ok := strings.CutSuffix(name, ".zst")
	if !ok {
		stem = name
	}
	stem, ok = strings.CutSuffix(stem, ".dat")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(fileTimeLayout, stem, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func checkFilesCatalog(id string) error {
	if id != FilesCatalogID {
		return fmt.Errorf("%w: catalog %q", datamodel.ErrNotFound, id)
	}
	return nil
}
