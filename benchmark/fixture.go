// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark provides a synthetic data source for measuring protocol
// throughput. Its reads are dominated by the data channel, not by the source.
package benchmark

import (
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// CatalogID is the only catalog of Source.
const CatalogID = "/BENCH"

// Source serves one resource per data type, each with 1 ms, 1 s and 1 min
// representations. Every sample is valid and holds its index.
type Source struct {
	catalog datamodel.ResourceCatalog
}

// NewSource builds the catalog up front so GetCatalog costs nothing.
func NewSource() (*Source, error) {
	names := datamodel.DataTypeNames()
	cb := datamodel.NewResourceCatalogBuilder(CatalogID)
	for _, dt := range slices.Sorted(maps.Keys(names)) {
		var reps []datamodel.Representation
		for _, p := range []time.Duration{time.Millisecond, time.Second, time.Minute} {
			rep, err := datamodel.NewRepresentation(dt, p)
			if err != nil {
				return nil, err
			}
			reps = append(reps, rep)
		}
		r, err := datamodel.NewResourceBuilder(names[dt]).AddRepresentations(reps...).Build()
		if err != nil {
			return nil, err
		}
		cb.AddResource(r)
	}
	c, err := cb.Build()
	if err != nil {
		return nil, err
	}
	return &Source{catalog: c}, nil
}

// Item resolves /BENCH/<data type>/<representation id>.
func (s *Source) Item(dt datamodel.NexusDataType, period time.Duration) (datamodel.CatalogItem, error) {
	return s.catalog.Find(fmt.Sprintf("%s/%s/%s", CatalogID, dt, datamodel.UnitString(period)))
}

func (s *Source) SetContext(context.Context, nexusrpc.DataSourceContext, nexusrpc.Logger) error {
	return nil
}

func (s *Source) GetCatalogRegistrations(_ context.Context, path string) ([]datamodel.CatalogRegistration, error) {
	if path != "/" {
		return nil, nil
	}
	reg, err := datamodel.NewCatalogRegistration(CatalogID, "Benchmark", false)
	return []datamodel.CatalogRegistration{reg}, err
}

func (s *Source) GetCatalog(_ context.Context, id string) (datamodel.ResourceCatalog, error) {
	if id != CatalogID {
		return datamodel.ResourceCatalog{}, fmt.Errorf("%w: catalog %q", datamodel.ErrNotFound, id)
	}
	return s.catalog, nil
}

func (s *Source) GetTimeRange(context.Context, string) (time.Time, time.Time, error) {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

func (s *Source) GetAvailability(context.Context, string, time.Time, time.Time) (float64, error) {
	return 1, nil
}

func (s *Source) Read(_ context.Context, _, _ time.Time, requests []datamodel.ReadRequest, progress func(float64)) error {
	for _, req := range requests {
		size := req.CatalogItem.Representation.ElementSize()
		for i := range req.Length() {
			putIndex(req.Data[i*size:(i+1)*size], uint64(i))
			req.Status[i] = datamodel.StatusValid
		}
	}
	progress(1)
	return nil
}

// putIndex stores v little endian in the width of b, truncating.
func putIndex(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}
