// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// Catalog ids of the in-memory source.
const (
	InMemoryParentID     = "/IN_MEMORY"
	InMemoryAccessibleID = "/IN_MEMORY/TEST/ACCESSIBLE"
	InMemoryRestrictedID = "/IN_MEMORY/TEST/RESTRICTED"
)

// sampleTable is cycled by the T1 and V1 resources, indexed by unix second.
var sampleTable = [...]float64{
	6.5, 6.7, 7.9, 8.1, 7.5, 7.6, 7.0, 6.5, 6.0, 5.9,
	5.8, 5.2, 4.6, 5.0, 5.1, 4.9, 5.3, 5.8, 5.9, 6.1,
	5.9, 6.3, 6.5, 6.9, 7.1, 6.9, 7.1, 7.2, 7.6, 7.9,
	8.2, 8.1, 8.2, 8.0, 7.5, 7.7, 7.6, 8.0, 7.5, 7.2,
	6.8, 6.5, 6.6, 6.6, 6.7, 6.2, 5.9, 5.7, 5.9, 6.3,
	6.6, 6.7, 6.9, 6.5, 6.0, 5.8, 5.3, 5.8, 6.1, 6.8,
}

var (
	minTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, 12, 31, 23, 59, 59, 999999900, time.UTC)
)

// InMemory serves generated data. Its source configuration accepts an
// "offset" number added to every generated sample.
type InMemory struct {
	logger nexusrpc.Logger
	offset float64
}

// NewInMemory returns an unconfigured in-memory source.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) SetContext(_ context.Context, dsc nexusrpc.DataSourceContext, logger nexusrpc.Logger) error {
	s.logger = logger
	switch v := dsc.SourceConfiguration["offset"].(type) {
	case nil:
	case float64:
		s.offset = v
	case int64:
		s.offset = float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", v, err)
		}
		s.offset = f
	default:
		return fmt.Errorf("invalid offset of type %T", v)
	}
	logger.Log(nexusrpc.LogDebug, "in-memory source ready")
	return nil
}

func (s *InMemory) GetCatalogRegistrations(_ context.Context, path string) ([]datamodel.CatalogRegistration, error) {
	var ids []string
	switch path {
	case "/":
		ids = []string{InMemoryParentID}
	case InMemoryParentID:
		ids = []string{InMemoryAccessibleID, InMemoryRestrictedID}
	default:
		return nil, nil
	}
	regs := make([]datamodel.CatalogRegistration, 0, len(ids))
	for _, id := range ids {
		reg, err := datamodel.NewCatalogRegistration(id, "", false)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (s *InMemory) GetCatalog(_ context.Context, catalogID string) (datamodel.ResourceCatalog, error) {
	if catalogID == InMemoryParentID {
		return datamodel.NewResourceCatalog(catalogID, nil, nil)
	}
	if err := s.checkCatalog(catalogID); err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	return inMemoryCatalog(catalogID)
}

func inMemoryCatalog(id string) (datamodel.ResourceCatalog, error) {
	second, err := datamodel.NewRepresentation(datamodel.Float64, time.Second)
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	fast, err := datamodel.NewRepresentation(datamodel.Float64, 40*time.Millisecond)
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}

	builders := []*datamodel.ResourceBuilder{
		datamodel.NewResourceBuilder("T1").WithUnit("°C").WithDescription("Test Resource A").
			WithGroups("Group 1").AddRepresentation(second),
		datamodel.NewResourceBuilder("V1").WithUnit("m/s").WithDescription("Test Resource B").
			WithGroups("Group 1").AddRepresentation(second),
		datamodel.NewResourceBuilder("unix_time1").WithDescription("Test Resource C").
			WithGroups("Group 2").AddRepresentation(fast),
		datamodel.NewResourceBuilder("unix_time2").WithDescription("Test Resource D").
			WithGroups("Group 2").AddRepresentation(second),
	}
	cb := datamodel.NewResourceCatalogBuilder(id)
	for _, b := range builders {
		r, err := b.Build()
		if err != nil {
			return datamodel.ResourceCatalog{}, err
		}
		cb.AddResource(r)
	}
	return cb.Build()
}

func (s *InMemory) GetTimeRange(_ context.Context, catalogID string) (time.Time, time.Time, error) {
	if err := s.checkCatalog(catalogID); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return minTime, maxTime, nil
}

// GetAvailability is a pseudo-random value in [0.9, 1] seeded by begin.
func (s *InMemory) GetAvailability(_ context.Context, catalogID string, begin, _ time.Time) (float64, error) {
	if err := s.checkCatalog(catalogID); err != nil {
		return 0, err
	}
	seed := uint64(begin.UnixNano())
	r := rand.New(rand.NewPCG(seed, seed>>32))
	return r.Float64()/10 + 0.9, nil
}

func (s *InMemory) Read(ctx context.Context, begin, _ time.Time, requests []datamodel.ReadRequest, progress func(float64)) error {
	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.checkCatalog(req.CatalogItem.Catalog.ID); err != nil {
			return err
		}
		rep := req.CatalogItem.Representation
		if rep.DataType != datamodel.Float64 {
			return fmt.Errorf("%w: in-memory resources are FLOAT64, got %s", datamodel.ErrInvalidDataType, rep.DataType)
		}

		n := req.Length()
		dt := rep.SamplePeriod.Seconds()
		beginUnix := float64(begin.UnixNano()) / 1e9
		unixTime := strings.Contains(req.CatalogItem.Resource.ID, "unix_time")
		for j := range n {
			var v float64
			if unixTime {
				v = beginUnix + float64(j)*dt
			} else {
				offset := begin.Unix() + int64(j)
				v = sampleTable[((offset%int64(len(sampleTable)))+int64(len(sampleTable)))%int64(len(sampleTable))]
			}
			binary.LittleEndian.PutUint64(req.Data[j*8:], math.Float64bits(v+s.offset))
			req.Status[j] = datamodel.StatusValid
		}
		s.logger.Log(nexusrpc.LogTrace, fmt.Sprintf("generated %d samples for %s", n, req.CatalogItem.Path()))
		progress(float64(i+1) / float64(len(requests)))
	}
	return nil
}

func (s *InMemory) checkCatalog(id string) error {
	if id != InMemoryAccessibleID && id != InMemoryRestrictedID {
		return fmt.Errorf("%w: catalog %q", datamodel.ErrNotFound, id)
	}
	return nil
}
