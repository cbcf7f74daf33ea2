// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Query-farm/nexus-rpc/datamodel"
)

// APIVersion is the capability level reported by getApiVersionAsync.
const APIVersion = 1

// session is the per-connection state shared by both transports. It is only
// touched by the connection's control loop.
type session struct {
	source DataSource
	logger Logger
	cache  *CatalogCache
	ready  bool
}

func newSession(source DataSource, logger Logger) *session {
	if logger == nil {
		logger = discardLogger{}
	}
	return &session{source: source, logger: logger, cache: NewCatalogCache()}
}

func (s *session) setContext(ctx context.Context, dsc DataSourceContext) error {
	if s.ready {
		return protocolErrorf("SetContext may only be called once per connection")
	}
	if err := s.source.SetContext(ctx, dsc, s.logger); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *session) requireContext(method string) error {
	if !s.ready {
		return protocolErrorf("%s called before SetContext", method)
	}
	return nil
}

func (s *session) registrations(ctx context.Context, path string) ([]datamodel.CatalogRegistration, error) {
	regs, err := s.source.GetCatalogRegistrations(ctx, path)
	if err != nil {
		return nil, err
	}
	s.cache.Register(regs)
	return regs, nil
}

func (s *session) catalog(ctx context.Context, id string) (datamodel.ResourceCatalog, error) {
	if !datamodel.ValidCatalogID(id) {
		return datamodel.ResourceCatalog{}, fmt.Errorf("%w: catalog id %q", datamodel.ErrInvalidID, id)
	}
	return s.cache.Get(ctx, id, s.source.GetCatalog)
}

// catalogIDs walks the registration tree from the root and returns every
// registered path in discovery order.
func (s *session) catalogIDs(ctx context.Context) ([]string, error) {
	var ids []string
	seen := map[string]bool{}
	queue := []string{"/"}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		regs, err := s.registrations(ctx, parent)
		if err != nil {
			return nil, err
		}
		for _, r := range regs {
			if seen[r.Path] {
				continue
			}
			seen[r.Path] = true
			ids = append(ids, r.Path)
			queue = append(queue, r.Path)
		}
	}
	return ids, nil
}

func (s *session) timeRange(ctx context.Context, catalogID string) (TimeRange, error) {
	begin, end, err := s.source.GetTimeRange(ctx, catalogID)
	if err != nil {
		return TimeRange{}, err
	}
	return TimeRange{Begin: begin.UTC(), End: end.UTC()}, nil
}

func (s *session) availability(ctx context.Context, catalogID string, begin, end time.Time) (float64, error) {
	if !end.After(begin) {
		return 0, fmt.Errorf("%w: end %s is not after begin %s", datamodel.ErrInvalidRequest, end, begin)
	}
	v, err := s.source.GetAvailability(ctx, catalogID, begin, end)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("%w: availability of %s is NaN", datamodel.ErrDomain, catalogID)
	}
	return min(max(v, 0), 1), nil
}

// readSingle resolves path, lets the data source fill one request and returns
// it. A non-negative elementCount must match the derived sample count.
func (s *session) readSingle(ctx context.Context, path string, elementCount int64, begin, end time.Time) (datamodel.ReadRequest, error) {
	catalogID, _, _, err := datamodel.ParseResourcePath(path)
	if err != nil {
		return datamodel.ReadRequest{}, err
	}
	catalog, err := s.catalog(ctx, catalogID)
	if err != nil {
		return datamodel.ReadRequest{}, err
	}
	item, err := catalog.Find(path)
	if err != nil {
		return datamodel.ReadRequest{}, err
	}
	req, err := datamodel.NewReadRequest(item, begin, end)
	if err != nil {
		return datamodel.ReadRequest{}, err
	}
	if elementCount >= 0 && int64(req.Length()) != elementCount {
		return datamodel.ReadRequest{}, fmt.Errorf("%w: element count %d does not match %d samples in [%s, %s)",
			datamodel.ErrInvalidRequest, elementCount, req.Length(), FormatTimestamp(begin), FormatTimestamp(end))
	}

	progress := newProgressTracker(func(v float64) {
		s.logger.Log(LogTrace, fmt.Sprintf("read %s: %.0f%%", path, v*100))
	})
	requests := []datamodel.ReadRequest{req}
	if err := s.source.Read(ctx, begin, end, requests, progress.Report); err != nil {
		return datamodel.ReadRequest{}, err
	}
	if err := requests[0].Validate(); err != nil {
		return datamodel.ReadRequest{}, err
	}
	return requests[0], nil
}

func (s *session) close() error {
	if c, ok := s.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
