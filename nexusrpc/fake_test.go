// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Query-farm/nexus-rpc/datamodel"
)

const fakeCatalogID = "/A/B/C"

// nonFiniteCatalogID names a catalog whose property and availability are not
// finite numbers.
const nonFiniteCatalogID = "/NON_FINITE"

var (
	fakeBegin = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeEnd   = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
)

// fakeSource serves one catalog with an INT64 resource. Read fills every
// sample except the first with its index plus 41.
type fakeSource struct {
	mu      sync.Mutex
	dsc     DataSourceContext
	logger  Logger
	loads   int
	closed  bool
	block   chan struct{}
	readErr error
}

func (s *fakeSource) SetContext(_ context.Context, dsc DataSourceContext, logger Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dsc = dsc
	s.logger = logger
	logger.Log(LogInformation, "context set")
	return nil
}

func (s *fakeSource) GetCatalogRegistrations(_ context.Context, path string) ([]datamodel.CatalogRegistration, error) {
	if path != "/" {
		return nil, nil
	}
	reg, err := datamodel.NewCatalogRegistration(fakeCatalogID, "test", false)
	return []datamodel.CatalogRegistration{reg}, err
}

func (s *fakeSource) GetCatalog(_ context.Context, catalogID string) (datamodel.ResourceCatalog, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	switch catalogID {
	case fakeCatalogID:
	case nonFiniteCatalogID:
		return datamodel.NewResourceCatalogBuilder(catalogID).WithProperty("gain", math.Inf(1)).Build()
	case "/PANIC":
		panic("catalog exploded")
	default:
		return datamodel.ResourceCatalog{}, fmt.Errorf("%w: catalog %q", datamodel.ErrNotFound, catalogID)
	}
	rep, err := datamodel.NewRepresentation(datamodel.Int64, time.Second)
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	r, err := datamodel.NewResourceBuilder("T1").WithUnit("s").AddRepresentation(rep).Build()
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	return datamodel.NewResourceCatalogBuilder(catalogID).AddResource(r).Build()
}

func (s *fakeSource) GetTimeRange(context.Context, string) (time.Time, time.Time, error) {
	return fakeBegin, fakeEnd, nil
}

func (s *fakeSource) GetAvailability(_ context.Context, catalogID string, _, _ time.Time) (float64, error) {
	if catalogID == nonFiniteCatalogID {
		return math.NaN(), nil
	}
	return 1.7, nil
}

func (s *fakeSource) Read(ctx context.Context, _, _ time.Time, requests []datamodel.ReadRequest, progress func(float64)) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.readErr != nil {
		return s.readErr
	}
	s.logger.Log(LogDebug, "reading")
	for _, req := range requests {
		for i := 1; i < req.Length(); i++ {
			binary.LittleEndian.PutUint64(req.Data[i*8:], uint64(i+41))
			req.Status[i] = datamodel.StatusValid
		}
	}
	progress(0.5)
	progress(1)
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// lockedBuffer is a bytes.Buffer safe for concurrent use.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recordingHook collects the dispatch info and statistics of each call.
type recordingHook struct {
	mu    sync.Mutex
	calls []DispatchInfo
	stats []CallStatistics
	errs  []error
}

func (h *recordingHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	return ctx, nil
}

func (h *recordingHook) OnDispatchEnd(_ context.Context, _ HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, info)
	h.stats = append(h.stats, *stats)
	h.errs = append(h.errs, err)
}

// find returns the index of the first call to method, or -1.
func (h *recordingHook) find(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.calls {
		if c.Method == method {
			return i
		}
	}
	return -1
}
