// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Query-farm/nexus-rpc/datamodel"
)

// DataSource is the capability set a plugin implements. The dispatcher calls
// SetContext exactly once before anything else; the remaining methods are
// called sequentially for the lifetime of the connection.
//
// A DataSource that also implements io.Closer is closed on shutdown.
type DataSource interface {
	SetContext(ctx context.Context, dsc DataSourceContext, logger Logger) error
	GetCatalogRegistrations(ctx context.Context, path string) ([]datamodel.CatalogRegistration, error)
	GetCatalog(ctx context.Context, catalogID string) (datamodel.ResourceCatalog, error)
	GetTimeRange(ctx context.Context, catalogID string) (begin, end time.Time, err error)
	GetAvailability(ctx context.Context, catalogID string, begin, end time.Time) (float64, error)
	// Read fills the data and status buffers of every request for
	// [begin, end). Samples it does not write must keep status 0. progress
	// may be called with values in [0, 1].
	Read(ctx context.Context, begin, end time.Time, requests []datamodel.ReadRequest, progress func(float64)) error
}

// DataSourceContext is delivered once by the host at startup.
type DataSourceContext struct {
	ResourceLocator      *url.URL
	SystemConfiguration  map[string]any
	SourceConfiguration  map[string]any
	RequestConfiguration map[string]any
}

// SourceString returns a string entry of the source configuration.
func (c DataSourceContext) SourceString(key string) (string, bool) {
	s, ok := c.SourceConfiguration[key].(string)
	return s, ok
}

// CatalogCache holds catalogs fetched during a connection. Catalogs
// registered as transient are never cached. It is safe for concurrent use.
type CatalogCache struct {
	mu        sync.RWMutex
	catalogs  map[string]datamodel.ResourceCatalog
	transient map[string]bool
}

// NewCatalogCache returns an empty cache.
func NewCatalogCache() *CatalogCache {
	return &CatalogCache{
		catalogs:  make(map[string]datamodel.ResourceCatalog),
		transient: make(map[string]bool),
	}
}

// Register records the transient flag of each registration.
func (c *CatalogCache) Register(regs []datamodel.CatalogRegistration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range regs {
		if r.IsTransient {
			c.transient[r.Path] = true
			delete(c.catalogs, r.Path)
		} else {
			delete(c.transient, r.Path)
		}
	}
}

// Get returns the catalog from the cache or loads it with load.
func (c *CatalogCache) Get(ctx context.Context, id string, load func(context.Context, string) (datamodel.ResourceCatalog, error)) (datamodel.ResourceCatalog, error) {
	c.mu.RLock()
	catalog, ok := c.catalogs[id]
	transient := c.transient[id]
	c.mu.RUnlock()
	if ok {
		return catalog, nil
	}

	catalog, err := load(ctx, id)
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	if catalog.ID != id {
		return datamodel.ResourceCatalog{}, fmt.Errorf("%w: requested catalog %q, data source returned %q", datamodel.ErrNotFound, id, catalog.ID)
	}
	if !transient {
		c.mu.Lock()
		c.catalogs[id] = catalog
		c.mu.Unlock()
	}
	return catalog, nil
}

// Len is the number of cached catalogs.
func (c *CatalogCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.catalogs)
}

// progressTracker forwards monotonically non-decreasing values in [0, 1].
type progressTracker struct {
	mu     sync.Mutex
	last   float64
	report func(float64)
}

func newProgressTracker(report func(float64)) *progressTracker {
	return &progressTracker{last: -1, report: report}
}

func (p *progressTracker) Report(v float64) {
	if v != v {
		return
	}
	v = min(max(v, 0), 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if v < p.last {
		return
	}
	p.last = v
	if p.report != nil {
		p.report(v)
	}
}
