// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// MissingCatalogID names a catalog no plugin is expected to serve.
const MissingCatalogID = "/NEXUS_CONFORMANCE/MISSING"

// Options bound the work done by Run.
type Options struct {
	// MaxCatalogs caps the number of catalogs inspected. Zero means all.
	MaxCatalogs int
	// MaxSamples caps the length of each read. Default 60.
	MaxSamples int
}

// Result is the outcome of one check.
type Result struct {
	Name    string
	Subject string
	Err     error
}

func (r Result) Passed() bool { return r.Err == nil }

func (r Result) String() string {
	status := "PASS"
	if r.Err != nil {
		status = "FAIL: " + r.Err.Error()
	}
	if r.Subject == "" {
		return fmt.Sprintf("%s\t%s", r.Name, status)
	}
	return fmt.Sprintf("%s %s\t%s", r.Name, r.Subject, status)
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed() {
			out = append(out, r)
		}
	}
	return out
}

type runner struct {
	h       nexusrpc.Host
	opts    Options
	results []Result
}

func (r *runner) record(name, subject string, err error) {
	r.results = append(r.results, Result{Name: name, Subject: subject, Err: err})
}

// Run executes every check against h. It stops early only when the
// connection breaks.
func Run(ctx context.Context, h nexusrpc.Host, opts Options) []Result {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 60
	}
	r := &runner{h: h, opts: opts}

	r.record("api_version", "", r.checkAPIVersion(ctx))
	if !r.usable() {
		return r.results
	}
	regs, err := r.checkRegistrations(ctx)
	r.record("registrations", "", err)

	ids, err := h.CatalogIDs(ctx)
	if err == nil {
		err = checkCatalogIDs(ids, regs)
	}
	r.record("catalog_ids", "", err)

	if opts.MaxCatalogs > 0 && len(ids) > opts.MaxCatalogs {
		ids = ids[:opts.MaxCatalogs]
	}
	for _, id := range ids {
		if !r.usable() {
			return r.results
		}
		r.checkCatalog(ctx, id)
	}

	if r.usable() {
		r.record("missing_catalog", MissingCatalogID, r.checkMissingCatalog(ctx))
	}
	return r.results
}

// usable reports whether the last recorded error left the connection
// working.
func (r *runner) usable() bool {
	if len(r.results) == 0 {
		return true
	}
	err := r.results[len(r.results)-1].Err
	return err == nil || !isTransportError(err)
}

func isTransportError(err error) bool {
	return errors.Is(err, nexusrpc.ErrConnectionAborted) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "connection is unusable")
}

func (r *runner) checkAPIVersion(ctx context.Context) error {
	v, err := r.h.GetApiVersion(ctx)
	if err != nil {
		return err
	}
	if v != nexusrpc.APIVersion {
		return fmt.Errorf("api version %d, want %d", v, nexusrpc.APIVersion)
	}
	return nil
}

// checkRegistrations walks the tree from "/" and returns every registration.
// A child path must extend its parent and appear once.
func (r *runner) checkRegistrations(ctx context.Context) ([]datamodel.CatalogRegistration, error) {
	seen := map[string]bool{}
	var all []datamodel.CatalogRegistration
	var walk func(path string, depth int) error
	walk = func(path string, depth int) error {
		if depth > 32 {
			return fmt.Errorf("registration tree deeper than 32 below %s", path)
		}
		regs, err := r.h.GetCatalogRegistrations(ctx, path)
		if err != nil {
			return fmt.Errorf("registrations of %s: %w", path, err)
		}
		for _, reg := range regs {
			if !datamodel.ValidCatalogID(reg.Path) {
				return fmt.Errorf("invalid registration path %q below %s", reg.Path, path)
			}
			if path != "/" && !strings.HasPrefix(reg.Path, path+"/") {
				return fmt.Errorf("registration %s is not below %s", reg.Path, path)
			}
			if seen[reg.Path] {
				return fmt.Errorf("registration %s appears twice", reg.Path)
			}
			seen[reg.Path] = true
			all = append(all, reg)
			if err := walk(reg.Path, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	err := walk("/", 0)
	return all, err
}

func checkCatalogIDs(ids []string, regs []datamodel.CatalogRegistration) error {
	if len(ids) == 0 {
		return errors.New("no catalogs")
	}
	known := map[string]bool{}
	for _, reg := range regs {
		known[reg.Path] = true
	}
	for _, id := range ids {
		if !datamodel.ValidCatalogID(id) {
			return fmt.Errorf("invalid catalog id %q", id)
		}
		if len(regs) > 0 && !known[id] {
			return fmt.Errorf("catalog %s is not registered", id)
		}
	}
	return nil
}

func (r *runner) checkCatalog(ctx context.Context, id string) {
	c, err := r.h.GetCatalog(ctx, id)
	if err == nil {
		err = checkCatalogShape(id, c)
	}
	r.record("catalog", id, err)
	// Grouping catalogs have no data of their own.
	if err != nil || len(c.Resources) == 0 {
		return
	}

	begin, end, err := r.h.GetTimeRange(ctx, id)
	if err == nil && !begin.Before(end) {
		err = fmt.Errorf("time range %s to %s is empty", nexusrpc.FormatTimestamp(begin), nexusrpc.FormatTimestamp(end))
	}
	r.record("time_range", id, err)
	if err != nil {
		return
	}

	window := end
	if span := begin.Add(time.Hour); span.Before(end) {
		window = span
	}
	a, err := r.h.GetAvailability(ctx, id, begin, window)
	if err == nil && (a < 0 || a > 1) {
		err = fmt.Errorf("availability %g outside [0, 1]", a)
	}
	r.record("availability", id, err)

	for _, res := range c.Resources {
		for _, rep := range res.Representations {
			if !r.usable() {
				return
			}
			item := datamodel.CatalogItem{Catalog: c, Resource: res, Representation: rep}
			r.record("read", item.Path(), r.checkRead(ctx, item, begin, end))
		}
	}
}

// checkCatalogShape validates the catalog and resolves every resource path.
func checkCatalogShape(id string, c datamodel.ResourceCatalog) error {
	if c.ID != id {
		return fmt.Errorf("catalog id %q, want %q", c.ID, id)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	for _, res := range c.Resources {
		for _, rep := range res.Representations {
			path := id + "/" + res.ID + "/" + rep.ID()
			item, err := c.Find(path)
			if err != nil {
				return err
			}
			if item.Path() != path {
				return fmt.Errorf("find %s returned %s", path, item.Path())
			}
		}
	}
	return nil
}

// checkRead reads up to MaxSamples from the start of the time range. Status
// bytes must be 0 or 1.
func (r *runner) checkRead(ctx context.Context, item datamodel.CatalogItem, begin, end time.Time) error {
	period := item.Representation.SamplePeriod
	readEnd := begin.Add(time.Duration(r.opts.MaxSamples) * period)
	if end.Before(readEnd) {
		readEnd = end
	}
	// Socket hosts carry whole seconds only.
	if whole := readEnd.Truncate(time.Second); !whole.Equal(readEnd) {
		if up := whole.Add(time.Second); !up.After(end) {
			readEnd = up
		} else if whole.After(begin) {
			readEnd = whole
		}
	}
	n := item.Representation.SampleCount(begin, readEnd)
	if n == 0 {
		return nil
	}

	req, err := r.h.ReadSingle(ctx, item, begin, readEnd)
	if err != nil {
		return err
	}
	if len(req.Data) != n*item.Representation.ElementSize() || len(req.Status) != n {
		return fmt.Errorf("got %d data and %d status bytes for %d samples", len(req.Data), len(req.Status), n)
	}
	for i, s := range req.Status {
		if s > datamodel.StatusValid {
			return fmt.Errorf("status byte %d is %d", i, s)
		}
	}
	return nil
}

func (r *runner) checkMissingCatalog(ctx context.Context) error {
	_, err := r.h.GetCatalog(ctx, MissingCatalogID)
	if err == nil {
		return errors.New("missing catalog was served")
	}
	if !errors.Is(err, nexusrpc.ErrDomain) {
		return fmt.Errorf("want a domain error, got %w", err)
	}
	return nil
}
