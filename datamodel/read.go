// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"fmt"
	"time"
)

// StatusValid marks a sample as present. Any other status byte means the
// sample is treated as NaN.
const StatusValid byte = 1

// ReadRequest pairs a catalog item with the buffers a data source fills.
// Data holds len(Status) samples of the representation's element size.
type ReadRequest struct {
	CatalogItem CatalogItem
	Data        []byte
	Status      []byte
}

// NewReadRequest allocates buffers covering [begin, end). All samples start
// out invalid.
func NewReadRequest(item CatalogItem, begin, end time.Time) (ReadRequest, error) {
	if !end.After(begin) {
		return ReadRequest{}, fmt.Errorf("%w: end %s is not after begin %s", ErrInvalidRequest, end, begin)
	}
	n := item.Representation.SampleCount(begin, end)
	return NewReadRequestWithLength(item, n)
}

// NewReadRequestWithLength allocates buffers for exactly n samples.
func NewReadRequestWithLength(item CatalogItem, n int) (ReadRequest, error) {
	if n < 0 {
		return ReadRequest{}, fmt.Errorf("%w: negative element count %d", ErrInvalidRequest, n)
	}
	return ReadRequest{
		CatalogItem: item,
		Data:        make([]byte, n*item.Representation.ElementSize()),
		Status:      make([]byte, n),
	}, nil
}

// Length is the number of samples.
func (r ReadRequest) Length() int {
	return len(r.Status)
}

// Validate checks that the data and status buffers agree in length.
func (r ReadRequest) Validate() error {
	size := r.CatalogItem.Representation.ElementSize()
	if len(r.Data) != len(r.Status)*size {
		return fmt.Errorf("%w: %d data bytes for %d samples of %d bytes", ErrInvalidRequest, len(r.Data), len(r.Status), size)
	}
	return nil
}
