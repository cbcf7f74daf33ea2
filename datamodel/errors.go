// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"errors"
	"fmt"
)

// ErrDomain is the root of all data model errors.
var ErrDomain = errors.New("domain error")

var (
	ErrInvalidID           = fmt.Errorf("%w: invalid identifier", ErrDomain)
	ErrDuplicateID         = fmt.Errorf("%w: duplicate identifier", ErrDomain)
	ErrNotFound            = fmt.Errorf("%w: not found", ErrDomain)
	ErrInvalidSamplePeriod = fmt.Errorf("%w: invalid sample period", ErrDomain)
	ErrInvalidDataType     = fmt.Errorf("%w: invalid data type", ErrDomain)
	ErrMergeConflict       = fmt.Errorf("%w: merge conflict", ErrDomain)
	ErrInvalidRequest      = fmt.Errorf("%w: invalid read request", ErrDomain)
)
