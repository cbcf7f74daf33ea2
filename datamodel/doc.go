// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package datamodel defines the resource catalog model that a data source
// plugin exposes to its host: catalogs, resources, representations, and
// the read requests that address one concrete time series.
//
// # Identifiers
//
// Catalog ids are path-like (/A/B/C), resource ids are plain identifiers
// (T1, wind_speed). Representation ids are derived from the sample period
// and an optional detail suffix:
//
//	1s          → 1_s
//	40ms        → 40_ms
//	10min       → 10_min
//	1s "mean"   → 1_s_mean
//
// A fully qualified resource path joins the three: /A/B/C/T1/1_s.
//
// # Validation
//
// Constructors validate identifiers, uniqueness, and sample period bounds.
// Every validation failure wraps [ErrDomain] so callers can classify it with
// errors.Is.
package datamodel
