// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance checks that a data source plugin honours the
// protocol as seen from the host. [Run] drives a connected
// [nexusrpc.Host] through every operation and records one [Result] per
// check.
//
// The checks need a host on which SetContext has already succeeded. The
// nexus-conformance command starts a plugin executable and runs them.
package conformance
