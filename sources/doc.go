// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sources contains reference data sources served by the
// nexus-plugin command: a deterministic in-memory source used by tests and
// demos, and a file source reading fixed-layout binary sample files.
package sources
