// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeToCamel(t *testing.T) {
	for in, want := range map[string]string{
		"id":                   "id",
		"sample_period":        "samplePeriod",
		"is_transient":         "isTransient",
		"system_configuration": "systemConfiguration",
		"a__b":                 "aB",
	} {
		assert.Equal(t, want, SnakeToCamel(in), in)
	}
}

func TestCamelToSnake(t *testing.T) {
	for in, want := range map[string]string{
		"id":              "id",
		"samplePeriod":    "sample_period",
		"IsTransient":     "is_transient",
		"resourceLocator": "resource_locator",
		"URLPath":         "url_path",
		"value2Count":     "value2_count",
	} {
		assert.Equal(t, want, CamelToSnake(in), in)
	}
}
