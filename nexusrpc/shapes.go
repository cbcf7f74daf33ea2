// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"net/url"
	"time"

	"github.com/Query-farm/nexus-rpc/datamodel"
)

// Enumerations.
var (
	DataTypeEnum           = NewEnum("NexusDataType", datamodel.DataTypeNames())
	RepresentationKindEnum = NewEnum("RepresentationKind", datamodel.RepresentationKindNames())
	LogLevelEnum           = NewEnum("LogLevel", logLevelNames)
)

// PropertiesShape is an open property bag; keys are kept verbatim.
var PropertiesShape = OptionalOf(MapOf(AnyShape, false))

// RepresentationShape describes datamodel.Representation.
var RepresentationShape = RecordOf(NewRecord("Representation",
	[]Field{
		{"data_type", EnumOf(DataTypeEnum)},
		{"sample_period", DurationShape},
		{"detail", OptionalOf(StringShape)},
		{"kind", OptionalOf(EnumOf(RepresentationKindEnum))},
		{"is_primary", OptionalOf(BoolShape)},
	},
	func(r datamodel.Representation) []any {
		return []any{r.DataType, r.SamplePeriod, emptyAsNil(r.Detail), r.Kind, r.IsPrimary}
	},
	func(v []any) (datamodel.Representation, error) {
		r := datamodel.Representation{
			DataType:     v[0].(datamodel.NexusDataType),
			SamplePeriod: v[1].(time.Duration),
			Detail:       stringOr(v[2]),
			IsPrimary:    boolOr(v[4]),
		}
		if k, ok := v[3].(datamodel.RepresentationKind); ok {
			r.Kind = k
		}
		return r, r.Validate()
	},
))

// ResourceShape describes datamodel.Resource.
var ResourceShape = RecordOf(NewRecord("Resource",
	[]Field{
		{"id", StringShape},
		{"properties", PropertiesShape},
		{"representations", OptionalOf(ListOf(RepresentationShape))},
	},
	func(r datamodel.Resource) []any {
		return []any{r.ID, mapOrNil(r.Properties), listOrNil(r.Representations)}
	},
	func(v []any) (datamodel.Resource, error) {
		return datamodel.NewResource(v[0].(string), propertiesOf(v[1]), sliceOf[datamodel.Representation](v[2]))
	},
))

// ResourceCatalogShape describes datamodel.ResourceCatalog.
var ResourceCatalogShape = RecordOf(NewRecord("ResourceCatalog",
	[]Field{
		{"id", StringShape},
		{"properties", PropertiesShape},
		{"resources", OptionalOf(ListOf(ResourceShape))},
	},
	func(c datamodel.ResourceCatalog) []any {
		return []any{c.ID, mapOrNil(c.Properties), listOrNil(c.Resources)}
	},
	func(v []any) (datamodel.ResourceCatalog, error) {
		return datamodel.NewResourceCatalog(v[0].(string), propertiesOf(v[1]), sliceOf[datamodel.Resource](v[2]))
	},
))

// CatalogRegistrationShape describes datamodel.CatalogRegistration.
var CatalogRegistrationShape = RecordOf(NewRecord("CatalogRegistration",
	[]Field{
		{"path", StringShape},
		{"title", OptionalOf(StringShape)},
		{"is_transient", OptionalOf(BoolShape)},
	},
	func(r datamodel.CatalogRegistration) []any {
		return []any{r.Path, emptyAsNil(r.Title), r.IsTransient}
	},
	func(v []any) (datamodel.CatalogRegistration, error) {
		return datamodel.NewCatalogRegistration(v[0].(string), stringOr(v[1]), boolOr(v[2]))
	},
))

// DataSourceContextShape describes DataSourceContext.
var DataSourceContextShape = RecordOf(NewRecord("DataSourceContext",
	[]Field{
		{"resource_locator", OptionalOf(StringShape)},
		{"system_configuration", PropertiesShape},
		{"source_configuration", PropertiesShape},
		{"request_configuration", PropertiesShape},
	},
	func(c DataSourceContext) []any {
		var locator any
		if c.ResourceLocator != nil {
			locator = c.ResourceLocator.String()
		}
		return []any{locator, mapOrNil(c.SystemConfiguration), mapOrNil(c.SourceConfiguration), mapOrNil(c.RequestConfiguration)}
	},
	func(v []any) (DataSourceContext, error) {
		c := DataSourceContext{
			SystemConfiguration:  propertiesOf(v[1]),
			SourceConfiguration:  propertiesOf(v[2]),
			RequestConfiguration: propertiesOf(v[3]),
		}
		if s, ok := v[0].(string); ok {
			u, err := url.Parse(s)
			if err != nil {
				return DataSourceContext{}, marshalErrorf("invalid resource locator %q: %v", s, err)
			}
			c.ResourceLocator = u
		}
		return c, nil
	},
))

// TimeRange is the coverage of a catalog.
type TimeRange struct {
	Begin time.Time
	End   time.Time
}

var TimeRangeShape = RecordOf(NewRecord("TimeRange",
	[]Field{{"begin", TimeShape}, {"end", TimeShape}},
	func(r TimeRange) []any { return []any{r.Begin, r.End} },
	func(v []any) (TimeRange, error) {
		return TimeRange{Begin: v[0].(time.Time), End: v[1].(time.Time)}, nil
	},
))

type availabilityResult struct {
	Availability float64
}

var availabilityShape = RecordOf(NewRecord("Availability",
	[]Field{{"availability", FloatShape}},
	func(r availabilityResult) []any { return []any{r.Availability} },
	func(v []any) (availabilityResult, error) {
		return availabilityResult{Availability: v[0].(float64)}, nil
	},
))

type apiVersionResult struct {
	APIVersion int64
}

var apiVersionShape = RecordOf(NewRecord("ApiVersion",
	[]Field{{"api_version", IntShape}},
	func(r apiVersionResult) []any { return []any{r.APIVersion} },
	func(v []any) (apiVersionResult, error) {
		return apiVersionResult{APIVersion: v[0].(int64)}, nil
	},
))

type emptyResult struct{}

var emptyShape = RecordOf(NewRecord("Empty",
	nil,
	func(emptyResult) []any { return nil },
	func([]any) (emptyResult, error) { return emptyResult{}, nil },
))

// listOrNil boxes a typed slice as []any, keeping nil as an absent value.
func listOrNil[T any](xs []T) any {
	if xs == nil {
		return nil
	}
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// sliceOf unboxes a decoded []any into a typed slice.
func sliceOf[T any](v any) []T {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]T, 0, len(list))
	for _, item := range list {
		if t, ok := item.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func mapOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

func propertiesOf(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func emptyAsNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func boolOr(v any) bool {
	b, _ := v.(bool)
	return b
}
