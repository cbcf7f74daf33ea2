// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"fmt"
	"regexp"
	"time"
)

// RepresentationKind tags how a representation was derived from the
// original samples.
type RepresentationKind int

const (
	KindOriginal   RepresentationKind = 0
	KindResampled  RepresentationKind = 10
	KindMean       RepresentationKind = 20
	KindMeanPolar  RepresentationKind = 30
	KindMin        RepresentationKind = 40
	KindMax        RepresentationKind = 50
	KindStd        RepresentationKind = 60
	KindRms        RepresentationKind = 70
	KindMinBitwise RepresentationKind = 80
	KindMaxBitwise RepresentationKind = 90
	KindSum        RepresentationKind = 100
)

var kindNames = map[RepresentationKind]string{
	KindOriginal:   "Original",
	KindResampled:  "Resampled",
	KindMean:       "Mean",
	KindMeanPolar:  "MeanPolar",
	KindMin:        "Min",
	KindMax:        "Max",
	KindStd:        "Std",
	KindRms:        "Rms",
	KindMinBitwise: "MinBitwise",
	KindMaxBitwise: "MaxBitwise",
	KindSum:        "Sum",
}

// RepresentationKindNames returns the wire name of every known kind.
func RepresentationKindNames() map[RepresentationKind]string {
	names := make(map[RepresentationKind]string, len(kindNames))
	for k, v := range kindNames {
		names[k] = v
	}
	return names
}

func (k RepresentationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("RepresentationKind(%d)", int(k))
}

// MaxSamplePeriod is the exclusive upper bound of a sample period.
const MaxSamplePeriod = 24 * time.Hour

var detailPattern = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9_]*)?$`)

// Representation is one materialized sampling of a resource.
type Representation struct {
	DataType     NexusDataType
	SamplePeriod time.Duration
	Detail       string
	Kind         RepresentationKind
	IsPrimary    bool
}

// NewRepresentation returns a validated original-kind representation.
func NewRepresentation(dataType NexusDataType, samplePeriod time.Duration) (Representation, error) {
	r := Representation{DataType: dataType, SamplePeriod: samplePeriod}
	if err := r.Validate(); err != nil {
		return Representation{}, err
	}
	return r, nil
}

// Validate checks the data type, sample period bounds, and detail grammar.
func (r Representation) Validate() error {
	if !r.DataType.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidDataType, r.DataType)
	}
	if r.SamplePeriod <= 0 || r.SamplePeriod >= MaxSamplePeriod {
		return fmt.Errorf("%w: %s is not within (0, 24h)", ErrInvalidSamplePeriod, r.SamplePeriod)
	}
	if !detailPattern.MatchString(r.Detail) {
		return fmt.Errorf("%w: representation detail %q", ErrInvalidID, r.Detail)
	}
	return nil
}

// ID derives the representation identifier, e.g. "1_s" or "10_min_mean".
func (r Representation) ID() string {
	id := UnitString(r.SamplePeriod)
	if r.Detail != "" {
		id += "_" + r.Detail
	}
	return id
}

// ElementSize is the size of one sample in bytes.
func (r Representation) ElementSize() int {
	return r.DataType.ElementSize()
}

// SampleCount is the number of samples covering [begin, end), rounded up.
func (r Representation) SampleCount(begin, end time.Time) int {
	span := end.Sub(begin)
	if span <= 0 || r.SamplePeriod <= 0 {
		return 0
	}
	n := span / r.SamplePeriod
	if span%r.SamplePeriod != 0 {
		n++
	}
	return int(n)
}

var (
	unitQuotients = [...]int64{1000, 1000, 1000, 60}
	unitPostfixes = [...]string{"ns", "us", "ms", "s"}
)

// UnitString renders a period in the largest unit that divides it evenly.
func UnitString(period time.Duration) string {
	value := int64(period)
	for i, q := range unitQuotients {
		if value%q != 0 {
			return fmt.Sprintf("%d_%s", value, unitPostfixes[i])
		}
		value /= q
	}
	return fmt.Sprintf("%d_min", value)
}
