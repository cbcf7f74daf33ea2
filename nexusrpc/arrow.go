// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/Query-farm/nexus-rpc/datamodel"
)

// Schema metadata keys of converted read results.
const (
	MetaResourcePath = "nexus.resource_path"
	MetaUnit         = "nexus.unit"
	MetaSamplePeriod = "nexus.sample_period"
)

// TimestampType is the type of the timestamp column.
var TimestampType = &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}

// ArrowType maps a sample data type onto its Arrow equivalent.
func ArrowType(t datamodel.NexusDataType) (arrow.DataType, error) {
	switch t {
	case datamodel.Uint8:
		return arrow.PrimitiveTypes.Uint8, nil
	case datamodel.Int8:
		return arrow.PrimitiveTypes.Int8, nil
	case datamodel.Uint16:
		return arrow.PrimitiveTypes.Uint16, nil
	case datamodel.Int16:
		return arrow.PrimitiveTypes.Int16, nil
	case datamodel.Uint32:
		return arrow.PrimitiveTypes.Uint32, nil
	case datamodel.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case datamodel.Uint64:
		return arrow.PrimitiveTypes.Uint64, nil
	case datamodel.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case datamodel.Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case datamodel.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	}
	return nil, fmt.Errorf("%w: %s", datamodel.ErrInvalidDataType, t)
}

// ReadResultSchema returns the two-column schema (timestamp, value) of a
// converted read result.
func ReadResultSchema(item datamodel.CatalogItem) (*arrow.Schema, error) {
	dt, err := ArrowType(item.Representation.DataType)
	if err != nil {
		return nil, err
	}
	period, err := FormatDuration(item.Representation.SamplePeriod)
	if err != nil {
		return nil, err
	}
	meta := arrow.NewMetadata(
		[]string{MetaResourcePath, MetaUnit, MetaSamplePeriod},
		[]string{item.Path(), item.Resource.Unit(), period},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: TimestampType},
		{Name: "value", Type: dt, Nullable: true},
	}, &meta), nil
}

// ReadResultToArrow converts a filled read request into a record batch. The
// sample at index i is stamped begin + i*period; samples whose status is not
// StatusValid become nulls.
func ReadResultToArrow(mem memory.Allocator, req datamodel.ReadRequest, begin time.Time) (arrow.RecordBatch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	schema, err := ReadResultSchema(req.CatalogItem)
	if err != nil {
		return nil, err
	}

	n := req.Length()
	period := req.CatalogItem.Representation.SamplePeriod
	size := req.CatalogItem.Representation.ElementSize()

	ts := array.NewTimestampBuilder(mem, TimestampType)
	defer ts.Release()
	ts.Reserve(n)
	start := begin.UTC().UnixNano()
	for i := range n {
		ts.Append(arrow.Timestamp(start + int64(i)*int64(period)))
	}

	vb := array.NewBuilder(mem, schema.Field(1).Type)
	defer vb.Release()
	vb.Reserve(n)
	for i := range n {
		if req.Status[i] != datamodel.StatusValid {
			vb.AppendNull()
			continue
		}
		appendSample(vb, req.Data[i*size:(i+1)*size])
	}

	cols := []arrow.Array{ts.NewArray(), vb.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(schema, cols, int64(n)), nil
}

func appendSample(b array.Builder, p []byte) {
	le := binary.LittleEndian
	switch vb := b.(type) {
	case *array.Uint8Builder:
		vb.Append(p[0])
	case *array.Int8Builder:
		vb.Append(int8(p[0]))
	case *array.Uint16Builder:
		vb.Append(le.Uint16(p))
	case *array.Int16Builder:
		vb.Append(int16(le.Uint16(p)))
	case *array.Uint32Builder:
		vb.Append(le.Uint32(p))
	case *array.Int32Builder:
		vb.Append(int32(le.Uint32(p)))
	case *array.Uint64Builder:
		vb.Append(le.Uint64(p))
	case *array.Int64Builder:
		vb.Append(int64(le.Uint64(p)))
	case *array.Float32Builder:
		vb.Append(math.Float32frombits(le.Uint32(p)))
	case *array.Float64Builder:
		vb.Append(math.Float64frombits(le.Uint64(p)))
	default:
		b.AppendNull()
	}
}

// WriteArrowStream writes batches as one Arrow IPC stream. All batches must
// share the first batch's schema. With compress set, buffers are zstd
// compressed.
func WriteArrowStream(w io.Writer, batches []arrow.RecordBatch, compress bool) error {
	if len(batches) == 0 {
		return fmt.Errorf("no record batches to write")
	}
	opts := []ipc.Option{ipc.WithSchema(batches[0].Schema())}
	if compress {
		opts = append(opts, ipc.WithZstd())
	}
	writer := ipc.NewWriter(w, opts...)
	for _, batch := range batches {
		if err := writer.Write(batch); err != nil {
			writer.Close()
			return fmt.Errorf("writing record batch: %w", err)
		}
	}
	return writer.Close()
}
