// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package datamodel

import "fmt"

// NexusDataType tags a numeric sample type. The high byte encodes the
// family (1 unsigned, 2 signed, 3 floating point) and the low byte the bit
// width.
type NexusDataType uint16

const (
	Uint8   NexusDataType = 0x108
	Int8    NexusDataType = 0x208
	Uint16  NexusDataType = 0x110
	Int16   NexusDataType = 0x210
	Uint32  NexusDataType = 0x120
	Int32   NexusDataType = 0x220
	Uint64  NexusDataType = 0x140
	Int64   NexusDataType = 0x240
	Float32 NexusDataType = 0x320
	Float64 NexusDataType = 0x340
)

var dataTypeNames = map[NexusDataType]string{
	Uint8:   "UINT8",
	Int8:    "INT8",
	Uint16:  "UINT16",
	Int16:   "INT16",
	Uint32:  "UINT32",
	Int32:   "INT32",
	Uint64:  "UINT64",
	Int64:   "INT64",
	Float32: "FLOAT32",
	Float64: "FLOAT64",
}

// DataTypeNames returns the wire name of every known data type.
func DataTypeNames() map[NexusDataType]string {
	names := make(map[NexusDataType]string, len(dataTypeNames))
	for k, v := range dataTypeNames {
		names[k] = v
	}
	return names
}

func (t NexusDataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NexusDataType(0x%x)", uint16(t))
}

// ParseDataType resolves a wire name such as "FLOAT64".
func ParseDataType(name string) (NexusDataType, error) {
	for t, n := range dataTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown data type %q", ErrInvalidDataType, name)
}

// Valid reports whether t is one of the declared data types.
func (t NexusDataType) Valid() bool {
	_, ok := dataTypeNames[t]
	return ok
}

// BitWidth is the low byte of the tag.
func (t NexusDataType) BitWidth() int {
	return int(t & 0xFF)
}

// ElementSize is the size of one sample in bytes.
func (t NexusDataType) ElementSize() int {
	return int((t & 0xFF) >> 3)
}

// IsFloat reports whether t is a floating point type.
func (t NexusDataType) IsFloat() bool {
	return t>>8 == 3
}

// IsSigned reports whether t can hold negative values.
func (t NexusDataType) IsSigned() bool {
	return t>>8 >= 2
}
