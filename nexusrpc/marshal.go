// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind classifies a Shape.
type Kind int

const (
	KindAny Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindDuration
	KindEnum
	KindList
	KindMap
	KindOptional
	KindRecord
)

var kindNames = [...]string{"any", "bool", "int", "float", "string", "time", "duration", "enum", "list", "map", "optional", "record"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Shape describes the wire form of a value. Encode and Decode walk a value
// and its Shape together; nothing is discovered at run time.
type Shape struct {
	Kind Kind
	// Elem is the element shape of a list, the value shape of a map, and the
	// wrapped shape of an optional.
	Elem *Shape
	// ConvertKeys applies CamelToSnake to map keys on decode and
	// SnakeToCamel on encode.
	ConvertKeys bool
	Enum        *EnumType
	Record      *RecordType
}

var (
	AnyShape      = &Shape{Kind: KindAny}
	BoolShape     = &Shape{Kind: KindBool}
	IntShape      = &Shape{Kind: KindInt}
	FloatShape    = &Shape{Kind: KindFloat}
	StringShape   = &Shape{Kind: KindString}
	TimeShape     = &Shape{Kind: KindTime}
	DurationShape = &Shape{Kind: KindDuration}
)

// ListOf describes a JSON array. In memory a list is []any.
func ListOf(elem *Shape) *Shape { return &Shape{Kind: KindList, Elem: elem} }

// MapOf describes a JSON object with string keys. In memory a map is
// map[string]any.
func MapOf(elem *Shape, convertKeys bool) *Shape {
	return &Shape{Kind: KindMap, Elem: elem, ConvertKeys: convertKeys}
}

// OptionalOf lets a value be null. In memory an absent value is a nil any.
func OptionalOf(elem *Shape) *Shape { return &Shape{Kind: KindOptional, Elem: elem} }

func EnumOf(e *EnumType) *Shape { return &Shape{Kind: KindEnum, Enum: e} }

func RecordOf(r *RecordType) *Shape { return &Shape{Kind: KindRecord, Record: r} }

// EnumType maps an in-memory enumerated value to its symbolic wire name.
type EnumType struct {
	Name   string
	encode func(any) (string, bool)
	decode func(string) (any, bool)
}

// NewEnum declares an enumeration over T with the given wire names.
func NewEnum[T comparable](name string, names map[T]string) *EnumType {
	byName := make(map[string]T, len(names))
	for v, n := range names {
		byName[n] = v
	}
	return &EnumType{
		Name: name,
		encode: func(v any) (string, bool) {
			t, ok := v.(T)
			if !ok {
				return "", false
			}
			n, ok := names[t]
			return n, ok
		},
		decode: func(s string) (any, bool) {
			v, ok := byName[s]
			return v, ok
		},
	}
}

// Field is one record member. Name is the in-memory snake_case name.
type Field struct {
	Name  string
	Shape *Shape
}

// RecordType describes a record: its fields in positional order, how to
// take a value apart into field values, and how to build one from them.
type RecordType struct {
	Name      string
	Fields    []Field
	values    func(any) ([]any, bool)
	construct func([]any) (any, error)
	index     map[string]int
}

// NewRecord declares a record type over T. values must return one entry per
// field, in order; construct receives the decoded entries in the same order.
func NewRecord[T any](name string, fields []Field, values func(T) []any, construct func([]any) (T, error)) *RecordType {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}
	return &RecordType{
		Name:   name,
		Fields: fields,
		values: func(v any) ([]any, bool) {
			t, ok := v.(T)
			if !ok {
				return nil, false
			}
			return values(t), true
		},
		construct: func(vals []any) (any, error) {
			return construct(vals)
		},
		index: index,
	}
}

// Encode converts v into a JSON-ready tree according to shape.
func Encode(shape *Shape, v any) (any, error) {
	switch shape.Kind {
	case KindAny:
		if err := checkFinite(v); err != nil {
			return nil, err
		}
		return v, nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(shape, v)
		}
		return b, nil

	case KindInt:
		n, ok := toInt64(v)
		if !ok {
			return nil, mismatch(shape, v)
		}
		return n, nil

	case KindFloat:
		f, ok := toFloat64(v)
		if !ok {
			return nil, mismatch(shape, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, marshalErrorf("non-finite number %v cannot be encoded", f)
		}
		return f, nil

	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(shape, v)
		}
		return s, nil

	case KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, mismatch(shape, v)
		}
		return FormatTimestamp(t), nil

	case KindDuration:
		d, ok := v.(time.Duration)
		if !ok {
			return nil, mismatch(shape, v)
		}
		return FormatDuration(d)

	case KindEnum:
		name, ok := shape.Enum.encode(v)
		if !ok {
			return nil, marshalErrorf("value %v is not a member of enum %s", v, shape.Enum.Name)
		}
		return name, nil

	case KindOptional:
		if v == nil {
			return nil, nil
		}
		return Encode(shape.Elem, v)

	case KindList:
		list, ok := v.([]any)
		if !ok {
			return nil, mismatch(shape, v)
		}
		out := make([]any, len(list))
		for i, item := range list {
			enc, err := Encode(shape.Elem, item)
			if err != nil {
				return nil, withPath(fmt.Sprintf("[%d]", i), err)
			}
			out[i] = enc
		}
		return out, nil

	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(shape, v)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			enc, err := Encode(shape.Elem, item)
			if err != nil {
				return nil, withPath(k, err)
			}
			if shape.ConvertKeys {
				k = SnakeToCamel(k)
			}
			out[k] = enc
		}
		return out, nil

	case KindRecord:
		rt := shape.Record
		vals, ok := rt.values(v)
		if !ok {
			return nil, mismatch(shape, v)
		}
		if len(vals) != len(rt.Fields) {
			return nil, marshalErrorf("record %s produced %d values for %d fields", rt.Name, len(vals), len(rt.Fields))
		}
		out := make(map[string]any, len(rt.Fields))
		for i, f := range rt.Fields {
			enc, err := Encode(f.Shape, vals[i])
			if err != nil {
				return nil, withPath(rt.Name+"."+f.Name, err)
			}
			out[SnakeToCamel(f.Name)] = enc
		}
		return out, nil
	}

	return nil, marshalErrorf("cannot encode shape %s", shape.Kind)
}

// Decode converts a JSON tree (as produced by Unmarshal) into an in-memory
// value according to shape.
func Decode(shape *Shape, data any) (any, error) {
	if shape.Kind == KindOptional {
		if data == nil {
			return nil, nil
		}
		return Decode(shape.Elem, data)
	}
	if data == nil && shape.Kind != KindAny {
		return nil, marshalErrorf("null is not a valid %s", shape.Kind)
	}

	switch shape.Kind {
	case KindAny:
		return normalizeAny(data), nil

	case KindBool:
		b, ok := data.(bool)
		if !ok {
			return nil, mismatch(shape, data)
		}
		return b, nil

	case KindInt:
		switch n := data.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, marshalErrorf("%q is not an integer", n.String())
			}
			return i, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, marshalErrorf("%v is not an integer", n)
			}
			return int64(n), nil
		}
		return nil, mismatch(shape, data)

	case KindFloat:
		switch n := data.(type) {
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, marshalErrorf("%q is not a number", n.String())
			}
			return f, nil
		case float64:
			return n, nil
		}
		return nil, mismatch(shape, data)

	case KindString:
		s, ok := data.(string)
		if !ok {
			return nil, mismatch(shape, data)
		}
		return s, nil

	case KindTime:
		s, ok := data.(string)
		if !ok {
			return nil, mismatch(shape, data)
		}
		return ParseTimestamp(s)

	case KindDuration:
		s, ok := data.(string)
		if !ok {
			return nil, mismatch(shape, data)
		}
		return ParseDuration(s)

	case KindEnum:
		s, ok := data.(string)
		if !ok {
			return nil, mismatch(shape, data)
		}
		v, ok := shape.Enum.decode(s)
		if !ok {
			return nil, marshalErrorf("%q is not a member of enum %s", s, shape.Enum.Name)
		}
		return v, nil

	case KindList:
		list, ok := data.([]any)
		if !ok {
			return nil, mismatch(shape, data)
		}
		out := make([]any, len(list))
		for i, item := range list {
			dec, err := Decode(shape.Elem, item)
			if err != nil {
				return nil, withPath(fmt.Sprintf("[%d]", i), err)
			}
			out[i] = dec
		}
		return out, nil

	case KindMap:
		m, ok := data.(map[string]any)
		if !ok {
			return nil, mismatch(shape, data)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			dec, err := Decode(shape.Elem, item)
			if err != nil {
				return nil, withPath(k, err)
			}
			if shape.ConvertKeys {
				k = CamelToSnake(k)
			}
			out[k] = dec
		}
		return out, nil

	case KindRecord:
		return decodeRecord(shape.Record, data)
	}

	return nil, marshalErrorf("cannot decode shape %s", shape.Kind)
}

func decodeRecord(rt *RecordType, data any) (any, error) {
	m, ok := data.(map[string]any)
	if !ok {
		return nil, marshalErrorf("record %s expects an object, got %s", rt.Name, jsonTypeName(data))
	}

	vals := make([]any, len(rt.Fields))
	seen := make([]bool, len(rt.Fields))
	for key, raw := range m {
		i, ok := rt.index[CamelToSnake(key)]
		if !ok {
			continue
		}
		dec, err := Decode(rt.Fields[i].Shape, raw)
		if err != nil {
			return nil, withPath(rt.Name+"."+rt.Fields[i].Name, err)
		}
		vals[i] = dec
		seen[i] = true
	}

	for i, f := range rt.Fields {
		if !seen[i] && f.Shape.Kind != KindOptional && f.Shape.Kind != KindAny {
			return nil, marshalErrorf("record %s is missing field %q (fields: %s)", rt.Name, SnakeToCamel(f.Name), rt.fieldNames())
		}
	}

	v, err := rt.construct(vals)
	if err != nil {
		var rpcErr *RpcError
		if errors.As(err, &rpcErr) {
			return nil, err
		}
		return nil, &RpcError{Type: ErrorTypeDomain, Message: fmt.Sprintf("record %s: %v", rt.Name, err), Err: err}
	}
	return v, nil
}

// Marshal encodes v according to shape and serializes it as JSON.
func Marshal(shape *Shape, v any) ([]byte, error) {
	tree, err := Encode(shape, v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// Unmarshal parses JSON and decodes it according to shape.
func Unmarshal(shape *Shape, data []byte) (any, error) {
	tree, err := parseJSON(data)
	if err != nil {
		return nil, err
	}
	return Decode(shape, tree)
}

// parseJSON parses data into a generic tree keeping numbers as json.Number.
func parseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, marshalErrorf("invalid JSON: %v", err)
	}
	return tree, nil
}

// normalizeAny turns json.Number leaves into int64 or float64 so open
// property maps compare naturally.
func normalizeAny(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeAny(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeAny(item)
		}
		return out
	}
	return v
}

// checkFinite rejects NaN and infinities anywhere in an open value. JSON has
// no representation for them.
func checkFinite(v any) error {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return marshalErrorf("non-finite number %v cannot be encoded", t)
		}
	case float32:
		return checkFinite(float64(t))
	case []float64:
		for i, f := range t {
			if err := checkFinite(f); err != nil {
				return withPath(fmt.Sprintf("[%d]", i), err)
			}
		}
	case []any:
		for i, item := range t {
			if err := checkFinite(item); err != nil {
				return withPath(fmt.Sprintf("[%d]", i), err)
			}
		}
	case map[string]any:
		for k, item := range t {
			if err := checkFinite(item); err != nil {
				return withPath(k, err)
			}
		}
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// withPath prefixes an error with the location of the failing value while
// keeping its RpcError type.
func withPath(path string, err error) error {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return &RpcError{Type: rpcErr.Type, Message: path + ": " + rpcErr.Message, Err: rpcErr.Err}
	}
	return fmt.Errorf("%s: %w", path, err)
}

func mismatch(shape *Shape, v any) *RpcError {
	name := shape.Kind.String()
	if shape.Kind == KindRecord {
		name = "record " + shape.Record.Name
	}
	return marshalErrorf("expected %s, got %s", name, jsonTypeName(v))
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// fieldNames lists the wire names of a record, sorted. Used in error text.
func (rt *RecordType) fieldNames() string {
	names := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		names[i] = SnakeToCamel(f.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
