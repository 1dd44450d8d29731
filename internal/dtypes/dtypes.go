// Package dtypes defines the set of Arrow element types the translation
// engine supports, and the conversions between Arrow arrays and plain Go
// values used by the in-memory table implementation and snapshots.
//
// Legacy measurement-set columns map onto a small set of primitive types.
// Nested types (structs, lists, maps) have no defined mapping to a dense
// chunked array and are rejected during schema resolution.
package dtypes

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// supported maps the Arrow type IDs the engine can translate to their
// snapshot names. The names are stable: they are written into snapshot
// files and must never change meaning.
var supported = map[arrow.Type]string{
	arrow.BOOL:    "bool",
	arrow.UINT8:   "uint8",
	arrow.INT16:   "int16",
	arrow.INT32:   "int32",
	arrow.INT64:   "int64",
	arrow.FLOAT32: "float32",
	arrow.FLOAT64: "float64",
	arrow.STRING:  "string",
}

var byName = map[string]arrow.DataType{
	"bool":    arrow.FixedWidthTypes.Boolean,
	"uint8":   arrow.PrimitiveTypes.Uint8,
	"int16":   arrow.PrimitiveTypes.Int16,
	"int32":   arrow.PrimitiveTypes.Int32,
	"int64":   arrow.PrimitiveTypes.Int64,
	"float32": arrow.PrimitiveTypes.Float32,
	"float64": arrow.PrimitiveTypes.Float64,
	"string":  arrow.BinaryTypes.String,
}

// Supported reports whether dt has a defined mapping to the engine's
// array type system.
func Supported(dt arrow.DataType) bool {
	if dt == nil {
		return false
	}
	_, ok := supported[dt.ID()]
	return ok
}

// Name returns the stable snapshot name for dt.
func Name(dt arrow.DataType) (string, error) {
	if dt == nil {
		return "", fmt.Errorf("nil data type")
	}
	name, ok := supported[dt.ID()]
	if !ok {
		return "", fmt.Errorf("unsupported data type %s", dt)
	}
	return name, nil
}

// FromName returns the Arrow data type for a stable snapshot name.
func FromName(name string) (arrow.DataType, error) {
	dt, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown data type name %q", name)
	}
	return dt, nil
}

// Zero returns the zero element value for dt (false, 0, "").
func Zero(dt arrow.DataType) (any, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return false, nil
	case arrow.UINT8:
		return uint8(0), nil
	case arrow.INT16:
		return int16(0), nil
	case arrow.INT32:
		return int32(0), nil
	case arrow.INT64:
		return int64(0), nil
	case arrow.FLOAT32:
		return float32(0), nil
	case arrow.FLOAT64:
		return float64(0), nil
	case arrow.STRING:
		return "", nil
	}
	return nil, fmt.Errorf("unsupported data type %s", dt)
}

// Value extracts the element at index i as a native Go value.
func Value(arr arrow.Array, i int) (any, error) {
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Uint8:
		return a.Value(i), nil
	case *array.Int16:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	}
	return nil, fmt.Errorf("unsupported array type %s", arr.DataType())
}

// Values extracts all elements of arr as native Go values.
func Values(arr arrow.Array) ([]any, error) {
	out := make([]any, arr.Len())
	for i := range out {
		v, err := Value(arr, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Append appends one element to an Arrow builder, coercing compatible Go
// value representations. Integer values may arrive as any Go integer kind
// (MessagePack decodes into int64/uint64); floats as float32/float64.
func Append(b array.Builder, v any) error {
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		val, ok := v.(bool)
		if !ok {
			return coerceError(b, v)
		}
		bld.Append(val)
	case *array.Uint8Builder:
		val, ok := asInt64(v)
		if !ok || val < 0 || val > 255 {
			return coerceError(b, v)
		}
		bld.Append(uint8(val))
	case *array.Int16Builder:
		val, ok := asInt64(v)
		if !ok {
			return coerceError(b, v)
		}
		bld.Append(int16(val))
	case *array.Int32Builder:
		val, ok := asInt64(v)
		if !ok {
			return coerceError(b, v)
		}
		bld.Append(int32(val))
	case *array.Int64Builder:
		val, ok := asInt64(v)
		if !ok {
			return coerceError(b, v)
		}
		bld.Append(val)
	case *array.Float32Builder:
		val, ok := asFloat64(v)
		if !ok {
			return coerceError(b, v)
		}
		bld.Append(float32(val))
	case *array.Float64Builder:
		val, ok := asFloat64(v)
		if !ok {
			return coerceError(b, v)
		}
		bld.Append(val)
	case *array.StringBuilder:
		val, ok := v.(string)
		if !ok {
			return coerceError(b, v)
		}
		bld.Append(val)
	default:
		return fmt.Errorf("unsupported builder type %s", b.Type())
	}
	return nil
}

// BuildArray builds a flat Arrow array of type dt from native Go values.
func BuildArray(mem memory.Allocator, dt arrow.DataType, values []any) (arrow.Array, error) {
	if !Supported(dt) {
		return nil, fmt.Errorf("unsupported data type %s", dt)
	}
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(len(values))
	for _, v := range values {
		if err := Append(b, v); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

func coerceError(b array.Builder, v any) error {
	return fmt.Errorf("cannot store %T value in %s column", v, b.Type())
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}
