// Package geo models Geographic Records, the attributed geometries exchanged
// with GerryDB, and validates and (de)serializes them.
//
// Geometries are orb values carried on the wire as little-endian WKB. A
// record serializes to a JSON object (WKB as base64 text) or a MessagePack
// map (WKB as binary) with the fields path, crs, geography, internal_point
// and attributes.
package geo

import (
	"fmt"
	"maps"
	"math"
	"reflect"
	"strings"

	"github.com/paulmach/orb"
)

// CRS names a coordinate reference system by its EPSG code.
type CRS string

const (
	// NAD83 is the GerryDB storage CRS.
	NAD83 CRS = "EPSG:4269"
	// WGS84 is accepted as input; coordinates are not reprojected.
	WGS84 CRS = "EPSG:4326"

	DefaultCRS = NAD83
)

// Geographic reports whether coordinates under c are longitude/latitude degrees.
func (c CRS) Geographic() bool {
	switch c.normalized() {
	case NAD83, WGS84:
		return true
	}
	return false
}

func (c CRS) normalized() CRS {
	if c == "" {
		return DefaultCRS
	}
	return CRS(strings.ToUpper(strings.TrimSpace(string(c))))
}

// Record is a single Geographic Record.
type Record struct {
	Path string
	// Geometry is nil for an empty geography.
	Geometry      orb.Geometry
	InternalPoint *orb.Point
	Attributes    map[string]any
	CRS           CRS
}

// Equal reports whether two records are identical after attribute
// normalization. Geometries are compared exactly.
func (r Record) Equal(o Record) bool {
	if r.Path != o.Path || r.CRS.normalized() != o.CRS.normalized() {
		return false
	}
	if (r.Geometry == nil) != (o.Geometry == nil) {
		return false
	}
	if r.Geometry != nil && !orb.Equal(r.Geometry, o.Geometry) {
		return false
	}
	if (r.InternalPoint == nil) != (o.InternalPoint == nil) {
		return false
	}
	if r.InternalPoint != nil && !r.InternalPoint.Equal(*o.InternalPoint) {
		return false
	}
	a, b := NormalizeAttributes(r.Attributes), NormalizeAttributes(o.Attributes)
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return valueEqual(a, b)
}

// valueEqual compares normalized attribute values. An integral float64 equals
// the int64 of the same value, since JSON does not keep the distinction.
func valueEqual(a, b any) bool {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return integralEqual(x, y)
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case int64:
			return integralEqual(y, x)
		}
		return false
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !valueEqual(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valueEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func integralEqual(i int64, f float64) bool {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return false
	}
	return int64(f) == i
}

// NormalizeAttributes returns a copy of attrs with every integer widened to
// int64, every float to float64 and nested maps and lists normalized.
func NormalizeAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}

type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return uintValue(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return uintValue(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return fmt.Sprint(t)
	case map[string]any:
		return NormalizeAttributes(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case []byte:
		return t
	default:
		return normalizeContainer(v)
	}
}

// normalizeContainer converts typed slices and maps such as []string or
// map[string]int into the []any and map[string]any shapes decoding yields.
func normalizeContainer(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalizeValue(iter.Value().Interface())
		}
		return out
	default:
		return v
	}
}

func uintValue(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// Clone returns a deep copy of r's attribute map; geometries are shared.
func (r Record) Clone() Record {
	out := r
	out.Attributes = maps.Clone(r.Attributes)
	if r.InternalPoint != nil {
		p := *r.InternalPoint
		out.InternalPoint = &p
	}
	return out
}
