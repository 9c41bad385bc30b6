package syncagent

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

const circularMarker = "[Circular]"

type dropped struct{}

// Encode marshals v for the wire. Values encoding/json rejects are first run
// through Sanitize.
func Encode(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err == nil {
		return raw, nil
	}
	raw, err = json.Marshal(Sanitize(v))
	if err != nil {
		return nil, fmt.Errorf("encode sanitized value: %w", err)
	}
	return raw, nil
}

// Sanitize rewrites v into plain maps, slices and scalars that always encode:
// a reference back to one of its own ancestors becomes "[Circular]", NaN and
// infinities become null, and funcs and channels are dropped.
func Sanitize(v any) any {
	out := sanitizeValue(reflect.ValueOf(v), map[uintptr]bool{})
	if _, ok := out.(dropped); ok {
		return nil
	}
	return out
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func sanitizeValue(v reflect.Value, path map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}

	if v.Type().Implements(marshalerType) && v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface {
		if raw, err := v.Interface().(json.Marshaler).MarshalJSON(); err == nil {
			return json.RawMessage(raw)
		}
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return dropped{}

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitizeValue(v.Elem(), path)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if path[ptr] {
			return circularMarker
		}
		path[ptr] = true
		defer delete(path, ptr)
		return sanitizeValue(v.Elem(), path)

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if path[ptr] {
			return circularMarker
		}
		path[ptr] = true
		defer delete(path, ptr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val := sanitizeValue(iter.Value(), path)
			if _, skip := val.(dropped); skip {
				continue
			}
			out[fmt.Sprint(iter.Key().Interface())] = val
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		ptr := v.Pointer()
		if ptr != 0 && path[ptr] {
			return circularMarker
		}
		if ptr != 0 {
			path[ptr] = true
			defer delete(path, ptr)
		}
		return sanitizeList(v, path)

	case reflect.Array:
		return sanitizeList(v, path)

	case reflect.Struct:
		out := map[string]any{}
		sanitizeStruct(v, path, out)
		return out

	default:
		return v.Interface()
	}
}

func sanitizeList(v reflect.Value, path map[uintptr]bool) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		val := sanitizeValue(v.Index(i), path)
		if _, skip := val.(dropped); skip {
			val = nil
		}
		out = append(out, val)
	}
	return out
}

// sanitizeStruct follows the encoding/json field naming rules that matter
// here: json tag names, "-", omitempty and promoted fields of untagged
// embedded structs.
func sanitizeStruct(v reflect.Value, path map[uintptr]bool, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)

		if field.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				sanitizeStruct(inner, path, out)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}

		val := sanitizeValue(fv, path)
		if _, skip := val.(dropped); skip {
			continue
		}
		out[name] = val
	}
}
