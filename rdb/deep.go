package rdb

import (
	"reflect"
	"time"
)

// deepCopy 复制 map 和 slice，其余值按值返回
func deepCopy(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		res := make(map[string]any, len(val))
		for k, item := range val {
			res[k] = deepCopy(item)
		}
		return res
	case []any:
		res := make([]any, len(val))
		for i, item := range val {
			res[i] = deepCopy(item)
		}
		return res
	case time.Time, string, bool, int, int64, float64:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		res := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			res.SetMapIndex(iter.Key(), copyValue(iter.Value(), rv.Type().Elem()))
		}
		return res.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		res := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			res.Index(i).Set(copyValue(rv.Index(i), rv.Type().Elem()))
		}
		return res.Interface()
	}
	return v
}

func copyValue(v reflect.Value, typ reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface && v.IsNil() {
		return reflect.Zero(typ)
	}
	copied := deepCopy(v.Interface())
	if copied == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(copied)
}

// deepDiff 结构化比较，返回 true 表示两个值不同
func deepDiff(a, b any) bool {
	if a == nil || b == nil {
		return a != b
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return !ok || !ta.Equal(tb)
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if isNumber(va) && isNumber(vb) {
		return !numberEqual(va, vb)
	}
	if va.Kind() != vb.Kind() {
		return true
	}

	switch va.Kind() {
	case reflect.Map:
		if va.Len() != vb.Len() {
			return true
		}
		iter := va.MapRange()
		for iter.Next() {
			other := vb.MapIndex(iter.Key())
			if !other.IsValid() || deepDiff(iter.Value().Interface(), other.Interface()) {
				return true
			}
		}
		return false
	case reflect.Slice, reflect.Array:
		if va.Len() != vb.Len() {
			return true
		}
		for i := 0; i < va.Len(); i++ {
			if deepDiff(va.Index(i).Interface(), vb.Index(i).Interface()) {
				return true
			}
		}
		return false
	}

	return !reflect.DeepEqual(a, b)
}

func isNumber(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isInteger(v reflect.Value) bool {
	return isNumber(v) && v.Kind() != reflect.Float32 && v.Kind() != reflect.Float64
}

func numberEqual(a, b reflect.Value) bool {
	if isInteger(a) && isInteger(b) {
		return toInt64(a) == toInt64(b)
	}
	return toFloat64(a) == toFloat64(b)
}

func toInt64(v reflect.Value) int64 {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return int64(v.Float())
	}
	return v.Int()
}

func toFloat64(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	return float64(v.Int())
}
