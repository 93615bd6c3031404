package rdb

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// normalize 把值转换成属性对应的 Go 类型，无法转换时返回 false
func normalize(native Native, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	if native == NativeJSON {
		return v, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, true
		}
		return normalize(native, rv.Elem().Interface())
	}

	switch native {
	case NativeBool:
		b, ok := v.(bool)
		return b, ok
	case NativeString:
		s, ok := v.(string)
		return s, ok
	case NativeTime:
		t, ok := v.(time.Time)
		return t, ok
	case NativeInt:
		if isInteger(rv) {
			return int(toInt64(rv)), true
		}
	case NativeInt64:
		if isInteger(rv) {
			return toInt64(rv), true
		}
	case NativeFloat64:
		if isNumber(rv) {
			return toFloat64(rv), true
		}
	}
	return nil, false
}

// defaultMatches 默认值类型检查比赋值更严格，64 位整数必须是 int64
func defaultMatches(native Native, v any) bool {
	switch native {
	case NativeBool:
		_, ok := v.(bool)
		return ok
	case NativeString:
		_, ok := v.(string)
		return ok
	case NativeTime:
		_, ok := v.(time.Time)
		return ok
	case NativeInt:
		switch v.(type) {
		case int, int8, int16, int32:
			return true
		}
		return false
	case NativeInt64:
		_, ok := v.(int64)
		return ok
	case NativeFloat64:
		return isNumber(reflect.ValueOf(v))
	case NativeJSON:
		return true
	}
	return false
}

func isNullValue(v any) bool {
	if v == Null {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// EscapeAttribute JSON 属性的值先序列化为 JSON 文本再交给 escape
func EscapeAttribute(escape func(value any) (string, error), attribute *Attribute, value any) (string, error) {
	if attribute.Kind != KindJSON || value == nil || isNullValue(value) {
		return escape(value)
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return "", errors.Wrapf(err, "'%s' attribute: failed to marshal json", attribute.AttributeName)
	}
	return escape(string(buf))
}
