package cfg

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Bind 把解码后的 map 按 cfg tag 绑定到结构体，没有 tag 的字段使用字段名
func Bind(values map[string]any, object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer")
	}
	return bindValue(values, rv.Elem())
}

func bindValue(src any, dst reflect.Value) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return bindValue(src, dst.Elem())
	}

	sv := reflect.ValueOf(src)
	if dst.Type() == durationType {
		return bindDuration(sv, dst)
	}
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.Struct:
		return bindStruct(sv, dst)
	case reflect.Map:
		return bindMap(sv, dst)
	case reflect.Slice:
		return bindSlice(sv, dst)
	case reflect.Interface:
		if dst.NumMethod() == 0 {
			dst.Set(sv)
			return nil
		}
	}

	if sv.Kind() == reflect.String {
		return bindString(sv.String(), dst)
	}
	if sv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
}

func fieldKey(field reflect.StructField) string {
	tag := field.Tag.Get("cfg")
	if tag == "" {
		return field.Name
	}
	return strings.Split(tag, ",")[0]
}

func bindStruct(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return fmt.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}

	for i := 0; i < dst.NumField(); i++ {
		field := dst.Type().Field(i)
		value := dst.Field(i)
		key := fieldKey(field)
		if !value.CanSet() || key == "-" {
			continue
		}

		item := src.MapIndex(reflect.ValueOf(key))
		if !item.IsValid() {
			continue
		}
		if err := bindValue(item.Interface(), value); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func bindMap(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return fmt.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}

	iter := src.MapRange()
	for iter.Next() {
		key := reflect.New(dst.Type().Key()).Elem()
		if err := bindValue(iter.Key().Interface(), key); err != nil {
			return err
		}
		value := reflect.New(dst.Type().Elem()).Elem()
		if err := bindValue(iter.Value().Interface(), value); err != nil {
			return err
		}
		dst.SetMapIndex(key, value)
	}
	return nil
}

func bindSlice(src, dst reflect.Value) error {
	if src.Kind() == reflect.String {
		parts := strings.Split(src.String(), ",")
		items := make([]any, len(parts))
		for i, part := range parts {
			items[i] = strings.TrimSpace(part)
		}
		src = reflect.ValueOf(items)
	}
	if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
		return fmt.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}

	slice := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := bindValue(src.Index(i).Interface(), slice.Index(i)); err != nil {
			return err
		}
	}
	dst.Set(slice)
	return nil
}

func bindDuration(src, dst reflect.Value) error {
	switch src.Kind() {
	case reflect.String:
		duration, err := time.ParseDuration(src.String())
		if err != nil {
			return fmt.Errorf("failed to parse duration %q: %w", src.String(), err)
		}
		dst.SetInt(int64(duration))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.SetInt(src.Int())
		return nil
	case reflect.Float32, reflect.Float64:
		// 浮点数按秒处理
		dst.SetInt(int64(src.Float() * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("cannot convert %v to time.Duration", src.Type())
}

// bindString ini 的值都是字符串，按目标类型解析
func bindString(s string, dst reflect.Value) error {
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
		return nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 0, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 0, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil
	}
	return fmt.Errorf("cannot convert string to %v", dst.Type())
}
