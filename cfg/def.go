package cfg

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// SetDefaults 按 def tag 为零值字段设置默认值，嵌套结构体递归处理
//
// 指针字段为 nil 时会分配内存再设置，所以 *bool 可以区分未配置和 false。
func SetDefaults(object any) error {
	if object == nil {
		return fmt.Errorf("object cannot be nil")
	}

	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer")
	}

	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		value := rv.Field(i)
		if !value.CanSet() {
			continue
		}

		// 嵌套结构体，nil 指针不分配
		if value.Kind() == reflect.Struct && value.Type() != reflect.TypeOf(time.Time{}) {
			if err := setDefaults(value); err != nil {
				return fmt.Errorf("failed to set defaults for field %s: %v", field.Name, err)
			}
		} else if value.Kind() == reflect.Ptr && !value.IsNil() && value.Elem().Kind() == reflect.Struct {
			if err := setDefaults(value.Elem()); err != nil {
				return fmt.Errorf("failed to set defaults for field %s: %v", field.Name, err)
			}
		}

		def, ok := field.Tag.Lookup("def")
		if !ok || def == "" || !value.IsZero() {
			continue
		}

		if value.Kind() == reflect.Ptr {
			value.Set(reflect.New(value.Type().Elem()))
			value = value.Elem()
		}
		if err := setDefaultValue(value, def); err != nil {
			return fmt.Errorf("failed to set default value for field %s: %v", field.Name, err)
		}
	}

	return nil
}

func setDefaultValue(rv reflect.Value, def string) error {
	if rv.Type() == reflect.TypeOf(time.Duration(0)) {
		duration, err := time.ParseDuration(def)
		if err != nil {
			return fmt.Errorf("invalid duration value %q: %v", def, err)
		}
		rv.SetInt(int64(duration))
		return nil
	}

	switch rv.Kind() {
	case reflect.Slice:
		parts := strings.Split(def, ",")
		slice := reflect.MakeSlice(rv.Type(), len(parts), len(parts))
		for i, part := range parts {
			if err := setDefaultValue(slice.Index(i), strings.TrimSpace(part)); err != nil {
				return fmt.Errorf("failed to set slice element %d: %v", i, err)
			}
		}
		rv.Set(slice)
		return nil
	case reflect.Struct, reflect.Map:
		return fmt.Errorf("unsupported type %v", rv.Type())
	}

	if err := bindString(def, rv); err != nil {
		return fmt.Errorf("invalid %v value %q: %v", rv.Kind(), def, err)
	}
	return nil
}
