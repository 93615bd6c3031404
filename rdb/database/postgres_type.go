package database

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/sedentary/rdb"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// 外键动作在 pg_constraint.confdeltype / confupdtype 中的编码
var fkActionCodes = map[rdb.FKAction]string{
	rdb.FKCascade:    "c",
	rdb.FKNoAction:   "a",
	rdb.FKRestrict:   "r",
	rdb.FKSetDefault: "d",
	rdb.FKSetNull:    "n",
}

// pg_type.typname 到基础类型
var catalogTypes = map[string]string{
	"bool":        "BOOL",
	"float4":      "FLOAT4",
	"float8":      "FLOAT8",
	"int2":        "SMALLINT",
	"int4":        "INTEGER",
	"int8":        "BIGINT",
	"json":        "JSON",
	"numeric":     "NUMERIC",
	"timestamptz": "DATETIME",
	"varchar":     "VARCHAR",
}

// needDrop 这些类型之间无法 ALTER COLUMN TYPE，只能删除重建
var needDrop = map[rdb.Kind][]string{
	rdb.KindBoolean:  {"float4", "float8", "int2", "int8", "json", "numeric", "timestamptz"},
	rdb.KindDateTime: {"bool", "float4", "float8", "int2", "int4", "int8", "json", "numeric"},
	rdb.KindFloat:    {"bool", "json", "timestamptz"},
	rdb.KindInt:      {"json", "timestamptz"},
	rdb.KindInt8:     {"bool", "json", "timestamptz"},
	rdb.KindJSON:     {"bool", "float4", "float8", "int2", "int4", "int8", "numeric", "timestamptz"},
	rdb.KindNumber:   {"bool", "json", "timestamptz"},
}

// needUsing 转换时需要 USING 子句
var needUsing = map[rdb.Kind][]string{
	rdb.KindBoolean:  {"int4", "varchar"},
	rdb.KindDateTime: {"varchar"},
	rdb.KindFloat:    {"varchar"},
	rdb.KindInt:      {"bool", "varchar"},
	rdb.KindInt8:     {"varchar"},
	rdb.KindJSON:     {"varchar"},
	rdb.KindNumber:   {"varchar"},
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// fieldType 返回属性的基础类型和建表使用的完整类型
func fieldType(attribute *rdb.Attribute) (string, string, error) {
	switch attribute.Kind {
	case rdb.KindBoolean:
		return "BOOL", "BOOL", nil
	case rdb.KindDateTime:
		return "DATETIME", "TIMESTAMP (3) WITH TIME ZONE", nil
	case rdb.KindFloat:
		if attribute.Size == 4 {
			return "FLOAT4", "FLOAT4", nil
		}
		return "FLOAT8", "FLOAT8", nil
	case rdb.KindInt:
		if attribute.Size == 2 {
			return "SMALLINT", "SMALLINT", nil
		}
		return "INTEGER", "INTEGER", nil
	case rdb.KindInt8:
		return "BIGINT", "BIGINT", nil
	case rdb.KindJSON:
		return "JSON", "JSON", nil
	case rdb.KindNumber:
		return "NUMERIC", "NUMERIC", nil
	case rdb.KindVarChar:
		if attribute.Size > 0 {
			return "VARCHAR", fmt.Sprintf("VARCHAR(%d)", attribute.Size), nil
		}
		return "VARCHAR", "VARCHAR", nil
	}
	return "", "", errors.Errorf("Unknown type: '%s', '%d'", attribute.Kind, attribute.Size)
}

// typeMatches 比较目录中的列类型和属性类型，VARCHAR 还要比较长度
func typeMatches(attribute *rdb.Attribute, base string, typname string, atttypmod int64) bool {
	if catalogTypes[typname] != base {
		return false
	}
	if base != "VARCHAR" {
		return true
	}
	if attribute.Size > 0 {
		return int64(attribute.Size+4) == atttypmod
	}
	return atttypmod == -1
}

// usingClause 类型转换需要的 USING 子句，bool 没有到 SMALLINT 的转换，经过 INTEGER 中转
func usingClause(attribute *rdb.Attribute, typname string, typ string) string {
	if !contains(needUsing[attribute.Kind], typname) {
		return ""
	}
	if typname == "bool" && typ == "SMALLINT" {
		return fmt.Sprintf(" USING %s::INTEGER::SMALLINT", attribute.FieldName)
	}
	return fmt.Sprintf(" USING %s::%s", attribute.FieldName, typ)
}

// defaultNeq 目录中的默认值表达式可能带有 ::type 转换，DATETIME 按时间比较
func defaultNeq(attribute *rdb.Attribute, src string, value string) bool {
	if src == value {
		return false
	}
	literal := strings.SplitN(src, "::", 2)[0]
	if literal == value {
		return false
	}
	if attribute.Kind == rdb.KindDateTime {
		if l, ok := parseTimeLiteral(literal); ok {
			if r, ok := parseTimeLiteral(value); ok {
				return !l.Equal(r)
			}
		}
	}
	return strings.Trim(src, "'()") != strings.Trim(value, "'()")
}

// 目录中的时区形如 +00 或 +05:30
var catalogTimeLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z0700",
}

func parseTimeLiteral(literal string) (time.Time, bool) {
	text := strings.Trim(literal, "'")
	for _, layout := range catalogTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

const timeLayout = "2006-01-02 15:04:05.999999999Z07:00"

// escape 把值转换为 SQL 字面量
func escape(value any) (string, error) {
	if value == nil || value == rdb.Null {
		return "", &rdb.StateError{Op: "database.Escape", Err: rdb.ErrEscapeNull}
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "", &rdb.StateError{Op: "database.Escape", Err: rdb.ErrEscapeNull}
		}
		rv = rv.Elem()
	}
	value = rv.Interface()

	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		return pq.QuoteLiteral(v), nil
	case time.Time:
		return pq.QuoteLiteral(v.Format(timeLayout)), nil
	case json.Number:
		return v.String(), nil
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	case reflect.String:
		return pq.QuoteLiteral(rv.String()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	}

	buf, err := json.Marshal(value)
	if err != nil {
		return "", errors.Wrapf(err, "failed to escape %T", value)
	}
	return pq.QuoteLiteral(string(buf)), nil
}

// fromDriver 把驱动返回的值转换为属性的 Go 类型
func fromDriver(attribute *rdb.Attribute, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch attribute.Native {
	case rdb.NativeInt:
		switch v := value.(type) {
		case int64:
			return int(v), nil
		case []byte:
			n, err := strconv.ParseInt(string(v), 10, 64)
			return int(n), err
		}
	case rdb.NativeInt64:
		switch v := value.(type) {
		case int64:
			return v, nil
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		}
	case rdb.NativeFloat64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case rdb.NativeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case rdb.NativeJSON:
		var buf []byte
		switch v := value.(type) {
		case []byte:
			buf = v
		case string:
			buf = []byte(v)
		default:
			return v, nil
		}
		var result any
		if err := json.Unmarshal(buf, &result); err != nil {
			return nil, errors.Wrapf(err, "invalid json in '%s' field", attribute.FieldName)
		}
		return result, nil
	}

	return value, nil
}
