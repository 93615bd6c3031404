package rdb

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	attributeNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fieldNameRegexp     = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

var reservedNames = map[string]bool{
	"attr2field":    true,
	"attributeName": true,
	"attributes":    true,
	"base":          true,
	"cancel":        true,
	"class":         true,
	"construct":     true,
	"constructor":   true,
	"defaultValue":  true,
	"entry":         true,
	"fieldName":     true,
	"foreignKeys":   true,
	"load":          true,
	"loaded":        true,
	"methods":       true,
	"name":          true,
	"postCommit":    true,
	"postLoad":      true,
	"postRemove":    true,
	"postSave":      true,
	"preCommit":     true,
	"preLoad":       true,
	"preRemove":     true,
	"preSave":       true,
	"primaryKey":    true,
	"prototype":     true,
	"remove":        true,
	"save":          true,
	"size":          true,
	"tableName":     true,
	"tx":            true,
	"type":          true,
}

// snakeCase 首字母小写，之后每个大写字母转成 _ 加小写
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsUpper(r):
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
