package query

import "strings"

// Order 编译排序，属性名前加 - 表示降序
func (c *Compiler) Order(order ...string) (string, error) {
	used := map[string]bool{}
	parts := make([]string, 0, len(order))

	for _, item := range order {
		name := strings.TrimPrefix(item, "-")
		field, ok := c.fields[name]
		if !ok {
			return "", c.errorf("order", "'%s' is not an attribute name", name)
		}
		if used[name] {
			return "", c.errorf("order", "Reused '%s' attribute", name)
		}
		used[name] = true

		if name != item {
			field += " DESC"
		}
		parts = append(parts, field)
	}

	return strings.Join(parts, ", "), nil
}
