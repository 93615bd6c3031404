package query

import (
	"reflect"
	"sort"
	"strings"
)

// clause 编译结果，op 记录产生它的逻辑操作符，raw 表示原样传入的 SQL
type clause struct {
	sql string
	op  string
	raw bool
}

// Where 编译条件，空条件返回空字符串
//
// 条件可以是原始 SQL 字符串、Fields、map[string]any，或者
// []any{"AND"|"OR"|"NOT", 子条件...}。
func (c *Compiler) Where(where any) (string, error) {
	res, err := c.where(where)
	if err != nil {
		return "", err
	}
	return res.sql, nil
}

func (c *Compiler) where(where any) (clause, error) {
	switch w := where.(type) {
	case nil:
		return clause{}, nil
	case string:
		return clause{sql: w, raw: true}, nil
	case Fields:
		return c.fieldsClause(w)
	case map[string]any:
		return c.fieldsClause(w)
	case []any:
		return c.logical(w)
	}
	return clause{}, c.errorf("where", "Wrong type %T, expected a string, a Fields map or a logical []any", where)
}

func (c *Compiler) fieldsClause(fields map[string]any) (clause, error) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	for _, key := range keys {
		field, ok := c.fields[key]
		if !ok {
			return clause{}, c.errorf("where", "'%s' is not an attribute name", key)
		}
		condition, err := c.condition(key, field, fields[key])
		if err != nil {
			return clause{}, err
		}
		conditions = append(conditions, condition)
	}

	res := clause{sql: strings.Join(conditions, " AND ")}
	if len(conditions) > 1 {
		res.op = LogicalAnd
	}
	return res, nil
}

func (c *Compiler) condition(key string, field string, value any) (string, error) {
	escape := c.escapeOf(key)
	pair, ok := value.([]any)
	if !ok {
		escaped, err := escape(value)
		if err != nil {
			return "", err
		}
		return field + " = " + escaped, nil
	}

	if len(pair) == 0 {
		return "", c.errorf("where", "'%s' field: Missing operator", key)
	}
	op, ok := pair[0].(string)
	if !ok {
		return "", c.errorf("where", "'%s' field: Wrong operator type %T, expected a string", key, pair[0])
	}

	switch Operator(op) {
	case OpEq, OpGt, OpLt, OpGte, OpLte, OpNeq, OpLike:
		if len(pair) != 2 {
			return "", c.errorf("where", "'%s' field: '%s' operator: Wrong arguments count, expected 1 operand", key, op)
		}
		escaped, err := escape(pair[1])
		if err != nil {
			return "", err
		}
		return field + " " + op + " " + escaped, nil

	case OpIn:
		if len(pair) != 2 {
			return "", c.errorf("where", "'%s' field: 'IN' operator: Wrong arguments count, expected 1 operand", key)
		}
		list := reflect.ValueOf(pair[1])
		if pair[1] == nil || (list.Kind() != reflect.Slice && list.Kind() != reflect.Array) {
			return "", c.errorf("where", "'%s' field: 'IN' right operand: Wrong type, expected a list", key)
		}
		if list.Len() == 0 {
			return "", c.errorf("where", "'%s' field: 'IN' right operand: Empty list", key)
		}
		values := make([]string, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			escaped, err := escape(list.Index(i).Interface())
			if err != nil {
				return "", err
			}
			values = append(values, escaped)
		}
		return field + " IN (" + strings.Join(values, ", ") + ")", nil

	case OpIsNull:
		if len(pair) != 1 {
			return "", c.errorf("where", "'%s' field: 'IS NULL' operator is unary", key)
		}
		return field + " IS NULL", nil

	case OpNot:
		if len(pair) != 1 {
			return "", c.errorf("where", "'%s' field: 'NOT' operator is unary", key)
		}
		return "NOT " + field, nil
	}

	return "", c.errorf("where", "'%s' field: '%s' operator: Unknown operator", key, op)
}

func (c *Compiler) logical(where []any) (clause, error) {
	if len(where) == 0 {
		return clause{}, c.errorf("where", "Empty list")
	}
	op, ok := where[0].(string)
	if !ok || (op != LogicalAnd && op != LogicalOr && op != LogicalNot) {
		return clause{}, c.errorf("where", "'%v' logical operator: Wrong value, expected 'AND', 'OR' or 'NOT'", where[0])
	}
	if len(where) == 1 {
		return clause{}, nil
	}

	if op == LogicalNot {
		if len(where) > 2 {
			return clause{}, c.errorf("where", "'NOT' operator is unary")
		}
		res, err := c.where(where[1])
		if err != nil || res.sql == "" {
			return clause{}, err
		}
		return clause{sql: "NOT (" + res.sql + ")"}, nil
	}

	results := make([]clause, 0, len(where)-1)
	for _, sub := range where[1:] {
		res, err := c.where(sub)
		if err != nil {
			return clause{}, err
		}
		if res.sql != "" {
			results = append(results, res)
		}
	}
	if len(results) == 0 {
		return clause{}, nil
	}
	if len(results) == 1 {
		return results[0], nil
	}

	other := LogicalOr
	if op == LogicalOr {
		other = LogicalAnd
	}
	parts := make([]string, 0, len(results))
	for _, res := range results {
		if res.op == other || res.raw {
			parts = append(parts, "("+res.sql+")")
		} else {
			parts = append(parts, res.sql)
		}
	}
	return clause{sql: strings.Join(parts, " "+op+" "), op: op}, nil
}
