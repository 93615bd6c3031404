package query

import "fmt"

// Operator 字段条件操作符
type Operator string

const (
	OpEq     Operator = "="
	OpGt     Operator = ">"
	OpLt     Operator = "<"
	OpGte    Operator = ">="
	OpLte    Operator = "<="
	OpNeq    Operator = "<>"
	OpIn     Operator = "IN"
	OpIsNull Operator = "IS NULL"
	OpLike   Operator = "LIKE"
	OpNot    Operator = "NOT"
)

// 逻辑操作符，作为 []any 条件的第一个元素
const (
	LogicalAnd = "AND"
	LogicalOr  = "OR"
	LogicalNot = "NOT"
)

// ValidationError where/order 参数错误
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// EscapeFunc 把值转义为 SQL 字面量
type EscapeFunc func(value any) (string, error)

// Fields 属性名到条件的映射，条件是字面量（相等）或者 []any{操作符, 操作数}
type Fields map[string]any

// And 所有条件同时成立
func And(conditions ...any) []any {
	return append([]any{LogicalAnd}, conditions...)
}

// Or 任一条件成立
func Or(conditions ...any) []any {
	return append([]any{LogicalOr}, conditions...)
}

// Not 条件取反
func Not(condition any) []any {
	return []any{LogicalNot, condition}
}

// Op 字段条件，如 Fields{"a": Op(">", 23)}
func Op(op Operator, operand any) []any {
	return []any{string(op), operand}
}

func In(values ...any) []any {
	return []any{string(OpIn), values}
}

func IsNull() []any {
	return []any{string(OpIsNull)}
}

func IsFalse() []any {
	return []any{string(OpNot)}
}

// Compiler 把条件和排序编译成 SQL 片段
type Compiler struct {
	model   string
	fields  map[string]string
	escape  EscapeFunc
	escapes map[string]EscapeFunc
}

// NewCompiler fields 是属性名到字段名的映射
func NewCompiler(model string, fields map[string]string, escape EscapeFunc) *Compiler {
	return &Compiler{model: model, fields: fields, escape: escape}
}

// WithEscape 为某个属性单独指定转义函数
func (c *Compiler) WithEscape(name string, escape EscapeFunc) *Compiler {
	if c.escapes == nil {
		c.escapes = map[string]EscapeFunc{}
	}
	c.escapes[name] = escape
	return c
}

func (c *Compiler) escapeOf(name string) EscapeFunc {
	if escape, ok := c.escapes[name]; ok {
		return escape
	}
	return c.escape
}

func (c *Compiler) errorf(argument string, format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf("'%s' model: '%s' argument: ", c.model, argument) + fmt.Sprintf(format, args...)}
}
