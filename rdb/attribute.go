package rdb

// Attribute 绑定到表上的属性
type Attribute struct {
	Type

	AttributeName string
	FieldName     string
	ModelName     string
	TableName     string
	NotNull       bool
	Unique        bool
	DefaultValue  any

	table *Table
}

// Table 属性所属的表
func (a *Attribute) Table() *Table {
	return a.table
}

// AttributeOptions 属性的完整声明
type AttributeOptions struct {
	Type         Type
	FieldName    string
	NotNull      bool
	Unique       bool
	DefaultValue any
}

// AttributeDefinition 属性声明，Type 或者 AttributeOptions
type AttributeDefinition interface {
	attributeOptions() AttributeOptions
}

func (t Type) attributeOptions() AttributeOptions {
	return AttributeOptions{Type: t}
}

func (o AttributeOptions) attributeOptions() AttributeOptions {
	return o
}

// Attributes 属性名到声明的映射
type Attributes map[string]AttributeDefinition

type null struct{}

// Null 显式的空值，作为默认值时会被拒绝
var Null = null{}
