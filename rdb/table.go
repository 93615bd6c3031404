package rdb

// ConstraintType 约束类型，取值与 pg_constraint.contype 一致
type ConstraintType string

const (
	ConstraintForeign ConstraintType = "f"
	ConstraintUnique  ConstraintType = "u"
)

// Constraint 唯一约束或外键约束
type Constraint struct {
	Attribute      *Attribute
	ConstraintName string
	Type           ConstraintType
}

// IndexType 索引方法
type IndexType string

const (
	IndexBTree IndexType = "btree"
	IndexHash  IndexType = "hash"
)

// Index 索引
type Index struct {
	IndexName string
	Fields    []string
	Type      IndexType
	Unique    bool
}

// Equal 字段顺序、索引方法和唯一性都相同才认为相等，不比较名字
func (i *Index) Equal(other *Index) bool {
	if i.Type != other.Type || i.Unique != other.Unique || len(i.Fields) != len(other.Fields) {
		return false
	}
	for n, field := range i.Fields {
		if other.Fields[n] != field {
			return false
		}
	}
	return true
}

// Table 编译后的表结构
//
// Attributes 只包含本表声明的列，继承来的列通过 Fields 获取。
// OID 和 AutoIncrementOwn 由同步过程写入，其余字段编译后只读。
type Table struct {
	Name             string
	Attributes       []*Attribute
	Constraints      []*Constraint
	Indexes          []*Index
	PrimaryKey       *Attribute
	AutoIncrement    bool
	AutoIncrementOwn bool
	Parent           *Table
	Sync             bool
	OID              int64

	fields     []*Attribute
	attr2field map[string]string
	model      *Model
}

// Fields 有效属性列表，父表属性在前
func (t *Table) Fields() []*Attribute {
	return t.fields
}

// Attr2Field 属性名到字段名的映射，调用方不能修改
func (t *Table) Attr2Field() map[string]string {
	return t.attr2field
}

// FindAttribute 按属性名查找有效属性
func (t *Table) FindAttribute(name string) *Attribute {
	for _, attribute := range t.fields {
		if attribute.AttributeName == name {
			return attribute
		}
	}
	return nil
}

// FindField 按字段名查找本表声明的属性
func (t *Table) FindField(name string) *Attribute {
	for _, attribute := range t.Attributes {
		if attribute.FieldName == name {
			return attribute
		}
	}
	return nil
}

func (t *Table) Model() *Model {
	return t.model
}

// SequenceName 自增主键使用的序列名
func (t *Table) SequenceName() string {
	return t.Name + "_id_seq"
}
