package rdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/hatlonely/sedentary/rdb/query"
)

// IndexDefinition 索引声明
type IndexDefinition struct {
	Attributes []string
	Type       IndexType
	Unique     bool
}

// Indexes 索引名到声明的映射
type Indexes map[string]IndexDefinition

// ModelOptions 模型选项
type ModelOptions struct {
	// 表名，默认是模型名的 snake_case
	TableName string
	// 主键属性名，不指定时自动生成自增 id
	PrimaryKey string
	// 自增 id 使用 64 位整数
	Int8ID bool
	// 父模型，表继承
	Parent *Model
	// 是否同步表结构，不指定时使用全局设置
	Sync    *bool
	Indexes Indexes
	Methods Methods
	Hooks   Hooks
}

// Model 编译后的模型
type Model struct {
	name    string
	schema  *Schema
	table   *Table
	parent  *Model
	methods Methods
	loaders map[string]*Attribute
	hooks   Hooks
}

func (m *Model) Name() string {
	return m.name
}

func (m *Model) Table() *Table {
	return m.table
}

func (m *Model) Parent() *Model {
	return m.parent
}

// Attribute 按名字查找属性，包括继承的属性
func (m *Model) Attribute(name string) *Attribute {
	return m.table.FindAttribute(name)
}

func (m *Model) PrimaryKey() *Attribute {
	return m.table.PrimaryKey
}

// IsA 判断模型是否是 other 或者继承自 other
func (m *Model) IsA(other *Model) bool {
	for model := m; model != nil; model = model.parent {
		if model == other {
			return true
		}
	}
	return false
}

// LoadOptions 加载选项
type LoadOptions struct {
	Order []string
	Limit int
	Tx    *Transaction
	Lock  bool
}

type LoadOption func(*LoadOptions)

// WithOrder 排序，属性名前加 - 表示降序
func WithOrder(order ...string) LoadOption {
	return func(o *LoadOptions) { o.Order = append(o.Order, order...) }
}

func WithLimit(limit int) LoadOption {
	return func(o *LoadOptions) { o.Limit = limit }
}

func WithTx(tx *Transaction) LoadOption {
	return func(o *LoadOptions) { o.Tx = tx }
}

// WithLock 使用 SELECT ... FOR UPDATE 锁定读取的行
func WithLock() LoadOption {
	return func(o *LoadOptions) { o.Lock = true }
}

// Load 按条件加载记录，查询父模型时子模型的行会以子模型返回
func (m *Model) Load(ctx context.Context, where any, opts ...LoadOption) ([]*Entry, error) {
	options := &LoadOptions{Limit: -1}
	for _, opt := range opts {
		opt(options)
	}

	compiler := m.compiler()
	whereSQL, err := compiler.Where(where)
	if err != nil {
		return nil, err
	}
	orderSQL, err := compiler.Order(options.Order...)
	if err != nil {
		return nil, err
	}

	return m.schema.backend.Load(ctx, m.table, &LoadRequest{
		Where: whereSQL,
		Order: orderSQL,
		Limit: options.Limit,
		Tx:    options.Tx,
		Lock:  options.Lock,
	})
}

// Cancel 按条件批量删除，不调用回调
func (m *Model) Cancel(ctx context.Context, where any, tx *Transaction) (int64, error) {
	whereSQL, err := m.compiler().Where(where)
	if err != nil {
		return 0, err
	}
	return m.schema.backend.Cancel(ctx, m.table, whereSQL, tx)
}

// New 创建一条未保存的记录
func (m *Model) New(values map[string]any, tx *Transaction) (*Entry, error) {
	e := m.newEntry()
	for name, value := range values {
		if err := e.Set(name, value); err != nil {
			return nil, err
		}
	}
	if m.hooks.Construct != nil {
		m.hooks.Construct(e)
	}
	if tx != nil {
		tx.attach(e)
	}
	return e, nil
}

// Restore 用后端读到的行构造记录，values 以属性名为键，值已转换为属性类型
func (m *Model) Restore(values map[string]any, tx *Transaction) (*Entry, error) {
	e := m.newEntry()
	if m.hooks.PreLoad != nil {
		m.hooks.PreLoad(e)
	}
	if err := e.Fill(values); err != nil {
		return nil, err
	}
	if tx != nil {
		tx.attach(e)
	}
	if m.hooks.PostLoad != nil {
		m.hooks.PostLoad(e)
	}
	return e, nil
}

func (m *Model) newEntry() *Entry {
	return &Entry{model: m, values: make([]any, len(m.table.fields))}
}

func (m *Model) compiler() *query.Compiler {
	escape := m.schema.backend.Escape
	c := query.NewCompiler(m.name, m.table.attr2field, escape)
	for _, attribute := range m.table.fields {
		if attribute.Kind == KindJSON {
			c.WithEscape(attribute.AttributeName, func(value any) (string, error) {
				return EscapeAttribute(escape, attribute, value)
			})
		}
	}
	return c
}

func (m *Model) hasMethod(name string) bool {
	_, ok := m.methods[name]
	return ok
}

func (m *Model) hasLoader(name string) bool {
	_, ok := m.loaders[name]
	return ok
}

// compiler 把模型声明编译成 Table
type compiler struct {
	schema  *Schema
	name    string
	options *ModelOptions
	model   *Model
	table   *Table
}

func (c *compiler) errorf(format string, args ...any) error {
	return compileErrorf(c.name, format, args...)
}

func (c *compiler) compile(attributes Attributes) (*Model, error) {
	if err := c.checkOptions(); err != nil {
		return nil, err
	}

	options := c.options
	parent := options.Parent

	tableName := options.TableName
	if tableName == "" {
		tableName = snakeCase(c.name)
	}
	if !fieldNameRegexp.MatchString(tableName) {
		return nil, c.errorf("'tableName' option: Wrong value, expected a string matching %s", fieldNameRegexp)
	}
	for _, model := range c.schema.models {
		if model.table.Name == tableName {
			return nil, c.errorf("'tableName' option: '%s' table already used by '%s' model", tableName, model.name)
		}
	}

	sync := c.schema.sync
	if options.Sync != nil {
		sync = *options.Sync
	}

	c.table = &Table{Name: tableName, Sync: sync}
	c.model = &Model{name: c.name, schema: c.schema, table: c.table, loaders: map[string]*Attribute{}}
	c.table.model = c.model

	if parent != nil {
		c.model.parent = parent
		c.table.Parent = parent.table
		c.table.PrimaryKey = parent.table.PrimaryKey
	} else if options.PrimaryKey == "" {
		typ := Int(4)
		if options.Int8ID {
			typ = Int8()
		}
		id := &Attribute{
			Type:          typ,
			AttributeName: "id",
			FieldName:     "id",
			ModelName:     c.name,
			TableName:     tableName,
			NotNull:       true,
			Unique:        true,
			table:         c.table,
		}
		c.table.Attributes = append(c.table.Attributes, id)
		c.table.PrimaryKey = id
		c.table.AutoIncrement = true
	}

	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		definition := attributes[name]
		if definition == nil {
			return nil, c.errorf("'%s' attribute: Wrong type, expected a Type or AttributeOptions", name)
		}
		attribute, err := c.attribute(name, definition.attributeOptions())
		if err != nil {
			return nil, err
		}
		c.table.Attributes = append(c.table.Attributes, attribute)
	}

	if pk := options.PrimaryKey; pk != "" {
		attribute := c.ownAttribute(pk)
		if attribute == nil {
			return nil, c.errorf("'primaryKey' option: '%s' is not an attribute", pk)
		}
		attribute.NotNull = true
		attribute.Unique = true
		c.table.PrimaryKey = attribute
	}

	if err := c.effectiveFields(); err != nil {
		return nil, err
	}
	c.constraints()
	if err := c.indexes(); err != nil {
		return nil, err
	}
	if err := c.methods(); err != nil {
		return nil, err
	}

	c.model.hooks = options.Hooks
	if parent != nil {
		c.model.hooks = options.Hooks.inherit(parent.hooks)
	}

	return c.model, nil
}

func (c *compiler) checkOptions() error {
	if !attributeNameRegexp.MatchString(c.name) {
		return compileErrorf("", "'%s' model: Wrong name, expected a string matching %s", c.name, attributeNameRegexp)
	}
	if _, ok := c.schema.models[c.name]; ok {
		return c.errorf("Model already defined")
	}

	options := c.options
	set := map[string]bool{
		"int8id":     options.Int8ID,
		"parent":     options.Parent != nil,
		"primaryKey": options.PrimaryKey != "",
	}
	for _, pair := range [][2]string{{"int8id", "parent"}, {"int8id", "primaryKey"}, {"parent", "primaryKey"}} {
		if set[pair[0]] && set[pair[1]] {
			return c.errorf("'%s' and '%s' options conflict each other", pair[0], pair[1])
		}
	}

	if options.Parent != nil && options.Parent.schema != c.schema {
		return c.errorf("'parent' option: Wrong type, expected a Model of this Schema")
	}

	return nil
}

func (c *compiler) attribute(name string, options AttributeOptions) (*Attribute, error) {
	if !attributeNameRegexp.MatchString(name) {
		return nil, c.errorf("'%s' attribute: Wrong name, expected a string matching %s", name, attributeNameRegexp)
	}
	if reservedNames[name] {
		return nil, c.errorf("'%s' attribute: Reserved name", name)
	}
	if parent := c.options.Parent; parent != nil {
		if err := c.checkParent(parent, name, "attribute"); err != nil {
			return nil, err
		}
	}

	typ := options.Type
	if err := c.checkType(name, typ); err != nil {
		return nil, err
	}

	fieldName := options.FieldName
	if fieldName == "" {
		fieldName = snakeCase(name)
	}
	if !fieldNameRegexp.MatchString(fieldName) {
		return nil, c.errorf("'%s' attribute: 'fieldName' option: Wrong value, expected a string matching %s", name, fieldNameRegexp)
	}

	defaultValue := options.DefaultValue
	if defaultValue != nil {
		if isNullValue(defaultValue) {
			return nil, c.errorf("'%s' attribute: 'defaultValue' option: Does 'null' default value really makes sense?", name)
		}
		if !defaultMatches(typ.Native, defaultValue) {
			return nil, c.errorf("'%s' attribute: 'defaultValue' option: Wrong type, expected '%s'", name, typ.Native)
		}
		defaultValue, _ = normalize(typ.Native, defaultValue)
	}

	return &Attribute{
		Type:          typ,
		AttributeName: name,
		FieldName:     fieldName,
		ModelName:     c.name,
		TableName:     c.table.Name,
		NotNull:       options.NotNull || defaultValue != nil,
		Unique:        options.Unique,
		DefaultValue:  defaultValue,
		table:         c.table,
	}, nil
}

// checkParent 检查名字和祖先模型的属性、方法、外键加载方法是否冲突
func (c *compiler) checkParent(parent *Model, name string, what string) error {
	for model := parent; model != nil; model = model.parent {
		if model.table.FindAttribute(name) != nil {
			return c.errorf("'%s' %s: conflicts with an attribute of '%s' model", name, what, model.name)
		}
		if what == "attribute" && model.hasMethod(name) {
			return c.errorf("'%s' %s: conflicts with a method of '%s' model", name, what, model.name)
		}
		if model.hasLoader(name) {
			return c.errorf("'%s' %s: conflicts with an inferred methods of '%s' model", name, what, model.name)
		}
	}
	return nil
}

func (c *compiler) checkType(name string, typ Type) error {
	if fk := typ.ForeignKey; fk != nil {
		target := fk.target
		if target == nil {
			return c.errorf("'%s' attribute: FKey: Wrong type, expected an Attribute", name)
		}
		if !target.Unique {
			return c.errorf("'%s' attribute: FKey: '%s' model: '%s' attribute: is not unique: can't be used as FKey target", name, target.ModelName, target.AttributeName)
		}
		if !fkActions[fk.OnDelete] {
			return c.errorf("'%s' attribute: FKey: 'onDelete' option: Wrong value, expected 'cascade' | 'no action' | 'restrict' | 'set default' | 'set null'", name)
		}
		if !fkActions[fk.OnUpdate] {
			return c.errorf("'%s' attribute: FKey: 'onUpdate' option: Wrong value, expected 'cascade' | 'no action' | 'restrict' | 'set default' | 'set null'", name)
		}
		return nil
	}

	switch typ.Kind {
	case KindBoolean, KindDateTime, KindInt8, KindJSON, KindNumber:
	case KindFloat:
		if typ.Size != 4 && typ.Size != 8 {
			return c.errorf("'%s' attribute: Float: 'size' argument: Wrong value, expected 4 or 8", name)
		}
	case KindInt:
		if typ.Size != 2 && typ.Size != 4 {
			return c.errorf("'%s' attribute: Int: 'size' argument: Wrong value, expected 2 or 4", name)
		}
	case KindVarChar:
		if typ.Size < 0 {
			return c.errorf("'%s' attribute: VarChar: 'size' argument: Wrong value, expected positive integer", name)
		}
	default:
		return c.errorf("'%s' attribute: Wrong type, expected a Type", name)
	}
	return nil
}

func (c *compiler) ownAttribute(name string) *Attribute {
	for _, attribute := range c.table.Attributes {
		if attribute.AttributeName == name {
			return attribute
		}
	}
	return nil
}

// effectiveFields 合并父表属性，检查字段名重复
func (c *compiler) effectiveFields() error {
	var fields []*Attribute
	if parent := c.table.Parent; parent != nil {
		fields = append(fields, parent.fields...)
	}
	fields = append(fields, c.table.Attributes...)

	used := map[string]string{}
	attr2field := make(map[string]string, len(fields))
	for _, attribute := range fields {
		if other, ok := used[attribute.FieldName]; ok {
			return c.errorf("'%s' attribute: 'fieldName' option: '%s' field already used by '%s' attribute", attribute.AttributeName, attribute.FieldName, other)
		}
		used[attribute.FieldName] = attribute.AttributeName
		attr2field[attribute.AttributeName] = attribute.FieldName
	}

	c.table.fields = fields
	c.table.attr2field = attr2field
	return nil
}

func (c *compiler) constraints() {
	for _, attribute := range c.table.Attributes {
		if fk := attribute.ForeignKey; fk != nil {
			c.table.Constraints = append(c.table.Constraints, &Constraint{
				Attribute:      attribute,
				ConstraintName: fmt.Sprintf("fkey_%s_%s_%s", attribute.FieldName, fk.TableName, fk.FieldName),
				Type:           ConstraintForeign,
			})
		}
		if attribute.Unique {
			c.table.Constraints = append(c.table.Constraints, &Constraint{
				Attribute:      attribute,
				ConstraintName: fmt.Sprintf("%s_%s_unique", c.table.Name, attribute.FieldName),
				Type:           ConstraintUnique,
			})
		}
	}
}

func (c *compiler) indexes() error {
	names := make([]string, 0, len(c.options.Indexes))
	for name := range c.options.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	implied := map[string]bool{}
	for _, constraint := range c.table.Constraints {
		if constraint.Type == ConstraintUnique {
			implied[constraint.ConstraintName] = true
		}
	}

	for _, name := range names {
		definition := c.options.Indexes[name]
		if !fieldNameRegexp.MatchString(name) {
			return c.errorf("'%s' index: Wrong name, expected a string matching %s", name, fieldNameRegexp)
		}
		if implied[name] {
			return c.errorf("'%s' index: index name already inferred by the unique constraint on an attribute", name)
		}
		if len(definition.Attributes) == 0 {
			return c.errorf("'%s' index: 'attributes' option: Wrong value, expected a not empty list", name)
		}

		typ := definition.Type
		if typ == "" {
			typ = IndexBTree
		}
		if typ != IndexBTree && typ != IndexHash {
			return c.errorf("'%s' index: 'type' option: Wrong value, expected 'btree' or 'hash'", name)
		}

		fields := make([]string, 0, len(definition.Attributes))
		for _, attributeName := range definition.Attributes {
			field, ok := c.table.attr2field[attributeName]
			if !ok {
				return c.errorf("'%s' index: '%s' is not an attribute name", name, attributeName)
			}
			fields = append(fields, field)
		}

		c.table.Indexes = append(c.table.Indexes, &Index{IndexName: name, Fields: fields, Type: typ, Unique: definition.Unique})
	}

	return nil
}

func (c *compiler) methods() error {
	parent := c.options.Parent

	for _, attribute := range c.table.Attributes {
		if attribute.ForeignKey == nil {
			continue
		}
		loader := attribute.AttributeName + "Load"
		if c.ownAttribute(loader) != nil {
			return c.errorf("'%s' attribute: '%s' inferred methods conflicts with an attribute", attribute.AttributeName, loader)
		}
		if _, ok := c.options.Methods[loader]; ok {
			return c.errorf("'%s' attribute: '%s' inferred methods conflicts with a method", attribute.AttributeName, loader)
		}
		if parent != nil {
			if err := c.checkParent(parent, loader, "inferred methods"); err != nil {
				return err
			}
			if parent.hasMethod(loader) {
				return c.errorf("'%s' inferred methods: conflicts with a method of '%s' model", loader, parent.name)
			}
		}
		c.model.loaders[loader] = attribute
	}

	names := make([]string, 0, len(c.options.Methods))
	for name := range c.options.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if c.options.Methods[name] == nil {
			return c.errorf("'%s' method: Wrong type, expected a Method", name)
		}
		if c.ownAttribute(name) != nil {
			return c.errorf("'%s' method: conflicts with an attribute", name)
		}
		if parent != nil {
			if err := c.checkParent(parent, name, "method"); err != nil {
				return err
			}
		}
	}

	methods := Methods{}
	loaders := map[string]*Attribute{}
	if parent != nil {
		for name, method := range parent.methods {
			methods[name] = method
		}
		for name, attribute := range parent.loaders {
			loaders[name] = attribute
		}
	}
	for name, method := range c.options.Methods {
		methods[name] = method
	}
	for name, attribute := range c.model.loaders {
		loaders[name] = attribute
	}
	c.model.methods = methods
	c.model.loaders = loaders

	return nil
}

func (m *Model) String() string {
	return "Model(" + m.name + ")"
}
