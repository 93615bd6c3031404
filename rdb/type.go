package rdb

// Kind 存储类型
type Kind string

const (
	KindBoolean  Kind = "BOOLEAN"
	KindDateTime Kind = "DATETIME"
	KindFloat    Kind = "FLOAT"
	KindInt      Kind = "INT"
	KindInt8     Kind = "INT8"
	KindJSON     Kind = "JSON"
	KindNumber   Kind = "NUMBER"
	KindVarChar  Kind = "VARCHAR"
)

// Native 属性值在 Go 中的类型
type Native string

const (
	NativeBool    Native = "bool"
	NativeTime    Native = "time.Time"
	NativeFloat64 Native = "float64"
	NativeInt     Native = "int"
	NativeInt64   Native = "int64"
	NativeJSON    Native = "json"
	NativeString  Native = "string"
)

// FKAction 外键 ON DELETE / ON UPDATE 动作
type FKAction string

const (
	FKCascade    FKAction = "cascade"
	FKNoAction   FKAction = "no action"
	FKRestrict   FKAction = "restrict"
	FKSetDefault FKAction = "set default"
	FKSetNull    FKAction = "set null"
)

var fkActions = map[FKAction]bool{
	FKCascade:    true,
	FKNoAction:   true,
	FKRestrict:   true,
	FKSetDefault: true,
	FKSetNull:    true,
}

// ForeignKey 外键信息，指向目标表的一个 unique 属性
type ForeignKey struct {
	AttributeName string
	FieldName     string
	TableName     string
	OnDelete      FKAction
	OnUpdate      FKAction

	target *Attribute
}

// Target 外键指向的属性
func (fk *ForeignKey) Target() *Attribute {
	return fk.target
}

// Type 类型描述，不可变，按值共享
type Type struct {
	Kind       Kind
	Native     Native
	Size       int
	ForeignKey *ForeignKey
}

func Boolean() Type {
	return Type{Kind: KindBoolean, Native: NativeBool}
}

func DateTime() Type {
	return Type{Kind: KindDateTime, Native: NativeTime}
}

// Float 浮点数，size 为 4 或 8，默认 8
func Float(size ...int) Type {
	return Type{Kind: KindFloat, Native: NativeFloat64, Size: sizeOr(size, 8)}
}

// Int 整数，size 为 2 或 4，默认 4
func Int(size ...int) Type {
	return Type{Kind: KindInt, Native: NativeInt, Size: sizeOr(size, 4)}
}

func Int8() Type {
	return Type{Kind: KindInt8, Native: NativeInt64}
}

func JSON() Type {
	return Type{Kind: KindJSON, Native: NativeJSON}
}

func Number() Type {
	return Type{Kind: KindNumber, Native: NativeFloat64}
}

// VarChar 变长字符串，不指定 size 表示不限长度
func VarChar(size ...int) Type {
	return Type{Kind: KindVarChar, Native: NativeString, Size: sizeOr(size, 0)}
}

// FKeyOptions 外键选项
type FKeyOptions struct {
	OnDelete FKAction
	OnUpdate FKAction
}

type FKeyOption func(*FKeyOptions)

func OnDelete(action FKAction) FKeyOption {
	return func(o *FKeyOptions) { o.OnDelete = action }
}

func OnUpdate(action FKAction) FKeyOption {
	return func(o *FKeyOptions) { o.OnUpdate = action }
}

// FKey 外键类型，继承目标属性的存储类型
func FKey(target *Attribute, opts ...FKeyOption) Type {
	options := &FKeyOptions{OnDelete: FKNoAction, OnUpdate: FKNoAction}
	for _, opt := range opts {
		opt(options)
	}

	fk := &ForeignKey{OnDelete: options.OnDelete, OnUpdate: options.OnUpdate, target: target}
	if target == nil {
		return Type{ForeignKey: fk}
	}

	fk.AttributeName = target.AttributeName
	fk.FieldName = target.FieldName
	fk.TableName = target.TableName
	return Type{Kind: target.Kind, Native: target.Native, Size: target.Size, ForeignKey: fk}
}

func sizeOr(size []int, def int) int {
	if len(size) == 0 {
		return def
	}
	return size[0]
}
