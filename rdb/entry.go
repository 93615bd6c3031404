package rdb

import (
	"context"
	"fmt"

	"github.com/hatlonely/sedentary/rdb/query"
	"github.com/pkg/errors"
)

// Entry 一条记录
//
// values 与 Table.Fields() 按位置对应；loaded 是最近一次加载或保存后的快照，
// 为 nil 表示记录从未持久化。
type Entry struct {
	model  *Model
	values []any
	loaded []any
	tx     *Transaction
}

func (e *Entry) Model() *Model {
	return e.model
}

// Tx 记录当前绑定的事务
func (e *Entry) Tx() *Transaction {
	return e.tx
}

// Loaded 记录是否有快照，即是否已经持久化
func (e *Entry) Loaded() bool {
	return e.loaded != nil
}

func (e *Entry) index(name string) int {
	for i, attribute := range e.model.table.fields {
		if attribute.AttributeName == name {
			return i
		}
	}
	return -1
}

// Get 读取属性值，属性不存在时返回 nil
func (e *Entry) Get(name string) any {
	if i := e.index(name); i >= 0 {
		return e.values[i]
	}
	return nil
}

// Set 设置属性值，值会转换为属性对应的 Go 类型
func (e *Entry) Set(name string, value any) error {
	i := e.index(name)
	if i < 0 {
		return &ValidationError{Message: fmt.Sprintf("'%s' model: '%s' is not an attribute name", e.model.name, name)}
	}
	attribute := e.model.table.fields[i]
	normalized, ok := normalize(attribute.Native, value)
	if !ok {
		return &ValidationError{Message: fmt.Sprintf("'%s' model: '%s' attribute: Wrong type %T, expected '%s'", e.model.name, name, value, attribute.Native)}
	}
	e.values[i] = normalized
	return nil
}

// Values 以属性名为键的当前值
func (e *Entry) Values() map[string]any {
	values := make(map[string]any, len(e.values))
	for i, attribute := range e.model.table.fields {
		values[attribute.AttributeName] = e.values[i]
	}
	return values
}

// Snapshot 快照中的属性值
func (e *Entry) Snapshot(name string) any {
	if e.loaded == nil {
		return nil
	}
	if i := e.index(name); i >= 0 {
		return e.loaded[i]
	}
	return nil
}

// Changed 与快照不同的属性，没有快照时返回 nil
func (e *Entry) Changed() []*Attribute {
	if e.loaded == nil {
		return nil
	}
	var changed []*Attribute
	for i, attribute := range e.model.table.fields {
		if deepDiff(e.values[i], e.loaded[i]) {
			changed = append(changed, attribute)
		}
	}
	return changed
}

// Fill 用后端返回的行刷新当前值和快照
func (e *Entry) Fill(values map[string]any) error {
	current := make([]any, len(e.values))
	for i, attribute := range e.model.table.fields {
		normalized, ok := normalize(attribute.Native, values[attribute.AttributeName])
		if !ok {
			return &StateError{
				Op:  "rdb.Fill",
				Err: errors.Errorf("'%s' model: '%s' attribute: unexpected %T value", e.model.name, attribute.AttributeName, values[attribute.AttributeName]),
			}
		}
		current[i] = normalized
	}

	loaded := make([]any, len(current))
	for i, value := range current {
		loaded[i] = deepCopy(value)
	}
	e.values = current
	e.loaded = loaded
	return nil
}

// Save 保存记录：未持久化的执行 INSERT，否则只 UPDATE 变化的字段
func (e *Entry) Save(ctx context.Context) (bool, error) {
	hooks := e.model.hooks
	if hooks.PreSave != nil {
		hooks.PreSave(e)
	}

	records, err := e.model.schema.backend.Save(ctx, e)
	if err != nil {
		return false, err
	}

	if hooks.PostSave != nil {
		hooks.PostSave(e, records)
	}
	if e.tx != nil {
		e.tx.record(e, Action{Action: ActionSave, Records: records})
	}
	return records > 0, nil
}

// Remove 按主键删除记录，返回是否真的删除了一行
func (e *Entry) Remove(ctx context.Context) (bool, error) {
	if e.loaded == nil {
		return false, &StateError{Op: "rdb.Remove", Err: errors.WithMessagef(ErrNeverSaved, "'%s' model", e.model.name)}
	}

	hooks := e.model.hooks
	if hooks.PreRemove != nil {
		hooks.PreRemove(e)
	}

	records, err := e.model.schema.backend.Remove(ctx, e)
	if err != nil {
		return false, err
	}

	if hooks.PostRemove != nil {
		hooks.PostRemove(e, records)
	}
	if e.tx != nil {
		e.tx.record(e, Action{Action: ActionRemove, Records: records})
	}
	return records > 0, nil
}

// Call 调用模型方法或者外键加载方法 {attribute}Load
func (e *Entry) Call(ctx context.Context, name string, args ...any) (any, error) {
	if method, ok := e.model.methods[name]; ok {
		return method(ctx, e, args...)
	}
	if attribute, ok := e.model.loaders[name]; ok {
		return e.loadForeignKey(ctx, attribute)
	}
	return nil, &ValidationError{Message: fmt.Sprintf("'%s' model: '%s' method: not defined", e.model.name, name)}
}

// LoadForeignKey 加载外键属性指向的记录，属性值为空时返回 nil
func (e *Entry) LoadForeignKey(ctx context.Context, name string) (*Entry, error) {
	attribute := e.model.Attribute(name)
	if attribute == nil || attribute.ForeignKey == nil {
		return nil, &ValidationError{Message: fmt.Sprintf("'%s' model: '%s' is not a foreign key attribute", e.model.name, name)}
	}
	return e.loadForeignKey(ctx, attribute)
}

func (e *Entry) loadForeignKey(ctx context.Context, attribute *Attribute) (*Entry, error) {
	value := e.Get(attribute.AttributeName)
	if value == nil {
		return nil, nil
	}

	fk := attribute.ForeignKey
	target := fk.target.table.model
	entries, err := target.Load(ctx, query.Fields{fk.AttributeName: value}, WithTx(e.tx))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}
