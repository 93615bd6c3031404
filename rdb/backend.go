package rdb

import "context"

// LoadRequest 编译好的加载请求
type LoadRequest struct {
	// WHERE 子句，空表示不过滤
	Where string
	// ORDER BY 子句，空表示不排序
	Order string
	// 小于 0 表示不限制
	Limit int
	Tx    *Transaction
	Lock  bool
}

// Backend 具体数据库需要实现的操作
//
// 驱动返回的错误用 NewBackendError 包装后原样返回给调用方。
type Backend interface {
	Connect(ctx context.Context) error
	End(ctx context.Context) error
	SetLog(log func(string))

	// Escape 转义为 SQL 字面量，nil 返回 StateError
	Escape(value any) (string, error)
	Begin(ctx context.Context) (*Transaction, error)
	// AddTable 注册表，用于多态加载时按 oid 找到子表
	AddTable(table *Table)

	Load(ctx context.Context, table *Table, req *LoadRequest) ([]*Entry, error)
	// Save 返回影响的行数，没有需要保存的变化时返回 0
	Save(ctx context.Context, e *Entry) (int64, error)
	Remove(ctx context.Context, e *Entry) (int64, error)
	Cancel(ctx context.Context, table *Table, where string, tx *Transaction) (int64, error)

	Syncer
}

// Syncer 表结构同步的各个步骤，由 SyncDatabase 按固定顺序调用
type Syncer interface {
	// BeginSync 获取同步专用的连接
	BeginSync(ctx context.Context) error
	// EndSync 释放同步连接，无论同步是否成功都会调用
	EndSync(ctx context.Context) error

	SyncTable(ctx context.Context, table *Table) error
	// DropConstraints 返回唯一约束拥有的索引 oid，DropIndexes 时跳过
	DropConstraints(ctx context.Context, table *Table) ([]int64, error)
	DropIndexes(ctx context.Context, table *Table, constraintIndexes []int64) error
	DropFields(ctx context.Context, table *Table) error
	SyncFields(ctx context.Context, table *Table) error
	SyncSequence(ctx context.Context, table *Table) error
	SyncConstraints(ctx context.Context, table *Table) error
	SyncIndexes(ctx context.Context, table *Table) error
}
