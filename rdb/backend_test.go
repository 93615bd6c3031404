package rdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// fakeBackend 记录调用顺序，fail 中的操作返回错误
type fakeBackend struct {
	log    func(string)
	calls  []string
	fail   map[string]error
	tables []*Table

	load    []*Entry
	request *LoadRequest
	where   string
	records int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{log: NoLog, fail: map[string]error{}, records: 1}
}

func (b *fakeBackend) call(name string, table *Table) error {
	if table != nil {
		name += " " + table.Name
	}
	b.calls = append(b.calls, name)
	if err, ok := b.fail[name]; ok {
		return err
	}
	return nil
}

func (b *fakeBackend) Connect(ctx context.Context) error { return b.call("Connect", nil) }
func (b *fakeBackend) End(ctx context.Context) error     { return b.call("End", nil) }
func (b *fakeBackend) SetLog(log func(string))           { b.log = log }
func (b *fakeBackend) AddTable(table *Table)             { b.tables = append(b.tables, table) }

func (b *fakeBackend) Escape(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", &StateError{Op: "fake.Escape", Err: ErrEscapeNull}
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	}
	return fmt.Sprint(value), nil
}

func (b *fakeBackend) Begin(ctx context.Context) (*Transaction, error) {
	if err := b.call("Begin", nil); err != nil {
		return nil, err
	}
	return NewTransaction(&fakeTx{backend: b}), nil
}

func (b *fakeBackend) Load(ctx context.Context, table *Table, req *LoadRequest) ([]*Entry, error) {
	b.request = req
	if err := b.call("Load", table); err != nil {
		return nil, err
	}
	return b.load, nil
}

// Save 模拟数据库写入，未保存过的记录分配 id
func (b *fakeBackend) Save(ctx context.Context, e *Entry) (int64, error) {
	if err := b.call("Save", e.Model().Table()); err != nil {
		return 0, err
	}
	if e.Loaded() && len(e.Changed()) == 0 {
		return 0, nil
	}
	values := e.Values()
	if pk := e.Model().PrimaryKey(); pk.AttributeName == "id" && values["id"] == nil {
		values["id"] = len(b.calls)
	}
	if err := e.Fill(values); err != nil {
		return 0, err
	}
	return b.records, nil
}

func (b *fakeBackend) Remove(ctx context.Context, e *Entry) (int64, error) {
	if err := b.call("Remove", e.Model().Table()); err != nil {
		return 0, err
	}
	return b.records, nil
}

func (b *fakeBackend) Cancel(ctx context.Context, table *Table, where string, tx *Transaction) (int64, error) {
	b.where = where
	if err := b.call("Cancel", table); err != nil {
		return 0, err
	}
	return b.records, nil
}

func (b *fakeBackend) BeginSync(ctx context.Context) error { return b.call("BeginSync", nil) }
func (b *fakeBackend) EndSync(ctx context.Context) error   { return b.call("EndSync", nil) }

func (b *fakeBackend) SyncTable(ctx context.Context, table *Table) error {
	return b.call("SyncTable", table)
}

func (b *fakeBackend) DropConstraints(ctx context.Context, table *Table) ([]int64, error) {
	if err := b.call("DropConstraints", table); err != nil {
		return nil, err
	}
	return []int64{int64(len(table.Constraints))}, nil
}

func (b *fakeBackend) DropIndexes(ctx context.Context, table *Table, constraintIndexes []int64) error {
	if len(constraintIndexes) != 1 || constraintIndexes[0] != int64(len(table.Constraints)) {
		return errors.New("constraint indexes not forwarded")
	}
	return b.call("DropIndexes", table)
}

func (b *fakeBackend) DropFields(ctx context.Context, table *Table) error {
	return b.call("DropFields", table)
}

func (b *fakeBackend) SyncFields(ctx context.Context, table *Table) error {
	return b.call("SyncFields", table)
}

func (b *fakeBackend) SyncSequence(ctx context.Context, table *Table) error {
	return b.call("SyncSequence", table)
}

func (b *fakeBackend) SyncConstraints(ctx context.Context, table *Table) error {
	return b.call("SyncConstraints", table)
}

func (b *fakeBackend) SyncIndexes(ctx context.Context, table *Table) error {
	if !Announce(b.log, table, "CREATE INDEX ON "+table.Name) {
		b.calls = append(b.calls, "skip SyncIndexes "+table.Name)
		return nil
	}
	return b.call("SyncIndexes", table)
}

type fakeTx struct {
	backend *fakeBackend
}

func (t *fakeTx) Commit(ctx context.Context) error   { return t.backend.call("Commit", nil) }
func (t *fakeTx) Rollback(ctx context.Context) error { return t.backend.call("Rollback", nil) }

func newTestSchema(backend *fakeBackend, logs *[]string) *Schema {
	schema, err := NewSchemaWithOptions(backend, &Options{Log: func(line string) {
		if logs != nil {
			*logs = append(*logs, line)
		}
	}})
	if err != nil {
		panic(err)
	}
	return schema
}
