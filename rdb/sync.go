package rdb

import "context"

// SyncDatabase 按声明顺序逐表同步表结构
//
// 某张表出错时后续表不再同步，已经执行的 DDL 不会回滚。
func SyncDatabase(ctx context.Context, syncer Syncer, tables []*Table) (err error) {
	if err := syncer.BeginSync(ctx); err != nil {
		return err
	}
	defer func() {
		if endErr := syncer.EndSync(ctx); err == nil {
			err = endErr
		}
	}()

	for _, table := range tables {
		if err := syncTable(ctx, syncer, table); err != nil {
			return err
		}
	}
	return nil
}

func syncTable(ctx context.Context, syncer Syncer, table *Table) error {
	if err := syncer.SyncTable(ctx, table); err != nil {
		return err
	}
	indexes, err := syncer.DropConstraints(ctx, table)
	if err != nil {
		return err
	}
	if err := syncer.DropIndexes(ctx, table, indexes); err != nil {
		return err
	}
	if err := syncer.DropFields(ctx, table); err != nil {
		return err
	}
	if err := syncer.SyncFields(ctx, table); err != nil {
		return err
	}
	if err := syncer.SyncSequence(ctx, table); err != nil {
		return err
	}
	if err := syncer.SyncConstraints(ctx, table); err != nil {
		return err
	}
	return syncer.SyncIndexes(ctx, table)
}

// Announce 输出同步语句，返回是否应该执行；表禁用同步时只输出带 NOT SYNCING 前缀的语句
func Announce(log func(string), table *Table, statement string) bool {
	if table.Sync {
		log(statement)
		return true
	}
	log("NOT SYNCING: " + statement)
	return false
}
