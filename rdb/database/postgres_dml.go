package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/hatlonely/sedentary/rdb"
	"github.com/pkg/errors"
)

// pgTx 事务连接，语句在执行前写入日志
type pgTx struct {
	tx  *sql.Tx
	log func(string)
}

func (t *pgTx) Commit(ctx context.Context) error {
	t.log("COMMIT")
	return rdb.NewBackendError("database.Commit", t.tx.Commit())
}

// Rollback 事务已经结束时什么都不做
func (t *pgTx) Rollback(ctx context.Context) error {
	t.log("ROLLBACK")
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return rdb.NewBackendError("database.Rollback", err)
}

func (p *Postgres) Begin(ctx context.Context) (*rdb.Transaction, error) {
	var tx *sql.Tx
	err := p.observer.observe(ctx, "begin", "", func(ctx context.Context) (int64, error) {
		p.log("BEGIN")
		var err error
		tx, err = p.db.BeginTx(ctx, nil)
		return -1, err
	})
	if err != nil {
		return nil, rdb.NewBackendError("database.Begin", err)
	}
	return rdb.NewTransaction(&pgTx{tx: tx, log: p.log}), nil
}

func (p *Postgres) Load(ctx context.Context, table *rdb.Table, req *rdb.LoadRequest) ([]*rdb.Entry, error) {
	var entries []*rdb.Entry
	err := p.observer.observe(ctx, "load", table.Name, func(ctx context.Context) (int64, error) {
		var err error
		entries, err = p.load(ctx, table, req)
		return int64(len(entries)), err
	})
	if err != nil {
		return nil, rdb.NewBackendError("database.Load", err)
	}
	return entries, nil
}

// load 子表的行先占位，按 oid 分组后通过子表重新加载再放回原来的位置
func (p *Postgres) load(ctx context.Context, table *rdb.Table, req *rdb.LoadRequest) ([]*rdb.Entry, error) {
	var buf strings.Builder
	buf.WriteString("SELECT *, tableoid::int8 AS tableoid FROM ")
	buf.WriteString(table.Name)
	if req.Where != "" {
		buf.WriteString(" WHERE ")
		buf.WriteString(req.Where)
	}
	if req.Order != "" {
		buf.WriteString(" ORDER BY ")
		buf.WriteString(req.Order)
	}
	if req.Limit >= 0 {
		fmt.Fprintf(&buf, " LIMIT %d", req.Limit)
	}
	if req.Lock {
		buf.WriteString(" FOR UPDATE")
	}
	query := buf.String()

	q := p.querier(req.Tx)
	p.log(query)
	rows, err := queryRows(ctx, q, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	oid, err := p.tableOID(ctx, q, table)
	if err != nil {
		return nil, err
	}

	entries := make([]*rdb.Entry, len(rows))
	pending := map[int64][]int{}
	for i, row := range rows {
		if rowOID := toInt64(row["tableoid"]); rowOID != oid && oid != 0 {
			pending[rowOID] = append(pending[rowOID], i)
			continue
		}
		if entries[i], err = p.restore(table, row, req.Tx); err != nil {
			return nil, err
		}
	}
	if len(pending) == 0 {
		return entries, nil
	}

	oids := make([]int64, 0, len(pending))
	for oid := range pending {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	for _, childOID := range oids {
		indexes := pending[childOID]
		child, err := p.tableByOID(ctx, q, childOID)
		if err != nil {
			return nil, err
		}
		// 不认识的子表按被查询的表返回
		if child == nil {
			for _, i := range indexes {
				if entries[i], err = p.restore(table, rows[i], req.Tx); err != nil {
					return nil, err
				}
			}
			continue
		}

		pk := child.PrimaryKey
		keys := make([]string, 0, len(indexes))
		for _, i := range indexes {
			key, err := p.escapeField(pk, rows[i][pk.FieldName])
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}

		children, err := p.load(ctx, child, &rdb.LoadRequest{
			Where: fmt.Sprintf("%s IN (%s)", pk.FieldName, strings.Join(keys, ", ")),
			Limit: -1,
			Tx:    req.Tx,
			Lock:  req.Lock,
		})
		if err != nil {
			return nil, err
		}

		byKey := make(map[string]*rdb.Entry, len(children))
		for _, e := range children {
			key, err := p.Escape(e.Get(pk.AttributeName))
			if err != nil {
				return nil, err
			}
			byKey[key] = e
		}
		for n, i := range indexes {
			entries[i] = byKey[keys[n]]
		}
	}

	// 重新加载时已经被删除的行
	result := entries[:0]
	for _, e := range entries {
		if e != nil {
			result = append(result, e)
		}
	}
	return result, nil
}

func (p *Postgres) escapeField(attribute *rdb.Attribute, raw any) (string, error) {
	value, err := fromDriver(attribute, raw)
	if err != nil {
		return "", err
	}
	return p.Escape(value)
}

// record 把一行转换为以属性名为键的值
func (p *Postgres) record(table *rdb.Table, row map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(table.Fields()))
	for _, attribute := range table.Fields() {
		value, err := fromDriver(attribute, row[attribute.FieldName])
		if err != nil {
			return nil, err
		}
		values[attribute.AttributeName] = value
	}
	return values, nil
}

func (p *Postgres) restore(table *rdb.Table, row map[string]any, tx *rdb.Transaction) (*rdb.Entry, error) {
	values, err := p.record(table, row)
	if err != nil {
		return nil, err
	}
	return table.Model().Restore(values, tx)
}

// Save 未持久化的记录 INSERT，否则 UPDATE 变化的字段，返回的行刷新记录和快照
func (p *Postgres) Save(ctx context.Context, e *rdb.Entry) (int64, error) {
	table := e.Model().Table()
	var records int64
	err := p.observer.observe(ctx, "save", table.Name, func(ctx context.Context) (int64, error) {
		var err error
		records, err = p.save(ctx, table, e)
		return records, err
	})
	if err != nil {
		return 0, rdb.NewBackendError("database.Save", err)
	}
	return records, nil
}

func (p *Postgres) save(ctx context.Context, table *rdb.Table, e *rdb.Entry) (int64, error) {
	values := e.Values()

	var query string
	if !e.Loaded() {
		var fields, literals []string
		for _, attribute := range table.Fields() {
			value := values[attribute.AttributeName]
			if value == nil {
				continue
			}
			literal, err := rdb.EscapeAttribute(p.Escape, attribute, value)
			if err != nil {
				return 0, err
			}
			fields = append(fields, attribute.FieldName)
			literals = append(literals, literal)
		}
		if len(fields) == 0 {
			query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table.Name)
		} else {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table.Name, strings.Join(fields, ", "), strings.Join(literals, ", "))
		}
	} else {
		changed := e.Changed()
		if len(changed) == 0 {
			return 0, nil
		}

		actions := make([]string, 0, len(changed))
		for _, attribute := range changed {
			literal := "NULL"
			if value := values[attribute.AttributeName]; value != nil {
				var err error
				if literal, err = rdb.EscapeAttribute(p.Escape, attribute, value); err != nil {
					return 0, err
				}
			}
			actions = append(actions, attribute.FieldName+" = "+literal)
		}

		pk := table.PrimaryKey
		key, err := p.Escape(e.Snapshot(pk.AttributeName))
		if err != nil {
			return 0, err
		}
		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", table.Name, strings.Join(actions, ", "), pk.FieldName, key)
	}

	p.log(query)
	rows, err := queryRows(ctx, p.querier(e.Tx()), query+" RETURNING *")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	record, err := p.record(table, rows[0])
	if err != nil {
		return 0, err
	}
	if err := e.Fill(record); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Remove 按快照中的主键删除
func (p *Postgres) Remove(ctx context.Context, e *rdb.Entry) (int64, error) {
	table := e.Model().Table()
	var records int64
	err := p.observer.observe(ctx, "remove", table.Name, func(ctx context.Context) (int64, error) {
		pk := table.PrimaryKey
		key, err := p.Escape(e.Snapshot(pk.AttributeName))
		if err != nil {
			return 0, err
		}
		records, err = p.exec(ctx, p.querier(e.Tx()), fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table.Name, pk.FieldName, key))
		return records, err
	})
	if err != nil {
		return 0, rdb.NewBackendError("database.Remove", err)
	}
	return records, nil
}

func (p *Postgres) Cancel(ctx context.Context, table *rdb.Table, where string, tx *rdb.Transaction) (int64, error) {
	var records int64
	err := p.observer.observe(ctx, "cancel", table.Name, func(ctx context.Context) (int64, error) {
		query := "DELETE FROM " + table.Name
		if where != "" {
			query += " WHERE " + where
		}
		var err error
		records, err = p.exec(ctx, p.querier(tx), query)
		return records, err
	})
	if err != nil {
		return 0, rdb.NewBackendError("database.Cancel", err)
	}
	return records, nil
}

// exec 输出并执行语句，返回影响的行数
func (p *Postgres) exec(ctx context.Context, q querier, query string) (int64, error) {
	p.log(query)
	result, err := q.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
