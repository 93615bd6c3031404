package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hatlonely/sedentary/rdb"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	// currval 在本会话中还没有调用过 nextval
	pqObjectNotInPrerequisiteState = "55000"
	// 序列不存在
	pqUndefinedTable = "42P01"
)

// BeginSync 从连接池取出一个连接供整个同步过程使用
func (p *Postgres) BeginSync(ctx context.Context) error {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return rdb.NewBackendError("database.BeginSync", err)
	}
	p.conn = conn
	p.keepIndexes = nil
	return nil
}

// EndSync 归还同步连接并登记各表的 oid
func (p *Postgres) EndSync(ctx context.Context) error {
	p.registerOIDs()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return rdb.NewBackendError("database.EndSync", err)
}

func (p *Postgres) syncStep(ctx context.Context, operation string, table *rdb.Table, fn func(context.Context) error) error {
	if p.conn == nil {
		return &rdb.StateError{Op: "database." + operation, Err: errors.New("BeginSync not called")}
	}
	err := p.observer.observe(ctx, operation, table.Name, func(ctx context.Context) (int64, error) {
		return -1, fn(ctx)
	})
	return rdb.NewBackendError("database."+operation, err)
}

// syncExec 输出语句，表允许同步时执行
func (p *Postgres) syncExec(ctx context.Context, table *rdb.Table, statement string) error {
	if !rdb.Announce(p.log, table, statement) {
		return nil
	}
	_, err := p.conn.ExecContext(ctx, statement)
	return err
}

func (p *Postgres) SyncTable(ctx context.Context, table *rdb.Table) error {
	return p.syncStep(ctx, "SyncTable", table, func(ctx context.Context) error {
		if table.AutoIncrement {
			if err := p.syncSequenceExists(ctx, table); err != nil {
				return err
			}
		}

		rows, err := queryRows(ctx, p.conn, "SELECT oid::int8 AS oid FROM pg_class WHERE relname = $1", table.Name)
		if err != nil {
			return err
		}

		if len(rows) != 0 {
			table.OID = toInt64(rows[0]["oid"])

			parents, err := queryRows(ctx, p.conn, "SELECT inhparent::int8 AS inhparent FROM pg_inherits WHERE inhrelid = $1", table.OID)
			if err != nil {
				return err
			}

			switch {
			case len(parents) != 0:
				if table.Parent != nil && table.Parent.OID == toInt64(parents[0]["inhparent"]) {
					return nil
				}
			case table.Parent == nil:
				return nil
			}

			if err := p.syncExec(ctx, table, fmt.Sprintf("DROP TABLE %s CASCADE", table.Name)); err != nil {
				return err
			}
		}

		statement := fmt.Sprintf("CREATE TABLE %s ()", table.Name)
		if table.Parent != nil {
			statement += fmt.Sprintf(" INHERITS (%s)", table.Parent.Name)
		}
		if err := p.syncExec(ctx, table, statement); err != nil {
			return err
		}

		rows, err = queryRows(ctx, p.conn, "SELECT oid::int8 AS oid FROM pg_class WHERE relname = $1", table.Name)
		if err != nil {
			return err
		}
		table.OID = 0
		if len(rows) != 0 {
			table.OID = toInt64(rows[0]["oid"])
		}
		return nil
	})
}

// syncSequenceExists 用 currval 探测序列，不存在时创建并标记需要 OWNED BY
func (p *Postgres) syncSequenceExists(ctx context.Context, table *rdb.Table) error {
	_, err := p.conn.ExecContext(ctx, fmt.Sprintf("SELECT currval('%s')", table.SequenceName()))
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqObjectNotInPrerequisiteState:
		return nil
	case pqUndefinedTable:
		if err := p.syncExec(ctx, table, fmt.Sprintf("CREATE SEQUENCE %s", table.SequenceName())); err != nil {
			return err
		}
		table.AutoIncrementOwn = true
		return nil
	}
	return err
}

func (p *Postgres) findConstraint(table *rdb.Table, name string, typ string) *rdb.Constraint {
	for _, constraint := range table.Constraints {
		if constraint.ConstraintName == name && string(constraint.Type) == typ {
			return constraint
		}
	}
	return nil
}

func (p *Postgres) DropConstraints(ctx context.Context, table *rdb.Table) ([]int64, error) {
	var indexes []int64
	err := p.syncStep(ctx, "DropConstraints", table, func(ctx context.Context) error {
		rows, err := queryRows(ctx, p.conn, "SELECT confdeltype, confupdtype, conindid::int8 AS conindid, conname, contype FROM pg_constraint WHERE conrelid = $1 AND contype IN ('f', 'u') ORDER BY conname", table.OID)
		if err != nil {
			return err
		}

		for _, row := range rows {
			name := toString(row["conname"])
			contype := toString(row["contype"])
			constraint := p.findConstraint(table, name, contype)

			drop := false
			switch {
			case constraint == nil:
				drop = true
			case contype == string(rdb.ConstraintUnique):
				indexes = append(indexes, toInt64(row["conindid"]))
			default:
				fk := constraint.Attribute.ForeignKey
				drop = fkActionCodes[fk.OnDelete] != toString(row["confdeltype"]) || fkActionCodes[fk.OnUpdate] != toString(row["confupdtype"])
			}

			if drop {
				if err := p.syncExec(ctx, table, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s CASCADE", table.Name, name)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return indexes, err
}

func (p *Postgres) DropIndexes(ctx context.Context, table *rdb.Table, constraintIndexes []int64) error {
	return p.syncStep(ctx, "DropIndexes", table, func(ctx context.Context) error {
		rows, err := queryRows(ctx, p.conn, "SELECT amname, attname, indexrelid::int8 AS indexrelid, indisunique, relname FROM pg_class, pg_index, pg_attribute, pg_am WHERE indrelid = $1 AND indexrelid = pg_class.oid AND attrelid = pg_class.oid AND relam = pg_am.oid AND NOT indisprimary ORDER BY relname, attnum", table.OID)
		if err != nil {
			return err
		}

		skip := make(map[int64]bool, len(constraintIndexes))
		for _, oid := range constraintIndexes {
			skip[oid] = true
		}

		live := map[string]*rdb.Index{}
		for _, row := range rows {
			if skip[toInt64(row["indexrelid"])] {
				continue
			}
			name := toString(row["relname"])
			if index, ok := live[name]; ok {
				index.Fields = append(index.Fields, toString(row["attname"]))
				continue
			}
			live[name] = &rdb.Index{
				IndexName: name,
				Fields:    []string{toString(row["attname"])},
				Type:      rdb.IndexType(toString(row["amname"])),
				Unique:    toBool(row["indisunique"]),
			}
		}

		p.keepIndexes = map[string]bool{}
		for _, index := range table.Indexes {
			if existing, ok := live[index.IndexName]; ok && index.Equal(existing) {
				p.keepIndexes[index.IndexName] = true
				delete(live, index.IndexName)
			}
		}

		names := make([]string, 0, len(live))
		for name := range live {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := p.syncExec(ctx, table, "DROP INDEX "+name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) DropFields(ctx context.Context, table *rdb.Table) error {
	return p.syncStep(ctx, "DropFields", table, func(ctx context.Context) error {
		rows, err := queryRows(ctx, p.conn, "SELECT attname FROM pg_attribute WHERE attrelid = $1 AND attnum > 0 AND attisdropped = false AND attinhcount = 0 ORDER BY attnum", table.OID)
		if err != nil {
			return err
		}

		for _, row := range rows {
			name := toString(row["attname"])
			if table.FindField(name) != nil {
				continue
			}
			if err := p.dropField(ctx, table, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) dropField(ctx context.Context, table *rdb.Table, field string) error {
	return p.syncExec(ctx, table, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table.Name, field))
}

// columnDefault 属性在数据库中的默认值表达式，没有默认值时返回空串
func (p *Postgres) columnDefault(table *rdb.Table, attribute *rdb.Attribute) (string, error) {
	if attribute.DefaultValue != nil {
		return rdb.EscapeAttribute(p.Escape, attribute, attribute.DefaultValue)
	}
	if table.AutoIncrement && attribute.FieldName == "id" {
		return fmt.Sprintf("nextval('%s'::regclass)", table.SequenceName()), nil
	}
	return "", nil
}

func (p *Postgres) fieldsQuery() string {
	adsrc := "pg_get_expr(pg_attrdef.adbin, pg_attrdef.adrelid)"
	if p.version != 0 && p.version < 12 {
		adsrc = "pg_attrdef.adsrc"
	}
	return "SELECT attnotnull, atttypmod, typname, " + adsrc + " AS adsrc FROM pg_type, pg_attribute LEFT JOIN pg_attrdef ON adrelid = attrelid AND adnum = attnum WHERE attrelid = $1 AND attnum > 0 AND atttypid = pg_type.oid AND attislocal = 't' AND attname = $2"
}

func (p *Postgres) SyncFields(ctx context.Context, table *rdb.Table) error {
	return p.syncStep(ctx, "SyncFields", table, func(ctx context.Context) error {
		query := p.fieldsQuery()
		for _, attribute := range table.Attributes {
			if err := p.syncField(ctx, table, attribute, query); err != nil {
				return err
			}
		}
		return nil
	})
}

// fieldSync 单个列的同步
type fieldSync struct {
	p            *Postgres
	table        *rdb.Table
	attribute    *rdb.Attribute
	typ          string
	defaultValue string
}

func (f *fieldSync) exec(ctx context.Context, format string, args ...any) error {
	return f.p.syncExec(ctx, f.table, fmt.Sprintf(format, args...))
}

func (f *fieldSync) addField(ctx context.Context) error {
	return f.exec(ctx, "ALTER TABLE %s ADD COLUMN %s %s", f.table.Name, f.attribute.FieldName, f.typ)
}

func (f *fieldSync) dropDefault(ctx context.Context) error {
	return f.exec(ctx, "ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", f.table.Name, f.attribute.FieldName)
}

// setNotNull 当前约束与声明不同时才修改
func (f *fieldSync) setNotNull(ctx context.Context, isNotNull bool) error {
	if isNotNull == f.attribute.NotNull {
		return nil
	}
	action := "DROP"
	if f.attribute.NotNull {
		action = "SET"
	}
	return f.exec(ctx, "ALTER TABLE %s ALTER COLUMN %s %s NOT NULL", f.table.Name, f.attribute.FieldName, action)
}

// setDefault 设置默认值，列即将变为 NOT NULL 时先用默认值填充空值
func (f *fieldSync) setDefault(ctx context.Context, isNotNull bool) error {
	if f.defaultValue != "" {
		if err := f.exec(ctx, "ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", f.table.Name, f.attribute.FieldName, f.defaultValue); err != nil {
			return err
		}
		if f.attribute.NotNull && !isNotNull {
			if err := f.exec(ctx, "UPDATE %s SET %s = %s WHERE %s IS NULL", f.table.Name, f.attribute.FieldName, f.defaultValue, f.attribute.FieldName); err != nil {
				return err
			}
		}
	}
	return f.setNotNull(ctx, isNotNull)
}

func (p *Postgres) syncField(ctx context.Context, table *rdb.Table, attribute *rdb.Attribute, query string) error {
	base, typ, err := fieldType(attribute)
	if err != nil {
		return err
	}
	defaultValue, err := p.columnDefault(table, attribute)
	if err != nil {
		return err
	}
	f := &fieldSync{p: p, table: table, attribute: attribute, typ: typ, defaultValue: defaultValue}

	rows, err := queryRows(ctx, p.conn, query, table.OID, attribute.FieldName)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		if err := f.addField(ctx); err != nil {
			return err
		}
		return f.setDefault(ctx, false)
	}

	row := rows[0]
	adsrc := toString(row["adsrc"])
	attnotnull := toBool(row["attnotnull"])
	typname := toString(row["typname"])

	switch {
	case !typeMatches(attribute, base, typname, toInt64(row["atttypmod"])):
		if contains(needDrop[attribute.Kind], typname) {
			if err := p.dropField(ctx, table, attribute.FieldName); err != nil {
				return err
			}
			if err := f.addField(ctx); err != nil {
				return err
			}
			return f.setDefault(ctx, false)
		}

		if adsrc != "" {
			if err := f.dropDefault(ctx); err != nil {
				return err
			}
		}
		using := usingClause(attribute, typname, typ)
		if err := f.exec(ctx, "ALTER TABLE %s ALTER COLUMN %s TYPE %s%s", table.Name, attribute.FieldName, typ, using); err != nil {
			return err
		}
		return f.setDefault(ctx, attnotnull)
	case defaultValue == "":
		if adsrc != "" {
			if err := f.dropDefault(ctx); err != nil {
				return err
			}
		}
		return f.setNotNull(ctx, attnotnull)
	case adsrc == "" || defaultNeq(attribute, adsrc, defaultValue):
		return f.setDefault(ctx, attnotnull)
	}
	return f.setNotNull(ctx, attnotnull)
}

func (p *Postgres) SyncSequence(ctx context.Context, table *rdb.Table) error {
	if !table.AutoIncrementOwn {
		return nil
	}
	return p.syncStep(ctx, "SyncSequence", table, func(ctx context.Context) error {
		return p.syncExec(ctx, table, fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.id", table.SequenceName(), table.Name))
	})
}

func (p *Postgres) SyncConstraints(ctx context.Context, table *rdb.Table) error {
	return p.syncStep(ctx, "SyncConstraints", table, func(ctx context.Context) error {
		for _, constraint := range table.Constraints {
			rows, err := queryRows(ctx, p.conn, "SELECT conname FROM pg_constraint WHERE conrelid = $1 AND conname = $2", table.OID, constraint.ConstraintName)
			if err != nil {
				return err
			}
			if len(rows) != 0 {
				continue
			}

			field := constraint.Attribute.FieldName
			definition := fmt.Sprintf("UNIQUE(%s)", field)
			if constraint.Type == rdb.ConstraintForeign {
				fk := constraint.Attribute.ForeignKey
				definition = fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)", field, fk.TableName, fk.FieldName)
				if fk.OnDelete != rdb.FKNoAction {
					definition += " ON DELETE " + strings.ToUpper(string(fk.OnDelete))
				}
				if fk.OnUpdate != rdb.FKNoAction {
					definition += " ON UPDATE " + strings.ToUpper(string(fk.OnUpdate))
				}
			}

			if err := p.syncExec(ctx, table, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", table.Name, constraint.ConstraintName, definition)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) SyncIndexes(ctx context.Context, table *rdb.Table) error {
	return p.syncStep(ctx, "SyncIndexes", table, func(ctx context.Context) error {
		for _, index := range table.Indexes {
			if p.keepIndexes[index.IndexName] {
				continue
			}
			unique := ""
			if index.Unique {
				unique = " UNIQUE"
			}
			statement := fmt.Sprintf("CREATE%s INDEX %s ON %s USING %s (%s)", unique, index.IndexName, table.Name, index.Type, strings.Join(index.Fields, ", "))
			if err := p.syncExec(ctx, table, statement); err != nil {
				return err
			}
		}
		return nil
	})
}
