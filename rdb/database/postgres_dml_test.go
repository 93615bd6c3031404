package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hatlonely/sedentary/rdb"
	"github.com/hatlonely/sedentary/rdb/query"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

var personColumns = []string{"id", "age", "title"}

func (env *testEnv) person(t *testing.T) *rdb.Model {
	person := env.model(t, "Person", rdb.Attributes{"age": rdb.Int(), "title": rdb.VarChar(32)}, nil)
	person.Table().OID = 100
	require.NoError(t, env.p.EndSync(context.Background()))
	return person
}

// loaded 构造一条已经持久化的记录
func loaded(t *testing.T, model *rdb.Model, values map[string]any) *rdb.Entry {
	e, err := model.Restore(values, nil)
	require.NoError(t, err)
	return e
}

func TestSave(t *testing.T) {
	Convey("保存记录", t, func() {
		env := newTestEnv(t)
		person := env.person(t)
		ctx := context.Background()

		Convey("插入", func() {
			e, err := person.New(map[string]any{"title": "it's"}, nil)
			So(err, ShouldBeNil)

			env.mock.ExpectQuery("INSERT INTO person (title) VALUES ('it''s') RETURNING *").WillReturnRows(
				sqlmock.NewRows(personColumns).AddRow(int64(1), nil, "it's"),
			)

			saved, err := e.Save(ctx)
			So(err, ShouldBeNil)
			So(saved, ShouldBeTrue)
			So(e.Get("id"), ShouldEqual, 1)
			So(e.Loaded(), ShouldBeTrue)
			So(e.Changed(), ShouldBeEmpty)
			So(env.logs, ShouldResemble, []string{"INSERT INTO person (title) VALUES ('it''s')"})
			So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("没有任何值时使用默认值插入", func() {
			e, err := person.New(nil, nil)
			So(err, ShouldBeNil)

			env.mock.ExpectQuery("INSERT INTO person DEFAULT VALUES RETURNING *").WillReturnRows(
				sqlmock.NewRows(personColumns).AddRow(int64(2), nil, nil),
			)

			saved, err := e.Save(ctx)
			So(err, ShouldBeNil)
			So(saved, ShouldBeTrue)
			So(e.Get("id"), ShouldEqual, 2)
		})

		Convey("只更新变化的字段", func() {
			e := loaded(t, person, map[string]any{"id": 1, "age": 20, "title": "a"})
			So(e.Set("age", 23), ShouldBeNil)
			So(e.Set("title", nil), ShouldBeNil)

			env.mock.ExpectQuery("UPDATE person SET age = 23, title = NULL WHERE id = 1 RETURNING *").WillReturnRows(
				sqlmock.NewRows(personColumns).AddRow(int64(1), int64(23), nil),
			)

			saved, err := e.Save(ctx)
			So(err, ShouldBeNil)
			So(saved, ShouldBeTrue)
			So(e.Get("age"), ShouldEqual, 23)
			So(e.Snapshot("title"), ShouldBeNil)
			So(env.logs, ShouldResemble, []string{"UPDATE person SET age = 23, title = NULL WHERE id = 1"})
		})

		Convey("主键取自快照", func() {
			e := loaded(t, person, map[string]any{"id": 1, "age": 20, "title": "a"})
			So(e.Set("id", 5), ShouldBeNil)

			env.mock.ExpectQuery("UPDATE person SET id = 5 WHERE id = 1 RETURNING *").WillReturnRows(
				sqlmock.NewRows(personColumns).AddRow(int64(5), int64(20), "a"),
			)

			_, err := e.Save(ctx)
			So(err, ShouldBeNil)
			So(e.Snapshot("id"), ShouldEqual, 5)
		})

		Convey("没有变化时不访问数据库", func() {
			e := loaded(t, person, map[string]any{"id": 1, "age": 20, "title": "a"})
			So(e.Set("age", int64(20)), ShouldBeNil)

			saved, err := e.Save(ctx)
			So(err, ShouldBeNil)
			So(saved, ShouldBeFalse)
			So(env.logs, ShouldBeEmpty)
			So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("更新的行已经不存在", func() {
			e := loaded(t, person, map[string]any{"id": 1, "age": 20, "title": "a"})
			So(e.Set("age", 21), ShouldBeNil)

			env.mock.ExpectQuery("UPDATE person SET age = 21 WHERE id = 1 RETURNING *").WillReturnRows(sqlmock.NewRows(personColumns))

			saved, err := e.Save(ctx)
			So(err, ShouldBeNil)
			So(saved, ShouldBeFalse)
			So(e.Changed(), ShouldHaveLength, 1)
		})

		Convey("驱动错误", func() {
			e, err := person.New(map[string]any{"age": 1}, nil)
			So(err, ShouldBeNil)

			env.mock.ExpectQuery("INSERT INTO person (age) VALUES (1) RETURNING *").WillReturnError(errors.New("duplicate key"))

			_, err = e.Save(ctx)
			var backendErr *rdb.BackendError
			So(errors.As(err, &backendErr), ShouldBeTrue)
			So(backendErr.Op, ShouldEqual, "database.Save")
			So(e.Loaded(), ShouldBeFalse)
		})
	})
}

func TestRemoveAndCancel(t *testing.T) {
	Convey("删除", t, func() {
		env := newTestEnv(t)
		person := env.person(t)
		ctx := context.Background()

		Convey("按主键删除", func() {
			e := loaded(t, person, map[string]any{"id": 3, "age": 20, "title": "a"})
			env.mock.ExpectExec("DELETE FROM person WHERE id = 3").WillReturnResult(sqlmock.NewResult(0, 1))

			removed, err := e.Remove(ctx)
			So(err, ShouldBeNil)
			So(removed, ShouldBeTrue)
			So(env.logs, ShouldResemble, []string{"DELETE FROM person WHERE id = 3"})
		})

		Convey("未保存的记录不能删除", func() {
			e, err := person.New(nil, nil)
			So(err, ShouldBeNil)

			_, err = e.Remove(ctx)
			var stateErr *rdb.StateError
			So(errors.As(err, &stateErr), ShouldBeTrue)
			So(errors.Is(err, rdb.ErrNeverSaved), ShouldBeTrue)
		})

		Convey("按条件批量删除", func() {
			env.mock.ExpectExec("DELETE FROM person WHERE age > 20 AND title LIKE 'a%'").WillReturnResult(sqlmock.NewResult(0, 3))

			records, err := person.Cancel(ctx, query.Fields{"age": query.Op(query.OpGt, 20), "title": query.Op(query.OpLike, "a%")}, nil)
			So(err, ShouldBeNil)
			So(records, ShouldEqual, int64(3))
		})

		Convey("删除全部", func() {
			env.mock.ExpectExec("DELETE FROM person").WillReturnResult(sqlmock.NewResult(0, 7))

			records, err := person.Cancel(ctx, nil, nil)
			So(err, ShouldBeNil)
			So(records, ShouldEqual, int64(7))
		})

		Convey("条件中的空值", func() {
			_, err := person.Cancel(ctx, query.Fields{"title": nil}, nil)
			So(errors.Is(err, rdb.ErrEscapeNull), ShouldBeTrue)
			So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}

func TestLoad(t *testing.T) {
	Convey("加载", t, func() {
		env := newTestEnv(t)
		person := env.person(t)
		ctx := context.Background()

		Convey("条件、排序、数量和锁", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person WHERE title = 'a' ORDER BY age DESC, id LIMIT 10 FOR UPDATE").WillReturnRows(
				sqlmock.NewRows(append(personColumns, "tableoid")).
					AddRow(int64(2), int64(30), "a", int64(100)).
					AddRow(int64(1), int64(20), "a", int64(100)),
			)

			entries, err := person.Load(ctx, query.Fields{"title": "a"}, rdb.WithOrder("-age", "id"), rdb.WithLimit(10), rdb.WithLock())
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 2)
			So(entries[0].Get("id"), ShouldEqual, 2)
			So(entries[0].Get("age"), ShouldEqual, 30)
			So(entries[1].Get("title"), ShouldEqual, "a")
			So(entries[1].Loaded(), ShouldBeTrue)
			So(entries[1].Model(), ShouldEqual, person)
		})

		Convey("没有结果", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person").WillReturnRows(
				sqlmock.NewRows(append(personColumns, "tableoid")),
			)

			entries, err := person.Load(ctx, nil)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})

		Convey("参数错误", func() {
			_, err := person.Load(ctx, query.Fields{"color": "red"})
			var validationErr *rdb.ValidationError
			So(errors.As(err, &validationErr), ShouldBeTrue)

			_, err = person.Load(ctx, nil, rdb.WithOrder("age", "-age"))
			So(errors.As(err, &validationErr), ShouldBeTrue)
		})

		Convey("驱动错误", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person").WillReturnError(errors.New("connection reset"))

			_, err := person.Load(ctx, nil)
			var backendErr *rdb.BackendError
			So(errors.As(err, &backendErr), ShouldBeTrue)
			So(backendErr.Op, ShouldEqual, "database.Load")
		})
	})
}

func TestLoadInheritance(t *testing.T) {
	Convey("查询父表时子表的行以子模型返回", t, func() {
		env := newTestEnv(t)
		person := env.model(t, "Person", rdb.Attributes{"age": rdb.Int(), "title": rdb.VarChar(32)}, nil)
		employee := env.model(t, "Employee", rdb.Attributes{"salary": rdb.Int()}, &rdb.ModelOptions{Parent: person})
		person.Table().OID = 100
		employee.Table().OID = 101
		So(env.p.EndSync(context.Background()), ShouldBeNil)
		ctx := context.Background()

		columns := append(personColumns, "tableoid")

		Convey("按原来的顺序拼回", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person ORDER BY id").WillReturnRows(
				sqlmock.NewRows(columns).
					AddRow(int64(1), int64(20), "a", int64(100)).
					AddRow(int64(2), int64(30), "b", int64(101)).
					AddRow(int64(3), int64(40), "c", int64(100)).
					AddRow(int64(4), int64(50), "d", int64(101)),
			)
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM employee WHERE id IN (2, 4)").WillReturnRows(
				sqlmock.NewRows([]string{"id", "age", "title", "salary", "tableoid"}).
					AddRow(int64(4), int64(50), "d", int64(9000), int64(101)).
					AddRow(int64(2), int64(30), "b", int64(5000), int64(101)),
			)

			entries, err := person.Load(ctx, nil, rdb.WithOrder("id"))
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 4)
			So(entries[0].Model(), ShouldEqual, person)
			So(entries[1].Model(), ShouldEqual, employee)
			So(entries[1].Get("salary"), ShouldEqual, 5000)
			So(entries[2].Get("id"), ShouldEqual, 3)
			So(entries[3].Model(), ShouldEqual, employee)
			So(entries[3].Get("salary"), ShouldEqual, 9000)
			So(entries[3].Model().IsA(person), ShouldBeTrue)
			So(env.logs, ShouldResemble, []string{
				"SELECT *, tableoid::int8 AS tableoid FROM person ORDER BY id",
				"SELECT *, tableoid::int8 AS tableoid FROM employee WHERE id IN (2, 4)",
			})
		})

		Convey("重新加载时行已被删除", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person FOR UPDATE").WillReturnRows(
				sqlmock.NewRows(columns).
					AddRow(int64(1), int64(20), "a", int64(100)).
					AddRow(int64(2), int64(30), "b", int64(101)),
			)
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM employee WHERE id IN (2) FOR UPDATE").WillReturnRows(
				sqlmock.NewRows([]string{"id", "age", "title", "salary", "tableoid"}),
			)

			entries, err := person.Load(ctx, nil, rdb.WithLock())
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Get("id"), ShouldEqual, 1)
		})

		Convey("未注册的子表按父模型返回", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person").WillReturnRows(
				sqlmock.NewRows(columns).AddRow(int64(7), int64(20), "x", int64(999)),
			)
			env.mock.ExpectQuery("SELECT relname FROM pg_class WHERE oid = $1").WithArgs(int64(999)).WillReturnRows(
				sqlmock.NewRows([]string{"relname"}).AddRow("contractor"),
			)

			entries, err := person.Load(ctx, nil)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Model(), ShouldEqual, person)
			So(entries[0].Get("id"), ShouldEqual, 7)
		})

		Convey("查询子表", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM employee WHERE salary >= 5000").WillReturnRows(
				sqlmock.NewRows([]string{"id", "age", "title", "salary", "tableoid"}).
					AddRow(int64(2), int64(30), "b", int64(5000), int64(101)),
			)

			entries, err := employee.Load(ctx, query.Fields{"salary": query.Op(query.OpGte, 5000)})
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Get("title"), ShouldEqual, "b")
		})
	})

	Convey("没有同步过时从 pg_class 查询 oid", t, func() {
		env := newTestEnv(t)
		person := env.model(t, "Person", rdb.Attributes{"age": rdb.Int(), "title": rdb.VarChar(32)}, nil)
		employee := env.model(t, "Employee", rdb.Attributes{"salary": rdb.Int()}, &rdb.ModelOptions{Parent: person})
		ctx := context.Background()

		env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person").WillReturnRows(
			sqlmock.NewRows(append(personColumns, "tableoid")).
				AddRow(int64(1), int64(20), "a", int64(100)).
				AddRow(int64(2), int64(30), "b", int64(101)),
		)
		env.mock.ExpectQuery(classQuery).WithArgs("person").WillReturnRows(sqlmock.NewRows([]string{"oid"}).AddRow(int64(100)))
		env.mock.ExpectQuery("SELECT relname FROM pg_class WHERE oid = $1").WithArgs(int64(101)).WillReturnRows(
			sqlmock.NewRows([]string{"relname"}).AddRow("employee"),
		)
		env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM employee WHERE id IN (2)").WillReturnRows(
			sqlmock.NewRows([]string{"id", "age", "title", "salary", "tableoid"}).
				AddRow(int64(2), int64(30), "b", int64(5000), int64(101)),
		)

		entries, err := person.Load(ctx, nil)
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 2)
		So(entries[1].Model(), ShouldEqual, employee)
		So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		So(env.p.byOID[101], ShouldEqual, employee.Table())
	})
}

func TestTransaction(t *testing.T) {
	Convey("事务", t, func() {
		env := newTestEnv(t)
		var commits [][]rdb.Action
		person := env.model(t, "Person", rdb.Attributes{"age": rdb.Int(), "title": rdb.VarChar(32)}, &rdb.ModelOptions{
			Hooks: rdb.Hooks{
				PostCommit: func(e *rdb.Entry, actions []rdb.Action) {
					commits = append(commits, actions)
				},
			},
		})
		person.Table().OID = 100
		ctx := context.Background()

		env.mock.ExpectBegin()
		tx, err := env.schema.Begin(ctx)
		So(err, ShouldBeNil)
		So(tx.State(), ShouldEqual, rdb.TxActive)

		Convey("提交", func() {
			env.mock.ExpectQuery("SELECT *, tableoid::int8 AS tableoid FROM person WHERE id = 1 FOR UPDATE").WillReturnRows(
				sqlmock.NewRows(append(personColumns, "tableoid")).AddRow(int64(1), int64(20), "a", int64(100)),
			)
			env.mock.ExpectQuery("UPDATE person SET age = 21 WHERE id = 1 RETURNING *").WillReturnRows(
				sqlmock.NewRows(personColumns).AddRow(int64(1), int64(21), "a"),
			)
			env.mock.ExpectCommit()

			entries, err := person.Load(ctx, query.Fields{"id": 1}, rdb.WithTx(tx), rdb.WithLock())
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			e := entries[0]
			So(e.Tx(), ShouldEqual, tx)

			So(e.Set("age", 21), ShouldBeNil)
			_, err = e.Save(ctx)
			So(err, ShouldBeNil)

			So(tx.Commit(ctx), ShouldBeNil)
			So(tx.Commit(ctx), ShouldBeNil)
			So(tx.State(), ShouldEqual, rdb.TxCommitted)
			So(e.Tx(), ShouldBeNil)
			So(commits, ShouldResemble, [][]rdb.Action{{{Action: rdb.ActionSave, Records: 1}}})
			So(env.logs, ShouldResemble, []string{
				"BEGIN",
				"SELECT *, tableoid::int8 AS tableoid FROM person WHERE id = 1 FOR UPDATE",
				"UPDATE person SET age = 21 WHERE id = 1",
				"COMMIT",
			})
			So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("回滚", func() {
			env.mock.ExpectExec("DELETE FROM person WHERE age < 18").WillReturnResult(sqlmock.NewResult(0, 2))
			env.mock.ExpectRollback()

			_, err := person.Cancel(ctx, query.Fields{"age": query.Op(query.OpLt, 18)}, tx)
			So(err, ShouldBeNil)

			So(tx.Rollback(ctx), ShouldBeNil)
			So(tx.Rollback(ctx), ShouldBeNil)
			So(tx.Commit(ctx), ShouldBeNil)
			So(tx.State(), ShouldEqual, rdb.TxRolledBack)
			So(commits, ShouldBeEmpty)
			So(env.logs, ShouldResemble, []string{"BEGIN", "DELETE FROM person WHERE age < 18", "ROLLBACK"})
			So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("提交失败后回滚", func() {
			env.mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

			err := tx.Commit(ctx)
			var backendErr *rdb.BackendError
			So(errors.As(err, &backendErr), ShouldBeTrue)
			So(backendErr.Op, ShouldEqual, "database.Commit")
			So(tx.State(), ShouldEqual, rdb.TxActive)

			So(tx.Rollback(ctx), ShouldBeNil)
			So(tx.State(), ShouldEqual, rdb.TxRolledBack)
		})
	})

	Convey("开始事务失败", t, func() {
		env := newTestEnv(t)
		env.mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		_, err := env.schema.Begin(context.Background())
		var backendErr *rdb.BackendError
		So(errors.As(err, &backendErr), ShouldBeTrue)
		So(backendErr.Op, ShouldEqual, "database.Begin")
	})
}

func TestMetrics(t *testing.T) {
	Convey("操作指标", t, func() {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		So(err, ShouldBeNil)
		defer db.Close()

		registry := prometheus.NewRegistry()
		p, err := NewPostgresWithDB(db, &ObserverOptions{Name: "orm", Registerer: registry})
		So(err, ShouldBeNil)

		schema, err := rdb.NewSchemaWithOptions(p, &rdb.Options{Log: rdb.NoLog})
		So(err, ShouldBeNil)
		person, err := schema.Model("Person", rdb.Attributes{"age": rdb.Int()}, nil)
		So(err, ShouldBeNil)

		mock.ExpectExec("DELETE FROM person WHERE age > 1").WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec("DELETE FROM person").WillReturnError(errors.New("boom"))

		_, err = person.Cancel(context.Background(), query.Fields{"age": query.Op(query.OpGt, 1)}, nil)
		So(err, ShouldBeNil)
		_, err = person.Cancel(context.Background(), nil, nil)
		So(err, ShouldNotBeNil)

		families, err := registry.Gather()
		So(err, ShouldBeNil)

		counts := map[string]float64{}
		var rows uint64
		for _, family := range families {
			for _, metric := range family.GetMetric() {
				switch family.GetName() {
				case "orm_operations_total":
					status := ""
					for _, label := range metric.GetLabel() {
						if label.GetName() == "status" {
							status = label.GetValue()
						}
					}
					counts[status] += metric.GetCounter().GetValue()
				case "orm_rows":
					rows += metric.GetHistogram().GetSampleCount()
				}
			}
		}
		So(counts, ShouldResemble, map[string]float64{"success": 1, "error": 1})
		So(rows, ShouldEqual, uint64(1))

		Convey("同名指标可以重复注册", func() {
			_, err := NewPostgresWithDB(db, &ObserverOptions{Name: "orm", Registerer: registry})
			So(err, ShouldBeNil)
		})
	})
}

func TestJSONAttribute(t *testing.T) {
	Convey("JSON 属性按 JSON 文本转义", t, func() {
		env := newTestEnv(t)
		doc := env.model(t, "Doc", rdb.Attributes{"meta": rdb.JSON()}, nil)
		doc.Table().OID = 300
		require.NoError(t, env.p.EndSync(context.Background()))
		ctx := context.Background()
		columns := []string{"id", "meta"}

		Convey("字符串保存后可以原样写回", func() {
			e, err := doc.New(map[string]any{"meta": "it's"}, nil)
			So(err, ShouldBeNil)

			env.mock.ExpectQuery(`INSERT INTO doc (meta) VALUES ('"it''s"') RETURNING *`).WillReturnRows(
				sqlmock.NewRows(columns).AddRow(int64(1), []byte(`"it's"`)),
			)
			_, err = e.Save(ctx)
			So(err, ShouldBeNil)
			So(e.Get("meta"), ShouldEqual, "it's")

			So(e.Set("meta", map[string]any{"a": 1}), ShouldBeNil)
			env.mock.ExpectQuery(`UPDATE doc SET meta = '{"a":1}' WHERE id = 1 RETURNING *`).WillReturnRows(
				sqlmock.NewRows(columns).AddRow(int64(1), []byte(`{"a":1}`)),
			)
			_, err = e.Save(ctx)
			So(err, ShouldBeNil)
			So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("条件中的 JSON 值", func() {
			env.mock.ExpectQuery(`SELECT *, tableoid::int8 AS tableoid FROM doc WHERE id = 1 AND meta = '"abc"'`).WillReturnRows(
				sqlmock.NewRows(append(columns, "tableoid")).AddRow(int64(1), []byte(`"abc"`), int64(300)),
			)

			entries, err := doc.Load(ctx, query.Fields{"meta": "abc", "id": 1})
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Get("meta"), ShouldEqual, "abc")
			So(env.mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}
