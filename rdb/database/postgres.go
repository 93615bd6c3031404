package database

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/hatlonely/sedentary/cfg"
	"github.com/hatlonely/sedentary/cfg/validator"
	"github.com/hatlonely/sedentary/rdb"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type PostgresOptions struct {
	// DSN 非空时忽略其他连接参数
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     int    `cfg:"port" def:"5432" validate:"min=1,max=65535"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	SSLMode  string `cfg:"sslMode" def:"disable" validate:"oneof=disable require verify-ca verify-full"`

	MaxConns        int           `cfg:"maxConns" def:"10"`
	MaxIdle         int           `cfg:"maxIdle" def:"5"`
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime" def:"1h"`

	Observer ObserverOptions `cfg:"observer"`
}

// DataSourceName 连接串，DSN 为空时由各连接参数拼出 URL 形式
func (o *PostgresOptions) DataSourceName() string {
	if o.DSN != "" {
		return o.DSN
	}

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Path:     "/" + o.Database,
		RawQuery: url.Values{"sslmode": []string{o.SSLMode}}.Encode(),
	}
	if o.Username != "" {
		if o.Password != "" {
			u.User = url.UserPassword(o.Username, o.Password)
		} else {
			u.User = url.User(o.Username)
		}
	}
	return u.String()
}

// Postgres PostgreSQL 后端
//
// 普通操作使用连接池；表结构同步在 BeginSync 和 EndSync 之间独占一个连接。
type Postgres struct {
	db       *sql.DB
	log      func(string)
	observer *observer
	version  int

	// 同步专用连接
	conn *sql.Conn
	// 本次同步中 DropIndexes 认定无需重建的索引
	keepIndexes map[string]bool

	mu     sync.RWMutex
	tables []*rdb.Table
	byName map[string]*rdb.Table
	byOID  map[int64]*rdb.Table
	oids   map[string]int64
}

var _ rdb.Backend = (*Postgres)(nil)

// NewPostgresWithOptions 创建后端，此时不会连接数据库
func NewPostgresWithOptions(options *PostgresOptions) (*Postgres, error) {
	if options == nil {
		options = &PostgresOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "failed to set default options")
	}
	if err := validator.ValidateStruct(options); err != nil {
		return nil, errors.WithMessage(err, "invalid postgres options")
	}

	db, err := sql.Open("postgres", options.DataSourceName())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)
	db.SetConnMaxLifetime(options.ConnMaxLifetime)

	p, err := NewPostgresWithDB(db, &options.Observer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithConfig 从配置文件读取 PostgresOptions
func NewPostgresWithConfig(filename string) (*Postgres, error) {
	options := &PostgresOptions{}
	if err := cfg.Load(filename, options); err != nil {
		return nil, errors.WithMessagef(err, "failed to load config %s", filename)
	}
	return NewPostgresWithOptions(options)
}

// NewPostgresWithDB 使用已有的 *sql.DB
func NewPostgresWithDB(db *sql.DB, options *ObserverOptions) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if options == nil {
		options = &ObserverOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "failed to set default observer options")
	}

	obs, err := newObserver(options)
	if err != nil {
		return nil, err
	}

	return &Postgres{
		db:       db,
		log:      rdb.NoLog,
		observer: obs,
		byName:   map[string]*rdb.Table{},
		byOID:    map[int64]*rdb.Table{},
		oids:     map[string]int64{},
	}, nil
}

var versionRegexp = regexp.MustCompile(`^PostgreSQL (\d+)`)

// Connect 检查连接并读取服务端主版本号
func (p *Postgres) Connect(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return rdb.NewBackendError("database.Connect", err)
	}

	var version string
	if err := p.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return rdb.NewBackendError("database.Connect", err)
	}
	if m := versionRegexp.FindStringSubmatch(version); m != nil {
		p.version, _ = strconv.Atoi(m[1])
	}
	return nil
}

// Version 服务端主版本号，Connect 之前为 0
func (p *Postgres) Version() int {
	return p.version
}

func (p *Postgres) End(ctx context.Context) error {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return rdb.NewBackendError("database.End", p.db.Close())
}

func (p *Postgres) SetLog(log func(string)) {
	if log == nil {
		log = rdb.NoLog
	}
	p.log = log
}

func (p *Postgres) Escape(value any) (string, error) {
	return escape(value)
}

func (p *Postgres) AddTable(table *rdb.Table) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables = append(p.tables, table)
	p.byName[table.Name] = table
	if table.OID != 0 {
		p.byOID[table.OID] = table
	}
}

// querier *sql.DB、*sql.Tx 和 *sql.Conn 的公共方法
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *Postgres) querier(tx *rdb.Transaction) querier {
	if tx != nil {
		if driver, ok := tx.Driver().(*pgTx); ok {
			return driver.tx
		}
	}
	return p.db
}

// registerOIDs 同步结束后建立 oid 到表的映射
func (p *Postgres) registerOIDs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, table := range p.tables {
		if table.OID != 0 {
			p.byOID[table.OID] = table
			p.oids[table.Name] = table.OID
		}
	}
}

// tableOID 被查询表的 oid，未同步过时从 pg_class 查询并缓存
func (p *Postgres) tableOID(ctx context.Context, q querier, table *rdb.Table) (int64, error) {
	if table.OID != 0 {
		return table.OID, nil
	}

	p.mu.RLock()
	oid, ok := p.oids[table.Name]
	p.mu.RUnlock()
	if ok {
		return oid, nil
	}

	rows, err := queryRows(ctx, q, "SELECT oid::int8 AS oid FROM pg_class WHERE relname = $1", table.Name)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	oid = toInt64(rows[0]["oid"])

	p.mu.Lock()
	p.oids[table.Name] = oid
	p.byOID[oid] = table
	p.mu.Unlock()
	return oid, nil
}

// tableByOID 按 oid 找到子表，不在注册表中时按 relname 查询
func (p *Postgres) tableByOID(ctx context.Context, q querier, oid int64) (*rdb.Table, error) {
	p.mu.RLock()
	table, ok := p.byOID[oid]
	p.mu.RUnlock()
	if ok {
		return table, nil
	}

	rows, err := queryRows(ctx, q, "SELECT relname FROM pg_class WHERE oid = $1", oid)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	name := toString(rows[0]["relname"])
	p.mu.Lock()
	defer p.mu.Unlock()
	table = p.byName[name]
	if table != nil {
		p.byOID[oid] = table
		p.oids[name] = oid
	}
	return table, nil
}

// queryRows 读取所有行，列名到驱动值
func queryRows(ctx context.Context, q querier, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case []byte:
		return string(b) == "t" || string(b) == "true"
	case string:
		return b == "t" || b == "true"
	}
	return false
}
