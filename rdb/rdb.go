package rdb

import (
	"context"
	"sync"

	"github.com/hatlonely/sedentary/cfg"
	"github.com/hatlonely/sedentary/log"
	"github.com/hatlonely/sedentary/log/logger"
	"github.com/pkg/errors"
)

// Options Schema 选项
type Options struct {
	// Connect 之后是否自动同步表结构
	AutoSync *bool `cfg:"autoSync" def:"true"`
	// 全局同步开关，模型可以用 ModelOptions.Sync 覆盖
	Sync *bool `cfg:"sync" def:"true"`

	// Log 日志输出，优先于 Logger
	Log func(string) `cfg:"-"`
	// Logger 未设置 Log 时使用，都未设置时使用 log.Default()
	Logger logger.Logger `cfg:"-"`
}

// NoLog 丢弃所有日志
func NoLog(string) {}

// Schema 模型注册表，持有后端
type Schema struct {
	backend  Backend
	autoSync bool
	sync     bool
	log      func(string)

	mu     sync.Mutex
	models map[string]*Model
	tables []*Table
}

func NewSchemaWithOptions(backend Backend, options *Options) (*Schema, error) {
	if backend == nil {
		return nil, ErrBackendNil
	}
	if options == nil {
		options = &Options{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "failed to set default options")
	}

	logf := options.Log
	if logf == nil {
		l := options.Logger
		if l == nil {
			l = log.Default()
		}
		logf = log.Func(l, "module", "sedentary")
	}
	backend.SetLog(logf)

	return &Schema{
		backend:  backend,
		autoSync: *options.AutoSync,
		sync:     *options.Sync,
		log:      logf,
		models:   map[string]*Model{},
	}, nil
}

func (s *Schema) Backend() Backend {
	return s.backend
}

// Model 编译并注册模型
func (s *Schema) Model(name string, attributes Attributes, options *ModelOptions) (*Model, error) {
	if options == nil {
		options = &ModelOptions{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := &compiler{schema: s, name: name, options: options}
	model, err := c.compile(attributes)
	if err != nil {
		return nil, err
	}

	s.models[name] = model
	s.tables = append(s.tables, model.table)
	s.backend.AddTable(model.table)
	return model, nil
}

// Tables 按声明顺序返回所有表
func (s *Schema) Tables() []*Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Table(nil), s.tables...)
}

// Connect 连接数据库，AutoSync 时同步表结构
func (s *Schema) Connect(ctx context.Context) error {
	s.log("Connecting...")
	if err := s.backend.Connect(ctx); err != nil {
		s.log("Connecting: " + err.Error())
		return err
	}
	s.log("Connected")

	if s.autoSync {
		return s.Sync(ctx)
	}
	return nil
}

// Sync 同步所有表结构，不能和自身并发执行
func (s *Schema) Sync(ctx context.Context) error {
	s.log("Syncing...")
	if err := SyncDatabase(ctx, s.backend, s.Tables()); err != nil {
		s.log("Syncing: " + err.Error())
		return err
	}
	s.log("Synced")
	return nil
}

func (s *Schema) End(ctx context.Context) error {
	s.log("Closing connection...")
	if err := s.backend.End(ctx); err != nil {
		s.log("Closing connection: " + err.Error())
		return err
	}
	s.log("Connection closed")
	return nil
}

func (s *Schema) Begin(ctx context.Context) (*Transaction, error) {
	return s.backend.Begin(ctx)
}

func (s *Schema) Escape(value any) (string, error) {
	return s.backend.Escape(value)
}
