package logger

import "context"

// Logger Schema 和数据库后端使用的日志器
//
// Info 输出连接、同步过程和每条执行的 SQL，ErrorContext 输出后端操作失败，
// 带上 trace 所在的 ctx。
type Logger interface {
	Info(msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// 附带固定字段，如 module、table
	With(args ...any) Logger
	WithGroup(name string) Logger
}
