package log

import (
	"sync"

	"github.com/hatlonely/sedentary/log/logger"
)

var (
	mu            sync.RWMutex
	defaultLogger logger.Logger
)

func init() {
	// 默认向终端输出 text 格式日志
	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = slog
}

func Default() logger.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetDefault 替换默认日志器，nil 忽略
func SetDefault(l logger.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// New 按配置创建日志器
func New(options *logger.SLogOptions) (logger.Logger, error) {
	return logger.NewSLogWithOptions(options)
}

// Func 把日志器转换为单参数日志函数，msg 以 info 级别输出
func Func(l logger.Logger, args ...any) func(string) {
	return func(msg string) {
		l.Info(msg, args...)
	}
}
