package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hatlonely/sedentary/log/writer"
)

// SLogOptions 日志初始化选项
type SLogOptions struct {
	// 日志级别：debug, info, warn, error
	Level string `cfg:"level" validate:"omitempty,oneof=debug info warn error"`

	// 输出格式：text, json
	Format string `cfg:"format"`

	// 输出目标，未配置时输出到标准输出
	Output *writer.Options `cfg:"output"`

	// 时间格式
	TimeFormat string `cfg:"timeFormat"`

	// 是否显示调用者信息
	AddSource bool `cfg:"addSource"`

	// 自定义字段
	Fields map[string]any `cfg:"fields"`
}

type SLog struct {
	slogger *slog.Logger
	closer  io.Closer
}

func NewSLogWithOptions(options *SLogOptions) (*SLog, error) {
	if options == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}

	level, err := prepare(options)
	if err != nil {
		return nil, err
	}

	w, err := writer.New(options.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to create writer: %w", err)
	}

	return newSLog(w, options, level), nil
}

// NewSLogWithWriter 输出到指定的 io.Writer，忽略 options.Output
func NewSLogWithWriter(w io.Writer, options *SLogOptions) (*SLog, error) {
	if options == nil {
		options = &SLogOptions{}
	}

	level, err := prepare(options)
	if err != nil {
		return nil, err
	}

	return newSLog(w, options, level), nil
}

// prepare 填充默认值并解析日志级别
func prepare(options *SLogOptions) (slog.Level, error) {
	if options.Level == "" {
		options.Level = "info"
	}
	if options.Format == "" {
		options.Format = "text"
	}
	if options.TimeFormat == "" {
		options.TimeFormat = time.RFC3339
	}

	switch strings.ToLower(options.Format) {
	case "json", "text":
	default:
		return 0, fmt.Errorf("unsupported format: %s", options.Format)
	}

	level, err := parseLevel(options.Level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level: %w", err)
	}
	return level, nil
}

func newSLog(w io.Writer, options *SLogOptions, level slog.Level) *SLog {
	// 创建 handler
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: options.AddSource,
	}

	// 自定义时间格式
	if options.TimeFormat != time.RFC3339 {
		handlerOpts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{
					Key:   a.Key,
					Value: slog.StringValue(a.Value.Time().Format(options.TimeFormat)),
				}
			}
			return a
		}
	}

	if strings.ToLower(options.Format) == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	// 创建 logger
	slogger := slog.New(handler)

	// 添加自定义字段
	if len(options.Fields) > 0 {
		args := make([]any, 0, len(options.Fields)*2)
		for k, v := range options.Fields {
			args = append(args, k, v)
		}
		slogger = slogger.With(args...)
	}

	l := &SLog{slogger: slogger}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", level)
	}
}

func (l *SLog) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

func (l *SLog) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

func (l *SLog) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

func (l *SLog) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}

func (l *SLog) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, args...)
}

func (l *SLog) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, args...)
}

func (l *SLog) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, args...)
}

func (l *SLog) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, args...)
}

func (l *SLog) With(args ...any) Logger {
	return &SLog{slogger: l.slogger.With(args...), closer: l.closer}
}

func (l *SLog) WithGroup(name string) Logger {
	return &SLog{slogger: l.slogger.WithGroup(name), closer: l.closer}
}

// Close 关闭底层输出器，With 派生的日志器共享同一个输出器
func (l *SLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
