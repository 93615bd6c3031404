package writer

import (
	"fmt"
	"io"
)

// MultiWriterOptions 多输出配置
type MultiWriterOptions struct {
	Writers []*Options `cfg:"writers"`
}

// MultiWriter 依次写入所有输出器，任一失败立即返回
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriterWithOptions(options *MultiWriterOptions) (*MultiWriter, error) {
	if options == nil || len(options.Writers) == 0 {
		return nil, fmt.Errorf("at least one writer is required")
	}

	writers := make([]Writer, 0, len(options.Writers))
	for i, opts := range options.Writers {
		w, err := New(opts)
		if err != nil {
			for _, created := range writers {
				_ = created.Close()
			}
			return nil, fmt.Errorf("failed to create writer %d: %w", i, err)
		}
		writers = append(writers, w)
	}

	return NewMultiWriter(writers...), nil
}

// NewMultiWriter 组合已有的输出器
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	for i, w := range m.writers {
		n, err := w.Write(p)
		if err != nil {
			return n, fmt.Errorf("writer %d failed: %w", i, err)
		}
		if n != len(p) {
			return n, io.ErrShortWrite
		}
	}
	return len(p), nil
}

// Close 关闭所有输出器，返回最后一个错误
func (m *MultiWriter) Close() error {
	var lastErr error
	for i, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close writer %d: %w", i, err)
		}
	}
	return lastErr
}
