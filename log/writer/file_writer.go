package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileWriterOptions 文件输出配置
type FileWriterOptions struct {
	// 文件路径，目录不存在时自动创建
	Path string `cfg:"path" validate:"required"`
	// 每次打开时清空文件
	Truncate bool `cfg:"truncate"`
}

// FileWriter 文件输出器，并发安全
type FileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func NewFileWriterWithOptions(options *FileWriterOptions) (*FileWriter, error) {
	if options == nil || options.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	dir := filepath.Dir(options.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if options.Truncate {
		flag |= os.O_TRUNC
	}
	file, err := os.OpenFile(options.Path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", options.Path, err)
	}

	return &FileWriter{path: options.Path, file: file}, nil
}

func (f *FileWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, fmt.Errorf("file %s is closed", f.path)
	}
	return f.file.Write(p)
}

// Close 重复关闭返回 nil
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
