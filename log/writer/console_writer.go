package writer

import (
	"fmt"
	"io"
	"os"
)

// ConsoleWriterOptions 控制台输出配置
type ConsoleWriterOptions struct {
	// 输出目标：stdout, stderr
	Target string `cfg:"target" def:"stdout" validate:"omitempty,oneof=stdout stderr"`
}

// ConsoleWriter 控制台输出器，不负责关闭标准输出
type ConsoleWriter struct {
	writer io.Writer
}

func NewConsoleWriterWithOptions(options *ConsoleWriterOptions) (*ConsoleWriter, error) {
	if options == nil {
		options = &ConsoleWriterOptions{}
	}

	switch options.Target {
	case "", "stdout":
		return &ConsoleWriter{writer: os.Stdout}, nil
	case "stderr":
		return &ConsoleWriter{writer: os.Stderr}, nil
	}
	return nil, fmt.Errorf("unsupported console target: %s", options.Target)
}

func (c *ConsoleWriter) Write(p []byte) (int, error) {
	return c.writer.Write(p)
}

func (c *ConsoleWriter) Close() error {
	return nil
}
