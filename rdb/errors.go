package rdb

import (
	"fmt"

	"github.com/hatlonely/sedentary/rdb/query"
	"github.com/pkg/errors"
)

var (
	ErrNeverSaved = errors.New("Can't remove a never saved Entry")
	ErrEscapeNull = errors.New("Can't escape null nor undefined values; use the 'IS NULL' operator instead")
	ErrBackendNil = errors.New("backend is nil")
)

// CompileError 模型定义错误，在 Model 编译时同步返回
type CompileError struct {
	Model   string
	Message string
}

func (e *CompileError) Error() string {
	if e.Model == "" {
		return "rdb.Model: " + e.Message
	}
	return fmt.Sprintf("rdb.Model: '%s' model: %s", e.Model, e.Message)
}

// ValidationError where/order 参数错误
type ValidationError = query.ValidationError

// BackendError 驱动层错误，原样包装底层错误
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError 包装驱动错误，BackendError、StateError 和 ValidationError 原样返回
func NewBackendError(op string, err error) error {
	if err == nil {
		return nil
	}
	var backendErr *BackendError
	var stateErr *StateError
	var validationErr *ValidationError
	if errors.As(err, &backendErr) || errors.As(err, &stateErr) || errors.As(err, &validationErr) {
		return err
	}
	return &BackendError{Op: op, Err: errors.WithStack(err)}
}

// StateError 调用时机错误，比如删除未保存的记录
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func compileErrorf(model string, format string, args ...any) error {
	return &CompileError{Model: model, Message: fmt.Sprintf(format, args...)}
}
