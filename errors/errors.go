// Package errors 提供 microorm 统一的错误模型。
//
// 错误分类：
//   - 配置错误（ErrCodeConfiguration）：启动阶段即失败，例如缺少提供者、主键映射缺失；
//   - 参数错误（ErrCodeInvalidInput）：调用方传入 nil 对象或空命令文本，在任何 I/O 之前返回；
//   - 执行错误：会话层原样返回执行器错误，仓储层包装为 DATABASE_ERROR 或 CONFLICT。
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
)

// ErrorCode 错误代码
type ErrorCode string

const (
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeDatabase      ErrorCode = "DATABASE_ERROR"
	ErrCodeCache         ErrorCode = "CACHE_ERROR"
)

// AppError 带错误码的错误；details 只在 WithContext 时复制，错误值本身不可变
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

func newAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{code: code, message: message, cause: cause, stack: captureStack(4)}
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) *AppError {
	return newAppError(code, message, nil)
}

// WrapError 包装错误；err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return newAppError(code, message, err)
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Unwrap() error   { return e.cause }

// Stack 创建错误时的调用栈，每帧一行
func (e *AppError) Stack() string { return e.stack }

// Details 上下文信息的副本
func (e *AppError) Details() map[string]any {
	return maps.Clone(e.details)
}

// WithContext 返回附加了一条上下文信息的新错误
func (e *AppError) WithContext(key string, value any) *AppError {
	cp := *e
	cp.details = maps.Clone(e.details)
	if cp.details == nil {
		cp.details = map[string]any{}
	}
	cp.details[key] = value
	return &cp
}

// Is 同错误码的 AppError 视为同一类错误，其余交给 cause 判断
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.code == t.code
	}
	return false
}

// 预定义错误，仅用于 errors.Is 按错误码比较
var (
	ErrInvalidInput  = &AppError{code: ErrCodeInvalidInput, message: "invalid argument"}
	ErrConfiguration = &AppError{code: ErrCodeConfiguration, message: "invalid configuration"}
	ErrNotFound      = &AppError{code: ErrCodeNotFound, message: "not found"}
	ErrConflict      = &AppError{code: ErrCodeConflict, message: "conflict"}
)

func IsInvalidInput(err error) bool  { return IsErrorCode(err, ErrCodeInvalidInput) }
func IsConfiguration(err error) bool { return IsErrorCode(err, ErrCodeConfiguration) }
func IsNotFound(err error) bool      { return IsErrorCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool      { return IsErrorCode(err, ErrCodeConflict) }

// IsErrorCode 错误链中第一个 AppError 的错误码是否为 code
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// GetErrorCode 错误链中第一个 AppError 的错误码；不含 AppError 时为 ErrCodeInternal
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

func captureStack(skip int) string {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "%s:%d %s\n", f.File, f.Line, f.Function)
		if !more {
			return sb.String()
		}
	}
}
