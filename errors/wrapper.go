package errors

import (
	"context"
	"fmt"
	"runtime"

	"microorm/logging"
)

// NewInvalidArgument 创建参数错误，消息中附带调用位置。
// 用于 nil 对象、空命令文本等编程错误，必须在任何 I/O 之前返回。
func NewInvalidArgument(format string, args ...any) error {
	_, file, line, _ := runtime.Caller(1)
	msg := fmt.Sprintf(format, args...)
	return NewError(ErrCodeInvalidInput, msg).
		WithContext("location", fmt.Sprintf("%s:%d", file, line))
}

// NewConfigurationError 创建配置错误。
func NewConfigurationError(format string, args ...any) error {
	return NewError(ErrCodeConfiguration, fmt.Sprintf(format, args...))
}

// WrapConfiguration 将启动阶段的底层错误包装为配置错误
func WrapConfiguration(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return WrapError(err, ErrCodeConfiguration, fmt.Sprintf(format, args...))
}

// WrapWithLog 包装错误并记录警告日志，用于缓存等尽力而为的组件。
func WrapWithLog(ctx context.Context, logger logging.Logger, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	all := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
	}, fields...)
	logger.Warn(ctx, msg, all...)
	return WrapError(err, code, msg)
}
