package errors

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microorm/logging"
)

// TestNewInvalidArgument 参数错误带错误码与调用位置
func TestNewInvalidArgument(t *testing.T) {
	err := NewInvalidArgument("object %s is nil", "Order")
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
	assert.False(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "object Order is nil")

	var appErr *AppError
	require.True(t, stdErrors.As(err, &appErr))
	loc, ok := appErr.Details()["location"].(string)
	require.True(t, ok)
	assert.True(t, strings.Contains(loc, "wrapper_test.go"))
}

// TestNewConfigurationError 配置错误可通过 errors.Is 与预定义变量比较
func TestNewConfigurationError(t *testing.T) {
	err := NewConfigurationError("mapping %s has no primary key", "Orders")
	assert.True(t, IsConfiguration(err))
	assert.True(t, stdErrors.Is(err, ErrConfiguration))
	assert.False(t, stdErrors.Is(err, ErrInvalidInput))
}

// TestWrapConfiguration 保留原始错误
func TestWrapConfiguration(t *testing.T) {
	assert.Nil(t, WrapConfiguration(nil, "x"))

	cause := stdErrors.New("dial tcp: refused")
	err := WrapConfiguration(cause, "open source %s", "main")
	assert.True(t, IsConfiguration(err))
	assert.True(t, stdErrors.Is(err, cause))
	assert.Equal(t, ErrCodeConfiguration, GetErrorCode(err))
}

// TestWrapWithLog 记录警告并返回包装后的错误
func TestWrapWithLog(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, WrapWithLog(ctx, logging.NewNoopLogger(), nil, ErrCodeCache, "cache"))

	cause := stdErrors.New("redis down")
	err := WrapWithLog(ctx, logging.NewNoopLogger(), cause, ErrCodeCache, "cache read failed")
	assert.Equal(t, ErrCodeCache, GetErrorCode(err))
	assert.True(t, stdErrors.Is(err, cause))
}

// TestGetErrorCode_PlainError 普通错误视为内部错误
func TestGetErrorCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(stdErrors.New("boom")))
	assert.False(t, IsNotFound(stdErrors.New("boom")))
}
