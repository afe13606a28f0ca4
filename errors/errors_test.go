package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Format(t *testing.T) {
	assert.Equal(t, "[NOT_FOUND] record not found", NewError(ErrCodeNotFound, "record not found").Error())

	err := WrapError(stdErrors.New("no such table"), ErrCodeDatabase, "query failed")
	assert.Equal(t, "[DATABASE_ERROR] query failed: no such table", err.Error())
	assert.Nil(t, WrapError(nil, ErrCodeDatabase, "x"))
}

func TestAppError_WithContextCopies(t *testing.T) {
	base := NewError(ErrCodeNotFound, "record not found")
	withKey := base.WithContext("table", "Orders").WithContext("key", 7)

	assert.Empty(t, base.Details())
	assert.Equal(t, map[string]any{"table": "Orders", "key": 7}, withKey.Details())

	d := withKey.Details()
	d["table"] = "changed"
	assert.Equal(t, "Orders", withKey.Details()["table"])
}

func TestAppError_StackStartsAtCaller(t *testing.T) {
	err := NewError(ErrCodeInternal, "boom")
	require.NotEmpty(t, err.Stack())
	assert.Contains(t, err.Stack(), "TestAppError_StackStartsAtCaller")
}

func TestIsErrorCode_ThroughWrapping(t *testing.T) {
	conflict := NewError(ErrCodeConflict, "record already exists")
	wrapped := fmt.Errorf("save order: %w", conflict)

	assert.True(t, IsConflict(wrapped))
	assert.True(t, stdErrors.Is(wrapped, ErrConflict))
	assert.False(t, stdErrors.Is(wrapped, ErrNotFound))
	assert.Equal(t, ErrCodeConflict, GetErrorCode(wrapped))
}
