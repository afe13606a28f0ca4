// Package validation 实体字段校验，失败时统一返回 INVALID_INPUT 错误。
package validation

import (
	"strings"
	"unicode/utf8"

	"microorm/errors"
)

// MaxPageSize 单页允许的最大条数
const MaxPageSize = 1000

// ValidateRequired 必填字符串
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewInvalidArgument("%s不能为空", fieldName)
	}
	return nil
}

// ValidateStringLength 按字符计数；max <= 0 表示不限上限
func ValidateStringLength(value, fieldName string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min {
		return errors.NewInvalidArgument("%s长度不能少于%d个字符（当前%d）", fieldName, min, n)
	}
	if max > 0 && n > max {
		return errors.NewInvalidArgument("%s长度不能超过%d个字符（当前%d）", fieldName, max, n)
	}
	return nil
}

// ValidateNonNegative 金额、数量等不能为负
func ValidateNonNegative[N int | int64 | float64](value N, fieldName string) error {
	if value < 0 {
		return errors.NewInvalidArgument("%s不能为负数（当前%v）", fieldName, value)
	}
	return nil
}

// ValidateEnum 值必须是 valid 之一
func ValidateEnum(value, fieldName string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return errors.NewInvalidArgument("%s的值无效，必须是以下之一: %v", fieldName, valid)
}

// ValidatePageParams 页码从 1 开始，每页条数在 (0, MaxPageSize] 内
func ValidatePageParams(page, size int) error {
	if page <= 0 {
		return errors.NewInvalidArgument("页码必须大于0")
	}
	if size <= 0 {
		return errors.NewInvalidArgument("每页大小必须大于0")
	}
	if size > MaxPageSize {
		return errors.NewInvalidArgument("每页大小不能超过%d", MaxPageSize)
	}
	return nil
}

// All 依次执行，返回第一个错误
func All(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
