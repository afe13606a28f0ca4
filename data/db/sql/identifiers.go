package sql

import "strings"

// IsSafeIdentifier 标识符是否可以安全地拼进语句。
//
// 接受单段标识符 (Orders, order_1) 与点分限定名 (dbo.Orders)；每段以字母或下划线开头，
// 其后只含字母、数字与下划线。
func IsSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
			if i == 0 && !letter {
				return false
			}
			if i > 0 && !letter && !(ch >= '0' && ch <= '9') {
				return false
			}
		}
	}
	return true
}

// Placeholders n 个以逗号分隔的 ? 占位符
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// 映射在注册时已校验标识符，这里的失败属于前置条件破坏
func mustIdentifier(kind, name string) {
	if !IsSafeIdentifier(name) {
		panic("sql " + kind + ": unsafe identifier " + name)
	}
}
