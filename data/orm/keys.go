package orm

import (
	"github.com/google/uuid"

	"microorm/codegen/snowflake"
)

// KeyGenerator 为非自增主键生成客户端主键，返回值会转换为主键字段类型
type KeyGenerator func() (any, error)

// UUIDKeys 生成随机 UUID（v4）
func UUIDKeys() KeyGenerator {
	return func() (any, error) {
		return uuid.New(), nil
	}
}

// SnowflakeKeys 使用雪花算法生成 int64 主键；gen 为 nil 时使用默认生成器
func SnowflakeKeys(gen *snowflake.Generator) KeyGenerator {
	if gen == nil {
		gen = snowflake.Default()
	}
	return func() (any, error) {
		id, err := gen.NextID()
		return id, err
	}
}
