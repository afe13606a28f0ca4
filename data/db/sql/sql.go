// Package sql 生成映射层命令使用的语句文本。
//
// 表名与列名经 IsSafeIdentifier 校验后由方言加引号；值一律以 ? 占位，
// 由执行器按方言改写。构建器不持有数据库连接，只产出 Statement。
package sql

import (
	"strings"

	"microorm/data/db/dialect"
)

// RowNumberColumn 分页窗口中行号列的别名
const RowNumberColumn = "__row"

const pagedAlias = "__paged"

// Statement 语句文本与按顺序排列的参数值
type Statement struct {
	Text string
	Args []any
}

// Builder 绑定方言的语句构建入口
type Builder struct {
	d dialect.Dialect
}

// For 返回使用方言 d 的构建器
func For(d dialect.Dialect) Builder { return Builder{d: d} }

// Dialect 构建器使用的方言
func (b Builder) Dialect() dialect.Dialect { return b.d }

// Quote 校验并转义标识符；形如 alias.column 的限定名按段转义
func (b Builder) Quote(name string) string {
	mustIdentifier("quote", name)
	return b.d.QuoteIdentifier(name)
}

// Qualified 别名限定的列：alias.column
func (b Builder) Qualified(alias, column string) string {
	return b.Quote(alias) + "." + b.Quote(column)
}

// conditions 以 AND 连接的 WHERE 条件
type conditions struct {
	exprs []string
	args  []any
}

func (c *conditions) add(expr string, args ...any) {
	if expr == "" {
		return
	}
	c.exprs = append(c.exprs, expr)
	c.args = append(c.args, args...)
}

func (c *conditions) writeTo(sb *strings.Builder) []any {
	if len(c.exprs) == 0 {
		return nil
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(c.exprs, " AND "))
	out := make([]any, len(c.args))
	copy(out, c.args)
	return out
}
