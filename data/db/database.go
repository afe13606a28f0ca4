// Package db 定义映射层消费的执行器契约。
//
// 映射与会话只通过这里的接口访问数据库；写操作在单次调用内取得事务，
// 并在所有路径上提交或回滚。超时与取消交给 context。
package db

import (
	"context"
	"database/sql"
	"time"
)

// IDatabase 执行器：查询、执行与事务
type IDatabase interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	// Exec 返回的 sql.Result 提供受影响行数与 LastInsertId
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	Begin(ctx context.Context) (ITransaction, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (ITransaction, error)

	Ping(ctx context.Context) error
	Close() error
}

// ITransaction 事务本身也是执行器，可以原样传给映射
type ITransaction interface {
	IDatabase

	Commit() error
	Rollback() error
}

// IDialectNameProvider 可选：报告方言名（sqlite、mysql、postgres、sqlserver）。
// 未实现时 dialect.FromDatabase 返回未知方言。
type IDialectNameProvider interface {
	GetDialectName() string
}

// IBulkCopier 可选：批量写入。rows 的列顺序与 columns 一致，整批要么全部写入要么全部失败。
type IBulkCopier interface {
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// IRows 结果集；ColumnTypes 用于区分二进制列与文本列
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error

	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
}

type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DefaultPingTimeout 打开连接后可用性检查的默认超时
const DefaultPingTimeout = 3 * time.Second

// DBConfig 打开执行器所需的配置；零值字段使用驱动默认值
type DBConfig struct {
	Driver string // sqlite（缺省）、mysql、pgx、sqlserver
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DriverName 未指定驱动时为 sqlite
func (c DBConfig) DriverName() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}
