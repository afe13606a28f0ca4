package basic

import (
	"context"
	"database/sql"
	"fmt"

	core "microorm/data/db"
	"microorm/data/db/dialect"
)

// DB 基于 database/sql 的最小实现，满足 core.IDatabase 与 core.IBulkCopier
type DB struct {
	db      *sql.DB
	driver  string
	dialect dialect.Dialect
}

// New 根据 core.DBConfig 创建基础数据库实例
//
// 调用方必须确保 Driver 已注册（例如 import _ "microorm/data/db/drivers"）。
func New(config core.DBConfig) (*DB, error) {
	driver := config.DriverName()
	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, err
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	timeout := config.PingTimeout
	if timeout <= 0 {
		timeout = core.DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return Wrap(db, driver), nil
}

// Wrap 包装已打开的 *sql.DB
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{db: db, driver: driver, dialect: dialect.New(driver)}
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, driver: d.driver, dialect: d.dialect}, nil
}

// BulkInsert 在单个事务内分批写入多行
func (d *DB) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (n int64, err error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	n, err = tx.(*Tx).BulkInsert(ctx, table, columns, rows)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }

// GetDialectName 实现 core.IDialectNameProvider 接口，返回底层 driver 名
func (d *DB) GetDialectName() string {
	return d.driver
}

// ExecDDL 辅助：执行 DDL（用于测试环境）
func (d *DB) ExecDDL(stmt string) error {
	if d.db == nil {
		return fmt.Errorf("basic.DB: db is nil")
	}
	_, err := d.db.Exec(stmt)
	return err
}
