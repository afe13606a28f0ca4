package orm

import (
	"context"
	"strings"
	"time"

	core "microorm/data/db"
	"microorm/data/db/basic"
	"microorm/errors"
	"microorm/logging"
	"microorm/patterns/retry"
)

// DataSource 一个物理数据库。
// 多个数据源可以持有同一类型的映射：读操作按 Order 依次读取并合并，写操作依次写入。
type DataSource struct {
	Name     string
	Driver   string
	DSN      string
	Readable bool
	Writable bool
	Order    int
	// Update 启动时对该数据源执行建表/迁移
	Update bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// DB 打开后的执行器；预先赋值时不再通过 ISourceProvider 打开
	DB core.IDatabase
}

// DBConfig 转为执行器配置
func (s *DataSource) DBConfig() core.DBConfig {
	return core.DBConfig{
		Driver:          s.Driver,
		DSN:             s.DSN,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
	}
}

// ISourceProvider 打开数据源的执行器
type ISourceProvider interface {
	Open(ctx context.Context, source *DataSource) (core.IDatabase, error)
}

// BasicSourceProvider 基于 database/sql 打开数据源，失败时按 Retry 重试
type BasicSourceProvider struct {
	Retry  retry.Config
	Logger logging.Logger
}

// NewBasicSourceProvider 创建默认提供者：最多 3 次尝试，指数退避
func NewBasicSourceProvider(logger logging.Logger) *BasicSourceProvider {
	return &BasicSourceProvider{
		Retry: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			BackoffFactor: 2.0,
			MaxDelay:      2 * time.Second,
			Retryable:     isTransient,
		},
		Logger: logging.ComponentLogger(logger, "orm.source"),
	}
}

func (p *BasicSourceProvider) Open(ctx context.Context, source *DataSource) (core.IDatabase, error) {
	cfg := p.Retry
	if cfg.MaxAttempts <= 0 {
		cfg = retry.DefaultConfig()
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.ComponentLogger(nil, "orm.source")
	}

	var db *basic.DB
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		opened, err := basic.New(source.DBConfig())
		if err != nil {
			logger.Warn(ctx, "open data source failed",
				logging.String("source", source.Name),
				logging.Int("attempt", attempt),
				logging.Error(err))
			return err
		}
		db = opened
		return nil
	}, cfg)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "open data source %s", source.Name)
	}
	return db, nil
}

// isTransient 配置错误（未知驱动、DSN 格式）重试也无济于事
func isTransient(err error) bool {
	msg := err.Error()
	return !strings.Contains(msg, "unknown driver") && !strings.Contains(msg, "invalid DSN")
}
