// Package retry 提供带指数退避的重试执行。
//
// 数据源打开等启动期操作通过它容忍短暂的网络或数据库不可用。
package retry

import (
	"context"
	"math"
	"time"
)

// Operation 可重试的操作，attempt 从 1 开始
type Operation func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 首次重试前的延迟
	BackoffFactor float64       // 每次重试延迟的倍数
	MaxDelay      time.Duration // 延迟上限，0 表示不限制

	// Retryable 判断错误是否值得重试；nil 表示所有错误都重试
	Retryable func(err error) bool
}

// DefaultConfig 1 次初始 + 1 次重试，2ms 起步，最多 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  2 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      time.Second,
	}
}

// Backoff 第 attempt 次失败后的等待时长
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Do 执行 op 直到成功、尝试次数用尽、错误不可重试或 ctx 取消。
// 返回最后一次的错误；ctx 取消时返回 ctx.Err()。
//
//	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return db.PingContext(ctx)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, op Operation, cfg Config) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
