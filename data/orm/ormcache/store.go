// Package ormcache 提供会话读缓存的存储后端。
//
// 缓存值是查询返回的原始行（列名 → 值），键由类型、操作和参数组成；
// 每个条目带若干标签（实体类型名），写操作按标签整体失效。
package ormcache

import (
	"context"
	"time"

	"microorm/cache"
	"microorm/logging"
)

// IStore 会话缓存存储
//
// 实现必须并发安全；Get 返回的行可以被调用方修改，不影响已缓存的数据。
type IStore interface {
	Get(ctx context.Context, key string) ([]map[string]any, bool)
	Set(ctx context.Context, key string, rows []map[string]any, tags ...string)
	InvalidateTags(ctx context.Context, tags ...string)
}

// MemoryConfig 进程内缓存配置
type MemoryConfig struct {
	Name    string
	MaxSize int           // 0 表示 10000
	TTL     time.Duration // 0 表示永不过期
	Logger  logging.Logger
}

// MemoryStore 基于 LRU 缓存的进程内存储
type MemoryStore struct {
	cache  *cache.Cache[string, []map[string]any]
	logger logging.Logger
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.Name == "" {
		cfg.Name = "orm.rows"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	return &MemoryStore{
		cache: cache.New[string, []map[string]any](cache.Config{
			Name:    cfg.Name,
			MaxSize: cfg.MaxSize,
			TTL:     cfg.TTL,
		}),
		logger: logging.ComponentLogger(cfg.Logger, "orm.cache"),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]map[string]any, bool) {
	rows, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	return copyRows(rows), true
}

func (s *MemoryStore) Set(ctx context.Context, key string, rows []map[string]any, tags ...string) {
	s.cache.SetWithTags(key, copyRows(rows), tags...)
}

func (s *MemoryStore) InvalidateTags(ctx context.Context, tags ...string) {
	if len(tags) == 0 {
		return
	}
	n := s.cache.InvalidateTags(tags...)
	s.logger.Debug(ctx, "cache invalidated",
		logging.Any("tags", tags),
		logging.Int("removed", n))
}

// Stats 底层缓存统计
func (s *MemoryStore) Stats() cache.CacheStats {
	return s.cache.Stats()
}

func copyRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		c := make(map[string]any, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}
