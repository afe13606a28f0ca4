// Package cache 提供带标签失效的泛型 LRU 缓存。
//
// 特性：
//   - 泛型：Cache[K comparable, V any]；
//   - 容量上限：超出时驱逐最久未使用的条目；
//   - 可选 TTL：按最后访问时间过期，0 表示永不过期；
//   - 标签：写入时可附带若干标签，InvalidateTags 一次删除带任一标签的所有条目；
//   - 并发安全：所有操作在互斥锁下完成。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Cache 泛型缓存
//
//	rows := cache.New[string, []Row](cache.Config{Name: "orm", MaxSize: 1000})
//	rows.SetWithTags("Order|All|", result, "Order")
//	rows.InvalidateTags("Order")
type Cache[K comparable, V any] struct {
	name   string
	config Config

	items map[K]*cacheEntry[K, V]
	tags  map[string]map[K]struct{}

	// 最近使用的在前
	lruList *list.List

	mu    sync.Mutex
	stats CacheStats
}

type cacheEntry[K comparable, V any] struct {
	key        K
	value      V
	tags       []string
	accessedAt time.Time
	lruElement *list.Element
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 按访问时间过期，0 表示永不过期
	TTL time.Duration

	// OnEvict 条目被删除（驱逐、过期、失效）时回调
	OnEvict func(key, value any)
}

// CacheStats 统计信息
type CacheStats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	Expires       int64
	Invalidations int64
	Size          int
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		name:    config.Name,
		config:  config,
		items:   make(map[K]*cacheEntry[K, V]),
		tags:    make(map[string]map[K]struct{}),
		lruList: list.New(),
	}
}

// Get 获取值；过期条目视为未命中并被删除
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return value, false
	}
	if c.isExpired(entry) {
		c.removeEntryUnsafe(entry)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}

	entry.accessedAt = time.Now()
	c.lruList.MoveToFront(entry.lruElement)
	c.stats.Hits++
	return entry.value, true
}

// Set 写入不带标签的值
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTags(key, value)
}

// SetWithTags 写入值并关联标签；已存在的键会替换值与标签
func (c *Cache[K, V]) SetWithTags(key K, value V, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		c.untagUnsafe(entry)
		entry.value = value
		entry.accessedAt = time.Now()
		entry.tags = append([]string(nil), tags...)
		c.tagUnsafe(entry)
		c.lruList.MoveToFront(entry.lruElement)
		return
	}

	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		c.evictOldestUnsafe()
	}

	entry := &cacheEntry[K, V]{
		key:        key,
		value:      value,
		tags:       append([]string(nil), tags...),
		accessedAt: time.Now(),
	}
	entry.lruElement = c.lruList.PushFront(entry)
	c.items[key] = entry
	c.tagUnsafe(entry)
	c.stats.Size = len(c.items)
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeEntryUnsafe(entry)
	return true
}

// InvalidateTags 删除带任一标签的所有条目，返回删除数量
func (c *Cache[K, V]) InvalidateTags(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		for key := range c.tags[tag] {
			if entry, ok := c.items[key]; ok {
				c.removeEntryUnsafe(entry)
				removed++
			}
		}
		delete(c.tags, tag)
	}
	c.stats.Invalidations += int64(removed)
	return removed
}

// Clear 清空所有条目
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.OnEvict != nil {
		for _, entry := range c.items {
			c.config.OnEvict(entry.key, entry.value)
		}
	}
	c.items = make(map[K]*cacheEntry[K, V])
	c.tags = make(map[string]map[K]struct{})
	c.lruList = list.New()
	c.stats.Size = 0
}

// CleanExpired 清理过期条目，返回清理数量
func (c *Cache[K, V]) CleanExpired() int {
	if c.config.TTL <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	for _, entry := range c.items {
		if c.isExpired(entry) {
			c.removeEntryUnsafe(entry)
			cleaned++
		}
	}
	c.stats.Expires += int64(cleaned)
	return cleaned
}

// Stats 统计信息副本
func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Size 当前条目数
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// HitRate 命中率
func (c *Cache[K, V]) HitRate() float64 {
	stats := c.Stats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(total)
}

func (c *Cache[K, V]) isExpired(entry *cacheEntry[K, V]) bool {
	if c.config.TTL <= 0 {
		return false
	}
	return time.Since(entry.accessedAt) >= c.config.TTL
}

func (c *Cache[K, V]) tagUnsafe(entry *cacheEntry[K, V]) {
	for _, tag := range entry.tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[K]struct{})
			c.tags[tag] = keys
		}
		keys[entry.key] = struct{}{}
	}
}

func (c *Cache[K, V]) untagUnsafe(entry *cacheEntry[K, V]) {
	for _, tag := range entry.tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, entry.key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

func (c *Cache[K, V]) evictOldestUnsafe() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.removeEntryUnsafe(oldest.Value.(*cacheEntry[K, V]))
	c.stats.Evictions++
}

func (c *Cache[K, V]) removeEntryUnsafe(entry *cacheEntry[K, V]) {
	if c.config.OnEvict != nil {
		c.config.OnEvict(entry.key, entry.value)
	}
	if entry.lruElement != nil {
		c.lruList.Remove(entry.lruElement)
	}
	c.untagUnsafe(entry)
	delete(c.items, entry.key)
	c.stats.Size = len(c.items)
}

// String 缓存摘要
func (c *Cache[K, V]) String() string {
	stats := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, hit_rate=%.2f%%, evictions=%d, expires=%d, invalidations=%d",
		c.name,
		stats.Size,
		c.config.MaxSize,
		stats.Hits,
		stats.Misses,
		c.HitRate()*100,
		stats.Evictions,
		stats.Expires,
		stats.Invalidations,
	)
}
