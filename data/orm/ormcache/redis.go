package ormcache

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"microorm/errors"
	"microorm/logging"
)

// client go-redis 命令子集，便于测试替换
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisConfig 共享缓存配置
type RedisConfig struct {
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int

	// Prefix 所有键的前缀，默认 "orm:"
	Prefix string
	TTL    time.Duration
	Logger logging.Logger
}

// RedisStore 多进程共享的缓存存储。
//
// 行以 JSON 保存在 prefix+"rows:"+key；每个标签对应集合 prefix+"tag:"+tag，
// 记录带该标签的行键。单元格带类型标记，读回的值与写入时同类型。
// Redis 错误只记录日志并视为未命中。
type RedisStore struct {
	client    client
	ownClient bool
	prefix    string
	ttl       time.Duration
	logger    logging.Logger

	mu      sync.Mutex
	lastErr error
}

// NewRedisStore 创建共享缓存；未提供 Client 时按 Addr 建立连接
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.NewConfigurationError("redis cache: address not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newRedisStore(cl, own, cfg), nil
}

func newRedisStore(cl client, own bool, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "orm:"
	}
	return &RedisStore{
		client:    cl,
		ownClient: own,
		prefix:    cfg.Prefix,
		ttl:       cfg.TTL,
		logger:    logging.ComponentLogger(cfg.Logger, "orm.cache.redis"),
	}
}

// fail 记录警告并保留最近一次错误
func (s *RedisStore) fail(ctx context.Context, err error, msg string, fields ...logging.Field) {
	wrapped := errors.WrapWithLog(ctx, s.logger, err, errors.ErrCodeCache, msg, fields...)
	s.mu.Lock()
	s.lastErr = wrapped
	s.mu.Unlock()
}

// LastError 最近一次 Redis 错误，用于健康检查；未出错时为 nil
func (s *RedisStore) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *RedisStore) rowsKey(key string) string { return s.prefix + "rows:" + key }
func (s *RedisStore) tagKey(tag string) string  { return s.prefix + "tag:" + tag }

func (s *RedisStore) Get(ctx context.Context, key string) ([]map[string]any, bool) {
	data, err := s.client.Get(ctx, s.rowsKey(key)).Bytes()
	if err != nil {
		if !stdErrors.Is(err, redis.Nil) {
			s.fail(ctx, err, "redis get failed", logging.String("key", key))
		}
		return nil, false
	}
	rows, err := decodeRows(data)
	if err != nil {
		s.fail(ctx, err, "decode cached rows failed", logging.String("key", key))
		return nil, false
	}
	return rows, true
}

func (s *RedisStore) Set(ctx context.Context, key string, rows []map[string]any, tags ...string) {
	data, err := encodeRows(rows)
	if err != nil {
		s.fail(ctx, err, "encode rows failed", logging.String("key", key))
		return
	}
	rk := s.rowsKey(key)
	// 先登记标签再写值，失效与写入交错时最多留下一个空引用
	for _, tag := range tags {
		if err := s.client.SAdd(ctx, s.tagKey(tag), rk).Err(); err != nil {
			s.fail(ctx, err, "redis sadd failed", logging.String("tag", tag))
			return
		}
	}
	if err := s.client.Set(ctx, rk, data, s.ttl).Err(); err != nil {
		s.fail(ctx, err, "redis set failed", logging.String("key", key))
	}
}

func (s *RedisStore) InvalidateTags(ctx context.Context, tags ...string) {
	for _, tag := range tags {
		tk := s.tagKey(tag)
		members, err := s.client.SMembers(ctx, tk).Result()
		if err != nil {
			s.fail(ctx, err, "redis smembers failed", logging.String("tag", tag))
			continue
		}
		keys := append(members, tk)
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			s.fail(ctx, err, "redis del failed", logging.String("tag", tag))
		}
	}
}

// Close 关闭自行创建的连接
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
