package config

import (
	"strings"

	"github.com/nats-io/nats.go"

	"microorm/data/orm/ormcache"
	"microorm/errors"
	"microorm/logging"
)

// OpenCache 按配置创建会话缓存；返回的 close 释放 redis/nats 连接
func (c *Config) OpenCache(logger logging.Logger) (ormcache.IStore, func() error, error) {
	closers := []func() error{}
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	var store ormcache.IStore
	switch strings.ToLower(c.Cache.Backend) {
	case "redis":
		rs, err := ormcache.NewRedisStore(ormcache.RedisConfig{
			Addr:     c.Cache.Redis.Addr,
			Username: c.Cache.Redis.Username,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
			Prefix:   c.Cache.Redis.Prefix,
			TTL:      c.Cache.TTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, errors.WrapConfiguration(err, "open redis cache")
		}
		closers = append(closers, rs.Close)
		store = rs
	default:
		store = ormcache.NewMemoryStore(ormcache.MemoryConfig{
			MaxSize: c.Cache.MaxSize,
			TTL:     c.Cache.TTL,
			Logger:  logger,
		})
	}

	if c.Cache.NATS.URL != "" {
		nc, err := nats.Connect(c.Cache.NATS.URL, nats.Name("microorm-cache"))
		if err != nil {
			_ = closeAll()
			return nil, nil, errors.WrapConfiguration(err, "connect nats %s", c.Cache.NATS.URL)
		}
		closers = append(closers, func() error { nc.Close(); return nil })

		b, err := ormcache.NewBroadcaster(ormcache.BroadcastConfig{
			Store:   store,
			Conn:    nc,
			Subject: c.Cache.NATS.Subject,
			Logger:  logger,
		})
		if err != nil {
			_ = closeAll()
			return nil, nil, errors.WrapConfiguration(err, "subscribe cache invalidations")
		}
		closers = append(closers, b.Close)
		store = b
	}
	return store, closeAll, nil
}
