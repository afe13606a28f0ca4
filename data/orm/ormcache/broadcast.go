package ormcache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"microorm/errors"
	"microorm/logging"
)

// DefaultSubject 失效广播的默认主题
const DefaultSubject = "orm.cache.invalidate"

// conn nats.Conn 子集
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// BroadcastConfig 失效广播配置
type BroadcastConfig struct {
	Store   IStore
	Conn    *nats.Conn
	Subject string
	Logger  logging.Logger
}

type invalidation struct {
	Origin string   `json:"origin"`
	Tags   []string `json:"tags"`
}

// Broadcaster 包装本地存储：本进程的失效同时发布到 NATS，
// 收到其他进程的失效消息时只清理本地存储。
type Broadcaster struct {
	store   IStore
	conn    conn
	subject string
	origin  string
	logger  logging.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewBroadcaster 创建并订阅失效主题
func NewBroadcaster(cfg BroadcastConfig) (*Broadcaster, error) {
	if cfg.Conn == nil {
		return nil, errors.NewConfigurationError("cache broadcaster: nats connection not configured")
	}
	return newBroadcaster(cfg, cfg.Conn)
}

func newBroadcaster(cfg BroadcastConfig, c conn) (*Broadcaster, error) {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(MemoryConfig{Logger: cfg.Logger})
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	b := &Broadcaster{
		store:   cfg.Store,
		conn:    c,
		subject: cfg.Subject,
		origin:  uuid.NewString(),
		logger:  logging.ComponentLogger(cfg.Logger, "orm.cache.broadcast"),
	}
	sub, err := c.Subscribe(b.subject, b.receive)
	if err != nil {
		return nil, err
	}
	b.sub = sub
	return b, nil
}

// Origin 本实例的来源标识
func (b *Broadcaster) Origin() string { return b.origin }

func (b *Broadcaster) Get(ctx context.Context, key string) ([]map[string]any, bool) {
	return b.store.Get(ctx, key)
}

func (b *Broadcaster) Set(ctx context.Context, key string, rows []map[string]any, tags ...string) {
	b.store.Set(ctx, key, rows, tags...)
}

func (b *Broadcaster) InvalidateTags(ctx context.Context, tags ...string) {
	if len(tags) == 0 {
		return
	}
	b.store.InvalidateTags(ctx, tags...)

	data, err := json.Marshal(invalidation{Origin: b.origin, Tags: tags})
	if err != nil {
		return
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		b.logger.Warn(ctx, "publish invalidation failed", logging.Any("tags", tags), logging.Error(err))
	}
}

func (b *Broadcaster) receive(msg *nats.Msg) {
	ctx := context.Background()
	var inv invalidation
	if err := json.Unmarshal(msg.Data, &inv); err != nil {
		b.logger.Warn(ctx, "invalid invalidation message", logging.Error(err))
		return
	}
	if inv.Origin == b.origin {
		return
	}
	b.store.InvalidateTags(ctx, inv.Tags...)
}

// Close 取消订阅
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}
