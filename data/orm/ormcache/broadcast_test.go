package ormcache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus 同进程内把 Publish 直接投递给所有订阅者
type fakeBus struct {
	handlers map[string][]nats.MsgHandler
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	for _, h := range b.handlers[subject] {
		h(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func (b *fakeBus) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if b.handlers == nil {
		b.handlers = map[string][]nats.MsgHandler{}
	}
	b.handlers[subject] = append(b.handlers[subject], cb)
	return nil, nil
}

// TestBroadcaster_PropagatesInvalidation 一个进程的写失效另一个进程的本地缓存
func TestBroadcaster_PropagatesInvalidation(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}

	a, err := newBroadcaster(BroadcastConfig{Store: NewMemoryStore(MemoryConfig{})}, bus)
	require.NoError(t, err)
	b, err := newBroadcaster(BroadcastConfig{Store: NewMemoryStore(MemoryConfig{})}, bus)
	require.NoError(t, err)
	assert.NotEqual(t, a.Origin(), b.Origin())

	rows := []map[string]any{{"ID": int64(1)}}
	a.Set(ctx, "Order|All|", rows, "Order")
	b.Set(ctx, "Order|All|", rows, "Order")
	b.Set(ctx, "Customer|All|", rows, "Customer")

	a.InvalidateTags(ctx, "Order")

	_, ok := a.Get(ctx, "Order|All|")
	assert.False(t, ok)
	_, ok = b.Get(ctx, "Order|All|")
	assert.False(t, ok)
	_, ok = b.Get(ctx, "Customer|All|")
	assert.True(t, ok)
	assert.NoError(t, a.Close())
}

// countingStore 统计 InvalidateTags 调用次数
type countingStore struct {
	IStore
	calls int
}

func (c *countingStore) InvalidateTags(ctx context.Context, tags ...string) {
	c.calls++
	c.IStore.InvalidateTags(ctx, tags...)
}

func TestBroadcaster_IgnoresOwnMessages(t *testing.T) {
	bus := &fakeBus{}
	store := &countingStore{IStore: NewMemoryStore(MemoryConfig{})}
	b, err := newBroadcaster(BroadcastConfig{Store: store}, bus)
	require.NoError(t, err)

	b.InvalidateTags(context.Background(), "Order")
	assert.Equal(t, 1, store.calls)

	data, _ := json.Marshal(invalidation{Origin: "other", Tags: []string{"Order"}})
	require.NoError(t, bus.Publish(DefaultSubject, data))
	assert.Equal(t, 2, store.calls)

	require.NoError(t, bus.Publish(DefaultSubject, []byte("garbage")))
	assert.Equal(t, 2, store.calls)
}

func TestNewBroadcaster_RequiresConn(t *testing.T) {
	_, err := NewBroadcaster(BroadcastConfig{})
	assert.Error(t, err)
}
