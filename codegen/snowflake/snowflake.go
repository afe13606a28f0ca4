// Package snowflake 提供雪花算法 ID 生成器，用作非自增实体的客户端主键。
//
// 64 位布局：41 位毫秒时间戳（相对 epoch）| 5 位数据中心 | 5 位节点 | 12 位序列号。
package snowflake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// 2023-01-01 00:00:00 UTC
	epoch int64 = 1672531200000

	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	MaxWorkerID     = -1 ^ (-1 << workerIDBits)
	MaxDatacenterID = -1 ^ (-1 << datacenterIDBits)
	maxSequence     = -1 ^ (-1 << sequenceBits)

	workerIDShift     = sequenceBits
	datacenterIDShift = sequenceBits + workerIDBits
	timestampShift    = sequenceBits + workerIDBits + datacenterIDBits
)

var (
	ErrIDOutOfRange   = errors.New("snowflake: datacenter or worker ID out of range")
	ErrClockBackwards = errors.New("snowflake: clock moved backwards")
)

// Generator 并发安全的 ID 生成器
type Generator struct {
	mu            sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
	now           func() int64
}

// NewGenerator 创建生成器；同一集群内 (datacenterID, workerID) 必须唯一
func NewGenerator(datacenterID, workerID int64) (*Generator, error) {
	if datacenterID < 0 || datacenterID > MaxDatacenterID || workerID < 0 || workerID > MaxWorkerID {
		return nil, ErrIDOutOfRange
	}
	return &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID 生成下一个 ID；同一毫秒内序列号耗尽时自旋到下一毫秒
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.lastTimestamp {
		return 0, ErrClockBackwards
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastTimestamp {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - epoch) << timestampShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// ID 拆解后的各部分
type ID struct {
	Time         time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Parse 拆解 ID
func Parse(id int64) ID {
	return ID{
		Time:         time.UnixMilli((id >> timestampShift) + epoch),
		DatacenterID: (id >> datacenterIDShift) & MaxDatacenterID,
		WorkerID:     (id >> workerIDShift) & MaxWorkerID,
		Sequence:     id & maxSequence,
	}
}

var defaultGenerator atomic.Pointer[Generator]

func init() {
	gen, _ := NewGenerator(1, 1)
	defaultGenerator.Store(gen)
}

// Default 进程级默认生成器（数据中心 1，节点 1，可由 SetDefault 替换）
func Default() *Generator {
	return defaultGenerator.Load()
}

// SetDefault 替换默认生成器
func SetDefault(datacenterID, workerID int64) error {
	gen, err := NewGenerator(datacenterID, workerID)
	if err != nil {
		return err
	}
	defaultGenerator.Store(gen)
	return nil
}
