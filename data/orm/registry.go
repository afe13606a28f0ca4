package orm

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"microorm/logging"
)

type registryKey struct {
	typ    reflect.Type
	source string
}

type registryEntry struct {
	mapping IMapping
	seq     uint64
}

// Registry 每个 (类型, 数据源) 对应一个映射。
// 注册是幂等的：同一键的后续注册返回首次注册的映射。
type Registry struct {
	entries sync.Map // registryKey -> *registryEntry
	seq     atomic.Uint64
	logger  logging.Logger
}

// NewRegistry 创建注册表；logger 为 nil 时使用全局 Logger
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{logger: logging.ComponentLogger(logger, "orm.registry")}
}

// Map 返回 (T, source) 的映射，不存在时创建并注册。
// 已存在且参数不同时保留首次注册的映射并记录警告。
func Map[T any](reg *Registry, source, table, primaryKey string, opts ...MappingOption) *Mapping[T] {
	candidate := newMapping[T](source, table, primaryKey, opts...)
	key := registryKey{typ: candidate.typ, source: source}
	entry := &registryEntry{mapping: candidate, seq: reg.seq.Add(1)}

	actual, loaded := reg.entries.LoadOrStore(key, entry)
	if !loaded {
		return candidate
	}
	existing := actual.(*registryEntry).mapping.(*Mapping[T])
	if existing.table != table || existing.primaryKey != primaryKey ||
		existing.autoIncrement != candidate.autoIncrement ||
		existing.parameterPrefix != candidate.parameterPrefix {
		reg.logger.Warn(context.Background(), "conflicting mapping registration ignored",
			logging.String("type", typeName(candidate.typ)),
			logging.String("source", source),
			logging.String("table", existing.table),
			logging.String("requested_table", table))
	}
	return existing
}

// Lookup 返回 (T, source) 已注册的映射
func Lookup[T any](reg *Registry, source string) (*Mapping[T], bool) {
	m, ok := reg.Get(TypeOf[T](), source)
	if !ok {
		return nil, false
	}
	typed, ok := m.(*Mapping[T])
	return typed, ok
}

// Get 返回类型在数据源上的映射
func (r *Registry) Get(typ reflect.Type, source string) (IMapping, bool) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	v, ok := r.entries.Load(registryKey{typ: typ, source: source})
	if !ok {
		return nil, false
	}
	return v.(*registryEntry).mapping, true
}

// ForSource 按注册顺序返回数据源上的所有映射
func (r *Registry) ForSource(source string) []IMapping {
	var entries []*registryEntry
	r.entries.Range(func(k, v any) bool {
		if k.(registryKey).source == source {
			entries = append(entries, v.(*registryEntry))
		}
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]IMapping, len(entries))
	for i, e := range entries {
		out[i] = e.mapping
	}
	return out
}

// Clear 移除数据源上的所有映射，返回移除数量
func (r *Registry) Clear(source string) int {
	n := 0
	r.entries.Range(func(k, _ any) bool {
		if k.(registryKey).source == source {
			r.entries.Delete(k)
			n++
		}
		return true
	})
	if n > 0 {
		r.logger.Debug(context.Background(), "mappings cleared",
			logging.String("source", source), logging.Int("count", n))
	}
	return n
}
