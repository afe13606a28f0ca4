package orm

import (
	"reflect"
	"sync"
)

// IChangeTracker 对象报告自上次保存以来发生变化的关联属性名。
// 未实现该接口的对象，其级联关系总是被处理。
type IChangeTracker interface {
	ChangedProperties() []string
}

// IChangeResetter 保存成功后清空变更记录
type IChangeResetter interface {
	ResetChanges()
}

// Tracked 可内嵌的变更记录
//
//	type Order struct {
//	    orm.Tracked
//	    ID    int64
//	    Lines []*Line
//	}
//	order.MarkChanged("Lines")
type Tracked struct {
	mu      sync.Mutex
	changed []string
}

// MarkChanged 记录变化的属性
func (t *Tracked) MarkChanged(names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range names {
		if !contains(t.changed, n) {
			t.changed = append(t.changed, n)
		}
	}
}

// ChangedProperties 返回变化的属性名
func (t *Tracked) ChangedProperties() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.changed))
	copy(out, t.changed)
	return out
}

// ResetChanges 清空变更记录
func (t *Tracked) ResetChanges() {
	t.mu.Lock()
	t.changed = nil
	t.mu.Unlock()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// changeFilter 返回判断关系是否需要级联或重写中间表的函数。
// 跟踪变化的对象只处理标记过的关系；其余对象只处理已加载（集合非 nil）的关系，
// 未加载的多对多集合不代表空集合，不能据此删除中间表行。
func changeFilter(obj any) func(rel *Relation) bool {
	tracker, ok := obj.(IChangeTracker)
	if !ok {
		return func(rel *Relation) bool { return rel.Loaded(obj) }
	}
	changed := tracker.ChangedProperties()
	return func(rel *Relation) bool { return contains(changed, rel.Name()) }
}

// identity 对象身份：指针地址加类型，用于级联时打断环
type identity struct {
	ptr uintptr
	typ reflect.Type
}

type seenSet map[identity]struct{}

// visit 首次访问返回 true；非指针对象无法形成环，总是返回 true
func (s seenSet) visit(obj any) bool {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return true
	}
	id := identity{ptr: v.Pointer(), typ: v.Type()}
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}
