package orm

import (
	"reflect"
	"sort"
	"strings"

	"microorm/errors"
)

type graphNode struct {
	mapping IMapping
	pos     int
	in      int
	out     []*graphNode
	edges   map[*graphNode]struct{}
}

// Graph 一个数据源内映射之间的依赖图，边从依赖方指向被依赖方之后的类型。
//
// 边的来源：
//   - 内嵌的基础结构体 → 派生结构体；
//   - 实现者 → 接口类型的映射；
//   - DependsOn 声明的类型 → 映射；
//   - 关系：一对多/一对一 拥有方 → 目标，多对一/多对多 目标 → 拥有方。
type Graph struct {
	nodes  []*graphNode
	byType map[reflect.Type]*graphNode
}

// NewGraph 按给定顺序（注册顺序）建图
func NewGraph(mappings []IMapping) *Graph {
	g := &Graph{byType: make(map[reflect.Type]*graphNode, len(mappings))}
	for _, m := range mappings {
		if _, dup := g.byType[m.Type()]; dup {
			continue
		}
		n := &graphNode{mapping: m, pos: len(g.nodes), edges: make(map[*graphNode]struct{})}
		g.nodes = append(g.nodes, n)
		g.byType[m.Type()] = n
	}
	for _, n := range g.nodes {
		g.link(n)
	}
	return g
}

func (g *Graph) addEdge(from, to reflect.Type) {
	a, b := g.byType[from], g.byType[to]
	if a == nil || b == nil || a == b {
		return
	}
	if _, ok := a.edges[b]; ok {
		return
	}
	a.edges[b] = struct{}{}
	a.out = append(a.out, b)
	b.in++
}

func (g *Graph) link(n *graphNode) {
	t := n.mapping.Type()
	if t.Kind() == reflect.Struct {
		for _, base := range embeddedBases(t) {
			g.addEdge(base, t)
		}
		ptr := reflect.PointerTo(t)
		for _, other := range g.nodes {
			it := other.mapping.Type()
			if it.Kind() == reflect.Interface && (t.Implements(it) || ptr.Implements(it)) {
				g.addEdge(t, it)
			}
		}
	}
	for _, dep := range n.mapping.DependsOn() {
		g.addEdge(dep, t)
	}
	for _, rel := range n.mapping.Relations() {
		if rel.Kind() == ManyToMany && g.mirrored(n, rel) {
			continue
		}
		from, to := rel.DependencyEdge()
		g.addEdge(from, to)
	}
}

// mirrored 两侧都声明了同一中间表的多对多时，只保留先注册一侧为被依赖方的那条边
func (g *Graph) mirrored(n *graphNode, rel *Relation) bool {
	target := g.byType[rel.Target()]
	if target == nil || target == n {
		return false
	}
	for _, back := range target.mapping.Relations() {
		if back.Kind() == ManyToMany && back.Target() == n.mapping.Type() &&
			strings.EqualFold(back.JoinTable(), rel.JoinTable()) {
			return target.pos > n.pos
		}
	}
	return false
}

// embeddedBases 递归收集内嵌的结构体类型
func embeddedBases(t reflect.Type) []reflect.Type {
	var out []reflect.Type
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() != reflect.Struct {
			continue
		}
		out = append(out, ft)
		out = append(out, embeddedBases(ft)...)
	}
	return out
}

// Sort Kahn 算法排序，order 从 offset+1 开始依次赋值。
// 存在环时返回配置错误并列出剩余的表。
func (g *Graph) Sort(offset int) ([]IMapping, error) {
	in := make(map[*graphNode]int, len(g.nodes))
	var queue []*graphNode
	for _, n := range g.nodes {
		in[n] = n.in
		if n.in == 0 {
			queue = append(queue, n)
		}
	}

	sorted := make([]IMapping, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n.mapping)
		for _, next := range n.out {
			in[next]--
			if in[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) < len(g.nodes) {
		var remaining []string
		for _, n := range g.nodes {
			if in[n] > 0 {
				remaining = append(remaining, n.mapping.Table())
			}
		}
		return nil, errors.NewConfigurationError("mapping dependency cycle among tables: %s", strings.Join(remaining, ", "))
	}
	for i, m := range sorted {
		m.setOrder(offset + i + 1)
	}
	return sorted, nil
}

// OrderMappings 按数据源 Order 升序为每个数据源的映射排序，
// 每个数据源的序号块从上一个数据源的最大序号 +1 开始。
func OrderMappings(sources []*DataSource, bySource map[string][]IMapping) error {
	ordered := make([]*DataSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	offset := 0
	for _, src := range ordered {
		sorted, err := NewGraph(bySource[src.Name]).Sort(offset)
		if err != nil {
			return errors.WrapConfiguration(err, "data source %s", src.Name)
		}
		offset += len(sorted)
	}
	return nil
}

// SortByOrder 按 Order 升序排列（稳定）
func SortByOrder(mappings []IMapping) []IMapping {
	out := make([]IMapping, len(mappings))
	copy(out, mappings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order() < out[j].Order() })
	return out
}
