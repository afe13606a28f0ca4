package orm

import (
	"fmt"
	"reflect"
)

// RelationKind 关系种类（封闭枚举）
type RelationKind int

const (
	OneToOne RelationKind = iota + 1
	OneToMany
	ManyToOne
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	default:
		return fmt.Sprintf("relation(%d)", int(k))
	}
}

// Relation 一个映射上的关联属性。
//
// 外键的含义随种类不同：
//   - OneToOne/OneToMany：目标表上引用拥有方主键的列；
//   - ManyToOne：拥有方表上引用目标主键的列；
//   - ManyToMany：不使用外键，由 joinTable(ownerColumn, targetColumn) 记录关联。
type Relation struct {
	name         string
	kind         RelationKind
	cascade      bool
	owner        reflect.Type
	target       reflect.Type
	foreignKey   string
	joinTable    string
	ownerColumn  string
	targetColumn string
	loadQuery    func(owners []any) Command

	get func(owner any) []any
	set func(owner any, related []any)
}

// RelationOption 关系选项
type RelationOption func(*Relation)

// Cascade 保存/删除拥有方时级联到关联对象
func Cascade() RelationOption {
	return func(r *Relation) { r.cascade = true }
}

// LoadWith 指定延迟加载使用的命令，替代默认的外键 OR 条件
func LoadWith(build func(owners []any) Command) RelationOption {
	return func(r *Relation) { r.loadQuery = build }
}

func (r *Relation) Name() string         { return r.name }
func (r *Relation) Kind() RelationKind   { return r.kind }
func (r *Relation) Cascades() bool       { return r.cascade }
func (r *Relation) Owner() reflect.Type  { return r.owner }
func (r *Relation) Target() reflect.Type { return r.target }
func (r *Relation) ForeignKey() string   { return r.foreignKey }
func (r *Relation) JoinTable() string    { return r.joinTable }
func (r *Relation) OwnerColumn() string  { return r.ownerColumn }
func (r *Relation) TargetColumn() string { return r.targetColumn }
func (r *Relation) HasLoadQuery() bool   { return r.loadQuery != nil }

// LoadQuery 返回自定义的加载命令，未配置时为零值命令
func (r *Relation) LoadQuery(owners []any) Command {
	if r.loadQuery == nil {
		return Command{}
	}
	return r.loadQuery(owners)
}

// Related 返回拥有方当前持有的关联对象（不含 nil）；集合未加载时为 nil
func (r *Relation) Related(owner any) []any { return r.get(owner) }

// Loaded 拥有方是否持有该关系：集合非 nil（可以为空），或单个关联对象非 nil
func (r *Relation) Loaded(owner any) bool { return r.get(owner) != nil }

// Assign 把加载到的关联对象写回拥有方
func (r *Relation) Assign(owner any, related []any) { r.set(owner, related) }

// JoinsSave 保存拥有方时是否需要维护中间表
func (r *Relation) JoinsSave() bool { return r.kind == ManyToMany }

// JoinsDelete 删除拥有方时是否需要先删除中间表行
func (r *Relation) JoinsDelete() bool { return r.kind == ManyToMany }

// SavesBeforeOwner 级联保存时关联对象是否先于拥有方写入
func (r *Relation) SavesBeforeOwner() bool {
	return r.kind == ManyToOne || r.kind == ManyToMany
}

// SavesAfterOwner 级联保存时关联对象是否在拥有方之后写入（需要拥有方主键）
func (r *Relation) SavesAfterOwner() bool {
	return r.kind == OneToOne || r.kind == OneToMany
}

// DeletesBeforeOwner 级联删除时关联对象是否先于拥有方删除
func (r *Relation) DeletesBeforeOwner() bool { return r.kind != ManyToOne }

// DeletesAfterOwner 级联删除时关联对象是否在拥有方之后删除
func (r *Relation) DeletesAfterOwner() bool { return r.kind == ManyToOne }

// FillsOwnerKey 保存前是否要用关联对象的主键填充拥有方外键
func (r *Relation) FillsOwnerKey() bool { return r.kind == ManyToOne }

// FillsTargetKey 保存后是否要用拥有方主键填充关联对象外键
func (r *Relation) FillsTargetKey() bool {
	return r.kind == OneToOne || r.kind == OneToMany
}

// DependencyEdge 排序依赖边（from 必须先于 to）
func (r *Relation) DependencyEdge() (from, to reflect.Type) {
	switch r.kind {
	case OneToOne, OneToMany:
		return r.owner, r.target
	default:
		return r.target, r.owner
	}
}

func (r *Relation) validate() error {
	switch r.kind {
	case OneToOne, OneToMany, ManyToOne:
		if r.foreignKey == "" {
			return fmt.Errorf("relation %s: foreign key is required", r.name)
		}
	case ManyToMany:
		if r.joinTable == "" || r.ownerColumn == "" || r.targetColumn == "" {
			return fmt.Errorf("relation %s: join table and columns are required", r.name)
		}
	default:
		return fmt.Errorf("relation %s: unknown kind %d", r.name, int(r.kind))
	}
	if r.get == nil || r.set == nil {
		return fmt.Errorf("relation %s: accessors are required", r.name)
	}
	return nil
}

func newRelation[O any](m *Mapping[O], name string, kind RelationKind, target reflect.Type, opts []RelationOption) *Relation {
	r := &Relation{
		name:   name,
		kind:   kind,
		owner:  m.typ,
		target: target,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func manyAccessors[O, R any](m *Mapping[O], r *Relation, get func(*O) []*R, set func(*O, []*R)) {
	if get != nil {
		r.get = func(owner any) []any {
			p, ok := m.ptr(owner)
			if !ok {
				return nil
			}
			items := get(p)
			if items == nil {
				return nil
			}
			out := make([]any, 0, len(items))
			for _, it := range items {
				if it != nil {
					out = append(out, it)
				}
			}
			return out
		}
	}
	if set != nil {
		r.set = func(owner any, related []any) {
			p, ok := m.ptr(owner)
			if !ok {
				return
			}
			items := make([]*R, 0, len(related))
			for _, it := range related {
				if v, ok := it.(*R); ok {
					items = append(items, v)
				}
			}
			set(p, items)
		}
	}
}

func oneAccessors[O, R any](m *Mapping[O], r *Relation, get func(*O) *R, set func(*O, *R)) {
	if get != nil {
		r.get = func(owner any) []any {
			p, ok := m.ptr(owner)
			if !ok {
				return nil
			}
			if v := get(p); v != nil {
				return []any{v}
			}
			return nil
		}
	}
	if set != nil {
		r.set = func(owner any, related []any) {
			p, ok := m.ptr(owner)
			if !ok {
				return
			}
			var v *R
			if len(related) > 0 {
				v, _ = related[0].(*R)
			}
			set(p, v)
		}
	}
}

// HasMany 一对多：foreignKey 是 R 表上引用 O 主键的列
func HasMany[O, R any](m *Mapping[O], name, foreignKey string, get func(*O) []*R, set func(*O, []*R), opts ...RelationOption) *Relation {
	r := newRelation(m, name, OneToMany, TypeOf[R](), opts)
	r.foreignKey = foreignKey
	manyAccessors(m, r, get, set)
	m.addRelation(r)
	return r
}

// HasOne 一对一：foreignKey 是 R 表上引用 O 主键的列
func HasOne[O, R any](m *Mapping[O], name, foreignKey string, get func(*O) *R, set func(*O, *R), opts ...RelationOption) *Relation {
	r := newRelation(m, name, OneToOne, TypeOf[R](), opts)
	r.foreignKey = foreignKey
	oneAccessors(m, r, get, set)
	m.addRelation(r)
	return r
}

// BelongsTo 多对一：foreignKey 是 O 表上引用 R 主键的列
func BelongsTo[O, R any](m *Mapping[O], name, foreignKey string, get func(*O) *R, set func(*O, *R), opts ...RelationOption) *Relation {
	r := newRelation(m, name, ManyToOne, TypeOf[R](), opts)
	r.foreignKey = foreignKey
	oneAccessors(m, r, get, set)
	m.addRelation(r)
	return r
}

// ManyToManyVia 多对多：joinTable(ownerColumn, targetColumn) 记录 O 与 R 的主键对
func ManyToManyVia[O, R any](m *Mapping[O], name, joinTable, ownerColumn, targetColumn string, get func(*O) []*R, set func(*O, []*R), opts ...RelationOption) *Relation {
	r := newRelation(m, name, ManyToMany, TypeOf[R](), opts)
	r.joinTable = joinTable
	r.ownerColumn = ownerColumn
	r.targetColumn = targetColumn
	manyAccessors(m, r, get, set)
	m.addRelation(r)
	return r
}
