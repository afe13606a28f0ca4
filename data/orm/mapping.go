package orm

import (
	"context"
	stdErrors "errors"
	"fmt"
	"reflect"
	"strings"

	core "microorm/data/db"
	"microorm/data/db/dialect"
	dbsql "microorm/data/db/sql"
	"microorm/errors"
)

// IMapping 与类型无关的映射视图，会话、注册表、排序与建表都通过它访问映射。
//
// 唯一实现是 *Mapping[T]。未绑定执行器的映射只提供元数据与对象访问；
// 执行类方法需要先 Bound。
type IMapping interface {
	Type() reflect.Type
	TypeName() string
	Source() string
	Table() string
	PrimaryKey() string
	AutoIncrement() bool
	ParameterPrefix() string
	Order() int
	Bindings() []Binding
	KeyBinding() (Binding, bool)
	Relations() []*Relation
	Relation(name string) *Relation
	DependsOn() []reflect.Type
	Validate() error

	// 对象访问
	NewObject() (any, error)
	Owns(obj any) bool
	KeyOf(obj any) any
	SetKeyOf(obj any, key any) error
	HasDefaultKey(obj any) bool
	ColumnOf(obj any, column string) (any, bool)
	SetColumn(obj any, column string, v any) (bool, error)
	Load(obj any, row Row) error
	InsertValues(obj any) ([]string, []any, error)

	// 执行
	Bound(exec core.IDatabase, query IQueryProvider) IMapping
	Rows(ctx context.Context, cmd Command) ([]Row, error)
	MergeRows(rows []Row, into []any) ([]any, error)
	Exists(ctx context.Context, key any) (bool, error)
	InsertObject(ctx context.Context, obj any) (any, error)
	UpdateObject(ctx context.Context, obj any) error
	DeleteObject(ctx context.Context, obj any) error
	SaveObject(ctx context.Context, obj any) (inserted bool, err error)

	setOrder(order int)
}

// mappingDef 映射定义，启动期构建，绑定执行器的副本共享同一定义。
type mappingDef struct {
	typ             reflect.Type
	source          string
	table           string
	primaryKey      string
	autoIncrement   bool
	parameterPrefix string
	keyGen          KeyGenerator
	dependsOn       []reflect.Type
	bindings        []Binding
	keyIndex        int
	relations       []*Relation
	order           int
	errs            []error
}

// MappingOption 映射选项
type MappingOption func(*mappingDef)

// AutoIncrement 主键由数据库生成
func AutoIncrement() MappingOption {
	return func(d *mappingDef) { d.autoIncrement = true }
}

// ParameterPrefix 命令文本中 ? 占位符改写为 prefix1、prefix2...
func ParameterPrefix(prefix string) MappingOption {
	return func(d *mappingDef) { d.parameterPrefix = prefix }
}

// WithKeys 主键为默认值时，插入前由 gen 生成主键
func WithKeys(gen KeyGenerator) MappingOption {
	return func(d *mappingDef) { d.keyGen = gen }
}

// DependsOn 声明额外的依赖类型，排序时这些类型排在前面
func DependsOn(types ...reflect.Type) MappingOption {
	return func(d *mappingDef) { d.dependsOn = append(d.dependsOn, types...) }
}

// TypeOf 返回 T 的反射类型，指针会被解引用
func TypeOf[T any]() reflect.Type {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// typeName 缓存键与标签使用的类型名
func typeName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// Mapping 类型 T 到一张表的映射。
//
// 定义方法（Map/MapFunc/MapAll 与关系构造函数）只应在启动期调用；
// 执行方法需要通过 Bind 得到绑定了执行器的副本。
type Mapping[T any] struct {
	*mappingDef

	exec  core.IDatabase
	query IQueryProvider
}

func newMapping[T any](source, table, primaryKey string, opts ...MappingOption) *Mapping[T] {
	def := &mappingDef{
		typ:        TypeOf[T](),
		source:     source,
		table:      table,
		primaryKey: primaryKey,
		keyIndex:   -1,
	}
	for _, opt := range opts {
		opt(def)
	}
	return &Mapping[T]{mappingDef: def}
}

// ptr 将对象转为 *T。接口类型的映射接受任意实现者。
func (m *Mapping[T]) ptr(obj any) (*T, bool) {
	if p, ok := obj.(*T); ok {
		return p, p != nil
	}
	if m.typ.Kind() == reflect.Interface {
		if v, ok := obj.(T); ok {
			return &v, true
		}
	}
	return nil, false
}

// Map 按字段名绑定，支持内嵌结构体提升的字段。
func (m *Mapping[T]) Map(field string, opts ...BindingOption) *Mapping[T] {
	if m.typ.Kind() != reflect.Struct {
		m.errs = append(m.errs, fmt.Errorf("%s: Map(%q) requires a struct type, use MapFunc", m.table, field))
		return m
	}
	sf, ok := m.typ.FieldByName(field)
	if !ok || !sf.IsExported() {
		m.errs = append(m.errs, fmt.Errorf("%s: %s has no exported field %q", m.table, m.typ, field))
		return m
	}
	m.addField(sf, field, opts...)
	return m
}

func (m *Mapping[T]) addField(sf reflect.StructField, column string, opts ...BindingOption) {
	index := sf.Index
	b := Binding{
		Column: column,
		Field:  sf.Name,
		Type:   sf.Type,
		Mode:   ModeBoth,
		get: func(obj any) any {
			p, ok := m.ptr(obj)
			if !ok {
				return nil
			}
			fv := fieldByIndexSafe(reflect.ValueOf(p).Elem(), index)
			if !fv.IsValid() {
				return nil
			}
			return fv.Interface()
		},
		set: func(obj any, v any) error {
			p, ok := m.ptr(obj)
			if !ok {
				return fmt.Errorf("%s: cannot set %s on %T", m.table, sf.Name, obj)
			}
			fv := fieldByIndexAlloc(reflect.ValueOf(p).Elem(), index)
			if err := assignValue(fv, v); err != nil {
				return fmt.Errorf("%s.%s: %w", m.table, sf.Name, err)
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(&b)
	}
	m.addBinding(b)
}

// MapFunc 以访问器函数绑定一列；set 为 nil 时该列只写不读。
func (m *Mapping[T]) MapFunc(column string, get func(*T) any, set func(*T, any) error, opts ...BindingOption) *Mapping[T] {
	if get == nil {
		m.errs = append(m.errs, fmt.Errorf("%s: MapFunc(%q) requires a getter", m.table, column))
		return m
	}
	b := Binding{
		Column: column,
		Field:  column,
		Mode:   ModeBoth,
		get: func(obj any) any {
			p, ok := m.ptr(obj)
			if !ok {
				return nil
			}
			return get(p)
		},
	}
	if set != nil {
		b.set = func(obj any, v any) error {
			p, ok := m.ptr(obj)
			if !ok {
				return fmt.Errorf("%s: cannot set %s on %T", m.table, column, obj)
			}
			return set(p, v)
		}
	} else {
		b.Mode = ModeWrite
	}
	for _, opt := range opts {
		opt(&b)
	}
	if set == nil {
		b.Mode &^= ModeRead
	}
	m.addBinding(b)
	return m
}

// MapAll 绑定所有导出的标量字段。
// 列名依次取 gorm:"column:x"、db、json 标签，缺省为字段名；gorm/db 标签为 "-" 的字段跳过。
func (m *Mapping[T]) MapAll() *Mapping[T] {
	if m.typ.Kind() != reflect.Struct {
		m.errs = append(m.errs, fmt.Errorf("%s: MapAll requires a struct type", m.table))
		return m
	}
	var walk func(t reflect.Type, prefix []int)
	walk = func(t reflect.Type, prefix []int) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			index := append(append([]int(nil), prefix...), i)
			ft := f.Type
			if f.Anonymous {
				if ft.Kind() == reflect.Ptr {
					ft = ft.Elem()
				}
				if ft.Kind() == reflect.Struct && !isScalarDBField(ft) {
					walk(ft, index)
					continue
				}
			}
			if !f.IsExported() || !isScalarDBField(f.Type) {
				continue
			}
			col, auto, skip := parseColumnTag(f)
			if skip {
				continue
			}
			if col == "" {
				col = f.Name
			}
			f.Index = index
			m.addField(f, col)
			if auto && strings.EqualFold(col, m.primaryKey) {
				m.autoIncrement = true
			}
		}
	}
	walk(m.typ, nil)
	return m
}

// addBinding 同名列的新绑定替换旧绑定
func (d *mappingDef) addBinding(b Binding) {
	b.PrimaryKey = strings.EqualFold(b.Column, d.primaryKey)
	for i := range d.bindings {
		if strings.EqualFold(d.bindings[i].Column, b.Column) {
			d.bindings[i] = b
			d.reindexKey()
			return
		}
	}
	d.bindings = append(d.bindings, b)
	d.reindexKey()
}

func (d *mappingDef) reindexKey() {
	d.keyIndex = -1
	for i, b := range d.bindings {
		if b.PrimaryKey {
			d.keyIndex = i
			return
		}
	}
}

func (d *mappingDef) addRelation(r *Relation) {
	for i, existing := range d.relations {
		if existing.name == r.name {
			d.relations[i] = r
			return
		}
	}
	d.relations = append(d.relations, r)
}

func (d *mappingDef) Type() reflect.Type      { return d.typ }
func (d *mappingDef) TypeName() string        { return typeName(d.typ) }
func (d *mappingDef) Source() string          { return d.source }
func (d *mappingDef) Table() string           { return d.table }
func (d *mappingDef) PrimaryKey() string      { return d.primaryKey }
func (d *mappingDef) AutoIncrement() bool     { return d.autoIncrement }
func (d *mappingDef) ParameterPrefix() string { return d.parameterPrefix }
func (d *mappingDef) Order() int              { return d.order }
func (d *mappingDef) setOrder(order int)      { d.order = order }

func (d *mappingDef) Bindings() []Binding {
	out := make([]Binding, len(d.bindings))
	copy(out, d.bindings)
	return out
}

func (d *mappingDef) KeyBinding() (Binding, bool) {
	if d.keyIndex < 0 {
		return Binding{}, false
	}
	return d.bindings[d.keyIndex], true
}

func (d *mappingDef) Relations() []*Relation {
	out := make([]*Relation, len(d.relations))
	copy(out, d.relations)
	return out
}

func (d *mappingDef) Relation(name string) *Relation {
	for _, r := range d.relations {
		if r.name == name {
			return r
		}
	}
	return nil
}

func (d *mappingDef) DependsOn() []reflect.Type {
	out := make([]reflect.Type, len(d.dependsOn))
	copy(out, d.dependsOn)
	return out
}

// Validate 检查映射是否可用：标识符安全、恰好一个主键绑定、关系完整。
func (d *mappingDef) Validate() error {
	errs := append([]error(nil), d.errs...)
	if !dbsql.IsSafeIdentifier(d.table) {
		errs = append(errs, fmt.Errorf("unsafe table name %q", d.table))
	}
	keys := 0
	for _, b := range d.bindings {
		if !dbsql.IsSafeIdentifier(b.Column) {
			errs = append(errs, fmt.Errorf("%s: unsafe column name %q", d.table, b.Column))
		}
		if b.PrimaryKey {
			keys++
		}
	}
	switch {
	case keys == 0:
		errs = append(errs, fmt.Errorf("%s: no binding for primary key %q", d.table, d.primaryKey))
	case keys > 1:
		errs = append(errs, fmt.Errorf("%s: %d bindings for primary key %q", d.table, keys, d.primaryKey))
	}
	for _, r := range d.relations {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.table, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.WrapConfiguration(stdErrors.Join(errs...), "invalid mapping for %s", typeName(d.typ))
}

func (m *Mapping[T]) NewObject() (any, error) {
	if m.typ.Kind() == reflect.Interface {
		return nil, errors.NewConfigurationError("cannot materialize interface type %s", m.typ)
	}
	return new(T), nil
}

func (m *Mapping[T]) Owns(obj any) bool {
	_, ok := m.ptr(obj)
	return ok
}

func (m *Mapping[T]) KeyOf(obj any) any {
	if m.keyIndex < 0 {
		return nil
	}
	return m.bindings[m.keyIndex].Get(obj)
}

func (m *Mapping[T]) SetKeyOf(obj any, key any) error {
	if m.keyIndex < 0 {
		return errors.NewConfigurationError("%s: no primary key binding", m.table)
	}
	return m.bindings[m.keyIndex].Set(obj, key)
}

func (m *Mapping[T]) HasDefaultKey(obj any) bool {
	return isZeroValue(m.KeyOf(obj))
}

func (m *Mapping[T]) ColumnOf(obj any, column string) (any, bool) {
	for _, b := range m.bindings {
		if strings.EqualFold(b.Column, column) {
			return b.Get(obj), true
		}
	}
	return nil, false
}

func (m *Mapping[T]) SetColumn(obj any, column string, v any) (bool, error) {
	for _, b := range m.bindings {
		if strings.EqualFold(b.Column, column) && b.Settable() {
			return true, b.Set(obj, v)
		}
	}
	return false, nil
}

// Load 把行中可读列写入对象，行中没有的列保持不变
func (m *Mapping[T]) Load(obj any, row Row) error {
	for _, b := range m.bindings {
		if !b.Mode.CanRead() || !b.Settable() {
			continue
		}
		v, ok := row.Get(b.Column)
		if !ok {
			continue
		}
		if err := b.Set(obj, v); err != nil {
			return err
		}
	}
	return nil
}

// InsertValues 返回 INSERT 的列与值；自增主键不参与插入
func (m *Mapping[T]) InsertValues(obj any) ([]string, []any, error) {
	if !m.Owns(obj) {
		return nil, nil, errors.NewInvalidArgument("%s: cannot insert %T", m.table, obj)
	}
	var cols []string
	var vals []any
	for _, b := range m.bindings {
		if !b.Mode.CanWrite() || (b.PrimaryKey && m.autoIncrement) {
			continue
		}
		cols = append(cols, b.Column)
		vals = append(vals, b.Get(obj))
	}
	return cols, vals, nil
}

// Bind 返回绑定到 exec 的副本，定义部分与原映射共享
func (m *Mapping[T]) Bind(exec core.IDatabase, query IQueryProvider) *Mapping[T] {
	if query == nil {
		query = DefaultQueryProvider{}
	}
	return &Mapping[T]{mappingDef: m.mappingDef, exec: exec, query: query}
}

func (m *Mapping[T]) Bound(exec core.IDatabase, query IQueryProvider) IMapping {
	return m.Bind(exec, query)
}

func (m *Mapping[T]) bound() (dialect.Dialect, error) {
	if m.exec == nil {
		return dialect.Dialect{}, errors.NewConfigurationError("mapping %s is not bound to an executor", m.table)
	}
	return dialect.FromDatabase(m.exec), nil
}

// Rows 执行查询命令
func (m *Mapping[T]) Rows(ctx context.Context, cmd Command) ([]Row, error) {
	if cmd.IsZero() {
		return nil, errors.NewInvalidArgument("%s: command text is empty", m.table)
	}
	if _, err := m.bound(); err != nil {
		return nil, err
	}
	return cmd.Query(ctx, m.exec, m.parameterPrefix)
}

// MergeRows 按主键把行合并进 into：已存在的对象就地更新，否则追加新对象。
func (m *Mapping[T]) MergeRows(rows []Row, into []any) ([]any, error) {
	index := make(map[string]int, len(into))
	for i, obj := range into {
		index[keyString(m.KeyOf(obj))] = i
	}
	for _, row := range rows {
		key, _ := row.Get(m.primaryKey)
		if i, ok := index[keyString(key)]; ok && key != nil {
			if err := m.Load(into[i], row); err != nil {
				return nil, err
			}
			continue
		}
		obj, err := m.NewObject()
		if err != nil {
			return nil, err
		}
		if err := m.Load(obj, row); err != nil {
			return nil, err
		}
		if key != nil {
			index[keyString(key)] = len(into)
		}
		into = append(into, obj)
	}
	return into, nil
}

// Exists 按主键探测行是否存在
func (m *Mapping[T]) Exists(ctx context.Context, key any) (bool, error) {
	d, err := m.bound()
	if err != nil {
		return false, err
	}
	rows, err := m.Rows(ctx, m.query.Select(d, m, Eq(m.primaryKey, key), Top(1)))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// InsertObject 插入对象并返回主键（已转换为主键字段类型）。
// 自增主键会回写到对象上；配置了 KeyGenerator 且主键为默认值时先生成主键。
func (m *Mapping[T]) InsertObject(ctx context.Context, obj any) (any, error) {
	if !m.Owns(obj) {
		return nil, errors.NewInvalidArgument("%s: cannot insert %T", m.table, obj)
	}
	d, err := m.bound()
	if err != nil {
		return nil, err
	}
	if !m.autoIncrement && m.keyGen != nil && m.HasDefaultKey(obj) {
		key, err := m.keyGen()
		if err != nil {
			return nil, err
		}
		if err := m.SetKeyOf(obj, key); err != nil {
			return nil, err
		}
	}

	cmd := m.query.Insert(d, m, obj)
	if !m.autoIncrement {
		if _, err := cmd.Exec(ctx, m.exec, m.parameterPrefix); err != nil {
			return nil, err
		}
		return m.KeyOf(obj), nil
	}

	var id any
	switch strategy, _ := d.Identity(m.primaryKey); strategy {
	case dialect.IdentityLastInsertID:
		res, err := cmd.Exec(ctx, m.exec, m.parameterPrefix)
		if err != nil {
			return nil, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	default:
		row := m.exec.QueryRow(ctx, cmd.Render(d, m.parameterPrefix), cmd.Values()...)
		if err := row.Scan(&id); err != nil {
			return nil, err
		}
	}
	if err := m.SetKeyOf(obj, id); err != nil {
		return nil, err
	}
	return m.KeyOf(obj), nil
}

// UpdateObject 按主键更新所有可写的非主键列
func (m *Mapping[T]) UpdateObject(ctx context.Context, obj any) error {
	if !m.Owns(obj) {
		return errors.NewInvalidArgument("%s: cannot update %T", m.table, obj)
	}
	d, err := m.bound()
	if err != nil {
		return err
	}
	cmd := m.query.Update(d, m, obj)
	if cmd.IsZero() {
		return nil
	}
	_, err = cmd.Exec(ctx, m.exec, m.parameterPrefix)
	return err
}

// DeleteObject 按主键删除
func (m *Mapping[T]) DeleteObject(ctx context.Context, obj any) error {
	if !m.Owns(obj) {
		return errors.NewInvalidArgument("%s: cannot delete %T", m.table, obj)
	}
	d, err := m.bound()
	if err != nil {
		return err
	}
	_, err = m.query.Delete(d, m, obj).Exec(ctx, m.exec, m.parameterPrefix)
	return err
}

// SaveObject 插入或更新：
//  1. 主键为默认值：插入并回写主键；
//  2. 自增映射：更新；
//  3. 否则按主键探测，不存在则插入，存在则更新。
func (m *Mapping[T]) SaveObject(ctx context.Context, obj any) (bool, error) {
	if !m.Owns(obj) {
		return false, errors.NewInvalidArgument("%s: cannot save %T", m.table, obj)
	}
	if m.HasDefaultKey(obj) {
		_, err := m.InsertObject(ctx, obj)
		return err == nil, err
	}
	if m.autoIncrement {
		return false, m.UpdateObject(ctx, obj)
	}
	exists, err := m.Exists(ctx, m.KeyOf(obj))
	if err != nil {
		return false, err
	}
	if !exists {
		_, err := m.InsertObject(ctx, obj)
		return err == nil, err
	}
	return false, m.UpdateObject(ctx, obj)
}

// All 执行查询并按主键合并进 into
func (m *Mapping[T]) All(ctx context.Context, cmd Command, into []*T) ([]*T, error) {
	rows, err := m.Rows(ctx, cmd)
	if err != nil {
		return nil, err
	}
	objs := make([]any, len(into))
	for i, o := range into {
		objs[i] = o
	}
	merged, err := m.MergeRows(rows, objs)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(merged))
	for i, o := range merged {
		out[i] = o.(*T)
	}
	return out, nil
}

// Any 执行查询并返回第一行对应的对象
func (m *Mapping[T]) Any(ctx context.Context, cmd Command) (*T, bool, error) {
	rows, err := m.Rows(ctx, cmd)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	obj := new(T)
	if err := m.Load(obj, rows[0]); err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

func (m *Mapping[T]) Insert(ctx context.Context, obj *T) (any, error) {
	if obj == nil {
		return nil, errors.NewInvalidArgument("%s: object to insert is nil", m.table)
	}
	return m.InsertObject(ctx, obj)
}

func (m *Mapping[T]) Update(ctx context.Context, obj *T) error {
	if obj == nil {
		return errors.NewInvalidArgument("%s: object to update is nil", m.table)
	}
	return m.UpdateObject(ctx, obj)
}

func (m *Mapping[T]) Delete(ctx context.Context, obj *T) error {
	if obj == nil {
		return errors.NewInvalidArgument("%s: object to delete is nil", m.table)
	}
	return m.DeleteObject(ctx, obj)
}

func (m *Mapping[T]) Save(ctx context.Context, obj *T) error {
	if obj == nil {
		return errors.NewInvalidArgument("%s: object to save is nil", m.table)
	}
	_, err := m.SaveObject(ctx, obj)
	return err
}

func (d *mappingDef) keyGenerator() KeyGenerator { return d.keyGen }
