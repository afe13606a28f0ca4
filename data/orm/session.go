package orm

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/google/uuid"

	core "microorm/data/db"
	"microorm/data/db/dialect"
	"microorm/data/orm/ormcache"
	"microorm/errors"
	"microorm/logging"
)

// SessionConfig 会话依赖
type SessionConfig struct {
	Registry *Registry
	Sources  []*DataSource
	Query    IQueryProvider
	Cache    ormcache.IStore
	Logger   logging.Logger
}

// Session 请求级门面：读操作走缓存并合并多数据源结果，写操作级联并维护中间表。
//
// Session 自身不持有连接，每次写操作在各数据源上开启并释放一个事务。
// 泛型操作以包级函数提供：All、Any、Paged、PageCount、Save、Delete、
// LoadProperty、LoadProperties、InsertAll。
type Session struct {
	id       string
	registry *Registry
	sources  []*DataSource
	query    IQueryProvider
	cache    ormcache.IStore
	logger   logging.Logger
}

// NewSession 创建会话；Cache 为 nil 时使用进程内缓存，Query 为 nil 时使用默认生成器
func NewSession(cfg SessionConfig) *Session {
	sources := make([]*DataSource, len(cfg.Sources))
	copy(sources, cfg.Sources)
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Order < sources[j].Order })

	if cfg.Query == nil {
		cfg.Query = DefaultQueryProvider{}
	}
	if cfg.Cache == nil {
		cfg.Cache = ormcache.NewMemoryStore(ormcache.MemoryConfig{})
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(cfg.Logger)
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		registry: cfg.Registry,
		sources:  sources,
		query:    cfg.Query,
		cache:    cfg.Cache,
		logger:   logging.ComponentLogger(cfg.Logger, "orm.session").WithFields(logging.String("session_id", id)),
	}
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// Registry 会话使用的映射注册表
func (s *Session) Registry() *Registry { return s.registry }

// readMapping 第一个持有该类型映射的可读数据源上的映射
func (s *Session) readMapping(typ reflect.Type) (IMapping, error) {
	for _, src := range s.sources {
		if !src.Readable {
			continue
		}
		if m, ok := s.registry.Get(typ, src.Name); ok {
			return m, nil
		}
	}
	return nil, errors.NewConfigurationError("no readable data source maps %s", typeName(typ))
}

// MappingOf 读操作使用的映射：第一个持有该类型映射的可读数据源上的映射
func (s *Session) MappingOf(typ reflect.Type) (IMapping, error) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return s.readMapping(typ)
}

// targetMapping 级联时关联类型必须在同一数据源上有映射
func (s *Session) targetMapping(rel *Relation, source string) IMapping {
	m, ok := s.registry.Get(rel.Target(), source)
	if !ok {
		panic(fmt.Sprintf("orm: relation %s targets %s which has no mapping on source %s",
			rel.Name(), typeName(rel.Target()), source))
	}
	return m
}

type commandBuilder func(d dialect.Dialect, m IMapping) Command

// readRows 缓存命中直接返回；否则依次读取每个持有映射的可读数据源并按主键合并。
func (s *Session) readRows(ctx context.Context, typ reflect.Type, op, params string, tags []string, build commandBuilder) ([]Row, error) {
	key := typeName(typ) + "|" + op + "|" + params
	if cached, ok := s.cache.Get(ctx, key); ok {
		s.logger.Debug(ctx, "cache hit", logging.String("key", key))
		return fromCache(cached), nil
	}

	var merged []Row
	index := make(map[string]int)
	read := 0
	for _, src := range s.sources {
		if !src.Readable {
			continue
		}
		m, ok := s.registry.Get(typ, src.Name)
		if !ok {
			continue
		}
		if src.DB == nil {
			return nil, errors.NewConfigurationError("data source %s is not open", src.Name)
		}
		read++
		rows, err := m.Bound(src.DB, s.query).Rows(ctx, build(dialect.FromDatabase(src.DB), m))
		if err != nil {
			return nil, err
		}
		merged = mergeRows(merged, index, rows, m.PrimaryKey())
	}
	if read == 0 {
		return nil, errors.NewConfigurationError("no readable data source maps %s", typeName(typ))
	}

	if len(tags) == 0 {
		tags = []string{typeName(typ)}
	}
	s.cache.Set(ctx, key, toCache(merged), tags...)
	return merged, nil
}

// mergeRows 主键相同的行合并为一行（后读到的列覆盖先读到的）；
// 多对多加载的行以 (__owner, 主键) 为键，没有主键的行直接追加。
func mergeRows(into []Row, index map[string]int, rows []Row, pk string) []Row {
	for _, row := range rows {
		key, ok := row.Get(pk)
		if !ok || key == nil {
			into = append(into, row)
			continue
		}
		k := keyString(key)
		if owner, ok := row[OwnerColumn]; ok {
			k = keyString(owner) + "\x00" + k
		}
		if i, ok := index[k]; ok {
			row.CopyTo(into[i])
			continue
		}
		index[k] = len(into)
		into = append(into, row)
	}
	return into
}

func toCache(rows []Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r.Clone())
	}
	return out
}

func fromCache(rows []map[string]any) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r).Clone()
	}
	return out
}

func convertRows[T any](m IMapping, rows []Row) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		obj := new(T)
		if err := m.Load(obj, row); err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// All 读取满足参数的所有对象
func All[T any](ctx context.Context, s *Session, params ...IParameter) ([]*T, error) {
	if err := CheckParams(params); err != nil {
		return nil, err
	}
	typ := TypeOf[T]()
	m, err := s.readMapping(typ)
	if err != nil {
		return nil, err
	}
	rows, err := s.readRows(ctx, typ, "All", ParamsKey(params), nil, func(d dialect.Dialect, m IMapping) Command {
		return s.query.Select(d, m, params...)
	})
	if err != nil {
		return nil, err
	}
	return convertRows[T](m, rows)
}

// Any 返回满足参数的第一个对象
func Any[T any](ctx context.Context, s *Session, params ...IParameter) (*T, bool, error) {
	if err := CheckParams(params); err != nil {
		return nil, false, err
	}
	typ := TypeOf[T]()
	m, err := s.readMapping(typ)
	if err != nil {
		return nil, false, err
	}
	withTop := append(append([]IParameter(nil), params...), Top(1))
	rows, err := s.readRows(ctx, typ, "Any", ParamsKey(params), nil, func(d dialect.Dialect, m IMapping) Command {
		return s.query.Select(d, m, withTop...)
	})
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	objs, err := convertRows[T](m, rows[:1])
	if err != nil {
		return nil, false, err
	}
	return objs[0], true, nil
}

// Paged 读取第 page 页（从 0 开始），每页 size 条
func Paged[T any](ctx context.Context, s *Session, page, size int, params ...IParameter) ([]*T, error) {
	if page < 0 || size <= 0 {
		return nil, errors.NewInvalidArgument("invalid page %d or size %d", page, size)
	}
	if err := CheckParams(params); err != nil {
		return nil, err
	}
	typ := TypeOf[T]()
	m, err := s.readMapping(typ)
	if err != nil {
		return nil, err
	}
	op := "Paged(" + strconv.Itoa(page) + "," + strconv.Itoa(size) + ")"
	rows, err := s.readRows(ctx, typ, op, ParamsKey(params), nil, func(d dialect.Dialect, m IMapping) Command {
		return s.query.Paged(d, m, page, size, params...)
	})
	if err != nil {
		return nil, err
	}
	return convertRows[T](m, rows)
}

// PageCount 返回页数 ceil(total/size)。
// 多个数据源时 total 取各数据源计数的最大值：各数据源的行按主键合并，复制的行不重复计数。
func PageCount[T any](ctx context.Context, s *Session, size int, params ...IParameter) (int, error) {
	if size <= 0 {
		return 0, errors.NewInvalidArgument("invalid page size %d", size)
	}
	if err := CheckParams(params); err != nil {
		return 0, err
	}
	typ := TypeOf[T]()
	rows, err := s.readRows(ctx, typ, "Count", ParamsKey(params), nil, func(d dialect.Dialect, m IMapping) Command {
		return s.query.Count(d, m, params...)
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, row := range rows {
		v, _ := row.Get(CountColumn)
		n, err := convertTo(v, reflect.TypeOf(int64(0)))
		if err != nil {
			return 0, err
		}
		if c := n.(int64); c > total {
			total = c
		}
	}
	return int((total + int64(size) - 1) / int64(size)), nil
}

// Save 保存对象及其级联关系
func Save[T any](ctx context.Context, s *Session, obj *T) error {
	if obj == nil {
		return errors.NewInvalidArgument("object to save is nil")
	}
	return s.Save(ctx, obj)
}

// Delete 删除对象及其级联关系
func Delete[T any](ctx context.Context, s *Session, obj *T) error {
	if obj == nil {
		return errors.NewInvalidArgument("object to delete is nil")
	}
	return s.Delete(ctx, obj)
}

// Save 非泛型入口，obj 必须是已映射类型的指针（或接口映射的实现者）
func (s *Session) Save(ctx context.Context, obj any) error {
	if isNil(obj) {
		return errors.NewInvalidArgument("object to save is nil")
	}
	return s.write(ctx, reflect.TypeOf(obj), func(w *writer, m IMapping) error {
		return w.save(ctx, m, obj)
	})
}

// Delete 非泛型入口
func (s *Session) Delete(ctx context.Context, obj any) error {
	if isNil(obj) {
		return errors.NewInvalidArgument("object to delete is nil")
	}
	return s.write(ctx, reflect.TypeOf(obj), func(w *writer, m IMapping) error {
		return w.delete(ctx, m, obj)
	})
}

// write 先失效所有可能被写入类型的缓存标签，再在每个可写数据源上以事务执行 fn。
func (s *Session) write(ctx context.Context, typ reflect.Type, fn func(w *writer, m IMapping) error) error {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	s.cache.InvalidateTags(ctx, s.writtenTypes(typ)...)

	wrote := false
	var saved []any
	for _, src := range s.sources {
		if !src.Writable {
			continue
		}
		m, ok := s.registry.Get(typ, src.Name)
		if !ok {
			continue
		}
		if src.DB == nil {
			return errors.NewConfigurationError("data source %s is not open", src.Name)
		}
		w, err := s.begin(ctx, src)
		if err != nil {
			return err
		}
		if err := w.run(ctx, func() error { return fn(w, m) }); err != nil {
			s.logger.Warn(ctx, "write rolled back",
				logging.String("source", src.Name),
				logging.String("type", typeName(typ)),
				logging.Error(err))
			return err
		}
		saved = append(saved, w.saved...)
		wrote = true
	}
	if !wrote {
		return errors.NewConfigurationError("no writable data source maps %s", typeName(typ))
	}
	// 所有数据源都写入后才清空变更记录，后面的数据源仍需要据此级联
	for _, o := range saved {
		if r, ok := o.(IChangeResetter); ok {
			r.ResetChanges()
		}
	}
	return nil
}

// writtenTypes 根类型及其级联可达的所有类型名
func (s *Session) writtenTypes(root reflect.Type) []string {
	seen := map[reflect.Type]bool{root: true}
	queue := []reflect.Type{root}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, src := range s.sources {
			m, ok := s.registry.Get(t, src.Name)
			if !ok {
				continue
			}
			for _, rel := range m.Relations() {
				if !seen[rel.Target()] && (rel.Cascades() || rel.JoinsSave()) {
					seen[rel.Target()] = true
					queue = append(queue, rel.Target())
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, typeName(t))
	}
	sort.Strings(out)
	return out
}

// writer 一次写操作在一个数据源上的状态
type writer struct {
	s     *Session
	src   *DataSource
	tx    core.ITransaction
	d     dialect.Dialect
	batch *Batch
	seen  seenSet
	saved []any
}

func (s *Session) begin(ctx context.Context, src *DataSource) (*writer, error) {
	tx, err := src.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &writer{
		s:     s,
		src:   src,
		tx:    tx,
		d:     dialect.FromDatabase(src.DB),
		batch: NewBatch(),
		seen:  make(seenSet),
	}, nil
}

// run 执行 fn，冲刷批次并提交；任一步失败时回滚
func (w *writer) run(ctx context.Context, fn func() error) error {
	committed := false
	defer func() {
		if !committed {
			_ = w.tx.Rollback()
		}
	}()
	if err := fn(); err != nil {
		return err
	}
	if err := w.batch.Flush(ctx, w.tx); err != nil {
		return err
	}
	if err := w.tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (w *writer) bind(m IMapping) IMapping { return m.Bound(w.tx, w.s.query) }

// save 三个阶段：
//  1. 多对一父对象与级联的多对多目标先写入，并用父对象主键填充外键；
//  2. 写入对象本身；
//  3. 一对多/一对一子对象获得外键后级联写入；变化的多对多关系先删后插中间表行。
func (w *writer) save(ctx context.Context, m IMapping, obj any) error {
	if !w.seen.visit(obj) {
		return nil
	}
	changed := changeFilter(obj)

	for _, rel := range m.Relations() {
		if !rel.SavesBeforeOwner() {
			continue
		}
		related := rel.Related(obj)
		if len(related) == 0 {
			continue
		}
		tm := w.s.targetMapping(rel, w.src.Name)
		for _, r := range related {
			if rel.Cascades() && changed(rel) {
				if err := w.save(ctx, tm, r); err != nil {
					return err
				}
			}
			if rel.FillsOwnerKey() && !tm.HasDefaultKey(r) {
				if _, err := m.SetColumn(obj, rel.ForeignKey(), tm.KeyOf(r)); err != nil {
					return err
				}
			}
		}
	}

	if _, err := w.bind(m).SaveObject(ctx, obj); err != nil {
		return err
	}
	w.saved = append(w.saved, obj)
	ownerKey := m.KeyOf(obj)

	for _, rel := range m.Relations() {
		switch {
		case rel.SavesAfterOwner():
			if !rel.Cascades() || !changed(rel) {
				continue
			}
			related := rel.Related(obj)
			if len(related) == 0 {
				continue
			}
			tm := w.s.targetMapping(rel, w.src.Name)
			for _, child := range related {
				if rel.FillsTargetKey() {
					if _, err := tm.SetColumn(child, rel.ForeignKey(), ownerKey); err != nil {
						return err
					}
				}
				if err := w.save(ctx, tm, child); err != nil {
					return err
				}
			}
		case rel.JoinsSave():
			if !changed(rel) {
				continue
			}
			tm := w.s.targetMapping(rel, w.src.Name)
			w.batch.Add(w.s.query.JoinDelete(w.d, rel, ownerKey).Rendered(w.d, m.ParameterPrefix()))
			for _, r := range rel.Related(obj) {
				if tm.HasDefaultKey(r) {
					w.s.logger.Warn(ctx, "skip join row for unsaved object",
						logging.String("relation", rel.Name()),
						logging.String("type", tm.TypeName()))
					continue
				}
				w.batch.Add(w.s.query.JoinInsert(w.d, rel, ownerKey, tm.KeyOf(r)).Rendered(w.d, m.ParameterPrefix()))
			}
		}
	}
	return nil
}

// delete 顺序：中间表行、级联的子对象/关联对象、对象本身、级联的多对一父对象。
func (w *writer) delete(ctx context.Context, m IMapping, obj any) error {
	if !w.seen.visit(obj) {
		return nil
	}
	ownerKey := m.KeyOf(obj)

	for _, rel := range m.Relations() {
		if rel.JoinsDelete() {
			w.batch.Add(w.s.query.JoinDelete(w.d, rel, ownerKey).Rendered(w.d, m.ParameterPrefix()))
		}
	}
	if err := w.batch.Flush(ctx, w.tx); err != nil {
		return err
	}

	for _, rel := range m.Relations() {
		if !rel.Cascades() || !rel.DeletesBeforeOwner() {
			continue
		}
		if err := w.deleteRelated(ctx, rel, obj); err != nil {
			return err
		}
	}

	if err := w.bind(m).DeleteObject(ctx, obj); err != nil {
		return err
	}

	for _, rel := range m.Relations() {
		if !rel.Cascades() || !rel.DeletesAfterOwner() {
			continue
		}
		if err := w.deleteRelated(ctx, rel, obj); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) deleteRelated(ctx context.Context, rel *Relation, owner any) error {
	related := rel.Related(owner)
	if len(related) == 0 {
		return nil
	}
	tm := w.s.targetMapping(rel, w.src.Name)
	for _, r := range related {
		if err := w.delete(ctx, tm, r); err != nil {
			return err
		}
	}
	return nil
}

// InsertAll 批量插入。执行器实现 IBulkCopier 时整批写入，否则逐行插入；
// 批量写入不回写数据库生成的主键。返回各数据源写入行数之和。
func InsertAll[T any](ctx context.Context, s *Session, objs []*T) (int64, error) {
	items := make([]any, 0, len(objs))
	for _, o := range objs {
		if o == nil {
			return 0, errors.NewInvalidArgument("InsertAll: nil object in batch")
		}
		items = append(items, o)
	}
	if len(items) == 0 {
		return 0, nil
	}
	typ := TypeOf[T]()
	s.cache.InvalidateTags(ctx, typeName(typ))

	var total int64
	for _, src := range s.sources {
		if !src.Writable {
			continue
		}
		m, ok := s.registry.Get(typ, src.Name)
		if !ok {
			continue
		}
		if src.DB == nil {
			return total, errors.NewConfigurationError("data source %s is not open", src.Name)
		}
		n, err := s.insertAll(ctx, src, m, items)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Session) insertAll(ctx context.Context, src *DataSource, m IMapping, items []any) (int64, error) {
	if bc, ok := src.DB.(core.IBulkCopier); ok {
		var cols []string
		rows := make([][]any, 0, len(items))
		for _, obj := range items {
			if err := assignGeneratedKey(m, obj); err != nil {
				return 0, err
			}
			c, vals, err := m.InsertValues(obj)
			if err != nil {
				return 0, err
			}
			cols = c
			rows = append(rows, vals)
		}
		return bc.BulkInsert(ctx, m.Table(), cols, rows)
	}

	w, err := s.begin(ctx, src)
	if err != nil {
		return 0, err
	}
	var n int64
	err = w.run(ctx, func() error {
		bound := w.bind(m)
		for _, obj := range items {
			if _, err := bound.InsertObject(ctx, obj); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// assignGeneratedKey 批量写入前为默认主键生成客户端主键
func assignGeneratedKey(m IMapping, obj any) error {
	mk, ok := m.(interface{ keyGenerator() KeyGenerator })
	if !ok || m.AutoIncrement() || !m.HasDefaultKey(obj) {
		return nil
	}
	gen := mk.keyGenerator()
	if gen == nil {
		return nil
	}
	key, err := gen()
	if err != nil {
		return err
	}
	return m.SetKeyOf(obj, key)
}

// LoadProperty 延迟加载单个对象的关联属性
func LoadProperty[T any](ctx context.Context, s *Session, owner *T, name string) error {
	if owner == nil {
		return errors.NewInvalidArgument("owner is nil")
	}
	return LoadProperties(ctx, s, []*T{owner}, name)
}

// LoadProperties 一次加载多个对象的同名关联属性。
// 关系配置了 LoadWith 时使用其命令，否则以拥有方主键（或外键）构造 OR 条件读取目标类型，
// 再把结果按键分配回每个拥有方。
func LoadProperties[T any](ctx context.Context, s *Session, owners []*T, name string) error {
	items := make([]any, 0, len(owners))
	for _, o := range owners {
		if o != nil {
			items = append(items, o)
		}
	}
	if len(items) == 0 {
		return nil
	}
	return s.loadProperty(ctx, TypeOf[T](), items, name)
}

func (s *Session) loadProperty(ctx context.Context, ownerType reflect.Type, owners []any, name string) error {
	om, err := s.readMapping(ownerType)
	if err != nil {
		return err
	}
	rel := om.Relation(name)
	if rel == nil {
		return errors.NewInvalidArgument("%s has no relation %q", typeName(ownerType), name)
	}
	tm, err := s.readMapping(rel.Target())
	if err != nil {
		return err
	}

	// 用于构造条件的键：多对一取拥有方外键，其余取拥有方主键
	var keys []any
	seen := make(map[string]bool)
	for _, o := range owners {
		var k any
		if rel.Kind() == ManyToOne {
			k, _ = om.ColumnOf(o, rel.ForeignKey())
		} else {
			k = om.KeyOf(o)
		}
		if isZeroValue(k) || seen[keyString(k)] {
			continue
		}
		seen[keyString(k)] = true
		keys = append(keys, k)
	}

	var build commandBuilder
	var params string
	switch {
	case rel.HasLoadQuery():
		cmd := rel.LoadQuery(owners)
		build = func(dialect.Dialect, IMapping) Command { return cmd }
		params = "cmd:" + strconv.FormatUint(cmd.Hash(), 16)
	case len(keys) == 0:
		for _, o := range owners {
			rel.Assign(o, nil)
		}
		return nil
	case rel.Kind() == ManyToMany:
		build = func(d dialect.Dialect, m IMapping) Command { return s.query.JoinSelect(d, rel, m, keys) }
		params = AnyOf(rel.OwnerColumn(), keys...).Key()
	case rel.Kind() == ManyToOne:
		p := AnyOf(tm.PrimaryKey(), keys...)
		build = func(d dialect.Dialect, m IMapping) Command { return s.query.Select(d, m, p) }
		params = p.Key()
	default:
		p := AnyOf(rel.ForeignKey(), keys...)
		build = func(d dialect.Dialect, m IMapping) Command { return s.query.Select(d, m, p) }
		params = p.Key()
	}

	op := "Load." + typeName(ownerType) + "." + name
	tags := []string{typeName(rel.Target()), typeName(ownerType)}
	rows, err := s.readRows(ctx, rel.Target(), op, params, tags, build)
	if err != nil {
		return err
	}
	return assignRelated(om, tm, rel, owners, rows)
}

// assignRelated 把目标行按键分组后写回拥有方；同一主键的目标对象只实例化一次
func assignRelated(om, tm IMapping, rel *Relation, owners []any, rows []Row) error {
	objects := make(map[string]any)
	groups := make(map[string][]any)
	for _, row := range rows {
		pk, _ := row.Get(tm.PrimaryKey())
		obj, ok := objects[keyString(pk)]
		if !ok {
			created, err := tm.NewObject()
			if err != nil {
				return err
			}
			if err := tm.Load(created, row); err != nil {
				return err
			}
			obj = created
			if pk != nil {
				objects[keyString(pk)] = obj
			}
		}

		var group any
		switch rel.Kind() {
		case ManyToMany:
			group, _ = row.Get(OwnerColumn)
		case ManyToOne:
			group = pk
		default:
			group, _ = row.Get(rel.ForeignKey())
		}
		gk := keyString(group)
		groups[gk] = append(groups[gk], obj)
	}

	for _, o := range owners {
		var k any
		if rel.Kind() == ManyToOne {
			k, _ = om.ColumnOf(o, rel.ForeignKey())
		} else {
			k = om.KeyOf(o)
		}
		rel.Assign(o, groups[keyString(k)])
	}
	return nil
}
