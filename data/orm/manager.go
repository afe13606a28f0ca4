package orm

import (
	"context"
	stdErrors "errors"
	"sort"

	core "microorm/data/db"
	"microorm/data/orm/ormcache"
	"microorm/errors"
	"microorm/logging"
)

// IMapperProvider 在给定数据源上注册映射
type IMapperProvider interface {
	Configure(reg *Registry, source *DataSource) error
}

// MapperFunc 函数形式的 IMapperProvider
type MapperFunc func(reg *Registry, source *DataSource) error

func (f MapperFunc) Configure(reg *Registry, source *DataSource) error { return f(reg, source) }

// ISchemaProvider 对需要更新的数据源建表/迁移，mappings 已按 Order 升序
type ISchemaProvider interface {
	Setup(ctx context.Context, mappings []IMapping, query IQueryProvider, source *DataSource) error
}

// ManagerOptions 管理器依赖；Mapper、Query、Schema、Sources 必填，至少一个数据源
type ManagerOptions struct {
	Mapper      IMapperProvider
	Query       IQueryProvider
	Schema      ISchemaProvider
	Sources     ISourceProvider
	DataSources []*DataSource
	Cache       ormcache.IStore
	Logger      logging.Logger
}

// Manager 进程级引导：打开数据源、注册并校验映射、排序、执行建表，随后创建会话。
type Manager struct {
	registry *Registry
	sources  []*DataSource
	query    IQueryProvider
	cache    ormcache.IStore
	base     logging.Logger
	logger   logging.Logger
	opened   map[*DataSource]core.IDatabase
}

// NewManager 启动 ORM。任何配置错误都在此返回，不会推迟到第一次使用。
func NewManager(ctx context.Context, opts ManagerOptions) (*Manager, error) {
	switch {
	case opts.Mapper == nil:
		return nil, errors.NewConfigurationError("orm manager: mapper provider is required")
	case opts.Query == nil:
		return nil, errors.NewConfigurationError("orm manager: query provider is required")
	case opts.Schema == nil:
		return nil, errors.NewConfigurationError("orm manager: schema provider is required")
	case opts.Sources == nil:
		return nil, errors.NewConfigurationError("orm manager: source provider is required")
	case len(opts.DataSources) == 0:
		return nil, errors.NewConfigurationError("orm manager: at least one data source is required")
	}
	for _, ds := range opts.DataSources {
		if ds == nil || ds.Name == "" {
			return nil, errors.NewConfigurationError("orm manager: data source without name")
		}
	}

	logger := logging.ComponentLogger(opts.Logger, "orm.manager")
	cache := opts.Cache
	if cache == nil {
		cache = ormcache.NewMemoryStore(ormcache.MemoryConfig{Logger: opts.Logger})
	}

	sources := make([]*DataSource, len(opts.DataSources))
	copy(sources, opts.DataSources)
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Order < sources[j].Order })

	m := &Manager{
		registry: NewRegistry(opts.Logger),
		sources:  sources,
		query:    opts.Query,
		cache:    cache,
		base:     opts.Logger,
		logger:   logger,
		opened:   make(map[*DataSource]core.IDatabase),
	}

	if err := m.start(ctx, opts); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) start(ctx context.Context, opts ManagerOptions) error {
	bySource := make(map[string][]IMapping, len(m.sources))
	for _, src := range m.sources {
		if src.DB == nil {
			db, err := opts.Sources.Open(ctx, src)
			if err != nil {
				return err
			}
			src.DB = db
			m.opened[src] = db
		}

		if err := opts.Mapper.Configure(m.registry, src); err != nil {
			return errors.WrapConfiguration(err, "configure mappings for %s", src.Name)
		}
		mappings := m.registry.ForSource(src.Name)
		for _, mp := range mappings {
			if err := mp.Validate(); err != nil {
				return err
			}
		}
		bySource[src.Name] = mappings
	}

	if err := OrderMappings(m.sources, bySource); err != nil {
		return err
	}

	for _, src := range m.sources {
		if !src.Update {
			continue
		}
		mappings := SortByOrder(bySource[src.Name])
		if err := opts.Schema.Setup(ctx, mappings, m.query, src); err != nil {
			return err
		}
		m.logger.Info(ctx, "schema ready",
			logging.String("source", src.Name),
			logging.Int("mappings", len(mappings)))
	}
	return nil
}

// Registry 映射注册表
func (m *Manager) Registry() *Registry { return m.registry }

// Sources 按 Order 升序的数据源
func (m *Manager) Sources() []*DataSource {
	out := make([]*DataSource, len(m.sources))
	copy(out, m.sources)
	return out
}

// NewSession 创建共享注册表与缓存的会话
func (m *Manager) NewSession() *Session {
	return NewSession(SessionConfig{
		Registry: m.registry,
		Sources:  m.sources,
		Query:    m.query,
		Cache:    m.cache,
		Logger:   m.base,
	})
}

// Close 清理各数据源的映射并关闭由管理器打开的执行器
func (m *Manager) Close() error {
	var errs []error
	for _, src := range m.sources {
		m.registry.Clear(src.Name)
	}
	for src, db := range m.opened {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		src.DB = nil
		delete(m.opened, src)
	}
	return stdErrors.Join(errs...)
}
