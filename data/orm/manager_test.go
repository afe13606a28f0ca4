package orm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "microorm/data/db/drivers"
	"microorm/data/orm"
	"microorm/data/orm/schema"
	"microorm/errors"
)

type Author struct {
	ID    int64
	Name  string
	Books []*Book
}

type Book struct {
	ID       int64
	AuthorID int64
	Title    string
}

func libraryMapper() orm.MapperFunc {
	return func(reg *orm.Registry, src *orm.DataSource) error {
		authors := orm.Map[Author](reg, src.Name, "Authors", "ID", orm.AutoIncrement()).MapAll()
		orm.HasMany(authors, "Books", "AuthorID",
			func(a *Author) []*Book { return a.Books },
			func(a *Author, v []*Book) { a.Books = v },
			orm.Cascade())
		orm.Map[Book](reg, src.Name, "Books", "ID", orm.AutoIncrement()).MapAll()
		return nil
	}
}

func memorySource() *orm.DataSource {
	return &orm.DataSource{
		Name:         "main",
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		Readable:     true,
		Writable:     true,
		Update:       true,
	}
}

func managerOptions(src *orm.DataSource) orm.ManagerOptions {
	return orm.ManagerOptions{
		Mapper:      libraryMapper(),
		Query:       orm.DefaultQueryProvider{},
		Schema:      schema.NewProvider(nil),
		Sources:     orm.NewBasicSourceProvider(nil),
		DataSources: []*orm.DataSource{src},
	}
}

func TestManager_StartAndUse(t *testing.T) {
	ctx := context.Background()
	src := memorySource()
	m, err := orm.NewManager(ctx, managerOptions(src))
	require.NoError(t, err)
	require.NotNil(t, src.DB)

	mappings := orm.SortByOrder(m.Registry().ForSource("main"))
	require.Len(t, mappings, 2)
	assert.Equal(t, "Authors", mappings[0].Table())
	assert.Equal(t, 1, mappings[0].Order())
	assert.Equal(t, "Books", mappings[1].Table())

	s := m.NewSession()
	a := &Author{Name: "le guin", Books: []*Book{{Title: "the dispossessed"}, {Title: "lathe of heaven"}}}
	require.NoError(t, orm.Save(ctx, s, a))

	// 另一个会话共享注册表与缓存
	other := m.NewSession()
	assert.NotEqual(t, s.ID(), other.ID())
	authors, err := orm.All[Author](ctx, other)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	require.NoError(t, orm.LoadProperty(ctx, other, authors[0], "Books"))
	assert.Len(t, authors[0].Books, 2)

	require.NoError(t, m.Close())
	assert.Nil(t, src.DB)
	assert.Empty(t, m.Registry().ForSource("main"))
}

func TestManager_RequiresProviders(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(o *orm.ManagerOptions){
		"mapper":  func(o *orm.ManagerOptions) { o.Mapper = nil },
		"query":   func(o *orm.ManagerOptions) { o.Query = nil },
		"schema":  func(o *orm.ManagerOptions) { o.Schema = nil },
		"sources": func(o *orm.ManagerOptions) { o.Sources = nil },
		"data":    func(o *orm.ManagerOptions) { o.DataSources = nil },
		"name":    func(o *orm.ManagerOptions) { o.DataSources = []*orm.DataSource{{}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := managerOptions(memorySource())
			mutate(&opts)
			_, err := orm.NewManager(ctx, opts)
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestManager_InvalidMappingClosesSources(t *testing.T) {
	src := memorySource()
	opts := managerOptions(src)
	opts.Mapper = orm.MapperFunc(func(reg *orm.Registry, src *orm.DataSource) error {
		orm.Map[Book](reg, src.Name, "Books", "BookID").MapAll()
		return nil
	})

	_, err := orm.NewManager(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Nil(t, src.DB)
}

func TestManager_UnknownDriver(t *testing.T) {
	src := memorySource()
	src.Driver = "nope"
	_, err := orm.NewManager(context.Background(), managerOptions(src))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestManager_SkipsSchemaWithoutUpdate(t *testing.T) {
	src := memorySource()
	src.Update = false
	m, err := orm.NewManager(context.Background(), managerOptions(src))
	require.NoError(t, err)
	defer m.Close()

	_, err = orm.All[Author](context.Background(), m.NewSession())
	assert.Error(t, err)
}
