package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "microorm/data/db"
	"microorm/data/db/basic"
	"microorm/data/db/dialect"
	_ "microorm/data/db/drivers"
	"microorm/data/orm"
	"microorm/logging"
)

type customer struct {
	ID   int64
	Name string
}

type tag struct {
	ID    string
	Label string
}

type post struct {
	ID         int64
	CustomerID int64
	Title      string
	Tags       []*tag
}

func openSQLite(t *testing.T) *orm.DataSource {
	t.Helper()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &orm.DataSource{Name: "main", Driver: "sqlite", Writable: true, Readable: true, Update: true, DB: db}
}

func blogMappings() *orm.Registry {
	reg := orm.NewRegistry(logging.NewNoopLogger())
	orm.Map[customer](reg, "main", "Customers", "ID", orm.AutoIncrement()).MapAll()
	orm.Map[tag](reg, "main", "Tags", "ID").MapAll()
	posts := orm.Map[post](reg, "main", "Posts", "ID", orm.AutoIncrement()).MapAll()
	orm.ManyToManyVia(posts, "Tags", "PostTags", "PostID", "TagID",
		func(p *post) []*tag { return p.Tags },
		func(p *post, tags []*tag) { p.Tags = tags })
	return reg
}

func columnsOf(t *testing.T, db core.IDatabase, table string) map[string]bool {
	t.Helper()
	cols, err := existingColumns(context.Background(), db, dialect.New("sqlite"), table)
	require.NoError(t, err)
	return cols
}

func TestSetup_CreatesTablesAndJoinTable(t *testing.T) {
	ctx := context.Background()
	src := openSQLite(t)
	reg := blogMappings()
	p := NewProvider(logging.NewNoopLogger())

	require.NoError(t, p.Setup(ctx, reg.ForSource("main"), orm.DefaultQueryProvider{}, src))

	assert.Equal(t, map[string]bool{"id": true, "name": true}, columnsOf(t, src.DB, "Customers"))
	assert.Equal(t, map[string]bool{"id": true, "customerid": true, "title": true}, columnsOf(t, src.DB, "Posts"))
	assert.Equal(t, map[string]bool{"postid": true, "tagid": true}, columnsOf(t, src.DB, "PostTags"))

	_, err := src.DB.Exec(ctx, `INSERT INTO "PostTags" ("PostID", "TagID") VALUES (?, ?)`, 1, "go")
	require.NoError(t, err)
	_, err = src.DB.Exec(ctx, `INSERT INTO "PostTags" ("PostID", "TagID") VALUES (?, ?)`, 1, "go")
	assert.Error(t, err, "join table key is (owner, target)")

	// 重复执行不报错
	require.NoError(t, p.Setup(ctx, reg.ForSource("main"), orm.DefaultQueryProvider{}, src))
}

func TestSetup_AddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	src := openSQLite(t)
	_, err := src.DB.Exec(ctx, `CREATE TABLE "Customers" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT)`)
	require.NoError(t, err)

	reg := orm.NewRegistry(logging.NewNoopLogger())
	orm.Map[customer](reg, "main", "Customers", "ID", orm.AutoIncrement()).MapAll()

	p := NewProvider(logging.NewNoopLogger())
	require.NoError(t, p.Setup(ctx, reg.ForSource("main"), orm.DefaultQueryProvider{}, src))
	assert.True(t, columnsOf(t, src.DB, "Customers")["name"])
}

func TestSetup_RequiresOpenSource(t *testing.T) {
	p := NewProvider(nil)
	err := p.Setup(context.Background(), nil, orm.DefaultQueryProvider{}, &orm.DataSource{Name: "x"})
	assert.Error(t, err)
}
