package orm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microorm/data/db/basic"
	"microorm/errors"
)

func countRows(t *testing.T, db *basic.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

// newOrder 一个带客户、两条明细和一个标签的新订单
func newOrder(customer, number string) *Order {
	c := &Customer{Name: customer}
	o := &Order{
		Number:   number,
		Customer: c,
		Lines:    []*Line{{Product: "pen", Qty: 2}, {Product: "ink", Qty: 1}},
		Tags:     []*Tag{{Label: "rush"}},
	}
	c.Orders = []*Order{o}
	o.MarkChanged("Customer", "Lines", "Tags")
	return o
}

func TestSession_SaveCascades(t *testing.T) {
	ctx := context.Background()
	s, db := shopSession(t)

	o := newOrder("ann", "A-1")
	require.NoError(t, Save(ctx, s, o))

	assert.NotZero(t, o.ID)
	assert.NotZero(t, o.Customer.ID)
	assert.Equal(t, o.Customer.ID, o.CustomerID)
	for _, l := range o.Lines {
		assert.NotZero(t, l.ID)
		assert.Equal(t, o.ID, l.OrderID)
	}
	assert.NotEmpty(t, o.Tags[0].ID)
	assert.Empty(t, o.ChangedProperties())

	assert.Equal(t, 1, countRows(t, db, "Customers"))
	assert.Equal(t, 1, countRows(t, db, "Orders"))
	assert.Equal(t, 2, countRows(t, db, "Lines"))
	assert.Equal(t, 1, countRows(t, db, "Tags"))
	assert.Equal(t, 1, countRows(t, db, "OrderTags"))

	// 再次保存：更新而不是插入，中间表先删后插
	o.Number = "A-1b"
	o.MarkChanged("Tags")
	require.NoError(t, Save(ctx, s, o))
	assert.Equal(t, 1, countRows(t, db, "Orders"))
	assert.Equal(t, 1, countRows(t, db, "OrderTags"))

	got, ok, err := Any[Order](ctx, s, Eq("ID", o.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A-1b", got.Number)
}

func TestSession_LoadProperties(t *testing.T) {
	ctx := context.Background()
	s, _ := shopSession(t)

	o := newOrder("ann", "A-1")
	require.NoError(t, Save(ctx, s, o))
	lonely := &Customer{Name: "bob"}
	require.NoError(t, Save(ctx, s, lonely))

	orders, err := All[Order](ctx, s)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	loaded := orders[0]
	assert.Nil(t, loaded.Customer)

	require.NoError(t, LoadProperty(ctx, s, loaded, "Customer"))
	require.NotNil(t, loaded.Customer)
	assert.Equal(t, "ann", loaded.Customer.Name)

	require.NoError(t, LoadProperty(ctx, s, loaded, "Lines"))
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, "pen", loaded.Lines[0].Product)

	require.NoError(t, LoadProperty(ctx, s, loaded, "Tags"))
	require.Len(t, loaded.Tags, 1)
	assert.Equal(t, "rush", loaded.Tags[0].Label)

	// 反向的多对多
	tags, err := All[Tag](ctx, s)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.NoError(t, LoadProperty(ctx, s, tags[0], "Orders"))
	require.Len(t, tags[0].Orders, 1)
	assert.Equal(t, o.ID, tags[0].Orders[0].ID)

	// 多个拥有方一次加载，没有关联对象的拥有方得到空集合
	customers, err := All[Customer](ctx, s)
	require.NoError(t, err)
	require.Len(t, customers, 2)
	require.NoError(t, LoadProperties(ctx, s, customers, "Orders"))
	assert.Len(t, customers[0].Orders, 1)
	assert.Empty(t, customers[1].Orders)

	err = LoadProperty(ctx, s, loaded, "Missing")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSession_LoadWith(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, shopDDL...)
	reg := NewRegistry(nil)
	orders := Map[Order](reg, "main", "Orders", "ID", AutoIncrement()).MapAll()
	HasMany(orders, "Lines", "OrderID",
		func(o *Order) []*Line { return o.Lines },
		func(o *Order, v []*Line) { o.Lines = v },
		LoadWith(func(owners []any) Command {
			return Text(`SELECT * FROM "Lines" WHERE "Qty" > ? ORDER BY "ID"`, 1)
		}))
	Map[Line](reg, "main", "Lines", "ID", AutoIncrement()).MapAll()
	s := NewSession(SessionConfig{Registry: reg, Sources: []*DataSource{
		{Name: "main", Readable: true, Writable: true, DB: db},
	}})

	_, err := db.Exec(ctx, `INSERT INTO "Lines" ("OrderID", "Product", "Qty") VALUES (1, 'pen', 2), (1, 'ink', 1)`)
	require.NoError(t, err)

	o := &Order{ID: 1}
	require.NoError(t, LoadProperty(ctx, s, o, "Lines"))
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "pen", o.Lines[0].Product)
}

func TestSession_TrackedChangesLimitCascade(t *testing.T) {
	ctx := context.Background()
	s, db := shopSession(t)

	o := newOrder("ann", "A-1")
	require.NoError(t, Save(ctx, s, o))

	// 未标记变化：明细不会被写入
	o.Lines[0].Qty = 9
	require.NoError(t, Save(ctx, s, o))
	var qty int
	require.NoError(t, db.QueryRow(ctx, `SELECT "Qty" FROM "Lines" WHERE "ID" = ?`, o.Lines[0].ID).Scan(&qty))
	assert.Equal(t, 2, qty)

	o.MarkChanged("Lines")
	require.NoError(t, Save(ctx, s, o))
	require.NoError(t, db.QueryRow(ctx, `SELECT "Qty" FROM "Lines" WHERE "ID" = ?`, o.Lines[0].ID).Scan(&qty))
	assert.Equal(t, 9, qty)
}

func TestSession_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s, db := shopSession(t)

	o := newOrder("ann", "A-1")
	require.NoError(t, Save(ctx, s, o))

	// Customer 与 Order 互相引用，删除不会无限递归
	require.NoError(t, Delete(ctx, s, o))
	for _, table := range []string{"Customers", "Orders", "Lines", "Tags", "OrderTags"} {
		assert.Equal(t, 0, countRows(t, db, table), table)
	}
}

func TestSession_CacheInvalidation(t *testing.T) {
	ctx := context.Background()
	s, db := shopSession(t)

	require.NoError(t, Save(ctx, s, &Customer{Name: "ann"}))
	first, err := All[Customer](ctx, s)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// 绕过会话写入：缓存仍返回旧结果
	_, err = db.Exec(ctx, `INSERT INTO "Customers" ("Name") VALUES (?)`, "ghost")
	require.NoError(t, err)
	cached, err := All[Customer](ctx, s)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	// 缓存返回的是新对象
	cached[0].Name = "mutated"
	again, err := All[Customer](ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "ann", again[0].Name)

	// 通过会话写入后失效
	require.NoError(t, Save(ctx, s, &Customer{Name: "bob"}))
	fresh, err := All[Customer](ctx, s)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestSession_CascadeWriteInvalidatesRelatedTypes(t *testing.T) {
	ctx := context.Background()
	s, _ := shopSession(t)

	lines, err := All[Line](ctx, s)
	require.NoError(t, err)
	assert.Empty(t, lines)

	require.NoError(t, Save(ctx, s, newOrder("ann", "A-1")))
	lines, err = All[Line](ctx, s)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestSession_PagedAndCount(t *testing.T) {
	ctx := context.Background()
	s, db := shopSession(t)

	batch := make([]*Customer, 25)
	for i := range batch {
		batch[i] = &Customer{Name: fmt.Sprintf("c-%02d", i)}
	}
	n, err := InsertAll(ctx, s, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)
	assert.Equal(t, 25, countRows(t, db, "Customers"))

	page, err := Paged[Customer](ctx, s, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 10)
	assert.Equal(t, "c-00", page[0].Name)

	last, err := Paged[Customer](ctx, s, 2, 10)
	require.NoError(t, err)
	require.Len(t, last, 5)
	assert.Equal(t, "c-24", last[4].Name)

	pages, err := PageCount[Customer](ctx, s, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	pages, err = PageCount[Customer](ctx, s, 10, Like("Name", "c-1%"))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)

	got, ok, err := Any[Customer](ctx, s, Eq("Name", "c-03"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.ID)

	_, ok, err = Any[Customer](ctx, s, Eq("Name", "nobody"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Paged[Customer](ctx, s, -1, 10)
	assert.True(t, errors.IsInvalidInput(err))
	_, err = PageCount[Customer](ctx, s, 0)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSession_InsertAllRejectsNil(t *testing.T) {
	s, _ := shopSession(t)
	_, err := InsertAll(context.Background(), s, []*Customer{{Name: "a"}, nil})
	assert.True(t, errors.IsInvalidInput(err))

	n, err := InsertAll[Customer](context.Background(), s, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSession_MergesSources(t *testing.T) {
	ctx := context.Background()
	ddl := `CREATE TABLE "Customers" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "Name" TEXT)`
	primary := openTestDB(t, ddl)
	replica := openTestDB(t, ddl)

	reg := NewRegistry(nil)
	Map[Customer](reg, "primary", "Customers", "ID", AutoIncrement()).MapAll()
	Map[Customer](reg, "replica", "Customers", "ID", AutoIncrement()).MapAll()

	_, err := primary.Exec(ctx, `INSERT INTO "Customers" ("ID", "Name") VALUES (1, 'ann'), (2, 'bob')`)
	require.NoError(t, err)
	_, err = replica.Exec(ctx, `INSERT INTO "Customers" ("ID", "Name") VALUES (2, 'bobby'), (3, 'cat')`)
	require.NoError(t, err)

	s := NewSession(SessionConfig{Registry: reg, Sources: []*DataSource{
		{Name: "replica", Order: 2, Readable: true, DB: replica},
		{Name: "primary", Order: 1, Readable: true, Writable: true, DB: primary},
	}})

	all, err := All[Customer](ctx, s)
	require.NoError(t, err)
	require.Len(t, all, 3)
	names := map[int64]string{}
	for _, c := range all {
		names[c.ID] = c.Name
	}
	assert.Equal(t, map[int64]string{1: "ann", 2: "bobby", 3: "cat"}, names)

	// 计数取各数据源的最大值
	pages, err := PageCount[Customer](ctx, s, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)

	// 只写入可写数据源
	require.NoError(t, Save(ctx, s, &Customer{Name: "dan"}))
	assert.Equal(t, 3, countRows(t, primary, "Customers"))
	assert.Equal(t, 2, countRows(t, replica, "Customers"))
}

func TestSession_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := shopSession(t)

	assert.True(t, errors.IsInvalidInput(Save[Customer](ctx, s, nil)))
	assert.True(t, errors.IsInvalidInput(Delete[Customer](ctx, s, nil)))
	assert.True(t, errors.IsInvalidInput(s.Save(ctx, nil)))

	err := s.Save(ctx, &event{Name: "unmapped"})
	assert.True(t, errors.IsConfiguration(err))
	_, err = All[event](ctx, s)
	assert.True(t, errors.IsConfiguration(err))

	readOnly := NewSession(SessionConfig{Registry: s.Registry(), Sources: []*DataSource{
		{Name: "main", Readable: true},
	}})
	_, err = All[Customer](ctx, readOnly)
	assert.True(t, errors.IsConfiguration(err))
	assert.True(t, errors.IsConfiguration(readOnly.Save(ctx, &Customer{Name: "x"})))
}

func TestSession_WriteRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t,
		`CREATE TABLE "Customers" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "Name" TEXT)`,
		`CREATE TABLE "Orders" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "CustomerID" INTEGER, "Number" TEXT NOT NULL)`)
	reg := NewRegistry(nil)
	customers := Map[Customer](reg, "main", "Customers", "ID", AutoIncrement()).MapAll()
	HasMany(customers, "Orders", "CustomerID",
		func(c *Customer) []*Order { return c.Orders },
		func(c *Customer, v []*Order) { c.Orders = v },
		Cascade())
	Map[Order](reg, "main", "Orders", "ID", AutoIncrement()).
		Map("ID").Map("CustomerID").
		MapFunc("Number", func(o *Order) any {
			if o.Number == "" {
				return nil
			}
			return o.Number
		}, nil)
	s := NewSession(SessionConfig{Registry: reg, Sources: []*DataSource{
		{Name: "main", Readable: true, Writable: true, DB: db},
	}})

	c := &Customer{Name: "ann", Orders: []*Order{{Number: ""}}}
	require.Error(t, Save(ctx, s, c))
	assert.Equal(t, 0, countRows(t, db, "Customers"))
	assert.Equal(t, 0, countRows(t, db, "Orders"))
}

// TestSession_SaveUnloadedManyToManyKeepsJoinRows 未加载的多对多关联保存时不动中间表
func TestSession_SaveUnloadedManyToManyKeepsJoinRows(t *testing.T) {
	ctx := context.Background()
	s, db := shopSession(t)

	require.NoError(t, Save(ctx, s, newOrder("ann", "A-1")))
	require.Equal(t, 1, countRows(t, db, "OrderTags"))

	tags, err := All[Tag](ctx, s)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Nil(t, tags[0].Orders)

	tags[0].Label = "urgent"
	require.NoError(t, Save(ctx, s, tags[0]))
	assert.Equal(t, 1, countRows(t, db, "OrderTags"))

	got, ok, err := Any[Tag](ctx, s, Eq("ID", tags[0].ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "urgent", got.Label)

	// 显式赋空集合才清空关联
	got.Orders = []*Order{}
	require.NoError(t, Save(ctx, s, got))
	assert.Equal(t, 0, countRows(t, db, "OrderTags"))
}

// TestSession_RejectsInvalidParams 非法参数在访问数据库前返回参数错误
func TestSession_RejectsInvalidParams(t *testing.T) {
	ctx := context.Background()
	s, _ := shopSession(t)

	_, err := All[Customer](ctx, s, Top(-1))
	assert.True(t, errors.IsInvalidInput(err))
	_, _, err = Any[Customer](ctx, s, Top(-1))
	assert.True(t, errors.IsInvalidInput(err))
	_, err = All[Customer](ctx, s, nil)
	assert.True(t, errors.IsInvalidInput(err))

	// Top(0) 表示不限制
	require.NoError(t, Save(ctx, s, &Customer{Name: "ann"}))
	all, err := All[Customer](ctx, s, Top(0))
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
