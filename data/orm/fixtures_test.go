package orm

import (
	"testing"

	"github.com/stretchr/testify/require"

	core "microorm/data/db"
	"microorm/data/db/basic"
	_ "microorm/data/db/drivers"
)

type Customer struct {
	ID     int64
	Name   string
	Orders []*Order
}

type Order struct {
	Tracked
	ID         int64
	CustomerID int64
	Number     string
	Customer   *Customer
	Lines      []*Line
	Tags       []*Tag
}

type Line struct {
	ID      int64
	OrderID int64
	Product string
	Qty     int
}

type Tag struct {
	ID     string
	Label  string
	Orders []*Order
}

var shopDDL = []string{
	`CREATE TABLE "Customers" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "Name" TEXT)`,
	`CREATE TABLE "Orders" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "CustomerID" INTEGER, "Number" TEXT)`,
	`CREATE TABLE "Lines" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "OrderID" INTEGER, "Product" TEXT, "Qty" INTEGER)`,
	`CREATE TABLE "Tags" ("ID" TEXT PRIMARY KEY, "Label" TEXT)`,
	`CREATE TABLE "OrderTags" ("OrderID" INTEGER, "TagID" TEXT, PRIMARY KEY ("OrderID", "TagID"))`,
}

func openTestDB(t *testing.T, ddl ...string) *basic.DB {
	t.Helper()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range ddl {
		require.NoError(t, db.ExecDDL(stmt))
	}
	return db
}

// mapShop 注册 Customer/Order/Line/Tag 四个映射
func mapShop(reg *Registry, source string) {
	customers := Map[Customer](reg, source, "Customers", "ID", AutoIncrement()).MapAll()
	HasMany(customers, "Orders", "CustomerID",
		func(c *Customer) []*Order { return c.Orders },
		func(c *Customer, v []*Order) { c.Orders = v },
		Cascade())

	orders := Map[Order](reg, source, "Orders", "ID", AutoIncrement()).MapAll()
	BelongsTo(orders, "Customer", "CustomerID",
		func(o *Order) *Customer { return o.Customer },
		func(o *Order, v *Customer) { o.Customer = v },
		Cascade())
	HasMany(orders, "Lines", "OrderID",
		func(o *Order) []*Line { return o.Lines },
		func(o *Order, v []*Line) { o.Lines = v },
		Cascade())
	ManyToManyVia(orders, "Tags", "OrderTags", "OrderID", "TagID",
		func(o *Order) []*Tag { return o.Tags },
		func(o *Order, v []*Tag) { o.Tags = v },
		Cascade())

	Map[Line](reg, source, "Lines", "ID", AutoIncrement()).MapAll()

	tags := Map[Tag](reg, source, "Tags", "ID", WithKeys(UUIDKeys())).MapAll()
	ManyToManyVia(tags, "Orders", "OrderTags", "TagID", "OrderID",
		func(g *Tag) []*Order { return g.Orders },
		func(g *Tag, v []*Order) { g.Orders = v })
}

// shopSession 单个 sqlite 数据源上的会话
func shopSession(t *testing.T) (*Session, *basic.DB) {
	t.Helper()
	db := openTestDB(t, shopDDL...)
	reg := NewRegistry(nil)
	mapShop(reg, "main")
	src := &DataSource{Name: "main", Driver: "sqlite", Readable: true, Writable: true, DB: db}
	return NewSession(SessionConfig{Registry: reg, Sources: []*DataSource{src}}), db
}
