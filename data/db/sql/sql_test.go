package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"microorm/data/db/dialect"
)

func TestIsSafeIdentifier(t *testing.T) {
	for _, ok := range []string{"Orders", "dbo.Orders", "_tmp1", "a.b_c", "__row"} {
		assert.True(t, IsSafeIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "1abc", "a b", "a;DROP", "a..b", "a.", "Or-ders"} {
		assert.False(t, IsSafeIdentifier(bad), bad)
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", Placeholders(0))
	assert.Equal(t, "?", Placeholders(1))
	assert.Equal(t, "?, ?, ?", Placeholders(3))
}

func TestSelect_Build(t *testing.T) {
	st := For(dialect.New("sqlite")).
		Select("Orders", `"ID"`, `"Number"`).
		Where(`"CustomerID" = ?`, 7).
		Where(`"Total" > ?`, 10).
		OrderBy(`"ID"`).
		Limit(5).
		Build()

	assert.Equal(t, `SELECT "ID", "Number" FROM "Orders" WHERE "CustomerID" = ? AND "Total" > ? ORDER BY "ID" LIMIT 5`, st.Text)
	assert.Equal(t, []any{7, 10}, st.Args)
}

func TestSelect_TopOnSQLServer(t *testing.T) {
	st := For(dialect.New("sqlserver")).Select("Orders").Limit(1).Build()
	assert.Equal(t, "SELECT TOP 1 * FROM [Orders]", st.Text)
}

func TestSelect_JoinWithAliases(t *testing.T) {
	b := For(dialect.New("postgres"))
	st := b.Select("Tags", b.Qualified("t", "ID")).
		As("t").
		Join("OrderTags", "j", b.Qualified("j", "TagID")+" = "+b.Qualified("t", "ID")).
		Where(b.Qualified("j", "OrderID")+" = ?", 3).
		Build()

	assert.Equal(t, `SELECT "t"."ID" FROM "Tags" "t" INNER JOIN "OrderTags" "j" ON "j"."TagID" = "t"."ID" WHERE "j"."OrderID" = ?`, st.Text)
	assert.Equal(t, []any{3}, st.Args)
}

func TestSelect_Page(t *testing.T) {
	st := For(dialect.New("sqlite")).
		Select("Orders", `"ID"`).
		Where(`"Number" LIKE ?`, "A%").
		OrderBy(`"ID"`).
		Page(2, 5).
		Build()

	assert.Equal(t,
		`SELECT "ID" FROM (SELECT "ID", ROW_NUMBER() OVER (ORDER BY "ID") AS "__row" FROM "Orders" WHERE "Number" LIKE ?) "__paged" WHERE "__row" BETWEEN ? AND ? ORDER BY "__row"`,
		st.Text)
	assert.Equal(t, []any{"A%", 11, 15}, st.Args)

	assert.Panics(t, func() { For(dialect.New("sqlite")).Select("Orders").Page(0, 5).Build() })
}

func TestSelect_BuildDoesNotShareArgs(t *testing.T) {
	s := For(dialect.New("sqlite")).Select("Orders").Where(`"ID" = ?`, 1)
	first := s.Build()
	first.Args[0] = 99
	assert.Equal(t, []any{1}, s.Build().Args)
}

func TestSelect_UnsafeTablePanics(t *testing.T) {
	assert.Panics(t, func() { For(dialect.New("mysql")).Select("Orders; DROP TABLE x").Build() })
}

func TestInsert_MultiRow(t *testing.T) {
	st := For(dialect.New("mysql")).Insert("Tags").
		Columns("ID", "Label").
		Values("go", "Go").
		Values("db", "Databases").
		Build()

	assert.Equal(t, "INSERT INTO `Tags` (`ID`, `Label`) VALUES (?, ?), (?, ?)", st.Text)
	assert.Equal(t, []any{"go", "Go", "db", "Databases"}, st.Args)
}

func TestInsert_IdentityPerDialect(t *testing.T) {
	build := func(name string) string {
		return For(dialect.New(name)).Insert("Orders").Columns("Number").Values("A1").Identity("ID").Build().Text
	}
	assert.Equal(t, `INSERT INTO "Orders" ("Number") VALUES (?) RETURNING "ID"`, build("sqlite"))
	assert.Equal(t, `INSERT INTO "Orders" ("Number") VALUES (?) RETURNING "ID"`, build("postgres"))
	assert.Equal(t, "INSERT INTO `Orders` (`Number`) VALUES (?)", build("mysql"))
	assert.Equal(t, "INSERT INTO [Orders] ([Number]) VALUES (?); SELECT SCOPE_IDENTITY()", build("sqlserver"))
}

func TestInsert_Mismatch(t *testing.T) {
	b := For(dialect.New("sqlite"))
	assert.Panics(t, func() { b.Insert("Tags").Columns("ID", "Label").Values("go").Build() })
	assert.Panics(t, func() { b.Insert("Tags").Columns("ID").Build() })
	assert.Panics(t, func() { b.Insert("Tags").Columns("bad col").Values(1).Build() })
}

func TestUpdate_Build(t *testing.T) {
	b := For(dialect.New("postgres"))
	st := b.Update("Orders").
		Set("Number", "n").
		Set("Total", 3).
		Where(`"ID" = ?`, 1).
		Build()

	assert.Equal(t, `UPDATE "Orders" SET "Number" = ?, "Total" = ? WHERE "ID" = ?`, st.Text)
	assert.Equal(t, []any{"n", 3, 1}, st.Args)
	assert.True(t, b.Update("Orders").Empty())
	assert.Panics(t, func() { b.Update("Orders").Build() })
}

func TestDelete_Build(t *testing.T) {
	st := For(dialect.New("sqlite")).Delete("OrderTags").Where(`"OrderID" = ?`, 1).Build()
	assert.Equal(t, `DELETE FROM "OrderTags" WHERE "OrderID" = ?`, st.Text)
	assert.Equal(t, []any{1}, st.Args)
}
