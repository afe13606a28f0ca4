package orm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microorm/data/db/dialect"
)

func TestCommand_Equal(t *testing.T) {
	a := Text("SELECT * FROM t WHERE a = ? AND b = ?", 1, "x")
	b := Text("SELECT * FROM t WHERE a = ? AND b = ?", 1, "x")
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())

	assert.False(t, a.Equal(Text("SELECT * FROM t WHERE a = ? AND b = ?", 1, "y")))
	assert.False(t, a.Equal(Text("SELECT * FROM t WHERE a = ? AND b = ?", 1)))
	assert.False(t, a.Equal(Procedure("SELECT * FROM t WHERE a = ? AND b = ?", 1, "x")))
}

func TestCommand_EqualNilValues(t *testing.T) {
	var p *int
	a := Text("UPDATE t SET a = ?", nil)
	b := Text("UPDATE t SET a = ?", p)
	c := Text("UPDATE t SET a = ?", 0)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.False(t, a.Equal(c))

	// 没有参数与 nil 参数列表等价
	assert.True(t, Text("SELECT 1").Equal(NewCommand("SELECT 1", CommandText)))
}

func TestCommand_Render(t *testing.T) {
	sqlite := dialect.New("sqlite")
	mssql := dialect.New("sqlserver")

	assert.Equal(t, "CALL purge(?, ?)", Procedure("purge", 1, 2).Render(sqlite, ""))
	assert.Equal(t, "EXEC purge @p1, @p2", Procedure("purge", 1, 2).Render(mssql, "@p"))
	assert.Equal(t, "EXEC purge", Procedure("purge").Render(mssql, ""))
	assert.Equal(t, "SELECT * FROM t WHERE a = :1 AND b = :2", Text("SELECT * FROM t WHERE a = ? AND b = ?", 1, 2).Render(sqlite, ":"))

	r := Procedure("purge", 1).Rendered(mssql, "")
	assert.Equal(t, CommandText, r.Kind())
	assert.Equal(t, "EXEC purge ?", r.Text())
	assert.Equal(t, []any{1}, r.Values())
}

func TestCommand_ParametersAreCopies(t *testing.T) {
	c := Text("SELECT ?", 1)
	ps := c.Parameters()
	ps[0].Value = 2
	assert.Equal(t, []any{1}, c.Values())
	assert.Equal(t, "0", ps[0].Name)
}

func TestBatch_Dedupe(t *testing.T) {
	b := NewBatch()
	assert.True(t, b.Add(Text("DELETE FROM j WHERE o = ?", 1)))
	assert.False(t, b.Add(Text("DELETE FROM j WHERE o = ?", 1)))
	assert.True(t, b.Add(Text("DELETE FROM j WHERE o = ?", 2)))
	assert.False(t, b.Add(Command{}))
	assert.Equal(t, 2, b.Len())
}

// TestCommand_HashSignedZero 0 与 -0 相等，哈希也必须相等
func TestCommand_HashSignedZero(t *testing.T) {
	negZero := math.Copysign(0, -1)
	a := Text("UPDATE t SET v = ?", 0.0)
	b := Text("UPDATE t SET v = ?", negZero)
	require.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())

	c := Text("UPDATE t SET v = ?", complex(0, 0))
	d := Text("UPDATE t SET v = ?", complex(negZero, negZero))
	require.True(t, c.Equal(d))
	assert.Equal(t, c.Hash(), d.Hash())

	batch := NewBatch()
	assert.True(t, batch.Add(a))
	assert.False(t, batch.Add(b))
	assert.Equal(t, 1, batch.Len())
}

func TestBatch_FlushSkipsDone(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, `CREATE TABLE "Log" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "Msg" TEXT)`)

	b := NewBatch()
	insert := Text(`INSERT INTO "Log" ("Msg") VALUES (?)`, "a")
	require.True(t, b.Add(insert))
	require.NoError(t, b.Flush(ctx, db))
	assert.Equal(t, 0, b.Len())

	// 已执行的命令不会再次加入
	assert.False(t, b.Add(insert))
	require.NoError(t, b.Flush(ctx, db))

	rows, err := Text(`SELECT COUNT(*) AS "n" FROM "Log"`).Query(ctx, db, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	n, _ := rows[0].Get("n")
	assert.EqualValues(t, 1, n)
}

func TestBatch_FlushStopsOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, `CREATE TABLE "Log" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "Msg" TEXT)`)

	b := NewBatch()
	b.Add(Text(`INSERT INTO "Log" ("Msg") VALUES (?)`, "a"))
	b.Add(Text(`INSERT INTO "Missing" ("Msg") VALUES (?)`, "b"))
	b.Add(Text(`INSERT INTO "Log" ("Msg") VALUES (?)`, "c"))

	assert.Error(t, b.Flush(ctx, db))
	assert.Equal(t, 1, b.Len())
}

func TestCommand_EmptyTextRejected(t *testing.T) {
	db := openTestDB(t)
	_, err := Command{}.Exec(context.Background(), db, "")
	assert.Error(t, err)
	_, err = Command{}.Query(context.Background(), db, "")
	assert.Error(t, err)
}
