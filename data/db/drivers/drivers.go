// Package drivers 注册 ORM 支持的 database/sql 驱动。
//
// 空导入本包后，DataSource.Driver 可取：
//   - "sqlite"：modernc.org/sqlite（纯 Go，无需 cgo）
//   - "mysql"：github.com/go-sql-driver/mysql
//   - "pgx"：github.com/jackc/pgx/v5/stdlib
//   - "sqlserver"：github.com/microsoft/go-mssqldb
package drivers

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Registered 已注册且本包负责的驱动名
func Registered() []string {
	want := []string{"sqlite", "mysql", "pgx", "sqlserver"}
	have := make(map[string]bool)
	for _, name := range sql.Drivers() {
		have[name] = true
	}
	out := make([]string, 0, len(want))
	for _, name := range want {
		if have[name] {
			out = append(out, name)
		}
	}
	return out
}
