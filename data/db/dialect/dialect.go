package dialect

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	core "microorm/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameMySQL     Name = "mysql"
	NameSQLite    Name = "sqlite"
	NamePostgres  Name = "postgres"
	NameSQLServer Name = "sqlserver"
	NameUnknown   Name = ""
)

// IdentityStrategy 描述 INSERT 后如何取回自增主键
type IdentityStrategy int

const (
	// IdentityLastInsertID 通过 sql.Result.LastInsertId 获取
	IdentityLastInsertID IdentityStrategy = iota
	// IdentityReturning 在 INSERT 末尾追加 RETURNING key，通过 QueryRow 读取
	IdentityReturning
	// IdentitySelect 追加 ; SELECT SCOPE_IDENTITY()，通过 QueryRow 读取
	IdentitySelect
)

// Dialect 表示当前数据库的方言能力
//
// 只抽象 ORM 实际用到的能力：
//   - 标识符转义、占位符改写；
//   - 自增主键回读方式、行数限制写法、存储过程调用；
//   - 建表时的列类型映射；
//   - DELETE ... LIMIT 支持与唯一键冲突识别。
type Dialect struct {
	name Name
}

// New 根据 driver/dialect 字符串构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return Dialect{name: NameMySQL}
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	case "sqlserver", "mssql":
		return Dialect{name: NameSQLServer}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if db == nil {
		return Dialect{name: NameUnknown}
	}
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// QuoteIdentifier 根据方言对标识符进行转义（如表名/列名）。
//
// 约定：
//   - 支持 schema.table、table.column 等带点形式，会对每一段分别加引号；
//   - MySQL 使用反引号，Postgres/SQLite 使用双引号，SQL Server 使用方括号；
//   - Unknown 方言返回原始字符串；
//   - 不负责校验标识符语法。
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		switch d.name {
		case NameMySQL:
			parts[i] = "`" + p + "`"
		case NameSQLite, NamePostgres:
			parts[i] = `"` + p + `"`
		case NameSQLServer:
			parts[i] = "[" + p + "]"
		}
	}
	return strings.Join(parts, ".")
}

// Placeholder 返回方言默认的编号占位符前缀；空串表示保持 ?
func (d Dialect) Placeholder() string {
	switch d.name {
	case NamePostgres:
		return "$"
	case NameSQLServer:
		return "@p"
	default:
		return ""
	}
}

// Rebind 将通用占位符 ? 转换为方言特定形式（Postgres 为 $n，SQL Server 为 @pn）。
//
// 限制：简单字符扫描，不区分字符串字面量中的 ?，请通过参数传值。
func (d Dialect) Rebind(query string) string {
	return RebindPrefix(query, d.Placeholder())
}

// RebindPrefix 将 ? 依次替换为 prefix1、prefix2...；prefix 为空时原样返回。
func RebindPrefix(query, prefix string) string {
	if query == "" || prefix == "" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	argIndex := 1
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '?' {
			sb.WriteString(prefix)
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
		} else {
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// Identity 返回自增主键的回读方式以及需要追加到 INSERT 末尾的子句
func (d Dialect) Identity(keyColumn string) (IdentityStrategy, string) {
	switch d.name {
	case NameSQLServer:
		return IdentitySelect, "; SELECT SCOPE_IDENTITY()"
	case NamePostgres, NameSQLite:
		return IdentityReturning, " RETURNING " + d.QuoteIdentifier(keyColumn)
	default:
		return IdentityLastInsertID, ""
	}
}

// UsesTop SQL Server 使用 SELECT TOP n，其余方言使用 LIMIT n
func (d Dialect) UsesTop() bool {
	return d.name == NameSQLServer
}

// ProcedureCall 渲染带 n 个参数的存储过程调用
func (d Dialect) ProcedureCall(name string, n int) string {
	placeholders := strings.TrimRight(strings.Repeat("?, ", n), ", ")
	switch d.name {
	case NameSQLServer:
		if n == 0 {
			return "EXEC " + name
		}
		return "EXEC " + name + " " + placeholders
	default:
		return "CALL " + name + "(" + placeholders + ")"
	}
}

// SupportsCreateIfNotExists 是否支持 CREATE TABLE IF NOT EXISTS
func (d Dialect) SupportsCreateIfNotExists() bool {
	return d.name != NameSQLServer
}

var timeType = reflect.TypeOf(time.Time{})

// ColumnType 将 Go 类型映射为建表列类型。
// autoIncrement 只对主键列有意义。
func (d Dialect) ColumnType(t reflect.Type, primaryKey, autoIncrement bool) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if primaryKey && autoIncrement {
		switch d.name {
		case NameSQLite:
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		case NamePostgres:
			return "BIGSERIAL PRIMARY KEY"
		case NameMySQL:
			return "BIGINT AUTO_INCREMENT PRIMARY KEY"
		case NameSQLServer:
			return "BIGINT IDENTITY(1,1) PRIMARY KEY"
		}
	}

	var base string
	switch {
	case t == timeType:
		switch d.name {
		case NamePostgres:
			base = "TIMESTAMP"
		case NameSQLServer:
			base = "DATETIME2"
		default:
			base = "DATETIME"
		}
	case t.Kind() == reflect.Bool:
		switch d.name {
		case NamePostgres:
			base = "BOOLEAN"
		case NameSQLServer:
			base = "BIT"
		default:
			base = "INTEGER"
		}
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Uint64:
		base = "BIGINT"
		if d.name == NameSQLite {
			base = "INTEGER"
		}
	case t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64:
		switch d.name {
		case NamePostgres:
			base = "DOUBLE PRECISION"
		case NameSQLServer:
			base = "FLOAT"
		default:
			base = "REAL"
		}
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		switch d.name {
		case NamePostgres:
			base = "BYTEA"
		case NameSQLServer:
			base = "VARBINARY(MAX)"
		default:
			base = "BLOB"
		}
	case t.Kind() == reflect.Array && t.Elem().Kind() == reflect.Uint8:
		// uuid.UUID 等定长字节数组按文本存储
		base = d.textType(primaryKey)
	default:
		base = d.textType(primaryKey)
	}
	if primaryKey {
		return base + " PRIMARY KEY"
	}
	return base
}

func (d Dialect) textType(indexed bool) string {
	switch d.name {
	case NameMySQL:
		if indexed {
			return "VARCHAR(191)"
		}
		return "TEXT"
	case NameSQLServer:
		if indexed {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	default:
		return "TEXT"
	}
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突（基于错误消息关键字）
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameMySQL:
		return strings.Contains(msg, "duplicate entry") ||
			strings.Contains(msg, "duplicate key")
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	case NameSQLServer:
		return strings.Contains(msg, "violation of primary key") ||
			strings.Contains(msg, "violation of unique key") ||
			strings.Contains(msg, "cannot insert duplicate key")
	default:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}

// IsUniqueViolation 不区分方言地判断唯一键/主键冲突
func IsUniqueViolation(err error) bool {
	for _, n := range []Name{NameSQLite, NameMySQL, NamePostgres, NameSQLServer} {
		if New(string(n)).IsUniqueViolation(err) {
			return true
		}
	}
	return false
}
