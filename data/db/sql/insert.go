package sql

import "strings"

// InsertStmt 单行或多行 INSERT
type InsertStmt struct {
	b        Builder
	table    string
	columns  []string
	rows     [][]any
	identity string
}

// Insert 写入 table
func (b Builder) Insert(table string) *InsertStmt {
	return &InsertStmt{b: b, table: table}
}

func (s *InsertStmt) Columns(cols ...string) *InsertStmt {
	s.columns = cols
	return s
}

// Values 追加一行，长度必须与 Columns 一致
func (s *InsertStmt) Values(vals ...any) *InsertStmt {
	if len(vals) > 0 {
		s.rows = append(s.rows, vals)
	}
	return s
}

// Identity 追加方言取回自增主键的子句（RETURNING / SCOPE_IDENTITY；MySQL 无子句）
func (s *InsertStmt) Identity(keyColumn string) *InsertStmt {
	_, s.identity = s.b.d.Identity(keyColumn)
	return s
}

func (s *InsertStmt) Build() Statement {
	if len(s.columns) == 0 {
		panic("sql insert: columns are required")
	}
	if len(s.rows) == 0 {
		panic("sql insert: at least one row is required")
	}

	quoted := make([]string, len(s.columns))
	for i, col := range s.columns {
		quoted[i] = s.b.Quote(col)
	}
	row := "(" + Placeholders(len(s.columns)) + ")"

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + s.b.Quote(s.table))
	sb.WriteString(" (" + strings.Join(quoted, ", ") + ") VALUES ")
	args := make([]any, 0, len(s.rows)*len(s.columns))
	for i, vals := range s.rows {
		if len(vals) != len(s.columns) {
			panic("sql insert: values length mismatch columns length")
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
		args = append(args, vals...)
	}
	sb.WriteString(s.identity)
	return Statement{Text: sb.String(), Args: args}
}
