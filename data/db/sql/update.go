package sql

import "strings"

// UpdateStmt UPDATE table SET ... WHERE ...
type UpdateStmt struct {
	b     Builder
	table string
	cols  []string
	vals  []any
	where conditions
}

func (b Builder) Update(table string) *UpdateStmt {
	return &UpdateStmt{b: b, table: table}
}

func (s *UpdateStmt) Set(column string, val any) *UpdateStmt {
	s.cols = append(s.cols, column)
	s.vals = append(s.vals, val)
	return s
}

func (s *UpdateStmt) Where(expr string, args ...any) *UpdateStmt {
	s.where.add(expr, args...)
	return s
}

// Empty 没有任何 SET 列
func (s *UpdateStmt) Empty() bool { return len(s.cols) == 0 }

func (s *UpdateStmt) Build() Statement {
	if s.Empty() {
		panic("sql update: no columns to set")
	}
	sets := make([]string, len(s.cols))
	for i, col := range s.cols {
		sets[i] = s.b.Quote(col) + " = ?"
	}
	var sb strings.Builder
	sb.WriteString("UPDATE " + s.b.Quote(s.table) + " SET " + strings.Join(sets, ", "))
	args := append([]any{}, s.vals...)
	args = append(args, s.where.writeTo(&sb)...)
	return Statement{Text: sb.String(), Args: args}
}
