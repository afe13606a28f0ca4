package sql

import "strings"

// DeleteStmt DELETE FROM table WHERE ...
type DeleteStmt struct {
	b     Builder
	table string
	where conditions
}

func (b Builder) Delete(table string) *DeleteStmt {
	return &DeleteStmt{b: b, table: table}
}

func (s *DeleteStmt) Where(expr string, args ...any) *DeleteStmt {
	s.where.add(expr, args...)
	return s
}

// Build 没有条件时删除整表，调用方负责给出条件
func (s *DeleteStmt) Build() Statement {
	var sb strings.Builder
	sb.WriteString("DELETE FROM " + s.b.Quote(s.table))
	args := s.where.writeTo(&sb)
	return Statement{Text: sb.String(), Args: args}
}
