package sql

import (
	"strconv"
	"strings"
)

// SelectStmt SELECT 语句。列表达式由调用方转义（允许 COUNT(...) 等表达式）。
type SelectStmt struct {
	b     Builder
	table string
	alias string
	cols  []string
	joins []string
	where conditions
	order []string
	limit int

	paged      bool
	page, size int
}

// Select 从 table 读取 cols
func (b Builder) Select(table string, cols ...string) *SelectStmt {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return &SelectStmt{b: b, table: table, cols: cols}
}

// As 为主表设置别名
func (s *SelectStmt) As(alias string) *SelectStmt {
	s.alias = alias
	return s
}

// Join 内连接 table alias ON on
func (s *SelectStmt) Join(table, alias, on string) *SelectStmt {
	s.joins = append(s.joins, " INNER JOIN "+s.b.Quote(table)+" "+s.b.Quote(alias)+" ON "+on)
	return s
}

func (s *SelectStmt) Where(expr string, args ...any) *SelectStmt {
	s.where.add(expr, args...)
	return s
}

// OrderBy 排序表达式，按给定顺序以逗号连接
func (s *SelectStmt) OrderBy(exprs ...string) *SelectStmt {
	s.order = append(s.order, exprs...)
	return s
}

// Limit n > 0 时限制行数；SQL Server 渲染为 TOP n
func (s *SelectStmt) Limit(n int) *SelectStmt {
	if n < 0 {
		panic("sql select: limit cannot be negative")
	}
	s.limit = n
	return s
}

// Page 以 ROW_NUMBER() 窗口读取第 page 页（从 0 开始），行号区间 [page*size+1, page*size+size]。
// 窗口按 OrderBy 排序，结果按行号排序；与 Limit 互斥。
func (s *SelectStmt) Page(page, size int) *SelectStmt {
	s.paged, s.page, s.size = true, page, size
	return s
}

func (s *SelectStmt) Build() Statement {
	if s.paged {
		return s.buildPaged()
	}
	d := s.b.d
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.limit > 0 && d.UsesTop() {
		sb.WriteString("TOP " + strconv.Itoa(s.limit) + " ")
	}
	sb.WriteString(strings.Join(s.cols, ", "))
	s.writeFrom(&sb)
	args := s.where.writeTo(&sb)
	if len(s.order) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(s.order, ", "))
	}
	if s.limit > 0 && !d.UsesTop() {
		sb.WriteString(" LIMIT " + strconv.Itoa(s.limit))
	}
	return Statement{Text: sb.String(), Args: args}
}

func (s *SelectStmt) writeFrom(sb *strings.Builder) {
	sb.WriteString(" FROM ")
	sb.WriteString(s.b.Quote(s.table))
	if s.alias != "" {
		sb.WriteString(" " + s.b.Quote(s.alias))
	}
	for _, j := range s.joins {
		sb.WriteString(j)
	}
}

func (s *SelectStmt) buildPaged() Statement {
	if len(s.order) == 0 {
		panic("sql select: paging requires an order")
	}
	rn := s.b.Quote(RowNumberColumn)
	cols := strings.Join(s.cols, ", ")

	var sb strings.Builder
	sb.WriteString("SELECT " + cols + " FROM (SELECT " + cols)
	sb.WriteString(", ROW_NUMBER() OVER (ORDER BY " + strings.Join(s.order, ", ") + ") AS " + rn)
	s.writeFrom(&sb)
	args := s.where.writeTo(&sb)
	sb.WriteString(") " + s.b.Quote(pagedAlias))
	sb.WriteString(" WHERE " + rn + " BETWEEN ? AND ? ORDER BY " + rn)

	first := s.page*s.size + 1
	args = append(args, first, first+s.size-1)
	return Statement{Text: sb.String(), Args: args}
}
