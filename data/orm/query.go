package orm

import (
	"fmt"
	"strconv"
	"strings"

	"microorm/data/db/dialect"
	dbsql "microorm/data/db/sql"
	"microorm/errors"
)

// Query 参数收集的目标：WHERE 谓词、排序与行数限制。
// 谓词中的值一律使用 ? 占位。
type Query struct {
	Dialect dialect.Dialect
	Where   []Predicate
	OrderBy []string
	Limit   int
}

// Predicate 一个 WHERE 条件
type Predicate struct {
	Expr string
	Args []any
}

// Quote 按方言转义列名
func (q *Query) Quote(column string) string {
	return q.Dialect.QuoteIdentifier(column)
}

// AddWhere 追加条件，多个条件以 AND 连接
func (q *Query) AddWhere(expr string, args ...any) {
	q.Where = append(q.Where, Predicate{Expr: expr, Args: args})
}

// IParameter 可以把自己加入查询的参数。
// Key 返回参与缓存键的规范文本，相同语义的参数必须返回相同的 Key。
type IParameter interface {
	AddTo(q *Query)
	Key() string
}

type comparison struct {
	column string
	op     string
	value  any
}

func (c comparison) AddTo(q *Query) {
	col := q.Quote(c.column)
	if isNil(c.value) {
		switch c.op {
		case "=":
			q.AddWhere(col + " IS NULL")
			return
		case "<>":
			q.AddWhere(col + " IS NOT NULL")
			return
		}
	}
	q.AddWhere(col+" "+c.op+" ?", c.value)
}

func (c comparison) Key() string {
	return c.column + c.op + canonicalValue(c.value)
}

// Eq column = value；value 为 nil 时为 IS NULL
func Eq(column string, value any) IParameter { return comparison{column, "=", value} }

// Ne column <> value；value 为 nil 时为 IS NOT NULL
func Ne(column string, value any) IParameter { return comparison{column, "<>", value} }

// Gt column > value
func Gt(column string, value any) IParameter { return comparison{column, ">", value} }

// Lt column < value
func Lt(column string, value any) IParameter { return comparison{column, "<", value} }

// Like column LIKE pattern
func Like(column string, pattern string) IParameter { return comparison{column, "LIKE", pattern} }

type listParam struct {
	column string
	values []any
	anyOf  bool
}

func (p listParam) AddTo(q *Query) {
	if len(p.values) == 0 {
		q.AddWhere("1 = 0")
		return
	}
	col := q.Quote(p.column)
	if p.anyOf {
		parts := make([]string, len(p.values))
		for i := range p.values {
			parts[i] = col + " = ?"
		}
		q.AddWhere("("+strings.Join(parts, " OR ")+")", p.values...)
		return
	}
	q.AddWhere(col+" IN ("+dbsql.Placeholders(len(p.values))+")", p.values...)
}

func (p listParam) Key() string {
	var sb strings.Builder
	sb.WriteString(p.column)
	if p.anyOf {
		sb.WriteString(" any(")
	} else {
		sb.WriteString(" in(")
	}
	for i, v := range p.values {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(canonicalValue(v))
	}
	sb.WriteString(")")
	return sb.String()
}

// In column IN (values...)；values 为空时不匹配任何行
func In(column string, values ...any) IParameter {
	return listParam{column: column, values: values}
}

// AnyOf (column = ? OR column = ? ...)；values 为空时不匹配任何行
func AnyOf(column string, values ...any) IParameter {
	return listParam{column: column, values: values, anyOf: true}
}

type rawWhere struct {
	expr string
	args []any
}

func (w rawWhere) AddTo(q *Query) { q.AddWhere(w.expr, w.args...) }

func (w rawWhere) Key() string {
	parts := make([]string, len(w.args))
	for i, a := range w.args {
		parts[i] = canonicalValue(a)
	}
	return "where(" + w.expr + ";" + strings.Join(parts, ",") + ")"
}

// Where 原样加入条件表达式，列名需调用方自行转义
func Where(expr string, args ...any) IParameter { return rawWhere{expr: expr, args: args} }

type orderBy struct {
	column string
	desc   bool
}

func (o orderBy) AddTo(q *Query) {
	expr := q.Quote(o.column)
	if o.desc {
		expr += " DESC"
	} else {
		expr += " ASC"
	}
	q.OrderBy = append(q.OrderBy, expr)
}

func (o orderBy) Key() string {
	if o.desc {
		return "order(" + o.column + " desc)"
	}
	return "order(" + o.column + ")"
}

// OrderBy 排序；未指定时按主键升序
func OrderBy(column string, desc bool) IParameter { return orderBy{column: column, desc: desc} }

type top int

func (t top) AddTo(q *Query) {
	if t > 0 {
		q.Limit = int(t)
	}
}

func (t top) Key() string { return "top(" + strconv.Itoa(int(t)) + ")" }

func (t top) Validate() error {
	if t < 0 {
		return errors.NewInvalidArgument("row limit must not be negative, got %d", int(t))
	}
	return nil
}

// Top 限制返回行数；0 表示不限制，负数在读取前被拒绝
func Top(n int) IParameter { return top(n) }

// CheckParams 在任何 I/O 之前校验参数：nil 参数与实现了 Validate 的参数返回的错误
func CheckParams(params []IParameter) error {
	for i, p := range params {
		if p == nil {
			return errors.NewInvalidArgument("parameter %d is nil", i)
		}
		if v, ok := p.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParamsKey 参数列表的规范文本，用于缓存键
func ParamsKey(params []IParameter) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Key()
	}
	return strings.Join(parts, "&")
}

// IQueryProvider 从映射元数据生成命令，不执行任何 I/O。
type IQueryProvider interface {
	Select(d dialect.Dialect, m IMapping, params ...IParameter) Command
	Paged(d dialect.Dialect, m IMapping, page, size int, params ...IParameter) Command
	Count(d dialect.Dialect, m IMapping, params ...IParameter) Command
	Insert(d dialect.Dialect, m IMapping, obj any) Command
	Update(d dialect.Dialect, m IMapping, obj any) Command
	Delete(d dialect.Dialect, m IMapping, obj any) Command

	JoinInsert(d dialect.Dialect, rel *Relation, ownerKey, targetKey any) Command
	JoinDelete(d dialect.Dialect, rel *Relation, ownerKey any) Command
	JoinSelect(d dialect.Dialect, rel *Relation, target IMapping, ownerKeys []any) Command
}

// CountColumn 计数查询结果列的别名
const CountColumn = "__count"

// OwnerColumn 多对多加载结果中拥有方主键列的别名
const OwnerColumn = "__owner"

// DefaultQueryProvider 默认的命令生成器，语句文本由 data/db/sql 构建。
type DefaultQueryProvider struct{}

func collect(d dialect.Dialect, params []IParameter) *Query {
	q := &Query{Dialect: d}
	for _, p := range params {
		if p != nil {
			p.AddTo(q)
		}
	}
	return q
}

func (q *Query) orderClause(m IMapping) string {
	if len(q.OrderBy) > 0 {
		return strings.Join(q.OrderBy, ", ")
	}
	return q.Quote(m.PrimaryKey())
}

func readColumns(d dialect.Dialect, m IMapping, qualifier string) []string {
	var cols []string
	for _, b := range m.Bindings() {
		if !b.Mode.CanRead() {
			continue
		}
		col := d.QuoteIdentifier(b.Column)
		if qualifier != "" {
			col = qualifier + "." + col
		}
		cols = append(cols, col)
	}
	return cols
}

// Select SELECT [TOP n] cols FROM t [WHERE ...] ORDER BY ... [LIMIT n]
func (DefaultQueryProvider) Select(d dialect.Dialect, m IMapping, params ...IParameter) Command {
	q := collect(d, params)
	return statement(q.selectFrom(m).Limit(q.Limit).Build())
}

// Paged 以 ROW_NUMBER() 窗口取第 page 页（从 0 开始），行号区间 [page*size+1, page*size+size]
func (DefaultQueryProvider) Paged(d dialect.Dialect, m IMapping, page, size int, params ...IParameter) Command {
	q := collect(d, params)
	return statement(q.selectFrom(m).Page(page, size).Build())
}

// Count SELECT COUNT(key) AS __count FROM t [WHERE ...]
func (DefaultQueryProvider) Count(d dialect.Dialect, m IMapping, params ...IParameter) Command {
	q := collect(d, params)
	b := dbsql.For(d)
	st := b.Select(m.Table(), fmt.Sprintf("COUNT(%s) AS %s", b.Quote(m.PrimaryKey()), b.Quote(CountColumn)))
	for _, p := range q.Where {
		st.Where(p.Expr, p.Args...)
	}
	return statement(st.Build())
}

// Insert 自增映射不写主键，并按方言追加取回自增值的子句
func (DefaultQueryProvider) Insert(d dialect.Dialect, m IMapping, obj any) Command {
	cols, vals, err := m.InsertValues(obj)
	if err != nil || len(cols) == 0 {
		return Command{}
	}
	st := dbsql.For(d).Insert(m.Table()).Columns(cols...).Values(vals...)
	if m.AutoIncrement() {
		st.Identity(m.PrimaryKey())
	}
	return statement(st.Build())
}

// Update 更新所有可写的非主键列；没有可更新列时返回零值命令
func (DefaultQueryProvider) Update(d dialect.Dialect, m IMapping, obj any) Command {
	st := dbsql.For(d).Update(m.Table())
	for _, bd := range m.Bindings() {
		if bd.PrimaryKey || !bd.Mode.CanWrite() {
			continue
		}
		st.Set(bd.Column, bd.Get(obj))
	}
	if st.Empty() {
		return Command{}
	}
	return statement(st.Where(d.QuoteIdentifier(m.PrimaryKey())+" = ?", m.KeyOf(obj)).Build())
}

// Delete DELETE FROM t WHERE key = ?
func (DefaultQueryProvider) Delete(d dialect.Dialect, m IMapping, obj any) Command {
	return statement(dbsql.For(d).Delete(m.Table()).
		Where(d.QuoteIdentifier(m.PrimaryKey())+" = ?", m.KeyOf(obj)).
		Build())
}

// JoinInsert INSERT INTO join (owner, target) VALUES (?, ?)
func (DefaultQueryProvider) JoinInsert(d dialect.Dialect, rel *Relation, ownerKey, targetKey any) Command {
	return statement(dbsql.For(d).Insert(rel.JoinTable()).
		Columns(rel.OwnerColumn(), rel.TargetColumn()).
		Values(ownerKey, targetKey).
		Build())
}

// JoinDelete DELETE FROM join WHERE owner = ?
func (DefaultQueryProvider) JoinDelete(d dialect.Dialect, rel *Relation, ownerKey any) Command {
	return statement(dbsql.For(d).Delete(rel.JoinTable()).
		Where(d.QuoteIdentifier(rel.OwnerColumn())+" = ?", ownerKey).
		Build())
}

// JoinSelect 读取多个拥有方的关联对象，结果附带 __owner 列
func (DefaultQueryProvider) JoinSelect(d dialect.Dialect, rel *Relation, target IMapping, ownerKeys []any) Command {
	b := dbsql.For(d)
	owner := b.Qualified("j", rel.OwnerColumn())
	cols := append(readColumns(d, target, b.Quote("t")), owner+" AS "+b.Quote(OwnerColumn))

	st := b.Select(target.Table(), cols...).
		As("t").
		Join(rel.JoinTable(), "j", b.Qualified("j", rel.TargetColumn())+" = "+b.Qualified("t", target.PrimaryKey())).
		OrderBy(owner, b.Qualified("t", target.PrimaryKey()))
	if len(ownerKeys) == 0 {
		return statement(st.Where("1 = 0").Build())
	}
	parts := make([]string, len(ownerKeys))
	for i := range ownerKeys {
		parts[i] = owner + " = ?"
	}
	return statement(st.Where(strings.Join(parts, " OR "), ownerKeys...).Build())
}

func (q *Query) selectFrom(m IMapping) *dbsql.SelectStmt {
	st := dbsql.For(q.Dialect).Select(m.Table(), readColumns(q.Dialect, m, "")...).OrderBy(q.orderClause(m))
	for _, p := range q.Where {
		st.Where(p.Expr, p.Args...)
	}
	return st
}

func statement(st dbsql.Statement) Command { return Text(st.Text, st.Args...) }
