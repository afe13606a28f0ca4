// Package schema 为需要更新的数据源创建缺失的表和列。
//
// 只做增量：不存在的表按映射建表（含多对多关联表），已存在的表补齐缺失的列；
// 从不删除或修改已有列。
package schema

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	core "microorm/data/db"
	"microorm/data/db/dialect"
	"microorm/data/orm"
	"microorm/logging"
)

// Provider 默认的 ISchemaProvider
type Provider struct {
	logger logging.Logger
}

// NewProvider 创建建表提供者
func NewProvider(logger logging.Logger) *Provider {
	return &Provider{logger: logging.ComponentLogger(logger, "orm.schema")}
}

var stringType = reflect.TypeOf("")

// Setup 按 mappings 顺序（被依赖者在前）建表，再建关联表
func (p *Provider) Setup(ctx context.Context, mappings []orm.IMapping, query orm.IQueryProvider, source *orm.DataSource) error {
	if source == nil || source.DB == nil {
		return fmt.Errorf("schema: data source is not open")
	}
	db := source.DB
	d := dialect.FromDatabase(db)

	byType := make(map[reflect.Type]orm.IMapping, len(mappings))
	for _, m := range mappings {
		byType[m.Type()] = m
	}

	for _, m := range mappings {
		// 接口类型的映射由实现者的表承载
		if m.Type().Kind() == reflect.Interface {
			continue
		}
		if err := p.ensureTable(ctx, db, d, m.Table(), tableColumns(d, m)); err != nil {
			return err
		}
	}

	joins := make(map[string]bool)
	for _, m := range mappings {
		for _, rel := range m.Relations() {
			if rel.Kind() != orm.ManyToMany || joins[strings.ToLower(rel.JoinTable())] {
				continue
			}
			joins[strings.ToLower(rel.JoinTable())] = true
			target, ok := byType[rel.Target()]
			if !ok {
				return fmt.Errorf("schema: join table %s: no mapping for %s on source %s", rel.JoinTable(), rel.Target(), source.Name)
			}
			cols := []column{
				{name: rel.OwnerColumn(), ddl: keyType(d, m)},
				{name: rel.TargetColumn(), ddl: keyType(d, target)},
			}
			if err := p.ensureTable(ctx, db, d, rel.JoinTable(), cols,
				"PRIMARY KEY ("+d.QuoteIdentifier(rel.OwnerColumn())+", "+d.QuoteIdentifier(rel.TargetColumn())+")"); err != nil {
				return err
			}
		}
	}
	return nil
}

type column struct {
	name    string
	ddl     string
	primary bool
}

func tableColumns(d dialect.Dialect, m orm.IMapping) []column {
	var cols []column
	for _, b := range m.Bindings() {
		cols = append(cols, column{
			name:    b.Column,
			ddl:     d.ColumnType(bindingType(b), b.PrimaryKey, b.PrimaryKey && m.AutoIncrement()),
			primary: b.PrimaryKey,
		})
	}
	return cols
}

func bindingType(b orm.Binding) reflect.Type {
	if b.Type == nil {
		return stringType
	}
	return b.Type
}

// keyType 关联表中引用 m 主键的列类型（不带 PRIMARY KEY、不自增）
func keyType(d dialect.Dialect, m orm.IMapping) string {
	t := stringType
	if kb, ok := m.KeyBinding(); ok {
		t = bindingType(kb)
	}
	return strings.TrimSuffix(d.ColumnType(t, true, false), " PRIMARY KEY")
}

func (p *Provider) ensureTable(ctx context.Context, db core.IDatabase, d dialect.Dialect, table string, cols []column, constraints ...string) error {
	existing, err := existingColumns(ctx, db, d, table)
	if err != nil {
		return p.create(ctx, db, d, table, cols, constraints)
	}
	for _, c := range cols {
		if existing[strings.ToLower(c.name)] {
			continue
		}
		if c.primary {
			// 已有表无法追加主键
			p.logger.Warn(ctx, "primary key column missing", logging.String("table", table), logging.String("column", c.name))
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD %s %s", d.QuoteIdentifier(table), d.QuoteIdentifier(c.name), c.ddl)
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema: add column %s.%s: %w", table, c.name, err)
		}
		p.logger.Info(ctx, "column added", logging.String("table", table), logging.String("column", c.name))
	}
	return nil
}

func (p *Provider) create(ctx context.Context, db core.IDatabase, d dialect.Dialect, table string, cols []column, constraints []string) error {
	defs := make([]string, 0, len(cols)+len(constraints))
	for _, c := range cols {
		defs = append(defs, d.QuoteIdentifier(c.name)+" "+c.ddl)
	}
	defs = append(defs, constraints...)

	body := d.QuoteIdentifier(table) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
	var stmt string
	if d.SupportsCreateIfNotExists() {
		stmt = "CREATE TABLE IF NOT EXISTS " + body
	} else {
		stmt = fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s", strings.ReplaceAll(table, "'", "''"), body)
	}
	if _, err := db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	p.logger.Info(ctx, "table created", logging.String("table", table), logging.Int("columns", len(cols)))
	return nil
}

// existingColumns 读取表的列名（小写）；表不存在时返回错误
func existingColumns(ctx context.Context, db core.IDatabase, d dialect.Dialect, table string) (map[string]bool, error) {
	rows, err := db.Query(ctx, "SELECT * FROM "+d.QuoteIdentifier(table)+" WHERE 1 = 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = true
	}
	return out, nil
}
