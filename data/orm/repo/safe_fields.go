package repo

import (
	"sort"
	"strings"

	dbsql "microorm/data/db/sql"
	"microorm/data/orm"
	"microorm/errors"
)

// column 把字段名或列名解析为映射中的可读列名。
// 名称必须是安全标识符，且属于映射的绑定集合。
func (r *Repo[T]) column(name string) (string, bool) {
	if !dbsql.IsSafeIdentifier(name) {
		return "", false
	}
	for _, b := range r.mapping.Bindings() {
		if !b.Mode.CanRead() {
			continue
		}
		if strings.EqualFold(b.Column, name) || b.Field == name {
			return b.Column, true
		}
	}
	return "", false
}

// params 把过滤与排序选项转为查询参数；未知字段返回参数错误。
func (r *Repo[T]) params(opts *QueryOptions) ([]orm.IParameter, error) {
	if opts == nil {
		return nil, nil
	}
	var out []orm.IParameter

	// 按键排序，保证相同条件生成相同的缓存键
	keys := make([]string, 0, len(opts.Filters))
	for k := range opts.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		col, ok := r.column(k)
		if !ok {
			return nil, errors.NewInvalidArgument("filter on unknown field %q", k)
		}
		out = append(out, orm.Eq(col, opts.Filters[k]))
	}

	for _, s := range opts.Sorts {
		col, ok := r.column(s.Field)
		if !ok {
			return nil, errors.NewInvalidArgument("sort on unknown field %q", s.Field)
		}
		if s.Direction != "" && !s.Direction.IsValid() {
			return nil, errors.NewInvalidArgument("invalid sort direction %q", s.Direction)
		}
		out = append(out, orm.OrderBy(col, s.Direction.desc()))
	}
	return out, nil
}
