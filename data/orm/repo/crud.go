package repo

import (
	"context"

	"microorm/data/orm"
	"microorm/errors"
)

// Get 按主键读取，不存在时返回 NOT_FOUND 错误
func (r *Repo[T]) Get(ctx context.Context, key any) (*T, error) {
	obj, ok, err := orm.Any[T](ctx, r.session, orm.Eq(r.mapping.PrimaryKey(), key))
	if err != nil {
		return nil, wrap(err, "failed to query record")
	}
	if !ok {
		return nil, errors.NewError(errors.ErrCodeNotFound, "record not found").
			WithContext("table", r.mapping.Table()).
			WithContext("key", key)
	}
	return obj, nil
}

// Exists 主键对应的记录是否存在
func (r *Repo[T]) Exists(ctx context.Context, key any) (bool, error) {
	_, ok, err := orm.Any[T](ctx, r.session, orm.Eq(r.mapping.PrimaryKey(), key))
	if err != nil {
		return false, wrap(err, "failed to check record existence")
	}
	return ok, nil
}

// List 按过滤与排序读取全部记录，忽略分页选项
func (r *Repo[T]) List(ctx context.Context, opts *QueryOptions) ([]*T, error) {
	params, err := r.params(opts)
	if err != nil {
		return nil, err
	}
	items, err := orm.All[T](ctx, r.session, params...)
	if err != nil {
		return nil, wrap(err, "failed to list records")
	}
	return items, nil
}

// Count 满足过滤条件的记录数；多数据源时取各数据源计数的最大值
func (r *Repo[T]) Count(ctx context.Context, opts *QueryOptions) (int64, error) {
	params, err := r.params(opts)
	if err != nil {
		return 0, err
	}
	n, err := orm.PageCount[T](ctx, r.session, 1, params...)
	if err != nil {
		return 0, wrap(err, "failed to count records")
	}
	return int64(n), nil
}

// Save 校验后保存（含级联关系）
func (r *Repo[T]) Save(ctx context.Context, entity *T) error {
	if entity == nil {
		return errors.NewInvalidArgument("entity to save is nil")
	}
	if v, ok := any(entity).(IValidatable); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if err := orm.Save(ctx, r.session, entity); err != nil {
		return wrap(err, "保存记录失败")
	}
	return nil
}

// Delete 删除（含级联关系）
func (r *Repo[T]) Delete(ctx context.Context, entity *T) error {
	if entity == nil {
		return errors.NewInvalidArgument("entity to delete is nil")
	}
	if err := orm.Delete(ctx, r.session, entity); err != nil {
		return wrap(err, "删除记录失败")
	}
	return nil
}

// AddAll 校验后批量插入，返回写入行数
func (r *Repo[T]) AddAll(ctx context.Context, entities []*T) (int64, error) {
	for _, e := range entities {
		if v, ok := any(e).(IValidatable); ok && e != nil {
			if err := v.Validate(); err != nil {
				return 0, err
			}
		}
	}
	n, err := orm.InsertAll(ctx, r.session, entities)
	if err != nil {
		return n, wrap(err, "批量保存记录失败")
	}
	return n, nil
}

// Load 为多个实体加载同名关联属性
func (r *Repo[T]) Load(ctx context.Context, entities []*T, name string) error {
	return orm.LoadProperties(ctx, r.session, entities, name)
}
