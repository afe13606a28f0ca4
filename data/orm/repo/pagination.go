package repo

import (
	"context"

	"microorm/data/orm"
	"microorm/validation"
)

// DefaultPageSize 未指定 Size 时的每页条数
const DefaultPageSize = 20

// ListPage 分页读取：Page 从 1 开始，Total 为满足条件的记录数
func (r *Repo[T]) ListPage(ctx context.Context, options *QueryOptions) (*PagedResult[T], error) {
	opts := QueryOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Size <= 0 {
		opts.Size = DefaultPageSize
	}
	if err := validation.ValidatePageParams(opts.Page, opts.Size); err != nil {
		return nil, err
	}

	params, err := r.params(&opts)
	if err != nil {
		return nil, err
	}

	total, err := orm.PageCount[T](ctx, r.session, 1, params...)
	if err != nil {
		return nil, wrap(err, "failed to count total records")
	}
	items, err := orm.Paged[T](ctx, r.session, opts.Page-1, opts.Size, params...)
	if err != nil {
		return nil, wrap(err, "failed to execute paginated query")
	}

	return &PagedResult[T]{
		Data:       items,
		Total:      int64(total),
		Page:       opts.Page,
		Size:       opts.Size,
		TotalPages: (total + opts.Size - 1) / opts.Size,
	}, nil
}
