// Package repo 在会话之上提供按类型的通用仓储：按主键读取、条件列表、分页与写入。
package repo

import (
	stdErrors "errors"

	"microorm/data/db/dialect"
	"microorm/data/orm"
	"microorm/errors"
)

// Repo 类型 T 的仓储，读写都委托给会话，因此共享会话的缓存与多数据源合并。
type Repo[T any] struct {
	session *orm.Session
	mapping orm.IMapping
}

// New 创建仓储；T 在会话的可读数据源上没有映射时返回配置错误。
func New[T any](s *orm.Session) (*Repo[T], error) {
	m, err := s.MappingOf(orm.TypeOf[T]())
	if err != nil {
		return nil, err
	}
	return &Repo[T]{session: s, mapping: m}, nil
}

// Session 仓储使用的会话
func (r *Repo[T]) Session() *orm.Session { return r.session }

// Mapping 读操作使用的映射
func (r *Repo[T]) Mapping() orm.IMapping { return r.mapping }

// wrap 执行器错误包装为 CONFLICT（唯一键冲突）或 DATABASE_ERROR；已分类的错误原样返回
func wrap(err error, msg string) error {
	var appErr *errors.AppError
	if stdErrors.As(err, &appErr) {
		return err
	}
	if dialect.IsUniqueViolation(err) {
		return errors.WrapError(err, errors.ErrCodeConflict, "record already exists")
	}
	return errors.WrapError(err, errors.ErrCodeDatabase, msg)
}
