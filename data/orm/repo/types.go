package repo

import "strings"

// SortDirection 排序方向
type SortDirection string

const (
	ASC  SortDirection = "ASC"
	DESC SortDirection = "DESC"
)

func (s SortDirection) IsValid() bool {
	switch SortDirection(strings.ToUpper(string(s))) {
	case ASC, DESC:
		return true
	}
	return false
}

func (s SortDirection) desc() bool { return strings.EqualFold(string(s), string(DESC)) }

// Sort 一个排序字段
type Sort struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// QueryOptions 列表与分页查询选项。
// Filters 的键为列名，值按相等比较；Page 从 1 开始。
type QueryOptions struct {
	Page    int            `json:"page"`
	Size    int            `json:"size"`
	Sorts   []Sort         `json:"sorts"`
	Filters map[string]any `json:"filters"`
}

// PagedResult 分页结果
type PagedResult[T any] struct {
	Data       []*T  `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	TotalPages int   `json:"total_pages"`
}

// IValidatable 保存前自校验的实体
type IValidatable interface {
	Validate() error
}
