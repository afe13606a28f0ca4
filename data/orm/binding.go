package orm

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
)

// BindingMode 绑定的读写方向
type BindingMode int

const (
	// ModeRead 从查询结果读入对象，出现在 SELECT 列表中
	ModeRead BindingMode = 1 << iota
	// ModeWrite 写入数据库，出现在 INSERT/UPDATE 列表中
	ModeWrite
	// ModeBoth 读写
	ModeBoth = ModeRead | ModeWrite
)

func (m BindingMode) CanRead() bool  { return m&ModeRead != 0 }
func (m BindingMode) CanWrite() bool { return m&ModeWrite != 0 }

func (m BindingMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeBoth:
		return "both"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Binding 一个列与对象属性之间的绑定。
// 访问器在定义映射时生成，执行期不再做字段查找。
type Binding struct {
	Column     string
	Field      string
	Type       reflect.Type
	Mode       BindingMode
	PrimaryKey bool

	get func(obj any) any
	set func(obj any, v any) error
}

// Get 读取对象上的值
func (b Binding) Get(obj any) any {
	if b.get == nil {
		return nil
	}
	return b.get(obj)
}

// Set 写入对象，值按字段类型转换
func (b Binding) Set(obj any, v any) error {
	if b.set == nil {
		return fmt.Errorf("column %s is not settable", b.Column)
	}
	return b.set(obj, v)
}

// Settable 是否提供了写入访问器
func (b Binding) Settable() bool { return b.set != nil }

// BindingOption 绑定选项
type BindingOption func(*Binding)

// Column 指定列名，默认与字段名相同
func Column(name string) BindingOption {
	return func(b *Binding) { b.Column = name }
}

// Mode 指定读写方向，默认 ModeBoth
func Mode(mode BindingMode) BindingOption {
	return func(b *Binding) { b.Mode = mode }
}

// ReadOnly 等价于 Mode(ModeRead)，用于计算列
func ReadOnly() BindingOption { return Mode(ModeRead) }

// fieldByIndexAlloc 按索引路径定位字段，途经的 nil 内嵌指针会被分配
func fieldByIndexAlloc(v reflect.Value, index []int) reflect.Value {
	for i, idx := range index {
		if i > 0 && v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	return v
}

// fieldByIndexSafe 只读定位，遇到 nil 内嵌指针返回无效值
func fieldByIndexSafe(v reflect.Value, index []int) reflect.Value {
	for i, idx := range index {
		if i > 0 && v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct || idx < 0 || idx >= v.NumField() {
			return reflect.Value{}
		}
		v = v.Field(idx)
	}
	return v
}

var valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()

// isScalarDBField 能直接作为列值的字段类型
func isScalarDBField(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType || t.Implements(valuerType) || reflect.PointerTo(t).Implements(scannerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	default:
		return false
	}
}

// parseColumnTag 解析 gorm/db/json 标签，返回列名与是否自增；skip 表示显式忽略。
func parseColumnTag(f reflect.StructField) (column string, autoIncrement, skip bool) {
	if gormTag := f.Tag.Get("gorm"); gormTag != "" {
		for _, part := range strings.Split(gormTag, ";") {
			part = strings.TrimSpace(part)
			switch {
			case part == "-":
				skip = true
			case strings.HasPrefix(part, "column:"):
				column = strings.TrimPrefix(part, "column:")
			case strings.EqualFold(part, "autoIncrement"):
				autoIncrement = true
			}
		}
	}
	if column == "" {
		if dbTag := f.Tag.Get("db"); dbTag != "" {
			name := strings.Split(dbTag, ",")[0]
			if name == "-" {
				skip = true
			}
			column = name
		} else if jsonTag := f.Tag.Get("json"); jsonTag != "" {
			name := strings.Split(jsonTag, ",")[0]
			if name != "-" {
				column = name
			}
		}
	}
	if column == "-" {
		column = ""
	}
	return column, autoIncrement, skip
}
