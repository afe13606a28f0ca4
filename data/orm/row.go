package orm

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	core "microorm/data/db"
)

// Row 以列名为键的松散类型行数据，查询结果与缓存都以 Row 表示。
type Row map[string]any

// Get 按列名取值，大小写不敏感
func (r Row) Get(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// Clone 深拷贝（[]byte 值复制底层数组）
func (r Row) Clone() Row {
	out := make(Row, len(r))
	r.CopyTo(out)
	return out
}

// CopyTo 将所有列复制到 dst，已有列被覆盖
func (r Row) CopyTo(dst Row) {
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		dst[k] = v
	}
}

// scanRows 读取结果集的所有行。
// 非二进制列的 []byte 转为 string，保证行在缓存序列化前后形态一致。
func scanRows(rows core.IRows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	binary := make([]bool, len(cols))
	if types, err := rows.ColumnTypes(); err == nil && len(types) == len(cols) {
		for i, t := range types {
			binary[i] = isBinaryColumn(t.DatabaseTypeName())
		}
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				if binary[i] {
					v = append([]byte(nil), b...)
				} else {
					v = string(b)
				}
			}
			row[c] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func isBinaryColumn(typeName string) bool {
	t := strings.ToUpper(typeName)
	return strings.Contains(t, "BLOB") || strings.Contains(t, "BINARY") || t == "BYTEA" || t == "IMAGE"
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// assignValue 将行中的值写入字段，按需做类型转换。
//
// 覆盖的转换：
//   - nil → 零值；
//   - 实现 sql.Scanner 的字段交给 Scan（例如 uuid.UUID）；
//   - 数值之间、数值与字符串之间、int 与 bool 之间；
//   - 字符串/[]byte → time.Time。
func assignValue(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := assignValue(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(v)
	}
	if dst.Type() == timeType {
		t, err := toTime(v)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	if b, ok := v.([]byte); ok && dst.Kind() != reflect.Slice {
		v = string(b)
		src = reflect.ValueOf(v)
	}

	switch dst.Kind() {
	case reflect.String:
		switch x := v.(type) {
		case string:
			dst.SetString(x)
		case time.Time:
			dst.SetString(x.Format(time.RFC3339Nano))
		default:
			dst.SetString(fmt.Sprint(x))
		}
		return nil
	case reflect.Bool:
		switch x := v.(type) {
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return err
			}
			dst.SetBool(b)
			return nil
		default:
			if n, ok := numberOf(src); ok {
				dst.SetBool(n != 0)
				return nil
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s, ok := v.(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return err
			}
			dst.SetInt(n)
			return nil
		}
		if n, ok := numberOf(src); ok {
			dst.SetInt(int64(n))
			return nil
		}
		if b, ok := v.(bool); ok {
			dst.SetInt(boolInt(b))
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := v.(string); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return err
			}
			dst.SetUint(n)
			return nil
		}
		if n, ok := numberOf(src); ok {
			dst.SetUint(uint64(n))
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return err
			}
			dst.SetFloat(f)
			return nil
		}
		if n, ok := numberOf(src); ok {
			dst.SetFloat(n)
			return nil
		}
	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			switch x := v.(type) {
			case []byte:
				dst.SetBytes(append([]byte(nil), x...))
				return nil
			case string:
				dst.SetBytes([]byte(x))
				return nil
			}
		}
	}

	if src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}

func numberOf(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	if n, ok := v.Interface().(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

// convertTo 把任意值转为 typ 类型，常用于主键回写
func convertTo(v any, typ reflect.Type) (any, error) {
	dst := reflect.New(typ).Elem()
	if err := assignValue(dst, v); err != nil {
		return nil, err
	}
	return dst.Interface(), nil
}

// isZeroValue 值是否为其类型的零值（nil、0、""、零 UUID 等）
func isZeroValue(v any) bool {
	if isNil(v) {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// keyString 主键的规范文本形式，跨数据源合并时用于比较
func keyString(v any) string {
	if isNil(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
	case float32:
		if x == float32(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
	}
	return fmt.Sprint(v)
}
