package orm

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"reflect"
	"strconv"

	core "microorm/data/db"
	"microorm/data/db/dialect"
	"microorm/errors"
)

// CommandKind 命令类型
type CommandKind int

const (
	// CommandText 普通 SQL 文本，参数使用 ? 占位
	CommandText CommandKind = iota
	// CommandProcedure 存储过程名，执行时按方言渲染为 EXEC/CALL
	CommandProcedure
)

func (k CommandKind) String() string {
	switch k {
	case CommandText:
		return "text"
	case CommandProcedure:
		return "procedure"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Parameter 命令参数，Name 为位置序号 "0","1",...
type Parameter struct {
	Name  string
	Value any
}

// Command 不可变的命令值对象：文本、类型与按位置排列的参数。
type Command struct {
	text   string
	kind   CommandKind
	params []Parameter
}

// NewCommand 创建命令；values 为 nil 时等价于空参数列表。
func NewCommand(text string, kind CommandKind, values ...any) Command {
	params := make([]Parameter, len(values))
	for i, v := range values {
		params[i] = Parameter{Name: strconv.Itoa(i), Value: v}
	}
	return Command{text: text, kind: kind, params: params}
}

// Text 创建文本命令
func Text(text string, values ...any) Command {
	return NewCommand(text, CommandText, values...)
}

// Procedure 创建存储过程命令
func Procedure(name string, values ...any) Command {
	return NewCommand(name, CommandProcedure, values...)
}

func (c Command) Text() string      { return c.text }
func (c Command) Kind() CommandKind { return c.kind }

// Parameters 返回参数副本
func (c Command) Parameters() []Parameter {
	out := make([]Parameter, len(c.params))
	copy(out, c.params)
	return out
}

// Values 按位置返回参数值
func (c Command) Values() []any {
	out := make([]any, len(c.params))
	for i, p := range c.params {
		out[i] = p.Value
	}
	return out
}

// IsZero 命令文本为空
func (c Command) IsZero() bool { return c.text == "" }

// Equal 结构相等：文本、类型、参数个数及每个参数值依次相等。
func (c Command) Equal(other Command) bool {
	if c.text != other.text || c.kind != other.kind || len(c.params) != len(other.params) {
		return false
	}
	for i := range c.params {
		if !valuesEqual(c.params[i].Value, other.params[i].Value) {
			return false
		}
	}
	return true
}

// valuesEqual nil 只与 nil 相等（包括值为 nil 的指针）
func valuesEqual(a, b any) bool {
	an, bn := isNil(a), isNil(b)
	if an || bn {
		return an == bn
	}
	return reflect.DeepEqual(a, b)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Hash FNV-1a 多项式组合，与 Equal 一致：相等的命令哈希相等。
func (c Command) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.text))
	_, _ = h.Write([]byte{0, byte(c.kind)})
	for _, p := range c.params {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(canonicalValue(p.Value)))
	}
	return h.Sum64()
}

// canonicalValue 生成参数值的稳定文本形式，用于哈希与缓存键
func canonicalValue(v any) string {
	if isNil(v) {
		return "<nil>"
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%T:%s", v, floatText(rv.Float(), rv.Type().Bits()))
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		bits := rv.Type().Bits() / 2
		return fmt.Sprintf("%T:(%s,%s)", v, floatText(real(c), bits), floatText(imag(c), bits))
	}
	return fmt.Sprintf("%T:%v", v, rv)
}

// floatText -0 与 0 相等，文本也必须相同
func floatText(f float64, bits int) string {
	if f == 0 {
		f = 0
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func (c Command) String() string {
	return fmt.Sprintf("%s %q %v", c.kind, c.text, c.Values())
}

// Render 返回发送给执行器的文本。
// 存储过程按方言渲染；prefix 非空时将 ? 改写为 prefix1、prefix2...
func (c Command) Render(d dialect.Dialect, prefix string) string {
	text := c.text
	if c.kind == CommandProcedure {
		text = d.ProcedureCall(c.text, len(c.params))
	}
	if prefix != "" {
		text = dialect.RebindPrefix(text, prefix)
	}
	return text
}

// Rendered 返回已按方言与前缀渲染的文本命令，参数不变
func (c Command) Rendered(d dialect.Dialect, prefix string) Command {
	return Command{text: c.Render(d, prefix), kind: CommandText, params: c.params}
}

// Exec 执行命令并返回结果
func (c Command) Exec(ctx context.Context, exec core.IDatabase, prefix string) (sql.Result, error) {
	if c.text == "" {
		return nil, errors.NewInvalidArgument("command text is empty")
	}
	return exec.Exec(ctx, c.Render(dialect.FromDatabase(exec), prefix), c.Values()...)
}

// Query 执行查询命令并把结果读为 Row 列表
func (c Command) Query(ctx context.Context, exec core.IDatabase, prefix string) ([]Row, error) {
	if c.text == "" {
		return nil, errors.NewInvalidArgument("command text is empty")
	}
	rows, err := exec.Query(ctx, c.Render(dialect.FromDatabase(exec), prefix), c.Values()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// Batch 一次写操作累积的命令列表，按加入顺序执行。
// 与待执行或已执行命令相等的命令会被丢弃。
type Batch struct {
	pending []Command
	done    []Command
}

// NewBatch 创建空批次
func NewBatch() *Batch { return &Batch{} }

// Add 加入命令，返回是否真正加入
func (b *Batch) Add(cmd Command) bool {
	if cmd.IsZero() || b.contains(b.pending, cmd) || b.contains(b.done, cmd) {
		return false
	}
	b.pending = append(b.pending, cmd)
	return true
}

func (b *Batch) contains(list []Command, cmd Command) bool {
	h := cmd.Hash()
	for _, c := range list {
		if c.Hash() == h && c.Equal(cmd) {
			return true
		}
	}
	return false
}

// Len 待执行命令数
func (b *Batch) Len() int { return len(b.pending) }

// Flush 依次执行待执行命令；出错时停止，已执行的命令仍记为完成。
// 命令按原文执行，需要前缀的命令应先经 Rendered 渲染。
func (b *Batch) Flush(ctx context.Context, exec core.IDatabase) error {
	for len(b.pending) > 0 {
		cmd := b.pending[0]
		b.pending = b.pending[1:]
		b.done = append(b.done, cmd)
		if _, err := cmd.Exec(ctx, exec, ""); err != nil {
			return err
		}
	}
	return nil
}
