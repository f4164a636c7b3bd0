package batch

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/core"
)

// ColumnKind 标识列数据的形态。
type ColumnKind int

const (
	KindDense  ColumnKind = iota // rows×w 稠密矩阵
	KindRagged                   // 变长序列（values+offsets）
	KindSeq                      // rows×steps×dim 三维张量
	KindStack                    // 若干个同形 Seq（逐层输出）
)

func (k ColumnKind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindRagged:
		return "ragged"
	case KindSeq:
		return "seq"
	case KindStack:
		return "stack"
	}
	return "unknown"
}

// Column 是列数据的带标签联合：四种形态共用一个值类型，
// 按 Kind 分派。零值是空的 Dense 列。
type Column struct {
	kind   ColumnKind
	dense  *mat.Dense
	ragged *Ragged
	seq    *Tensor3
	stack  []*Tensor3
}

// Columns 是「列名 → 列数据」的映射。
type Columns map[string]Column

// DenseColumn 包装稠密矩阵为列。
func DenseColumn(m *mat.Dense) Column {
	return Column{kind: KindDense, dense: m}
}

// ScalarColumn 把标量切片包装为 rows×1 的稠密列。
func ScalarColumn(values []float64) Column {
	return Column{kind: KindDense, dense: mat.NewDense(len(values), 1, values)}
}

// RaggedColumn 包装变长序列为列。
func RaggedColumn(r *Ragged) Column {
	return Column{kind: KindRagged, ragged: r}
}

// SeqColumn 包装三维张量为列。
func SeqColumn(t *Tensor3) Column {
	return Column{kind: KindSeq, seq: t}
}

// StackColumn 包装一组同形三维张量为列。
func StackColumn(ts []*Tensor3) Column {
	return Column{kind: KindStack, stack: ts}
}

// Kind 返回列的形态。
func (c Column) Kind() ColumnKind {
	return c.kind
}

// Rows 返回列的行数（第一维大小）。
func (c Column) Rows() int {
	switch c.kind {
	case KindDense:
		if c.dense == nil {
			return 0
		}
		r, _ := c.dense.Dims()
		return r
	case KindRagged:
		if c.ragged == nil {
			return 0
		}
		return c.ragged.Rows()
	case KindSeq:
		if c.seq == nil {
			return 0
		}
		return c.seq.Rows()
	case KindStack:
		if len(c.stack) == 0 {
			return 0
		}
		return c.stack[0].Rows()
	}
	return 0
}

// Dense 返回稠密矩阵，非 Dense 列返回 false。
func (c Column) Dense() (*mat.Dense, bool) {
	if c.kind != KindDense || c.dense == nil {
		return nil, false
	}
	return c.dense, true
}

// Ragged 返回变长序列，非 Ragged 列返回 false。
func (c Column) Ragged() (*Ragged, bool) {
	if c.kind != KindRagged || c.ragged == nil {
		return nil, false
	}
	return c.ragged, true
}

// Seq 返回三维张量，非 Seq 列返回 false。
func (c Column) Seq() (*Tensor3, bool) {
	if c.kind != KindSeq || c.seq == nil {
		return nil, false
	}
	return c.seq, true
}

// Stack 返回三维张量组，非 Stack 列返回 false。
func (c Column) Stack() ([]*Tensor3, bool) {
	if c.kind != KindStack || c.stack == nil {
		return nil, false
	}
	return c.stack, true
}

// ScalarAt 返回标量列第 i 行的值。列不是 rows×1 稠密矩阵时报错。
func (c Column) ScalarAt(i int) (float64, error) {
	m, ok := c.Dense()
	if !ok {
		return 0, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: column is %s, not a scalar dense column", c.kind)
	}
	r, w := m.Dims()
	if w != 1 {
		return 0, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: column has width %d, not a scalar column", w)
	}
	if i < 0 || i >= r {
		return 0, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: scalar index %d out of range [0,%d)", i, r)
	}
	return m.At(i, 0), nil
}

// empty 判断列是否没有装载数据（零值列或 nil 载荷）。
func (c Column) empty() bool {
	switch c.kind {
	case KindDense:
		return c.dense == nil
	case KindRagged:
		return c.ragged == nil
	case KindSeq:
		return c.seq == nil
	case KindStack:
		return len(c.stack) == 0
	}
	return true
}

// Gather 按行下标收集。Stack 列逐层收集。
func (c Column) Gather(idx []int) (Column, error) {
	if c.empty() {
		return Column{}, core.NewDomainError(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: cannot gather from an empty column")
	}
	switch c.kind {
	case KindDense:
		rows, w := c.dense.Dims()
		out := mat.NewDense(len(idx), w, nil)
		for j, i := range idx {
			if i < 0 || i >= rows {
				return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: gather index %d out of range [0,%d)", i, rows)
			}
			out.SetRow(j, c.dense.RawRowView(i))
		}
		return DenseColumn(out), nil
	case KindRagged:
		g, err := c.ragged.Gather(idx)
		if err != nil {
			return Column{}, err
		}
		return RaggedColumn(g), nil
	case KindSeq:
		g, err := c.seq.Gather(idx)
		if err != nil {
			return Column{}, err
		}
		return SeqColumn(g), nil
	case KindStack:
		out := make([]*Tensor3, 0, len(c.stack))
		for _, t := range c.stack {
			g, err := t.Gather(idx)
			if err != nil {
				return Column{}, err
			}
			out = append(out, g)
		}
		return StackColumn(out), nil
	}
	return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeNotSupported, "batch: gather not supported for column kind %s", c.kind)
}

// RepeatInterleave 把每行连续重复 n 次。
func (c Column) RepeatInterleave(n int) (Column, error) {
	if n < 1 {
		return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: repeat count must be >= 1, got %d", n)
	}
	if c.empty() {
		return Column{}, core.NewDomainError(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: cannot repeat an empty column")
	}
	switch c.kind {
	case KindDense:
		rows, w := c.dense.Dims()
		out := mat.NewDense(rows*n, w, nil)
		for i := 0; i < rows; i++ {
			for k := 0; k < n; k++ {
				out.SetRow(i*n+k, c.dense.RawRowView(i))
			}
		}
		return DenseColumn(out), nil
	case KindRagged:
		return RaggedColumn(c.ragged.RepeatInterleave(n)), nil
	case KindSeq:
		return SeqColumn(c.seq.RepeatInterleave(n)), nil
	case KindStack:
		out := make([]*Tensor3, 0, len(c.stack))
		for _, t := range c.stack {
			out = append(out, t.RepeatInterleave(n))
		}
		return StackColumn(out), nil
	}
	return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeNotSupported, "batch: repeat not supported for column kind %s", c.kind)
}

// AppendRows 按行拼接两列，形态必须一致。
func (c Column) AppendRows(other Column) (Column, error) {
	if c.kind != other.kind {
		return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: cannot append %s column to %s column", other.kind, c.kind)
	}
	if c.empty() || other.empty() {
		return Column{}, core.NewDomainError(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: cannot append empty columns")
	}
	switch c.kind {
	case KindDense:
		_, w1 := c.dense.Dims()
		_, w2 := other.dense.Dims()
		if w1 != w2 {
			return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: dense append width mismatch: %d vs %d", w1, w2)
		}
		var stacked mat.Dense
		stacked.Stack(c.dense, other.dense)
		return DenseColumn(&stacked), nil
	case KindRagged:
		return RaggedColumn(c.ragged.AppendRows(other.ragged)), nil
	case KindSeq:
		t, err := c.seq.AppendRows(other.seq)
		if err != nil {
			return Column{}, err
		}
		return SeqColumn(t), nil
	}
	return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeNotSupported, "batch: append not supported for column kind %s", c.kind)
}

// AssembleColumns 按扁平 map 约定组装列：
// "<col>__values" 和 "<col>__offsets" 成对出现时合并为 Ragged 列，
// 其余键作为标量列。offsets 必须是非负整数值。
func AssembleColumns(flat map[string][]float64) (Columns, error) {
	out := make(Columns, len(flat))
	seen := make(map[string]bool, len(flat))
	for key := range flat {
		if seen[key] {
			continue
		}
		switch {
		case strings.HasSuffix(key, ValuesSuffix):
			name := strings.TrimSuffix(key, ValuesSuffix)
			offsetsKey := name + OffsetsSuffix
			rawOffsets, ok := flat[offsetsKey]
			if !ok {
				return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: column %q has values but no matching %q", key, offsetsKey)
			}
			offsets, err := toOffsets(name, rawOffsets)
			if err != nil {
				return nil, err
			}
			rg, err := NewRagged(flat[key], offsets)
			if err != nil {
				return nil, err
			}
			out[name] = RaggedColumn(rg)
			seen[key] = true
			seen[offsetsKey] = true
		case strings.HasSuffix(key, OffsetsSuffix):
			name := strings.TrimSuffix(key, OffsetsSuffix)
			valuesKey := name + ValuesSuffix
			if _, ok := flat[valuesKey]; !ok {
				return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: column %q has offsets but no matching %q", key, valuesKey)
			}
			// merged when the values key is visited
		default:
			out[key] = ScalarColumn(append([]float64(nil), flat[key]...))
			seen[key] = true
		}
	}
	return out, nil
}

func toOffsets(name string, raw []float64) ([]int, error) {
	out := make([]int, len(raw))
	for i, v := range raw {
		n := int(v)
		if float64(n) != v || n < 0 {
			return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: column %q offset[%d]=%v is not a non-negative integer", name, i, v)
		}
		out[i] = n
	}
	return out, nil
}

// Single 要求映射里只有一列并返回它，否则返回 INVALID_INPUT。
// 聚合之后的输出常用它取回唯一结果。
func Single(cols Columns) (Column, error) {
	if len(cols) == 1 {
		for _, c := range cols {
			return c, nil
		}
	}
	return Column{}, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: expected exactly one column, got %d (%s)", len(cols), strings.Join(SortedNames(cols), ", "))
}

// SortedNames 返回按字典序排序的列名，保证遍历顺序确定。
func SortedNames(cols Columns) []string {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
