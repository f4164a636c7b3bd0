// Package batch 定义批数据的载体类型。
//
// 一个 Batch 是「列名 → 列数据」的映射，列数据有四种形态：
//   - Dense：rows×w 稠密矩阵（标量列为 rows×1）
//   - Ragged：变长序列的扁平编码（values + offsets）
//   - Seq：rows×steps×dim 的三维张量（padding/embedding 之后）
//   - Stack：若干个同形 Seq（逐层 hidden states / attentions）
//
// 与外部系统交换数据时使用扁平 map 约定：
// 键 "<col>__values" 与 "<col>__offsets" 成对出现时合并为一个
// Ragged 列，其余键是标量列。
package batch

import (
	"github.com/rushteam/recblocks/core"
)

// 扁平 map 边界约定的键后缀。
const (
	ValuesSuffix  = "__values"
	OffsetsSuffix = "__offsets"
)

// Ragged 是变长序列的扁平编码：第 i 行为
// Values[Offsets[i]:Offsets[i+1]]。
//
// 不变量：
//   - len(Offsets) == 行数 + 1
//   - Offsets[0] == 0，单调不减
//   - Offsets[len-1] == len(Values)
type Ragged struct {
	Values  []float64
	Offsets []int
}

// NewRagged 根据扁平 values 和 offsets 创建 Ragged，并校验不变量。
func NewRagged(values []float64, offsets []int) (*Ragged, error) {
	if len(offsets) == 0 {
		return nil, core.NewDomainError(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: ragged offsets must not be empty")
	}
	if offsets[0] != 0 {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: ragged offsets must start at 0, got %d", offsets[0])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: ragged offsets must be non-decreasing, offsets[%d]=%d < offsets[%d]=%d", i, offsets[i], i-1, offsets[i-1])
		}
	}
	if last := offsets[len(offsets)-1]; last != len(values) {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: ragged offsets end at %d but values has %d elements", last, len(values))
	}
	return &Ragged{Values: values, Offsets: offsets}, nil
}

// RaggedFromRows 从逐行切片构造 Ragged。
func RaggedFromRows(rows [][]float64) *Ragged {
	total := 0
	for _, r := range rows {
		total += len(r)
	}
	values := make([]float64, 0, total)
	offsets := make([]int, 0, len(rows)+1)
	offsets = append(offsets, 0)
	for _, r := range rows {
		values = append(values, r...)
		offsets = append(offsets, len(values))
	}
	return &Ragged{Values: values, Offsets: offsets}
}

// Rows 返回行数。
func (r *Ragged) Rows() int {
	return len(r.Offsets) - 1
}

// Row 返回第 i 行的切片视图（不复制，修改会写回）。
func (r *Ragged) Row(i int) []float64 {
	return r.Values[r.Offsets[i]:r.Offsets[i+1]]
}

// RowLengths 返回每行的长度（offsets 的一阶差分）。
func (r *Ragged) RowLengths() []int {
	out := make([]int, r.Rows())
	for i := range out {
		out[i] = r.Offsets[i+1] - r.Offsets[i]
	}
	return out
}

// MaxRowLength 返回最长行的长度，空 Ragged 返回 0。
func (r *Ragged) MaxRowLength() int {
	max := 0
	for i := 0; i < r.Rows(); i++ {
		if l := r.Offsets[i+1] - r.Offsets[i]; l > max {
			max = l
		}
	}
	return max
}

// Gather 按行下标收集，返回新 Ragged。下标越界返回 INVALID_INPUT。
func (r *Ragged) Gather(idx []int) (*Ragged, error) {
	rows := make([][]float64, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= r.Rows() {
			return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: ragged gather index %d out of range [0,%d)", i, r.Rows())
		}
		rows = append(rows, r.Row(i))
	}
	return RaggedFromRows(rows), nil
}

// RepeatInterleave 把每行连续重复 n 次：行序列 [a,b] 在 n=2 时
// 变为 [a,a,b,b]。
func (r *Ragged) RepeatInterleave(n int) *Ragged {
	rows := make([][]float64, 0, r.Rows()*n)
	for i := 0; i < r.Rows(); i++ {
		for k := 0; k < n; k++ {
			rows = append(rows, r.Row(i))
		}
	}
	return RaggedFromRows(rows)
}

// AppendRows 返回两个 Ragged 按行拼接的新 Ragged。
func (r *Ragged) AppendRows(other *Ragged) *Ragged {
	values := make([]float64, 0, len(r.Values)+len(other.Values))
	values = append(values, r.Values...)
	values = append(values, other.Values...)
	offsets := make([]int, 0, len(r.Offsets)+other.Rows())
	offsets = append(offsets, r.Offsets...)
	base := r.Offsets[len(r.Offsets)-1]
	for i := 1; i < len(other.Offsets); i++ {
		offsets = append(offsets, base+other.Offsets[i])
	}
	return &Ragged{Values: values, Offsets: offsets}
}

// Clone 返回深拷贝。
func (r *Ragged) Clone() *Ragged {
	return &Ragged{
		Values:  append([]float64(nil), r.Values...),
		Offsets: append([]int(nil), r.Offsets...),
	}
}
