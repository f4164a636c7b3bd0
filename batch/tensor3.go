package batch

import (
	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/core"
)

// Tensor3 是 (rows, steps, dim) 的三维张量，行主序平铺为
// (rows*steps)×dim 的 gonum 矩阵：第 r 行第 s 步对应
// Data 的第 r*Steps+s 行。
//
// padding 之后的序列特征、embedding 之后的序列输入、transformer
// 的 hidden states 都用这个形态。
type Tensor3 struct {
	Steps int
	Data  *mat.Dense
}

// NewTensor3 创建全零的 (rows, steps, dim) 张量。
func NewTensor3(rows, steps, dim int) *Tensor3 {
	return &Tensor3{
		Steps: steps,
		Data:  mat.NewDense(rows*steps, dim, nil),
	}
}

// Tensor3FromDense 把 (rows*steps)×dim 矩阵解释为三维张量。
// 行数不能被 steps 整除时返回 INVALID_INPUT。
func Tensor3FromDense(data *mat.Dense, steps int) (*Tensor3, error) {
	if steps <= 0 {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: tensor3 steps must be positive, got %d", steps)
	}
	r, _ := data.Dims()
	if r%steps != 0 {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: tensor3 data has %d rows, not divisible by steps %d", r, steps)
	}
	return &Tensor3{Steps: steps, Data: data}, nil
}

// Rows 返回第一维大小。
func (t *Tensor3) Rows() int {
	r, _ := t.Data.Dims()
	return r / t.Steps
}

// Dim 返回最后一维大小。
func (t *Tensor3) Dim() int {
	_, c := t.Data.Dims()
	return c
}

// At 返回 (r, s, d) 处的元素。
func (t *Tensor3) At(r, s, d int) float64 {
	return t.Data.At(r*t.Steps+s, d)
}

// Set 设置 (r, s, d) 处的元素。
func (t *Tensor3) Set(r, s, d int, v float64) {
	t.Data.Set(r*t.Steps+s, d, v)
}

// StepVec 返回第 r 行第 s 步的 dim 维向量切片视图。
func (t *Tensor3) StepVec(r, s int) []float64 {
	return t.Data.RawRowView(r*t.Steps + s)
}

// RowMatrix 返回第 r 行的 steps×dim 矩阵视图。
func (t *Tensor3) RowMatrix(r int) mat.Matrix {
	return t.Data.Slice(r*t.Steps, (r+1)*t.Steps, 0, t.Dim())
}

// Gather 按第一维下标收集，返回新张量。
func (t *Tensor3) Gather(idx []int) (*Tensor3, error) {
	rows := t.Rows()
	out := NewTensor3(len(idx), t.Steps, t.Dim())
	for j, i := range idx {
		if i < 0 || i >= rows {
			return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: tensor3 gather index %d out of range [0,%d)", i, rows)
		}
		for s := 0; s < t.Steps; s++ {
			out.Data.SetRow(j*t.Steps+s, t.Data.RawRowView(i*t.Steps+s))
		}
	}
	return out, nil
}

// RepeatInterleave 把第一维每行连续重复 n 次。
func (t *Tensor3) RepeatInterleave(n int) *Tensor3 {
	rows := t.Rows()
	out := NewTensor3(rows*n, t.Steps, t.Dim())
	for i := 0; i < rows; i++ {
		for k := 0; k < n; k++ {
			dst := (i*n + k) * t.Steps
			for s := 0; s < t.Steps; s++ {
				out.Data.SetRow(dst+s, t.Data.RawRowView(i*t.Steps+s))
			}
		}
	}
	return out
}

// AppendRows 返回两个张量按第一维拼接的新张量。
// steps 或 dim 不一致时返回 INVALID_INPUT。
func (t *Tensor3) AppendRows(other *Tensor3) (*Tensor3, error) {
	if t.Steps != other.Steps || t.Dim() != other.Dim() {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput,
			"batch: tensor3 append shape mismatch: (steps=%d,dim=%d) vs (steps=%d,dim=%d)",
			t.Steps, t.Dim(), other.Steps, other.Dim())
	}
	var stacked mat.Dense
	stacked.Stack(t.Data, other.Data)
	return &Tensor3{Steps: t.Steps, Data: &stacked}, nil
}
