// Package transforms 提供批空间的数据变换：ragged 序列的 padding
// 对齐、next-item 目标构造等。这些变换同时触碰特征与目标，
// 因此实现 blocks.BatchOp 而不是 blocks.Tabular。
package transforms

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// Padding 把批里的变长序列列右对齐成定长稠密张量。
//
// 行为：
//   - 目标长度 L 为配置值；未配置时取当前批序列列的最长行
//   - schema 内的 ragged 列 padding 成 rows×L（pad 值为 0）
//   - schema 内、带 SEQUENCE 标签的稠密列同样补齐到宽度 L
//   - schema 内的其余列原样透传，schema 外的列丢弃
//   - 目标侧的 ragged 列一并 padding，其余目标透传
//   - 输出 Batch 的 Sequences 记录 padding 前的逐行长度
//
// 不变量：批内所有序列列的逐行长度必须一致，不一致立即报错。
// 行长超过 L 时右侧截断。连续值列表特征请先归一化到 [0,1]，
// 因为 pad 值固定为 0。
type Padding struct {
	schema   *schema.Schema
	seqNames map[string]bool
	maxLen   int
}

// PaddingOption 配置 Padding。
type PaddingOption func(*Padding)

// WithMaxSequenceLength 固定目标长度 L；不设置时按批推断。
func WithMaxSequenceLength(n int) PaddingOption {
	return func(p *Padding) {
		p.maxLen = n
	}
}

// padValue 是 pad 位置的填充值，同时也是稠密序列列里
// 识别有效元素的哨兵：等于它的元素不计入长度。
const padValue = 0.0

// NewPadding 创建 padding 算子。schema 决定哪些列会被处理。
func NewPadding(s *schema.Schema, opts ...PaddingOption) *Padding {
	p := &Padding{
		schema:   s,
		seqNames: make(map[string]bool),
	}
	for _, col := range s.SelectByTag(schema.TagSequence).Columns() {
		p.seqNames[col.Name] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Padding) Name() string { return "padding" }

var _ blocks.BatchOp = (*Padding)(nil)

// Apply 对一个批做 padding，返回新 Batch，入参不变。
func (p *Padding) Apply(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	targetLen := p.maxLen
	if targetLen == 0 {
		targetLen = p.inferBatchMax(b.Features)
	}
	// gonum 矩阵没有零宽形态，全空批也至少留一列 pad 值
	if targetLen < 1 {
		targetLen = 1
	}

	lengths := p.sequenceLengths(b.Features)
	if err := p.checkEqualLengths(lengths); err != nil {
		return nil, err
	}

	features := make(batch.Columns, len(b.Features))
	for _, name := range batch.SortedNames(b.Features) {
		col := b.Features[name]
		if !p.schema.Has(name) {
			continue
		}
		switch col.Kind() {
		case batch.KindRagged:
			rg, _ := col.Ragged()
			features[name] = batch.DenseColumn(padRagged(rg, targetLen))
		case batch.KindDense:
			if _, isSeq := lengths[name]; isSeq {
				m, _ := col.Dense()
				features[name] = batch.DenseColumn(padDense(m, targetLen))
			} else {
				features[name] = col
			}
		default:
			features[name] = col
		}
	}

	var targets batch.Columns
	if b.Targets != nil {
		targets = make(batch.Columns, len(b.Targets))
		for _, name := range batch.SortedNames(b.Targets) {
			col := b.Targets[name]
			if rg, ok := col.Ragged(); ok {
				targets[name] = batch.DenseColumn(padRagged(rg, targetLen))
			} else {
				targets[name] = col
			}
		}
	}

	out := batch.New(features, targets)
	out.Sequences = &batch.Sequence{Lengths: lengths}
	return out, nil
}

// inferBatchMax 从 ragged 列和带 SEQUENCE 标签的稠密列推断本批最长行。
func (p *Padding) inferBatchMax(features batch.Columns) int {
	max := 0
	for name, col := range features {
		if rg, ok := col.Ragged(); ok {
			if l := rg.MaxRowLength(); l > max {
				max = l
			}
			continue
		}
		if m, ok := col.Dense(); ok && p.seqNames[name] {
			if _, w := m.Dims(); w > max {
				max = w
			}
		}
	}
	return max
}

// sequenceLengths 收集每个序列列的逐行有效长度：
// ragged 列取 offsets 差分，稠密序列列数每行非 pad 元素个数。
func (p *Padding) sequenceLengths(features batch.Columns) map[string][]int {
	lengths := make(map[string][]int)
	for name, col := range features {
		if rg, ok := col.Ragged(); ok {
			lengths[name] = rg.RowLengths()
			continue
		}
		if m, ok := col.Dense(); ok && p.seqNames[name] {
			rows, w := m.Dims()
			out := make([]int, rows)
			for i := 0; i < rows; i++ {
				n := 0
				for j := 0; j < w; j++ {
					if m.At(i, j) != padValue {
						n++
					}
				}
				out[i] = n
			}
			lengths[name] = out
		}
	}
	return lengths
}

func (p *Padding) checkEqualLengths(lengths map[string][]int) error {
	names := make([]string, 0, len(lengths))
	for n := range lengths {
		names = append(names, n)
	}
	sort.Strings(names)

	var ref []int
	for _, name := range names {
		cur := lengths[name]
		if ref == nil {
			ref = cur
			continue
		}
		if !equalInts(ref, cur) {
			return core.DomainErrorf(core.ModuleTransforms, core.ErrorCodeInvalidInput,
				"transforms: the sequential inputs must have the same length for each row in the batch, but they are different: %s", formatLengths(names, lengths))
		}
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatLengths(names []string, lengths map[string][]int) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, lengths[name]))
	}
	return strings.Join(parts, ", ")
}

// padRagged 把 ragged 列 padding 成 rows×length 稠密矩阵。
//
// 多行时按坐标对构造：行号按每行长度 repeat-interleave 得到行坐标，
// 值下标减去所在行的起始偏移得到列坐标，再散布进全零矩阵。
// 单行时跳过坐标构造直接拷贝。
func padRagged(r *batch.Ragged, length int) *mat.Dense {
	rows := r.Rows()
	if rows == 1 {
		out := mat.NewDense(1, length, nil)
		row := r.Row(0)
		n := len(row)
		if n > length {
			n = length
		}
		for j := 0; j < n; j++ {
			out.Set(0, j, row[j])
		}
		return out
	}

	diff := r.RowLengths()
	rowIDs := repeatInterleave(arange(rows), diff)
	rowOffsets := repeatInterleave(r.Offsets[:rows], diff)

	dense := mat.NewDense(rows, maxInt(r.MaxRowLength(), 1), nil)
	for k, v := range r.Values {
		dense.Set(rowIDs[k], k-rowOffsets[k], v)
	}
	return padDense(dense, length)
}

// padDense 把 rows×w 矩阵右侧补零到 rows×length；w 超过 length 时截断。
func padDense(m *mat.Dense, length int) *mat.Dense {
	rows, w := m.Dims()
	if w == length {
		return m
	}
	out := mat.NewDense(rows, length, nil)
	copyW := w
	if copyW > length {
		copyW = length
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < copyW; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}

func arange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// repeatInterleave 把 vals[i] 连续重复 counts[i] 次。
func repeatInterleave(vals, counts []int) []int {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]int, 0, total)
	for i, v := range vals {
		for k := 0; k < counts[i]; k++ {
			out = append(out, v)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
