package batch

import (
	"github.com/rushteam/recblocks/core"
)

// Sequence 记录 padding 之前每个序列列的逐行长度，
// 供下游做 attention mask、取最后一个有效位置等。
type Sequence struct {
	Lengths map[string][]int
}

// First 返回任意一个列的长度切片（padding 保证各列长度一致）。
func (s *Sequence) First() []int {
	if s == nil {
		return nil
	}
	for _, l := range s.Lengths {
		return l
	}
	return nil
}

// Batch 是一次前向的输入：特征列、可选的监督目标列，
// 以及序列列被 padding 后保留的原始长度。
type Batch struct {
	Features  Columns
	Targets   Columns
	Sequences *Sequence
}

// New 创建 Batch。targets 可为 nil。
func New(features, targets Columns) *Batch {
	if features == nil {
		features = Columns{}
	}
	return &Batch{Features: features, Targets: targets}
}

// FromFlat 按扁平 map 约定组装 Batch（见 AssembleColumns）。
func FromFlat(features, targets map[string][]float64) (*Batch, error) {
	f, err := AssembleColumns(features)
	if err != nil {
		return nil, err
	}
	var t Columns
	if len(targets) > 0 {
		t, err = AssembleColumns(targets)
		if err != nil {
			return nil, err
		}
	}
	return New(f, t), nil
}

// Rows 返回批大小。所有特征列行数必须一致，否则返回 INVALID_INPUT。
// 空 Batch 返回 0。
func (b *Batch) Rows() (int, error) {
	rows := -1
	for _, name := range SortedNames(b.Features) {
		n := b.Features[name].Rows()
		if rows == -1 {
			rows = n
			continue
		}
		if n != rows {
			return 0, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: column %q has %d rows, other columns have %d", name, n, rows)
		}
	}
	if rows == -1 {
		return 0, nil
	}
	return rows, nil
}

// Feature 按名称取特征列。
func (b *Batch) Feature(name string) (Column, bool) {
	c, ok := b.Features[name]
	return c, ok
}

// Target 按名称取目标列。
func (b *Batch) Target(name string) (Column, bool) {
	c, ok := b.Targets[name]
	return c, ok
}

// Clone 返回浅拷贝：映射复制，列数据共享。
// 变换算子返回新 Batch 时用它保留未触碰的列。
func (b *Batch) Clone() *Batch {
	out := &Batch{
		Features:  make(Columns, len(b.Features)),
		Sequences: b.Sequences,
	}
	for k, v := range b.Features {
		out.Features[k] = v
	}
	if b.Targets != nil {
		out.Targets = make(Columns, len(b.Targets))
		for k, v := range b.Targets {
			out.Targets[k] = v
		}
	}
	return out
}
