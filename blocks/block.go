// Package blocks 定义模型块的组合抽象。
//
// 两类算子覆盖两个操作空间：
//   - Tabular：「列映射 → 列映射」，输入路由、embedding、
//     transformer 编码都是 Tabular；
//   - BatchOp：「Batch → Batch」，padding、负采样等需要同时触碰
//     特征和目标的变换是 BatchOp。
//
// Sequential 把若干 Tabular 串成链，和推荐服务里
// 「Node 链」的组合方式一致。
package blocks

import (
	"context"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
)

// Tabular 是列空间的最小可组合单元。
// 实现必须把输入映射当作只读：返回新映射，不修改入参。
type Tabular interface {
	Name() string

	Transform(ctx context.Context, cols batch.Columns) (batch.Columns, error)
}

// BatchOp 是批空间的变换单元（同时作用于特征与目标）。
type BatchOp interface {
	Name() string

	Apply(ctx context.Context, b *batch.Batch) (*batch.Batch, error)
}

// Sequential 把若干 Tabular 串成链，前一个的输出是后一个的输入。
type Sequential struct {
	name   string
	blocks []Tabular
}

// NewSequential 创建块链。
func NewSequential(name string, blocks ...Tabular) *Sequential {
	return &Sequential{name: name, blocks: blocks}
}

// Append 追加块，返回自身便于链式调用。
func (s *Sequential) Append(blocks ...Tabular) *Sequential {
	s.blocks = append(s.blocks, blocks...)
	return s
}

func (s *Sequential) Name() string {
	return s.name
}

// Blocks 返回链上的块。
func (s *Sequential) Blocks() []Tabular {
	return s.blocks
}

func (s *Sequential) Transform(ctx context.Context, cols batch.Columns) (batch.Columns, error) {
	cur := cols
	for _, blk := range s.blocks {
		next, err := blk.Transform(ctx, cur)
		if err != nil {
			return nil, core.DomainErrorf(core.ModuleBlocks, domainCode(err), "blocks: %s: %v", blk.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

// OverFeatures 把 Tabular 提升为 BatchOp：变换批的特征列，
// 目标列与序列长度原样保留。
type OverFeatures struct {
	Block Tabular
}

func (o *OverFeatures) Name() string {
	return o.Block.Name()
}

func (o *OverFeatures) Apply(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	cols, err := o.Block.Transform(ctx, b.Features)
	if err != nil {
		return nil, err
	}
	out := batch.New(cols, b.Targets)
	out.Sequences = b.Sequences
	return out, nil
}

var _ BatchOp = (*OverFeatures)(nil)

// TabularFunc 把函数适配成 Tabular，常用于自定义 post 钩子。
type TabularFunc struct {
	FuncName string
	Fn       func(ctx context.Context, cols batch.Columns) (batch.Columns, error)
}

func (f *TabularFunc) Name() string {
	if f.FuncName != "" {
		return f.FuncName
	}
	return "func"
}

func (f *TabularFunc) Transform(ctx context.Context, cols batch.Columns) (batch.Columns, error) {
	return f.Fn(ctx, cols)
}

// domainCode 保留内层 DomainError 的错误代码，其余归为 INTERNAL_ERROR。
func domainCode(err error) string {
	if de := core.GetDomainError(err); de != nil {
		return de.Code
	}
	return core.ErrorCodeInternalError
}
