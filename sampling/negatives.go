package sampling

import (
	"context"
	"math/rand"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// AddRandomNegatives 在批内随机采负例：均匀采样 n·rows 个行号，
// 物品列按行号 gather 后拼接在原批之下，其余列逐行重复 n+1 次，
// 输出每列的行数都是 rows·(n+1)。标量、稠密、ragged 列都支持。
type AddRandomNegatives struct {
	schema *schema.Schema
	items  map[string]bool
	n      int
	rng    *rand.Rand
}

// NegativesOption 配置 AddRandomNegatives。
type NegativesOption func(*AddRandomNegatives)

// WithNegativesSeed 固定采样的随机种子，便于复现。
func WithNegativesSeed(seed int64) NegativesOption {
	return func(a *AddRandomNegatives) {
		a.rng = rand.New(rand.NewSource(seed))
	}
}

// NewAddRandomNegatives 创建批内负采样算子。schema 里至少要有
// 一个 ITEM 标签列，nPerPositive 是每个正例配的负例数。
func NewAddRandomNegatives(s *schema.Schema, nPerPositive int, opts ...NegativesOption) (*AddRandomNegatives, error) {
	if nPerPositive < 1 {
		return nil, core.DomainErrorf(core.ModuleSampling, core.ErrorCodeInvalidInput,
			"sampling: negatives per positive must be at least 1, got %d", nPerPositive)
	}
	itemSchema := s.SelectByTag(schema.TagItem)
	if itemSchema.Len() == 0 {
		return nil, core.NewDomainError(core.ModuleSampling, core.ErrorCodeInvalidInput,
			"sampling: schema has no item-tagged columns to sample negatives for")
	}
	a := &AddRandomNegatives{
		schema: s,
		items:  make(map[string]bool, itemSchema.Len()),
		n:      nPerPositive,
	}
	for _, name := range itemSchema.ColumnNames() {
		a.items[name] = true
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *AddRandomNegatives) Name() string { return "random_negatives" }

var _ blocks.BatchOp = (*AddRandomNegatives)(nil)

func (a *AddRandomNegatives) intn(n int) int {
	if a.rng != nil {
		return a.rng.Intn(n)
	}
	return rand.Intn(n)
}

// Apply 对无标签批次追加负例。批次已有 targets 时报错：
// 负例行不该沿用正例的标签。
func (a *AddRandomNegatives) Apply(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	if len(b.Targets) > 0 {
		return nil, core.NewDomainError(core.ModuleSampling, core.ErrorCodeInvalidInput,
			"sampling: random negatives run on unlabeled batches, drop the targets first")
	}
	rows, err := b.Rows()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return b, nil
	}

	sampled := make([]int, a.n*rows)
	for i := range sampled {
		sampled[i] = a.intn(rows)
	}

	features := make(batch.Columns, len(b.Features))
	for _, name := range batch.SortedNames(b.Features) {
		col := b.Features[name]
		if a.items[name] {
			neg, err := col.Gather(sampled)
			if err != nil {
				return nil, err
			}
			full, err := col.AppendRows(neg)
			if err != nil {
				return nil, err
			}
			features[name] = full
			continue
		}
		rep, err := col.RepeatInterleave(a.n + 1)
		if err != nil {
			return nil, err
		}
		features[name] = rep
	}

	out := batch.New(features, nil)
	if b.Sequences != nil && len(b.Sequences.Lengths) > 0 {
		out.Sequences = &batch.Sequence{Lengths: a.resample(b.Sequences.Lengths, sampled)}
	}
	return out, nil
}

// resample 让每列的长度数组跟随行变换，保持与特征列对齐。
func (a *AddRandomNegatives) resample(lengths map[string][]int, sampled []int) map[string][]int {
	out := make(map[string][]int, len(lengths))
	for name, ls := range lengths {
		if a.items[name] {
			appended := make([]int, 0, len(ls)+len(sampled))
			appended = append(appended, ls...)
			for _, idx := range sampled {
				appended = append(appended, ls[idx])
			}
			out[name] = appended
			continue
		}
		rep := make([]int, 0, len(ls)*(a.n+1))
		for _, l := range ls {
			for k := 0; k <= a.n; k++ {
				rep = append(rep, l)
			}
		}
		out[name] = rep
	}
	return out
}
