package transforms

import (
	"context"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// PredictNext 把会话序列改写成 next-item 预测样本：
// 每个序列列去掉最后一个元素，目标列取被去掉的那个元素。
//
// 只作用于 ragged 形态的序列列，必须在 padding 之前使用。
// 任何一行长度小于 2 都直接报错，不做静默过滤。
type PredictNext struct {
	seqSchema *schema.Schema
	target    string
}

// PredictNextOption 配置 PredictNext。
type PredictNextOption func(*PredictNext)

// WithTargetColumn 指定作为监督信号来源的序列列。
// 默认取第一个带 ITEM_ID 标签的序列列。
func WithTargetColumn(name string) PredictNextOption {
	return func(t *PredictNext) {
		t.target = name
	}
}

// NewPredictNext 创建 next-item 变换。schema 里必须有序列列，
// 且能确定一个目标列。
func NewPredictNext(s *schema.Schema, opts ...PredictNextOption) (*PredictNext, error) {
	t := &PredictNext{
		seqSchema: s.SelectByTag(schema.TagSequence),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.seqSchema.Len() == 0 {
		return nil, core.NewDomainError(core.ModuleTransforms, core.ErrorCodeInvalidInput, "transforms: predict-next needs at least one sequence-tagged column")
	}
	if t.target == "" {
		for _, col := range t.seqSchema.Columns() {
			if col.HasTag(schema.TagItemID) {
				t.target = col.Name
				break
			}
		}
	}
	if t.target == "" {
		return nil, core.NewDomainError(core.ModuleTransforms, core.ErrorCodeInvalidInput, "transforms: predict-next cannot infer a target column, set one with WithTargetColumn")
	}
	if !t.seqSchema.Has(t.target) {
		return nil, core.DomainErrorf(core.ModuleTransforms, core.ErrorCodeInvalidInput, "transforms: target column %q is not a sequence column", t.target)
	}
	return t, nil
}

func (t *PredictNext) Name() string { return "predict_next" }

var _ blocks.BatchOp = (*PredictNext)(nil)

// Apply 返回改写后的新 Batch。
func (t *PredictNext) Apply(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	targetCol, ok := b.Features[t.target]
	if !ok {
		return nil, core.DomainErrorf(core.ModuleTransforms, core.ErrorCodeInvalidInput, "transforms: batch missing target column %q", t.target)
	}
	targetRagged, ok := targetCol.Ragged()
	if !ok {
		return nil, core.DomainErrorf(core.ModuleTransforms, core.ErrorCodeInvalidInput, "transforms: predict-next runs before padding, column %q must be ragged, got %s", t.target, targetCol.Kind())
	}

	features := make(batch.Columns, len(b.Features))
	for _, name := range batch.SortedNames(b.Features) {
		col := b.Features[name]
		if !t.seqSchema.Has(name) {
			features[name] = col
			continue
		}
		rg, isRagged := col.Ragged()
		if !isRagged {
			return nil, core.DomainErrorf(core.ModuleTransforms, core.ErrorCodeInvalidInput, "transforms: predict-next runs before padding, column %q must be ragged, got %s", name, col.Kind())
		}
		trimmed, err := trimLast(name, rg)
		if err != nil {
			return nil, err
		}
		features[name] = batch.RaggedColumn(trimmed)
	}

	labels := make([]float64, targetRagged.Rows())
	for i := range labels {
		row := targetRagged.Row(i)
		labels[i] = row[len(row)-1]
	}

	targets := make(batch.Columns, len(b.Targets)+1)
	for k, v := range b.Targets {
		targets[k] = v
	}
	targets[t.target] = batch.ScalarColumn(labels)

	out := batch.New(features, targets)
	out.Sequences = b.Sequences
	return out, nil
}

// trimLast 去掉每行最后一个元素；有行长度不足 2 时报错。
func trimLast(name string, r *batch.Ragged) (*batch.Ragged, error) {
	rows := make([][]float64, 0, r.Rows())
	for i := 0; i < r.Rows(); i++ {
		row := r.Row(i)
		if len(row) < 2 {
			return nil, core.DomainErrorf(core.ModuleTransforms, core.ErrorCodeInvalidInput,
				"transforms: predict-next needs every row to have at least 2 items, column %q row %d has %d", name, i, len(row))
		}
		rows = append(rows, row[:len(row)-1])
	}
	return batch.RaggedFromRows(rows), nil
}
