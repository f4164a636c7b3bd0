package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// 预设名。
const (
	PresetECommerce        = "e-commerce"         // 扁平的电商交互数据
	PresetECommerceSession = "e-commerce-session" // 会话化的变长序列数据
)

// SupportedPresets 返回内置预设名。
func SupportedPresets() []string {
	return []string{PresetECommerce, PresetECommerceSession}
}

// Preset 返回内置预设的 Schema。
func Preset(name string) (*schema.Schema, error) {
	switch name {
	case PresetECommerce:
		return ecommerceSchema(), nil
	case PresetECommerceSession:
		return ecommerceSessionSchema(), nil
	default:
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeNotFound,
			"dataset: unknown preset %q (supported: %v)", name, SupportedPresets())
	}
}

func ecommerceSchema() *schema.Schema {
	return schema.MustNew(
		schema.NewColumn("user_id", schema.DTypeInt, schema.TagCategorical, schema.TagUserID, schema.TagID).WithCardinality(500),
		schema.NewColumn("user_age", schema.DTypeFloat, schema.TagContinuous, schema.TagUser),
		schema.NewColumn("item_id", schema.DTypeInt, schema.TagCategorical, schema.TagItem, schema.TagItemID, schema.TagID).WithCardinality(1000),
		schema.NewColumn("item_category", schema.DTypeInt, schema.TagCategorical, schema.TagItem).WithCardinality(100),
		schema.NewColumn("item_price", schema.DTypeFloat, schema.TagContinuous, schema.TagItem),
		schema.NewColumn("click", schema.DTypeInt, schema.TagTarget, schema.TagBinary),
	)
}

func ecommerceSessionSchema() *schema.Schema {
	return schema.MustNew(
		schema.NewColumn("session_id", schema.DTypeInt, schema.TagCategorical, schema.TagSessionID, schema.TagID).WithCardinality(2000),
		schema.NewColumn("item_id_seq", schema.DTypeInt, schema.TagCategorical, schema.TagSequence, schema.TagItem, schema.TagItemID).
			WithCardinality(1000).WithValueCount(2, 20),
		schema.NewColumn("category_seq", schema.DTypeInt, schema.TagCategorical, schema.TagSequence, schema.TagItem).
			WithCardinality(100).WithValueCount(2, 20),
		schema.NewColumn("user_age", schema.DTypeFloat, schema.TagContinuous, schema.TagUser),
	)
}

// Synthetic 合成数据源：按 Schema 的 cardinality 和 value-count
// 生成伪随机数据，种子固定时完全可复现。
//
// 生成规则：
//   - categorical：id 均匀取自 [1, cardinality)，0 预留给 padding
//   - continuous：[0, 1) 均匀分布
//   - binary：0/1
//   - 序列列：行内长度均匀取自 value-count 范围；同一行的所有
//     序列列共享长度，所以要求各序列列的 value-count 范围一致
//   - 带 TARGET 标签的列进 Batch.Targets，其余进 Features
type Synthetic struct {
	schema *schema.Schema

	mu  sync.Mutex
	rng *rand.Rand
}

// SyntheticOption 合成数据源选项。
type SyntheticOption func(*Synthetic)

// WithSyntheticSeed 固定随机种子，保证可复现。
func WithSyntheticSeed(seed int64) SyntheticOption {
	return func(s *Synthetic) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// NewSynthetic 按 Schema 创建合成数据源。
// categorical 列必须声明 cardinality ≥ 2，string 列不支持。
func NewSynthetic(s *schema.Schema, opts ...SyntheticOption) (*Synthetic, error) {
	if s.Len() == 0 {
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput, "dataset: schema has no columns")
	}

	var seqCount schema.ValueCount
	for _, col := range s.Columns() {
		if col.DType == schema.DTypeString {
			return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeNotSupported,
				"dataset: cannot generate string column %q, map it to ids first", col.Name)
		}
		if col.HasTag(schema.TagCategorical) && !col.HasTag(schema.TagBinary) && col.Cardinality < 2 {
			return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput,
				"dataset: categorical column %q needs a cardinality >= 2, got %d", col.Name, col.Cardinality)
		}
		if col.IsList() {
			if col.ValueCount.Min < 1 || col.ValueCount.Min > col.ValueCount.Max {
				return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput,
					"dataset: column %q has bad value count range [%d, %d]", col.Name, col.ValueCount.Min, col.ValueCount.Max)
			}
			if seqCount.Max == 0 {
				seqCount = col.ValueCount
			} else if seqCount != col.ValueCount {
				return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput,
					"dataset: sequence columns must share one value count range, got [%d, %d] and [%d, %d]",
					seqCount.Min, seqCount.Max, col.ValueCount.Min, col.ValueCount.Max)
			}
		}
	}

	src := &Synthetic{schema: s}
	for _, opt := range opts {
		opt(src)
	}
	return src, nil
}

// NewPreset 按预设名创建合成数据源。
func NewPreset(name string, opts ...SyntheticOption) (*Synthetic, error) {
	s, err := Preset(name)
	if err != nil {
		return nil, err
	}
	return NewSynthetic(s, opts...)
}

// Schema 实现 Source 接口。
func (s *Synthetic) Schema() *schema.Schema {
	return s.schema
}

// NextBatch 实现 Source 接口，生成 n 行数据。
func (s *Synthetic) NextBatch(ctx context.Context, n int) (*batch.Batch, error) {
	if n <= 0 {
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput, "dataset: batch size must be positive, got %d", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 同一行的所有序列列共享长度
	var rowLens []int
	for _, col := range s.schema.Columns() {
		if col.IsList() {
			rowLens = make([]int, n)
			for i := range rowLens {
				rowLens[i] = col.ValueCount.Min + s.intn(col.ValueCount.Max-col.ValueCount.Min+1)
			}
			break
		}
	}

	features := batch.Columns{}
	var targets batch.Columns
	for _, col := range s.schema.Columns() {
		var c batch.Column
		if col.IsList() {
			rows := make([][]float64, n)
			for i := range rows {
				rows[i] = s.values(col, rowLens[i])
			}
			c = batch.RaggedColumn(batch.RaggedFromRows(rows))
		} else {
			c = batch.ScalarColumn(s.values(col, n))
		}
		if col.HasTag(schema.TagTarget) {
			if targets == nil {
				targets = batch.Columns{}
			}
			targets[col.Name] = c
		} else {
			features[col.Name] = c
		}
	}
	return batch.New(features, targets), nil
}

// values 生成 count 个元素。
func (s *Synthetic) values(col schema.Column, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		switch {
		case col.HasTag(schema.TagBinary):
			out[i] = float64(s.intn(2))
		case col.HasTag(schema.TagCategorical):
			out[i] = float64(1 + s.intn(col.Cardinality-1))
		case col.DType == schema.DTypeInt:
			out[i] = float64(s.intn(100))
		default:
			out[i] = s.float64()
		}
	}
	return out
}

func (s *Synthetic) intn(n int) int {
	if s.rng != nil {
		return s.rng.Intn(n)
	}
	return rand.Intn(n)
}

func (s *Synthetic) float64() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}

var _ Source = (*Synthetic)(nil)
