package blocks

import (
	"context"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
)

// Aggregation 把多列归并为一列，路由输出的最后一步常用。
type Aggregation interface {
	Name() string

	Aggregate(ctx context.Context, cols batch.Columns) (batch.Column, error)
}

var (
	aggregations   = make(map[string]func() Aggregation)
	aggregationsMu sync.RWMutex
)

// RegisterAggregation 注册一种聚合方式。建议在 init 中调用。
func RegisterAggregation(name string, factory func() Aggregation) {
	if name == "" || factory == nil {
		return
	}
	aggregationsMu.Lock()
	defer aggregationsMu.Unlock()
	aggregations[name] = factory
}

// SupportedAggregations 返回已注册的聚合名称列表（排序），用于错误提示。
func SupportedAggregations() []string {
	aggregationsMu.RLock()
	defer aggregationsMu.RUnlock()
	names := make([]string, 0, len(aggregations))
	for n := range aggregations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewAggregation 按名称创建聚合；未注册的名称返回包含已支持列表的错误。
func NewAggregation(name string) (Aggregation, error) {
	aggregationsMu.RLock()
	factory, ok := aggregations[name]
	aggregationsMu.RUnlock()
	if !ok {
		return nil, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeNotFound,
			"blocks: unsupported aggregation %q (supported: %v)", name, SupportedAggregations())
	}
	return factory(), nil
}

func init() {
	RegisterAggregation("concat", func() Aggregation { return &Concat{} })
	RegisterAggregation("sum", func() Aggregation { return &Sum{} })
}

// Concat 沿最后一维拼接所有列。列按名称排序后拼接，结果与映射
// 遍历顺序无关。要求所有列行数一致，且形态一致：
//   - 全部 Dense：输出 rows×Σw
//   - 全部 Seq 且 steps 一致：输出 rows×steps×Σdim
type Concat struct{}

func (*Concat) Name() string { return "concat" }

func (*Concat) Aggregate(ctx context.Context, cols batch.Columns) (batch.Column, error) {
	names := batch.SortedNames(cols)
	if len(names) == 0 {
		return batch.Column{}, core.NewDomainError(core.ModuleBlocks, core.ErrorCodeInvalidInput, "blocks: concat needs at least one column")
	}
	if len(names) == 1 {
		return cols[names[0]], nil
	}

	first := cols[names[0]]
	switch first.Kind() {
	case batch.KindDense:
		out, _ := first.Dense()
		rows, _ := out.Dims()
		for _, name := range names[1:] {
			m, ok := cols[name].Dense()
			if !ok {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: concat mixes dense column %q with %s column %q", names[0], cols[name].Kind(), name)
			}
			r, _ := m.Dims()
			if r != rows {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: concat row mismatch: %q has %d rows, %q has %d", names[0], rows, name, r)
			}
			var joined mat.Dense
			joined.Augment(out, m)
			out = &joined
		}
		return batch.DenseColumn(out), nil
	case batch.KindSeq:
		t, _ := first.Seq()
		out := t.Data
		steps, rows := t.Steps, t.Rows()
		for _, name := range names[1:] {
			st, ok := cols[name].Seq()
			if !ok {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: concat mixes seq column %q with %s column %q", names[0], cols[name].Kind(), name)
			}
			if st.Steps != steps || st.Rows() != rows {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: concat shape mismatch: %q is (%d,%d,·), %q is (%d,%d,·)", names[0], rows, steps, name, st.Rows(), st.Steps)
			}
			var joined mat.Dense
			joined.Augment(out, st.Data)
			out = &joined
		}
		return batch.SeqColumn(&batch.Tensor3{Steps: steps, Data: out}), nil
	}
	return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeNotSupported,
		"blocks: concat not supported for %s columns (pad or embed first)", first.Kind())
}

// Sum 对所有列做逐元素求和，要求形状完全一致。
type Sum struct{}

func (*Sum) Name() string { return "sum" }

func (*Sum) Aggregate(ctx context.Context, cols batch.Columns) (batch.Column, error) {
	names := batch.SortedNames(cols)
	if len(names) == 0 {
		return batch.Column{}, core.NewDomainError(core.ModuleBlocks, core.ErrorCodeInvalidInput, "blocks: sum needs at least one column")
	}
	if len(names) == 1 {
		return cols[names[0]], nil
	}

	first := cols[names[0]]
	switch first.Kind() {
	case batch.KindDense:
		m, _ := first.Dense()
		out := mat.DenseCopyOf(m)
		r0, c0 := out.Dims()
		for _, name := range names[1:] {
			m, ok := cols[name].Dense()
			if !ok {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: sum mixes dense column %q with %s column %q", names[0], cols[name].Kind(), name)
			}
			r, c := m.Dims()
			if r != r0 || c != c0 {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: sum shape mismatch: %q is %dx%d, %q is %dx%d", names[0], r0, c0, name, r, c)
			}
			out.Add(out, m)
		}
		return batch.DenseColumn(out), nil
	case batch.KindSeq:
		t, _ := first.Seq()
		out := mat.DenseCopyOf(t.Data)
		r0, c0 := out.Dims()
		for _, name := range names[1:] {
			st, ok := cols[name].Seq()
			if !ok {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: sum mixes seq column %q with %s column %q", names[0], cols[name].Kind(), name)
			}
			r, c := st.Data.Dims()
			if r != r0 || c != c0 || st.Steps != t.Steps {
				return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeInvalidInput,
					"blocks: sum shape mismatch between %q and %q", names[0], name)
			}
			out.Add(out, st.Data)
		}
		return batch.SeqColumn(&batch.Tensor3{Steps: t.Steps, Data: out}), nil
	}
	return batch.Column{}, core.DomainErrorf(core.ModuleBlocks, core.ErrorCodeNotSupported,
		"blocks: sum not supported for %s columns", first.Kind())
}
