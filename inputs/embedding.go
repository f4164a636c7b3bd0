package inputs

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// Combiner 决定一行里多个 id 的 embedding 如何归并成一个向量。
type Combiner string

const (
	CombinerNone Combiner = ""     // 不归并，输出 rows×steps×dim
	CombinerMean Combiner = "mean" // 有效位置取均值
	CombinerSum  Combiner = "sum"  // 有效位置求和
	CombinerLast Combiner = "last" // 取最后一个有效位置
)

// PadIndex 是 embedding 表里预留给 padding 的 id，
// 对应权重行恒为零向量。
const PadIndex = 0

// EmbeddingTable 是单列的 embedding 表：cardinality×dim 权重矩阵。
type EmbeddingTable struct {
	Column  schema.Column
	Dim     int
	Weights *mat.Dense
}

// NewEmbeddingTable 为一个离散列建表。列必须有正的 cardinality。
// 权重按 (-0.5,0.5)/dim 均匀初始化，padding 行清零。
func NewEmbeddingTable(col schema.Column, dim int, rng *rand.Rand) (*EmbeddingTable, error) {
	if col.Cardinality <= 0 {
		return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
			"inputs: column %q needs a positive cardinality to build an embedding table, got %d", col.Name, col.Cardinality)
	}
	if dim <= 0 {
		dim = defaultEmbeddingDim(col.Cardinality)
	}
	data := make([]float64, col.Cardinality*dim)
	for i := range data {
		if rng != nil {
			data[i] = (rng.Float64() - 0.5) / float64(dim)
		} else {
			data[i] = (rand.Float64() - 0.5) / float64(dim)
		}
	}
	t := &EmbeddingTable{
		Column:  col,
		Dim:     dim,
		Weights: mat.NewDense(col.Cardinality, dim, data),
	}
	t.zeroPadRow()
	return t, nil
}

func (t *EmbeddingTable) zeroPadRow() {
	for d := 0; d < t.Dim; d++ {
		t.Weights.Set(PadIndex, d, 0)
	}
}

// lookupID 校验并返回一个 id 的权重行。
func (t *EmbeddingTable) lookupID(v float64) ([]float64, error) {
	id := int(v)
	if float64(id) != v {
		return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
			"inputs: column %q has non-integer id %v", t.Column.Name, v)
	}
	if id < 0 || id >= t.Column.Cardinality {
		return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
			"inputs: column %q id %d out of range [0,%d)", t.Column.Name, id, t.Column.Cardinality)
	}
	return t.Weights.RawRowView(id), nil
}

// Lookup 把 rows×1 的标量 id 列映射为 rows×dim 向量。
func (t *EmbeddingTable) Lookup(ids *mat.Dense) (*mat.Dense, error) {
	rows, w := ids.Dims()
	if w != 1 {
		return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
			"inputs: column %q expects a scalar id column, got width %d", t.Column.Name, w)
	}
	out := mat.NewDense(rows, t.Dim, nil)
	for i := 0; i < rows; i++ {
		vec, err := t.lookupID(ids.At(i, 0))
		if err != nil {
			return nil, err
		}
		out.SetRow(i, vec)
	}
	return out, nil
}

// LookupSeq 把 rows×steps 的已 padding id 矩阵映射为
// rows×steps×dim 张量，pad 位置恒为零向量。
func (t *EmbeddingTable) LookupSeq(ids *mat.Dense) (*batch.Tensor3, error) {
	rows, steps := ids.Dims()
	out := batch.NewTensor3(rows, steps, t.Dim)
	for i := 0; i < rows; i++ {
		for s := 0; s < steps; s++ {
			vec, err := t.lookupID(ids.At(i, s))
			if err != nil {
				return nil, err
			}
			out.Data.SetRow(i*steps+s, vec)
		}
	}
	return out, nil
}

// combineRows 按 combiner 把一行 id 的 embedding 归并为一个向量。
// 空行返回零向量。
func (t *EmbeddingTable) combineRows(ids []float64, combiner Combiner) ([]float64, error) {
	out := make([]float64, t.Dim)
	valid := 0
	for _, v := range ids {
		if v == PadIndex {
			continue
		}
		vec, err := t.lookupID(v)
		if err != nil {
			return nil, err
		}
		switch combiner {
		case CombinerLast:
			copy(out, vec)
		default:
			for d, x := range vec {
				out[d] += x
			}
		}
		valid++
	}
	if combiner == CombinerMean && valid > 0 {
		inv := 1.0 / float64(valid)
		for d := range out {
			out[d] *= inv
		}
	}
	return out, nil
}

// LookupCombined 把序列 id（ragged 或已 padding 的矩阵行）按
// combiner 归并为 rows×dim 向量。
func (t *EmbeddingTable) LookupCombined(col batch.Column, combiner Combiner) (*mat.Dense, error) {
	switch col.Kind() {
	case batch.KindRagged:
		rg, _ := col.Ragged()
		out := mat.NewDense(rg.Rows(), t.Dim, nil)
		for i := 0; i < rg.Rows(); i++ {
			vec, err := t.combineRows(rg.Row(i), combiner)
			if err != nil {
				return nil, err
			}
			out.SetRow(i, vec)
		}
		return out, nil
	case batch.KindDense:
		m, _ := col.Dense()
		rows, _ := m.Dims()
		out := mat.NewDense(rows, t.Dim, nil)
		for i := 0; i < rows; i++ {
			vec, err := t.combineRows(m.RawRowView(i), combiner)
			if err != nil {
				return nil, err
			}
			out.SetRow(i, vec)
		}
		return out, nil
	}
	return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
		"inputs: column %q cannot combine %s data", t.Column.Name, col.Kind())
}

// EmbeddingTables 为一组离散列各建一张 embedding 表，
// 作为 Tabular 块接入路由。
type EmbeddingTables struct {
	tables   map[string]*EmbeddingTable
	combiner Combiner
}

// TablesOption 配置 EmbeddingTables。
type TablesOption func(*tablesConfig)

type tablesConfig struct {
	combiner   Combiner
	dims       map[string]int
	defaultDim int
	seed       int64
	hasSeed    bool
}

// WithSeqCombiner 设置序列列的归并方式。CombinerNone 表示
// 序列列输出 rows×steps×dim 张量。
func WithSeqCombiner(c Combiner) TablesOption {
	return func(cfg *tablesConfig) {
		cfg.combiner = c
	}
}

// WithDim 指定某一列的 embedding 维度。
func WithDim(column string, dim int) TablesOption {
	return func(cfg *tablesConfig) {
		cfg.dims[column] = dim
	}
}

// WithDefaultDim 指定未单独设置维度的列的 embedding 维度。
// 不设置时按 cardinality 推断。
func WithDefaultDim(dim int) TablesOption {
	return func(cfg *tablesConfig) {
		cfg.defaultDim = dim
	}
}

// WithTablesSeed 固定权重初始化的随机种子，便于复现。
func WithTablesSeed(seed int64) TablesOption {
	return func(cfg *tablesConfig) {
		cfg.seed = seed
		cfg.hasSeed = true
	}
}

// NewEmbeddingTables 为 schema 里所有离散列建表。
// 没有 cardinality 的离散列会报错。
func NewEmbeddingTables(s *schema.Schema, opts ...TablesOption) (*EmbeddingTables, error) {
	cfg := &tablesConfig{dims: make(map[string]int)}
	for _, opt := range opts {
		opt(cfg)
	}
	var rng *rand.Rand
	if cfg.hasSeed {
		rng = rand.New(rand.NewSource(cfg.seed))
	}

	e := &EmbeddingTables{
		tables:   make(map[string]*EmbeddingTable),
		combiner: cfg.combiner,
	}
	for _, col := range s.SelectByTag(schema.TagCategorical).Columns() {
		dim := cfg.dims[col.Name]
		if dim == 0 {
			dim = cfg.defaultDim
		}
		table, err := NewEmbeddingTable(col, dim, rng)
		if err != nil {
			return nil, err
		}
		e.tables[col.Name] = table
	}
	return e, nil
}

func (e *EmbeddingTables) Name() string { return "embedding_tables" }

var _ blocks.Tabular = (*EmbeddingTables)(nil)

// Table 返回某一列的表。
func (e *EmbeddingTables) Table(name string) (*EmbeddingTable, bool) {
	t, ok := e.tables[name]
	return t, ok
}

// Transform 把每个 id 列替换为其 embedding：
//   - 标量列（无 SEQUENCE 标签）→ rows×dim
//   - 序列列（ragged 或已 padding）：设了 combiner → rows×dim，
//     否则已 padding 的列 → rows×steps×dim，ragged 列报错
//
// 宽度为 1 的稠密列按 schema 标签区分：带 SEQUENCE 标签的
// 是 padding 后恰好一步的序列，走序列路径。
func (e *EmbeddingTables) Transform(ctx context.Context, cols batch.Columns) (batch.Columns, error) {
	out := make(batch.Columns, len(cols))
	for _, name := range batch.SortedNames(cols) {
		col := cols[name]
		table, ok := e.tables[name]
		if !ok {
			return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
				"inputs: no embedding table for column %q", name)
		}
		switch col.Kind() {
		case batch.KindDense:
			m, _ := col.Dense()
			_, w := m.Dims()
			if w == 1 && !table.Column.HasTag(schema.TagSequence) {
				emb, err := table.Lookup(m)
				if err != nil {
					return nil, err
				}
				out[name] = batch.DenseColumn(emb)
				continue
			}
			if e.combiner != CombinerNone {
				emb, err := table.LookupCombined(col, e.combiner)
				if err != nil {
					return nil, err
				}
				out[name] = batch.DenseColumn(emb)
				continue
			}
			seq, err := table.LookupSeq(m)
			if err != nil {
				return nil, err
			}
			out[name] = batch.SeqColumn(seq)
		case batch.KindRagged:
			if e.combiner == CombinerNone {
				return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
					"inputs: column %q is ragged, pad it first or set a sequence combiner", name)
			}
			emb, err := table.LookupCombined(col, e.combiner)
			if err != nil {
				return nil, err
			}
			out[name] = batch.DenseColumn(emb)
		default:
			return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
				"inputs: column %q has kind %s, embeddings need id columns", name, col.Kind())
		}
	}
	return out, nil
}

// LoadPretrained 从 KV 存储加载预训练权重。每张表存为一个 Hash：
// key 为 "<keyspace>:<列名>"，field 为 id，value 为 JSON 数组。
// 加载后 padding 行重新清零。缺失的 id 保留随机初始化。
func (e *EmbeddingTables) LoadPretrained(ctx context.Context, kv core.KeyValueStore, keyspace string) error {
	for name, table := range e.tables {
		fields, err := kv.HGetAll(ctx, keyspace+":"+name)
		if err != nil {
			if core.IsStoreNotFound(err) {
				continue
			}
			return err
		}
		for field, raw := range fields {
			id, err := strconv.Atoi(field)
			if err != nil {
				return core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
					"inputs: pretrained weights for %q have non-integer id %q", name, field)
			}
			if id < 0 || id >= table.Column.Cardinality {
				return core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
					"inputs: pretrained weights for %q have id %d out of range [0,%d)", name, id, table.Column.Cardinality)
			}
			var vec []float64
			if err := json.Unmarshal(raw, &vec); err != nil {
				return core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
					"inputs: pretrained weights for %q id %d are not a JSON array: %v", name, id, err)
			}
			if len(vec) != table.Dim {
				return core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
					"inputs: pretrained weights for %q id %d have dim %d, table has %d", name, id, len(vec), table.Dim)
			}
			table.Weights.SetRow(id, vec)
		}
		table.zeroPadRow()
	}
	return nil
}

// defaultEmbeddingDim 按 2·cardinality^0.25 推断维度，向上取 8 的倍数。
func defaultEmbeddingDim(cardinality int) int {
	dim := int(math.Ceil(2.0 * math.Pow(float64(cardinality), 0.25)))
	if r := dim % 8; r != 0 {
		dim += 8 - r
	}
	if dim < 8 {
		dim = 8
	}
	return dim
}
