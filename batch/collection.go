package batch

import (
	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// EmbeddingKey 是特征映射里物品向量列的保留键。
const EmbeddingKey = "__item_embedding__"

// ItemCollection 是一组行对齐的物品：id、可选的向量、可选的元数据列。
//
// 不变量：Embeddings 与每个 Metadata 列的行数都必须等于 len(IDs)。
type ItemCollection struct {
	IDs        []int64
	Embeddings *mat.Dense
	Metadata   Columns
}

// NewItemCollection 创建 ItemCollection 并校验行对齐。
func NewItemCollection(ids []int64, embeddings *mat.Dense, metadata Columns) (*ItemCollection, error) {
	ic := &ItemCollection{IDs: ids, Embeddings: embeddings, Metadata: metadata}
	if err := ic.Validate(); err != nil {
		return nil, err
	}
	return ic, nil
}

// Validate 校验行对齐不变量。
func (ic *ItemCollection) Validate() error {
	n := len(ic.IDs)
	if ic.Embeddings != nil {
		if r, _ := ic.Embeddings.Dims(); r != n {
			return core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput,
				"batch: the batch size (first dim) of ids (%d) and embeddings (%d) must match", n, r)
		}
	}
	for _, name := range SortedNames(ic.Metadata) {
		if r := ic.Metadata[name].Rows(); r != n {
			return core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput,
				"batch: the batch size (first dim) of ids (%d) and metadata feature %q (%d) must match", n, name, r)
		}
	}
	return nil
}

// Len 返回物品数。
func (ic *ItemCollection) Len() int {
	return len(ic.IDs)
}

// Take 返回前 n 行组成的新集合。n 不小于 Len 时返回原集合。
func (ic *ItemCollection) Take(n int) (*ItemCollection, error) {
	if n >= ic.Len() {
		return ic, nil
	}
	if n < 0 {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: take count must be non-negative, got %d", n)
	}
	out := &ItemCollection{IDs: ic.IDs[:n]}
	if ic.Embeddings != nil {
		_, w := ic.Embeddings.Dims()
		out.Embeddings = mat.DenseCopyOf(ic.Embeddings.Slice(0, n, 0, w))
	}
	if ic.Metadata != nil {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		out.Metadata = make(Columns, len(ic.Metadata))
		for name, col := range ic.Metadata {
			g, err := col.Gather(idx)
			if err != nil {
				return nil, err
			}
			out.Metadata[name] = g
		}
	}
	return out, nil
}

// ItemsFromFeatures 按 schema 从特征映射里抽出物品集合：
//   - ids 来自 ITEM_ID 标签的标量列（必须存在且为整数值）
//   - 向量来自保留键 EmbeddingKey（如果存在）
//   - 其余 ITEM 标签列进入 Metadata
func ItemsFromFeatures(s *schema.Schema, features Columns) (*ItemCollection, error) {
	itemSchema := s.SelectByTag(schema.TagItem)
	if itemSchema.Len() == 0 {
		return nil, core.NewDomainError(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: schema has no item-tagged columns")
	}

	idName := ""
	for _, col := range itemSchema.Columns() {
		if col.HasTag(schema.TagItemID) && !col.IsList() {
			idName = col.Name
			break
		}
	}
	if idName == "" {
		return nil, core.NewDomainError(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: schema has no scalar item_id column")
	}
	idCol, ok := features[idName]
	if !ok {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: features missing item id column %q", idName)
	}
	ids, err := scalarIDs(idName, idCol)
	if err != nil {
		return nil, err
	}

	var embeddings *mat.Dense
	if embCol, ok := features[EmbeddingKey]; ok {
		m, isDense := embCol.Dense()
		if !isDense {
			return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: %q column must be dense, got %s", EmbeddingKey, embCol.Kind())
		}
		embeddings = m
	}

	metadata := make(Columns)
	for _, col := range itemSchema.Columns() {
		if col.Name == idName {
			continue
		}
		if c, ok := features[col.Name]; ok {
			metadata[col.Name] = c
		}
	}

	return NewItemCollection(ids, embeddings, metadata)
}

func scalarIDs(name string, col Column) ([]int64, error) {
	m, ok := col.Dense()
	if !ok {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: item id column %q must be dense, got %s", name, col.Kind())
	}
	rows, w := m.Dims()
	if w != 1 {
		return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: item id column %q must have width 1, got %d", name, w)
	}
	ids := make([]int64, rows)
	for i := 0; i < rows; i++ {
		v := m.At(i, 0)
		id := int64(v)
		if float64(id) != v {
			return nil, core.DomainErrorf(core.ModuleBatch, core.ErrorCodeInvalidInput, "batch: item id column %q row %d has non-integer value %v", name, i, v)
		}
		ids[i] = id
	}
	return ids, nil
}
