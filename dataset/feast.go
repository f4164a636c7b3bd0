package dataset

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/feast"
	"github.com/rushteam/recblocks/pkg/conv"
	"github.com/rushteam/recblocks/schema"
)

const (
	defaultFeastChunk   = 100
	defaultFeastWorkers = 4
)

// FeastSource 按实体 id 从 Feast 在线存储拉特征，组装成
// Schema 形状的 Batch。
//
// 在线存储没有行枚举语义，所以这里不实现 Source 的 NextBatch，
// 而是由调用方给出实体 id 列表（FetchBatch）。id 会按 chunk
// 切片并发拉取，结果按请求顺序拼回。
//
// Feast 的在线值模型是标量，这里只产出标量列；变长序列列
// 走 Synthetic 或上游自行组装。
type FeastSource struct {
	client  feast.Client
	schema  *schema.Schema
	entity  string
	refs    map[string]string // 列名 → feast 特征引用
	order   []string          // 特征引用（按 schema 列序）
	chunk   int
	workers int
}

// FeastSourceOption Feast 数据源选项。
type FeastSourceOption func(*FeastSource)

// WithChunkSize 设置单次请求的实体行数，默认 100。
func WithChunkSize(n int) FeastSourceOption {
	return func(s *FeastSource) {
		s.chunk = n
	}
}

// WithMaxConcurrent 设置并发请求数上限，默认 4。
func WithMaxConcurrent(n int) FeastSourceOption {
	return func(s *FeastSource) {
		s.workers = n
	}
}

// NewFeastSource 创建 Feast 数据源。
//
// entity 是实体列名，必须出现在 Schema 里，取值直接来自请求的
// id；其余每一列都要在 refs 里给出 feast 特征引用
// （形如 "user_stats:age"）。
func NewFeastSource(client feast.Client, s *schema.Schema, entity string, refs map[string]string, opts ...FeastSourceOption) (*FeastSource, error) {
	if client == nil {
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput, "dataset: feast client is required")
	}
	if s.Len() == 0 {
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput, "dataset: schema has no columns")
	}
	if !s.Has(entity) {
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput,
			"dataset: entity column %q is not in the schema", entity)
	}

	src := &FeastSource{
		client:  client,
		schema:  s,
		entity:  entity,
		refs:    make(map[string]string, len(refs)),
		chunk:   defaultFeastChunk,
		workers: defaultFeastWorkers,
	}
	for _, col := range s.Columns() {
		if col.Name == entity {
			continue
		}
		if col.IsList() {
			return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeNotSupported,
				"dataset: column %q is a list, feast online features are scalar", col.Name)
		}
		ref, ok := refs[col.Name]
		if !ok || ref == "" {
			return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput,
				"dataset: column %q has no feast feature reference", col.Name)
		}
		src.refs[col.Name] = ref
		src.order = append(src.order, ref)
	}
	for _, opt := range opts {
		opt(src)
	}
	if src.chunk < 1 {
		src.chunk = defaultFeastChunk
	}
	if src.workers < 1 {
		src.workers = defaultFeastWorkers
	}
	return src, nil
}

// Schema 返回数据源产出列的模式。
func (s *FeastSource) Schema() *schema.Schema {
	return s.schema
}

// FetchBatch 拉取一批实体的特征。任何实体缺任何特征都立刻报错，
// 不做静默填充。
func (s *FeastSource) FetchBatch(ctx context.Context, ids []int64) (*batch.Batch, error) {
	if len(ids) == 0 {
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInvalidInput, "dataset: no entity ids to fetch")
	}

	nChunks := (len(ids) + s.chunk - 1) / s.chunk
	results := make([][]feast.FeatureVector, nChunks)

	eg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.workers)
	for ci := 0; ci < nChunks; ci++ {
		start := ci * s.chunk
		end := start + s.chunk
		if end > len(ids) {
			end = len(ids)
		}
		idx, lo, hi := ci, start, end
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			rows := make([]map[string]interface{}, hi-lo)
			for i, id := range ids[lo:hi] {
				rows[i] = map[string]interface{}{s.entity: id}
			}
			resp, err := s.client.GetOnlineFeatures(ctx, &feast.GetOnlineFeaturesRequest{
				Features:   s.order,
				EntityRows: rows,
			})
			if err != nil {
				return err
			}
			results[idx] = resp.FeatureVectors
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	vectors := make([]feast.FeatureVector, 0, len(ids))
	for _, r := range results {
		vectors = append(vectors, r...)
	}
	if len(vectors) != len(ids) {
		return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeInternalError,
			"dataset: feast returned %d rows for %d ids", len(vectors), len(ids))
	}

	features := batch.Columns{}
	var targets batch.Columns
	for _, col := range s.schema.Columns() {
		values := make([]float64, len(ids))
		if col.Name == s.entity {
			for i, id := range ids {
				values[i] = float64(id)
			}
		} else {
			ref := s.refs[col.Name]
			for i, vec := range vectors {
				f, ok := conv.ToFloat64(vec.Values[ref])
				if !ok {
					return nil, core.DomainErrorf(core.ModuleDataset, core.ErrorCodeNotFound,
						"dataset: feature %q missing for entity %d", ref, ids[i])
				}
				values[i] = f
			}
		}
		c := batch.ScalarColumn(values)
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
