package sampling

import (
	"context"
	"math/rand"
	"strconv"
	"sync"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
)

// defaultPopularityPower 是频次的平滑指数，压低头部物品的占比。
const defaultPopularityPower = 0.75

// PopularityBasedSampler 按物品流行度的 power 次幂加权采样负例，
// 热门物品更常被当作负例（hard negatives）。频次表可以直接设置，
// 也可以从 KV 存储的有序集合加载。
type PopularityBasedSampler struct {
	mu    sync.RWMutex
	max   int
	power float64
	rngMu sync.Mutex // rand.New 创建的 rng 没有内部锁，种子路径要串行化
	rng   *rand.Rand
	ids   []int64
	table []aliasCell
}

// PopularityOption 配置 PopularityBasedSampler。
type PopularityOption func(*PopularityBasedSampler)

// WithPower 设置频次的平滑指数，默认 0.75。
func WithPower(p float64) PopularityOption {
	return func(s *PopularityBasedSampler) {
		s.power = p
	}
}

// WithPopularitySeed 固定采样的随机种子，便于复现。
func WithPopularitySeed(seed int64) PopularityOption {
	return func(s *PopularityBasedSampler) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// NewPopularityBasedSampler 创建流行度采样器，maxNumSamples
// 是每次 Sample 返回的物品数。
func NewPopularityBasedSampler(maxNumSamples int, opts ...PopularityOption) (*PopularityBasedSampler, error) {
	if maxNumSamples < 1 {
		return nil, core.DomainErrorf(core.ModuleSampling, core.ErrorCodeInvalidInput,
			"sampling: max num samples must be at least 1, got %d", maxNumSamples)
	}
	s := &PopularityBasedSampler{
		max:   maxNumSamples,
		power: defaultPopularityPower,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ ItemSampler = (*PopularityBasedSampler)(nil)

// SetPopularity 用物品 id 和对应频次重建采样分布。
func (s *PopularityBasedSampler) SetPopularity(ids []int64, frequencies []float64) error {
	if len(ids) == 0 {
		return core.NewDomainError(core.ModuleSampling, core.ErrorCodeInvalidInput,
			"sampling: popularity table must not be empty")
	}
	if len(ids) != len(frequencies) {
		return core.DomainErrorf(core.ModuleSampling, core.ErrorCodeInvalidInput,
			"sampling: got %d ids but %d frequencies", len(ids), len(frequencies))
	}
	table := buildAliasTable(frequencies, s.power)
	s.mu.Lock()
	s.ids = ids
	s.table = table
	s.mu.Unlock()
	return nil
}

// LoadPopularity 从 KV 存储的有序集合加载频次表：
// member 为物品 id，score 为频次。
func (s *PopularityBasedSampler) LoadPopularity(ctx context.Context, kv core.KeyValueStore, key string) error {
	members, err := kv.ZRange(ctx, key, 0, -1)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return core.DomainErrorf(core.ModuleSampling, core.ErrorCodeNotFound,
			"sampling: popularity table %q is empty", key)
	}
	ids := make([]int64, len(members))
	freqs := make([]float64, len(members))
	for i, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return core.DomainErrorf(core.ModuleSampling, core.ErrorCodeInvalidInput,
				"sampling: popularity table %q has non-integer item id %q", key, member)
		}
		score, err := kv.ZScore(ctx, key, member)
		if err != nil {
			return err
		}
		ids[i] = id
		freqs[i] = score
	}
	return s.SetPopularity(ids, freqs)
}

// Add 是空操作：分布来自频次表而不是训练批次。
func (s *PopularityBasedSampler) Add(ctx context.Context, items *batch.ItemCollection) error {
	return nil
}

// Sample 按流行度分布抽 MaxNumSamples 个物品 id（有放回）。
// 频次表还没加载时返回 UNAVAILABLE。
func (s *PopularityBasedSampler) Sample(ctx context.Context) (*batch.ItemCollection, error) {
	s.mu.RLock()
	ids, table := s.ids, s.table
	s.mu.RUnlock()
	if len(table) == 0 {
		return nil, core.NewDomainError(core.ModuleSampling, core.ErrorCodeUnavailable,
			"sampling: popularity sampler has no frequency table, call SetPopularity or LoadPopularity first")
	}

	sampled := make([]int64, s.max)
	if s.rng != nil {
		s.rngMu.Lock()
		for i := range sampled {
			sampled[i] = ids[sampleAlias(table, s.rng)]
		}
		s.rngMu.Unlock()
		return batch.NewItemCollection(sampled, nil, nil)
	}
	for i := range sampled {
		sampled[i] = ids[sampleAlias(table, nil)]
	}
	return batch.NewItemCollection(sampled, nil, nil)
}

// MaxNumSamples 返回单次采样的物品数。
func (s *PopularityBasedSampler) MaxNumSamples() int { return s.max }
