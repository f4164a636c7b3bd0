package sampling

import (
	"context"
	"sync"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
)

// InBatchSampler 把最近一个训练批次的物品存下来当负例：
// 同一批里其他行的物品对当前行就是负例。
type InBatchSampler struct {
	mu     sync.Mutex
	max    int
	latest *batch.ItemCollection
}

// InBatchOption 配置 InBatchSampler。
type InBatchOption func(*InBatchSampler)

// WithMaxNumSamples 限制单次采样返回的物品数，0 表示整批返回。
func WithMaxNumSamples(n int) InBatchOption {
	return func(s *InBatchSampler) {
		s.max = n
	}
}

// NewInBatchSampler 创建批内采样器。
func NewInBatchSampler(opts ...InBatchOption) *InBatchSampler {
	s := &InBatchSampler{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ItemSampler = (*InBatchSampler)(nil)

// Add 存下本批物品，覆盖上一批。
func (s *InBatchSampler) Add(ctx context.Context, items *batch.ItemCollection) error {
	if items == nil {
		return core.NewDomainError(core.ModuleSampling, core.ErrorCodeInvalidInput, "sampling: cannot add a nil item collection")
	}
	if err := items.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.latest = items
	s.mu.Unlock()
	return nil
}

// Sample 返回最近一次 Add 的物品，超过上限时截断。
// 还没有 Add 过任何批次时返回 UNAVAILABLE。
func (s *InBatchSampler) Sample(ctx context.Context) (*batch.ItemCollection, error) {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()
	if latest == nil || latest.Len() == 0 {
		return nil, core.NewDomainError(core.ModuleSampling, core.ErrorCodeUnavailable,
			"sampling: in-batch sampler has no stored batch, call Add first")
	}
	if s.max > 0 {
		return latest.Take(s.max)
	}
	return latest, nil
}

// MaxNumSamples 返回单次采样上限，0 表示整批。
func (s *InBatchSampler) MaxNumSamples() int { return s.max }
