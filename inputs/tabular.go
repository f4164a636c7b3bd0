// Package inputs 实现 schema 驱动的表格输入路由。
//
// TabularInputBlock 按标签把列分给不同分支（离散列走 embedding，
// 连续列透传），分支输出合并后可再接一步聚合。路由表在构造期
// 由命名 initializer 声明式地建好，前向只做查表分发。
package inputs

import (
	"context"
	"sort"
	"sync"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// Initializer 在构造期为 TabularInputBlock 配置路由。
type Initializer func(*TabularInputBlock) error

var (
	initializers   = make(map[string]Initializer)
	initializersMu sync.RWMutex
)

// RegisterInitializer 注册一个命名 initializer。建议在 init 中调用。
func RegisterInitializer(name string, fn Initializer) {
	if name == "" || fn == nil {
		return
	}
	initializersMu.Lock()
	defer initializersMu.Unlock()
	initializers[name] = fn
}

// SupportedInitializers 返回已注册的 initializer 名称（排序）。
func SupportedInitializers() []string {
	initializersMu.RLock()
	defer initializersMu.RUnlock()
	names := make([]string, 0, len(initializers))
	for n := range initializers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupInitializer(name string) (Initializer, bool) {
	initializersMu.RLock()
	defer initializersMu.RUnlock()
	fn, ok := initializers[name]
	return fn, ok
}

func init() {
	// defaults：连续列透传，离散列走 embedding（序列 id 取均值归并）
	RegisterInitializer("defaults", func(b *TabularInputBlock) error {
		if err := b.AddRoute("continuous", b.Schema().SelectByTag(schema.TagContinuous), nil); err != nil {
			return err
		}
		cat := b.Schema().SelectByTag(schema.TagCategorical)
		if cat.Len() == 0 {
			return nil
		}
		emb, err := NewEmbeddingTables(cat, WithSeqCombiner(CombinerMean))
		if err != nil {
			return err
		}
		return b.AddRoute("categorical", cat, emb)
	})
}

type route struct {
	name      string
	selection *schema.Schema
	block     blocks.Tabular
}

// TabularInputBlock 是表格输入的路由块。
type TabularInputBlock struct {
	schema *schema.Schema
	routes []route
	agg    blocks.Aggregation
}

// BlockOption 配置 TabularInputBlock。
type BlockOption func(*blockConfig)

type blockConfig struct {
	initName string
	initFn   Initializer
	aggName  string
}

// WithInit 按名称套用注册过的 initializer；
// 未注册的名称在构造时报错并列出已支持的名称。
func WithInit(name string) BlockOption {
	return func(cfg *blockConfig) {
		cfg.initName = name
	}
}

// WithInitializer 直接用函数配置路由，不走注册表。
func WithInitializer(fn Initializer) BlockOption {
	return func(cfg *blockConfig) {
		cfg.initFn = fn
	}
}

// WithAggregation 在路由输出后追加一步聚合（如 "concat"）。
func WithAggregation(name string) BlockOption {
	return func(cfg *blockConfig) {
		cfg.aggName = name
	}
}

// NewTabularInputBlock 创建输入路由块。不给 initializer 时
// 构造出的块没有路由，需要手动 AddRoute。
func NewTabularInputBlock(s *schema.Schema, opts ...BlockOption) (*TabularInputBlock, error) {
	if s.Len() == 0 {
		return nil, core.NewDomainError(core.ModuleInputs, core.ErrorCodeInvalidInput, "inputs: schema must not be empty")
	}
	cfg := &blockConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	b := &TabularInputBlock{schema: s}

	init := cfg.initFn
	if cfg.initName != "" {
		fn, ok := lookupInitializer(cfg.initName)
		if !ok {
			return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeNotFound,
				"inputs: initializer %q not found (supported: %v)", cfg.initName, SupportedInitializers())
		}
		init = fn
	}
	if init != nil {
		if err := init(b); err != nil {
			return nil, err
		}
	}

	if cfg.aggName != "" {
		agg, err := blocks.NewAggregation(cfg.aggName)
		if err != nil {
			return nil, err
		}
		b.agg = agg
	}
	return b, nil
}

func (b *TabularInputBlock) Name() string { return "tabular_input" }

var _ blocks.Tabular = (*TabularInputBlock)(nil)

// Schema 返回块的输入 schema。
func (b *TabularInputBlock) Schema() *schema.Schema {
	return b.schema
}

// AddRoute 添加一条路由：selection 选中的列交给 block 处理，
// block 为 nil 表示透传。selection 为空时路由不生效（静默跳过）。
func (b *TabularInputBlock) AddRoute(name string, selection *schema.Schema, block blocks.Tabular) error {
	if selection == nil {
		return core.NewDomainError(core.ModuleInputs, core.ErrorCodeInvalidInput, "inputs: route selection must not be nil")
	}
	for _, rt := range b.routes {
		if rt.name == name {
			return core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput, "inputs: duplicate route %q", name)
		}
	}
	b.routes = append(b.routes, route{name: name, selection: selection, block: block})
	return nil
}

// AddTagRoute 按标签从块的 schema 里选列并添加路由。
func (b *TabularInputBlock) AddTagRoute(name string, tag schema.Tag, block blocks.Tabular) error {
	return b.AddRoute(name, b.schema.SelectByTag(tag), block)
}

// Routes 返回路由名称（按添加顺序）。
func (b *TabularInputBlock) Routes() []string {
	names := make([]string, 0, len(b.routes))
	for _, rt := range b.routes {
		names = append(names, rt.name)
	}
	return names
}

// Transform 按路由表分发列并合并分支输出；配置了聚合时，
// 输出是以聚合名为键的单列映射。
func (b *TabularInputBlock) Transform(ctx context.Context, cols batch.Columns) (batch.Columns, error) {
	if len(b.routes) == 0 {
		return nil, core.NewDomainError(core.ModuleInputs, core.ErrorCodeInvalidInput,
			"inputs: block has no routes, use an initializer or AddRoute")
	}

	out := make(batch.Columns)
	for _, rt := range b.routes {
		sub := make(batch.Columns)
		for _, name := range rt.selection.ColumnNames() {
			if col, ok := cols[name]; ok {
				sub[name] = col
			}
		}
		if len(sub) == 0 {
			continue
		}

		res := sub
		if rt.block != nil {
			var err error
			res, err = rt.block.Transform(ctx, sub)
			if err != nil {
				return nil, err
			}
		}
		for name, col := range res {
			if _, exists := out[name]; exists {
				return nil, core.DomainErrorf(core.ModuleInputs, core.ErrorCodeInvalidInput,
					"inputs: column %q produced by more than one route", name)
			}
			out[name] = col
		}
	}

	if b.agg == nil {
		return out, nil
	}
	col, err := b.agg.Aggregate(ctx, out)
	if err != nil {
		return nil, err
	}
	return batch.Columns{b.agg.Name(): col}, nil
}
