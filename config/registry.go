package config

import (
	"sort"
	"sync"

	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// Builder 根据 schema 与块配置构建一个 blocks.BatchOp。
// 各组件在 init 中调用 Register(typeName, builder) 即可被配置驱动。
type Builder func(s *schema.Schema, cfg map[string]interface{}) (blocks.BatchOp, error)

var (
	defaultBuilders   = make(map[string]Builder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种块的构建逻辑，供 BuildModel 与配置驱动使用。
// 建议在各组件的 init 中调用，例如：func init() { config.Register("transforms.padding", BuildPadding) }
func Register(typeName string, builder Builder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SupportedTypes 返回当前已注册的块类型列表（排序），用于错误提示与校验。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func lookupBuilder(typeName string) (Builder, bool) {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	b, ok := defaultBuilders[typeName]
	return b, ok
}

// Validate 校验配置中所有块类型均已注册；若有未支持类型则返回
// 包含已支持列表的错误。
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	for _, bc := range c.Model.Blocks {
		if bc.Type == "" {
			return core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput, "config: block has no type")
		}
		if _, ok := lookupBuilder(bc.Type); !ok {
			return core.DomainErrorf(core.ModuleConfig, core.ErrorCodeNotFound,
				"config: unsupported block type %q (supported: %v)", bc.Type, SupportedTypes())
		}
	}
	return nil
}
