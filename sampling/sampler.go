// Package sampling 提供训练期的负采样算子与物品采样器：
// 批内随机负例、最近批次采样器、按流行度加权的采样器。
package sampling

import (
	"context"

	"github.com/rushteam/recblocks/batch"
)

// ItemSampler 是物品采样器的 add/sample 生命周期接口。
// 训练时每个批次先 Add 观察到的物品，需要负例时再 Sample 取回。
// 实现必须能被多个 goroutine 并发调用。
type ItemSampler interface {
	// Add 记录一个批次的物品。
	Add(ctx context.Context, items *batch.ItemCollection) error
	// Sample 返回一批采样物品。没有可采样物品时返回 UNAVAILABLE。
	Sample(ctx context.Context) (*batch.ItemCollection, error)
	// MaxNumSamples 返回单次采样的数量上限，0 表示不设上限。
	MaxNumSamples() int
}
