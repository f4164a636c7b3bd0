// Package dataset 提供组 Batch 的数据源。
//
// 两类来源：
//   - Synthetic：按预设或自定义 Schema 生成可复现的合成数据，
//     用于开发、测试和示例
//   - FeastSource：按实体 id 从 Feast 在线存储拉特征
//
// 合成数据源实现 Source 接口；Feast 源按调用方给出的实体 id
// 拉取（在线存储没有行枚举语义），见 FetchBatch。
package dataset

import (
	"context"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/schema"
)

// Source 是批数据源。
type Source interface {
	// Schema 返回数据源产出列的模式。
	Schema() *schema.Schema
	// NextBatch 产出一个 n 行的 Batch。
	NextBatch(ctx context.Context, n int) (*batch.Batch, error)
}
