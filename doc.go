// Package recblocks 是一套可组合的推荐模型构建块（Recommender Blocks）。
//
// 设计要点：
// - Schema-first: 列级 Schema（dtype / tags / cardinality）驱动输入路由与 embedding 配置
// - Blocks 可组合: 模型由 BatchOp 串联（输入路由 → 序列变换 / 负采样 → Transformer 编码）
// - 编码可下沉: Transformer 前向既可走本地注册的编码器，也可经 serving 调 KServe / Triton
package recblocks

import (
	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/schema"
)

// 轻量 facade：便于用户直接 import "recblocks" 使用核心抽象。
type Schema = schema.Schema
type Column = schema.Column
type Tag = schema.Tag
type Batch = batch.Batch
type BatchOp = blocks.BatchOp

const (
	TagCategorical = schema.TagCategorical
	TagContinuous  = schema.TagContinuous
	TagSequence    = schema.TagSequence
	TagItem        = schema.TagItem
	TagItemID      = schema.TagItemID
	TagUser        = schema.TagUser
	TagUserID      = schema.TagUserID
	TagTarget      = schema.TagTarget
)
