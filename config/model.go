package config

import (
	"context"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// Model 是按配置装配出的可运行模型：schema 加一条块链。
type Model struct {
	Name   string
	Schema *schema.Schema
	Ops    []blocks.BatchOp
}

// BuildModel 按配置装配 Model。块类型需已通过 Register 注册，
// 内置块经 import _ ".../config/builders" 注册。
func (c *Config) BuildModel() (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s, err := c.Model.Schema.Build()
	if err != nil {
		return nil, err
	}

	ops := make([]blocks.BatchOp, 0, len(c.Model.Blocks))
	for _, bc := range c.Model.Blocks {
		builder, _ := lookupBuilder(bc.Type)
		op, err := builder(s, bc.Config)
		if err != nil {
			return nil, core.DomainErrorf(core.ModuleConfig, domainCode(err),
				"config: build block %s: %v", bc.Type, err)
		}
		ops = append(ops, op)
	}

	return &Model{Name: c.Model.Name, Schema: s, Ops: ops}, nil
}

// Run 依次把块链应用到批上，返回最终的批。
func (m *Model) Run(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	cur := b
	for _, op := range m.Ops {
		next, err := op.Apply(ctx, cur)
		if err != nil {
			return nil, core.DomainErrorf(core.ModuleConfig, domainCode(err),
				"config: model %s: %s: %v", m.Name, op.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

// domainCode 保留内层 DomainError 的错误代码，其余归为 INTERNAL_ERROR。
func domainCode(err error) string {
	if de := core.GetDomainError(err); de != nil {
		return de.Code
	}
	return core.ErrorCodeInternalError
}
