// Package builders 注册内置块的构建器。使用配置驱动装配时，
// 在 main 或入口处 import _ "github.com/rushteam/recblocks/config/builders"
// 触发注册。
package builders

import (
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/config"
	"github.com/rushteam/recblocks/inputs"
	"github.com/rushteam/recblocks/pkg/conv"
	"github.com/rushteam/recblocks/pkg/dsl"
	"github.com/rushteam/recblocks/sampling"
	"github.com/rushteam/recblocks/schema"
	"github.com/rushteam/recblocks/serving"
	"github.com/rushteam/recblocks/transformer"
	"github.com/rushteam/recblocks/transforms"
)

func init() {
	config.Register("transforms.padding", BuildPadding)
	config.Register("transforms.predict_next", BuildPredictNext)
	config.Register("sampling.negatives", BuildRandomNegatives)
	config.Register("inputs.tabular", BuildTabularInput)
	config.Register("transformer.bert", transformerBuilder(func(d, h, l, m int) transformer.Config {
		return transformer.NewBertConfig(d, h, l, m)
	}))
	config.Register("transformer.albert", transformerBuilder(func(d, h, l, m int) transformer.Config {
		return transformer.NewAlbertConfig(d, h, l, m)
	}))
	config.Register("transformer.roberta", transformerBuilder(func(d, h, l, m int) transformer.Config {
		return transformer.NewRobertaConfig(d, h, l, m)
	}))
	config.Register("transformer.xlnet", transformerBuilder(func(d, h, l, m int) transformer.Config {
		return transformer.NewXLNetConfig(d, h, l, m)
	}))
	config.Register("transformer.gpt2", transformerBuilder(func(d, h, l, m int) transformer.Config {
		return transformer.NewGPT2Config(d, h, l, m)
	}))
}

// BuildPadding 构建序列 padding 块。配置项：max_sequence_length。
func BuildPadding(s *schema.Schema, cfg map[string]interface{}) (blocks.BatchOp, error) {
	var opts []transforms.PaddingOption
	if n := conv.ConfigGetInt64(cfg, "max_sequence_length", 0); n > 0 {
		opts = append(opts, transforms.WithMaxSequenceLength(int(n)))
	}
	return transforms.NewPadding(s, opts...), nil
}

// BuildPredictNext 构建 next-item 目标变换。配置项：target_column。
func BuildPredictNext(s *schema.Schema, cfg map[string]interface{}) (blocks.BatchOp, error) {
	var opts []transforms.PredictNextOption
	if name := conv.ConfigGet(cfg, "target_column", ""); name != "" {
		opts = append(opts, transforms.WithTargetColumn(name))
	}
	return transforms.NewPredictNext(s, opts...)
}

// BuildRandomNegatives 构建批内负采样块。配置项：n_per_positive、seed。
func BuildRandomNegatives(s *schema.Schema, cfg map[string]interface{}) (blocks.BatchOp, error) {
	n := int(conv.ConfigGetInt64(cfg, "n_per_positive", 1))
	var opts []sampling.NegativesOption
	if _, ok := cfg["seed"]; ok {
		opts = append(opts, sampling.WithNegativesSeed(conv.ConfigGetInt64(cfg, "seed", 0)))
	}
	return sampling.NewAddRandomNegatives(s, n, opts...)
}

// BuildTabularInput 构建表格输入路由块。配置项：init（缺省
// "defaults"）、aggregation、select（CEL 列谓词，命中的列
// 才参与路由）。
func BuildTabularInput(s *schema.Schema, cfg map[string]interface{}) (blocks.BatchOp, error) {
	if expr := conv.ConfigGet(cfg, "select", ""); expr != "" {
		sel, err := dsl.Compile(expr)
		if err != nil {
			return nil, err
		}
		sub, err := sel.Select(s)
		if err != nil {
			return nil, err
		}
		s = sub
	}

	opts := []inputs.BlockOption{
		inputs.WithInit(conv.ConfigGet(cfg, "init", "defaults")),
	}
	if agg := conv.ConfigGet(cfg, "aggregation", ""); agg != "" {
		opts = append(opts, inputs.WithAggregation(agg))
	}
	block, err := inputs.NewTabularInputBlock(s, opts...)
	if err != nil {
		return nil, err
	}
	return &blocks.OverFeatures{Block: block}, nil
}

// transformerBuilder 把架构配置的构造函数适配成 Builder。
// 配置项：d_model、n_head、n_layer、max_seq_len、output，
// 以及可选的嵌套 serving 配置（带 serving 时构建远程编码器，
// 不带时从编码器注册表按架构取）。
func transformerBuilder(newConfig func(dModel, nHead, nLayer, maxSeqLen int) transformer.Config) config.Builder {
	return func(s *schema.Schema, cfg map[string]interface{}) (blocks.BatchOp, error) {
		tc := newConfig(
			int(conv.ConfigGetInt64(cfg, "d_model", 0)),
			int(conv.ConfigGetInt64(cfg, "n_head", 0)),
			int(conv.ConfigGetInt64(cfg, "n_layer", 0)),
			int(conv.ConfigGetInt64(cfg, "max_seq_len", 0)),
		)

		var opts []transformer.BlockOption
		if out := conv.ConfigGet(cfg, "output", ""); out != "" {
			opts = append(opts, transformer.WithOutput(out))
		}
		if sm := conv.ConfigGet[map[string]interface{}](cfg, "serving", nil); sm != nil {
			enc, err := buildServingEncoder(tc, sm)
			if err != nil {
				return nil, err
			}
			opts = append(opts, transformer.WithEncoder(enc))
		}
		return transformer.NewBlock(tc, opts...)
	}
}

// buildServingEncoder 按嵌套的 serving 配置构建远程编码器。
// 配置项：type、endpoint、model_name、model_version、timeout、
// shards，以及可选的嵌套 auth。
func buildServingEncoder(tc transformer.Config, cfg map[string]interface{}) (transformer.Encoder, error) {
	cc := &serving.ClientConfig{
		Type:         serving.ClientType(conv.ConfigGet(cfg, "type", "")),
		Endpoint:     conv.ConfigGet(cfg, "endpoint", ""),
		ModelName:    conv.ConfigGet(cfg, "model_name", ""),
		ModelVersion: conv.ConfigGet(cfg, "model_version", ""),
		Timeout:      int(conv.ConfigGetInt64(cfg, "timeout", 0)),
	}
	if am := conv.ConfigGet[map[string]interface{}](cfg, "auth", nil); am != nil {
		cc.Auth = &serving.AuthConfig{
			Type:     conv.ConfigGet(am, "type", ""),
			Username: conv.ConfigGet(am, "username", ""),
			Password: conv.ConfigGet(am, "password", ""),
			Token:    conv.ConfigGet(am, "token", ""),
			APIKey:   conv.ConfigGet(am, "api_key", ""),
		}
	}

	client, err := serving.NewClient(cc)
	if err != nil {
		return nil, err
	}
	var opts []serving.EncoderOption
	if n := conv.ConfigGetInt64(cfg, "shards", 0); n > 0 {
		opts = append(opts, serving.WithShards(int(n)))
	}
	return serving.NewEncoder(client, tc, opts...)
}
