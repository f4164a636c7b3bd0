package serving

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/transformer"
)

// Encoder 把推理客户端适配成 transformer 的编码后端：
// 请求带 inputs_embeds 和 attention_mask，响应按约定张量名解析。
// 配好 shards 后一个 batch 会按行切片并发推理，结果按原序拼回。
type Encoder struct {
	client Client
	cfg    transformer.Config
	shards int
}

// EncoderOption 编码后端选项。
type EncoderOption func(*Encoder)

// WithShards 设置并发分片数，batch 按行均分给 n 个请求。
func WithShards(n int) EncoderOption {
	return func(e *Encoder) {
		e.shards = n
	}
}

// NewEncoder 创建远端编码后端。
func NewEncoder(client Client, cfg transformer.Config, opts ...EncoderOption) (*Encoder, error) {
	if client == nil {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: encoder requires a client")
	}
	if cfg == nil {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: encoder requires a transformer config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{client: client, cfg: cfg, shards: 1}
	for _, opt := range opts {
		opt(e)
	}
	if e.shards < 1 {
		e.shards = 1
	}
	return e, nil
}

// Architecture 实现 transformer.Encoder 接口。
func (e *Encoder) Architecture() string {
	return e.cfg.Architecture()
}

// Encode 实现 transformer.Encoder 接口。
func (e *Encoder) Encode(ctx context.Context, req *transformer.EncodeRequest) (*transformer.Output, error) {
	if req == nil || req.InputsEmbeds == nil {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: encode request has no inputs_embeds")
	}

	rows := req.InputsEmbeds.Rows()
	n := e.shards
	if n > rows {
		n = rows
	}
	if n <= 1 {
		return e.encodeShard(ctx, req.InputsEmbeds, req.AttentionMask)
	}

	outs := make([]*transformer.Output, n)
	eg, ctx := errgroup.WithContext(ctx)

	// 行数均分：前 rows%n 个分片多拿一行，保证没有空分片。
	base, rem := rows/n, rows%n
	lo := 0
	for i := 0; i < n; i++ {
		hi := lo + base
		if i < rem {
			hi++
		}
		shard, start, end := i, lo, hi
		eg.Go(func() error {
			embeds := sliceTensor3(req.InputsEmbeds, start, end)
			var mask *mat.Dense
			if req.AttentionMask != nil {
				mask = sliceRows(req.AttentionMask, start, end)
			}
			out, err := e.encodeShard(ctx, embeds, mask)
			if err != nil {
				return err
			}
			outs[shard] = out
			return nil
		})
		lo = hi
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return mergeOutputs(outs)
}

// encodeShard 编码一段行区间：发一次推理请求并解析输出张量。
func (e *Encoder) encodeShard(ctx context.Context, embeds *batch.Tensor3, mask *mat.Dense) (*transformer.Output, error) {
	inferReq := &InferRequest{
		Inputs: map[string]*TensorValue{
			TensorInputsEmbeds: Tensor3Value(embeds),
		},
	}
	if mask != nil {
		inferReq.Inputs[TensorAttentionMask] = DenseValue(mask)
	}

	resp, err := e.client.Infer(ctx, inferReq)
	if err != nil {
		return nil, err
	}

	out := &transformer.Output{}
	if v, ok := resp.Outputs[TensorLastHiddenState]; ok {
		t, err := Tensor3FromValue(v)
		if err != nil {
			return nil, err
		}
		if t.Rows() != embeds.Rows() {
			return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
				"serving: last_hidden_state has %d rows, sent %d", t.Rows(), embeds.Rows())
		}
		out.LastHiddenState = t
	}
	if v, ok := resp.Outputs[TensorPoolerOutput]; ok {
		m, err := DenseFromValue(v)
		if err != nil {
			return nil, err
		}
		out.PoolerOutput = m
	}
	if v, ok := resp.Outputs[TensorHiddenStates]; ok {
		stack, err := Tensor3StackFromValue(v)
		if err != nil {
			return nil, err
		}
		out.HiddenStates = stack
	}
	if v, ok := resp.Outputs[TensorAttentions]; ok {
		stack, err := Tensor3StackFromValue(v)
		if err != nil {
			return nil, err
		}
		out.Attentions = stack
	}

	if out.LastHiddenState == nil && out.PoolerOutput == nil && len(out.HiddenStates) == 0 && len(out.Attentions) == 0 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
			"serving: response has no recognized output tensors (want one of %q, %q, %q, %q)",
			TensorLastHiddenState, TensorPoolerOutput, TensorHiddenStates, TensorAttentions)
	}
	return out, nil
}

// sliceTensor3 取 [lo, hi) 行的视图。
func sliceTensor3(t *batch.Tensor3, lo, hi int) *batch.Tensor3 {
	data := t.Data.Slice(lo*t.Steps, hi*t.Steps, 0, t.Dim()).(*mat.Dense)
	return &batch.Tensor3{Steps: t.Steps, Data: data}
}

// sliceRows 取矩阵 [lo, hi) 行的视图。
func sliceRows(m *mat.Dense, lo, hi int) *mat.Dense {
	_, c := m.Dims()
	return m.Slice(lo, hi, 0, c).(*mat.Dense)
}

// mergeOutputs 把各分片的输出按原行序拼回一个 Output。
// 分片间输出张量不一致（有的有 pooler 有的没有）视为服务端异常。
func mergeOutputs(outs []*transformer.Output) (*transformer.Output, error) {
	merged := &transformer.Output{}

	last := make([]*batch.Tensor3, 0, len(outs))
	pooler := make([]*mat.Dense, 0, len(outs))
	hidden := make([][]*batch.Tensor3, 0, len(outs))
	attn := make([][]*batch.Tensor3, 0, len(outs))
	for _, o := range outs {
		if o.LastHiddenState != nil {
			last = append(last, o.LastHiddenState)
		}
		if o.PoolerOutput != nil {
			pooler = append(pooler, o.PoolerOutput)
		}
		if len(o.HiddenStates) > 0 {
			hidden = append(hidden, o.HiddenStates)
		}
		if len(o.Attentions) > 0 {
			attn = append(attn, o.Attentions)
		}
	}

	var err error
	if merged.LastHiddenState, err = mergeTensor3s(last, len(outs), TensorLastHiddenState); err != nil {
		return nil, err
	}
	if merged.PoolerOutput, err = mergeDenses(pooler, len(outs)); err != nil {
		return nil, err
	}
	if merged.HiddenStates, err = mergeStacks(hidden, len(outs), TensorHiddenStates); err != nil {
		return nil, err
	}
	if merged.Attentions, err = mergeStacks(attn, len(outs), TensorAttentions); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeTensor3s 按第一维拼接。要么所有分片都有，要么都没有。
func mergeTensor3s(parts []*batch.Tensor3, shards int, name string) (*batch.Tensor3, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	if len(parts) != shards {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
			"serving: %d of %d shards returned %s", len(parts), shards, name)
	}
	out := parts[0]
	for _, p := range parts[1:] {
		var err error
		if out, err = out.AppendRows(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// mergeDenses 按行拼接。
func mergeDenses(parts []*mat.Dense, shards int) (*mat.Dense, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	if len(parts) != shards {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
			"serving: %d of %d shards returned %s", len(parts), shards, TensorPoolerOutput)
	}
	out := parts[0]
	for _, p := range parts[1:] {
		var stacked mat.Dense
		stacked.Stack(out, p)
		out = &stacked
	}
	return out, nil
}

// mergeStacks 逐层拼接 hidden_states / attentions，层数必须一致。
func mergeStacks(parts [][]*batch.Tensor3, shards int, name string) ([]*batch.Tensor3, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	if len(parts) != shards {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
			"serving: %d of %d shards returned %s", len(parts), shards, name)
	}
	layers := len(parts[0])
	for _, p := range parts[1:] {
		if len(p) != layers {
			return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
				"serving: shards disagree on %s layer count: %d vs %d", name, layers, len(p))
		}
	}
	out := make([]*batch.Tensor3, layers)
	for l := 0; l < layers; l++ {
		layer := parts[0][l]
		for _, p := range parts[1:] {
			var err error
			if layer, err = layer.AppendRows(p[l]); err != nil {
				return nil, err
			}
		}
		out[l] = layer
	}
	return out, nil
}

var _ transformer.Encoder = (*Encoder)(nil)

// Register 把推理客户端注册为若干架构的编码后端，之后
// transformer.NewBlock / NewEncoder 按架构名走该服务执行前向。
func Register(client Client, archs ...string) {
	for _, arch := range archs {
		transformer.RegisterEncoder(arch, func(cfg transformer.Config) (transformer.Encoder, error) {
			return NewEncoder(client, cfg)
		})
	}
}

// RegisterWithShards 同 Register，但每个 batch 切成 n 片并发推理。
func RegisterWithShards(client Client, n int, archs ...string) {
	for _, arch := range archs {
		transformer.RegisterEncoder(arch, func(cfg transformer.Config) (transformer.Encoder, error) {
			return NewEncoder(client, cfg, WithShards(n))
		})
	}
}
