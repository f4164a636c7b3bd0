package transformer

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
)

// 输出选择名常量。
const (
	OutputLastHiddenState       = "last_hidden_state"
	OutputPoolerOutput          = "pooler_output"
	OutputHiddenStates          = "hidden_states"
	OutputAttentions            = "attentions"
	OutputLastStateAndAttention = "last_state_and_attention"
)

// outputSelections 把输出名映射到选择函数。选中的字段为 nil 时
// 视为后端没有回传，报 NOT_FOUND。
var outputSelections = map[string]func(*Output) (batch.Columns, error){
	OutputLastHiddenState: func(o *Output) (batch.Columns, error) {
		if o.LastHiddenState == nil {
			return nil, missingOutput(OutputLastHiddenState)
		}
		return batch.Columns{OutputLastHiddenState: batch.SeqColumn(o.LastHiddenState)}, nil
	},
	OutputPoolerOutput: func(o *Output) (batch.Columns, error) {
		if o.PoolerOutput == nil {
			return nil, missingOutput(OutputPoolerOutput)
		}
		return batch.Columns{OutputPoolerOutput: batch.DenseColumn(o.PoolerOutput)}, nil
	},
	OutputHiddenStates: func(o *Output) (batch.Columns, error) {
		if len(o.HiddenStates) == 0 {
			return nil, missingOutput(OutputHiddenStates)
		}
		return batch.Columns{OutputHiddenStates: batch.StackColumn(o.HiddenStates)}, nil
	},
	OutputAttentions: func(o *Output) (batch.Columns, error) {
		if len(o.Attentions) == 0 {
			return nil, missingOutput(OutputAttentions)
		}
		return batch.Columns{OutputAttentions: batch.StackColumn(o.Attentions)}, nil
	},
	OutputLastStateAndAttention: func(o *Output) (batch.Columns, error) {
		if o.LastHiddenState == nil {
			return nil, missingOutput(OutputLastHiddenState)
		}
		if len(o.Attentions) == 0 {
			return nil, missingOutput(OutputAttentions)
		}
		return batch.Columns{
			OutputLastHiddenState: batch.SeqColumn(o.LastHiddenState),
			OutputAttentions:      batch.StackColumn(o.Attentions),
		}, nil
	},
}

func missingOutput(name string) error {
	return core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeNotFound,
		"transformer: encoder did not return %q, enable it on the backend or pick another output", name)
}

// SupportedOutputs 返回可选的输出名，按字典序。
func SupportedOutputs() []string {
	names := make([]string, 0, len(outputSelections))
	for name := range outputSelections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prepare 在编码前补充请求字段，如定制的 attention mask。
type Prepare interface {
	Prepare(ctx context.Context, req *EncodeRequest) error
}

// PrepareFunc 把函数适配成 Prepare。
type PrepareFunc func(ctx context.Context, req *EncodeRequest) error

func (f PrepareFunc) Prepare(ctx context.Context, req *EncodeRequest) error {
	return f(ctx, req)
}

// Block 把嵌入后的交互序列送进 transformer 编码器并选择输出，
// 是会话式/序列式推荐模型的主干。
//
// 两种用法：
//   - Tabular：Transform 编码列集合里唯一的序列列；
//   - BatchOp：Apply 编码批里唯一的序列特征列，attention mask
//     由 Sequences 里的行长推导。
//
// 输出按选择名命名（last_hidden_state 等），替换原序列列。
type Block struct {
	cfg     Config
	encoder Encoder
	output  string
	pre     Prepare
	post    blocks.Tabular
}

// BlockOption 配置 Block。
type BlockOption func(*Block)

// WithOutput 选择编码器输出，默认 last_hidden_state。
func WithOutput(name string) BlockOption {
	return func(b *Block) { b.output = name }
}

// WithPrepare 设置编码前的准备步骤。
func WithPrepare(p Prepare) BlockOption {
	return func(b *Block) { b.pre = p }
}

// WithPost 在输出选择之后追加一个 tabular 块。
func WithPost(t blocks.Tabular) BlockOption {
	return func(b *Block) { b.post = t }
}

// WithEncoder 直接指定编码器实例，跳过注册表。
func WithEncoder(enc Encoder) BlockOption {
	return func(b *Block) { b.encoder = enc }
}

// NewBlock 按配置构建 transformer 块。输出名在这里校验，
// 编码器缺省时从注册表按架构构建。
func NewBlock(cfg Config, opts ...BlockOption) (*Block, error) {
	if cfg == nil {
		return nil, core.NewDomainError(core.ModuleTransformer, core.ErrorCodeInvalidInput, "transformer: config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Block{cfg: cfg, output: OutputLastHiddenState}
	for _, opt := range opts {
		opt(b)
	}
	if _, ok := outputSelections[b.output]; !ok {
		return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeNotFound,
			"transformer: unknown output %q (supported: %v)", b.output, SupportedOutputs())
	}
	if b.encoder == nil {
		enc, err := NewEncoder(cfg)
		if err != nil {
			return nil, err
		}
		b.encoder = enc
	}
	return b, nil
}

// NewBertBlock 按 (dModel, nHead, nLayer, maxSeqLen) 构建 BERT 块。
func NewBertBlock(dModel, nHead, nLayer, maxSeqLen int, opts ...BlockOption) (*Block, error) {
	return NewBlock(NewBertConfig(dModel, nHead, nLayer, maxSeqLen), opts...)
}

// NewAlbertBlock 按 (dModel, nHead, nLayer, maxSeqLen) 构建 ALBERT 块。
func NewAlbertBlock(dModel, nHead, nLayer, maxSeqLen int, opts ...BlockOption) (*Block, error) {
	return NewBlock(NewAlbertConfig(dModel, nHead, nLayer, maxSeqLen), opts...)
}

// NewRobertaBlock 按 (dModel, nHead, nLayer, maxSeqLen) 构建 RoBERTa 块。
func NewRobertaBlock(dModel, nHead, nLayer, maxSeqLen int, opts ...BlockOption) (*Block, error) {
	return NewBlock(NewRobertaConfig(dModel, nHead, nLayer, maxSeqLen), opts...)
}

// NewXLNetBlock 按 (dModel, nHead, nLayer, maxSeqLen) 构建 XLNet 块。
func NewXLNetBlock(dModel, nHead, nLayer, maxSeqLen int, opts ...BlockOption) (*Block, error) {
	return NewBlock(NewXLNetConfig(dModel, nHead, nLayer, maxSeqLen), opts...)
}

// NewGPT2Block 按 (dModel, nHead, nLayer, maxSeqLen) 构建 GPT-2 块。
func NewGPT2Block(dModel, nHead, nLayer, maxSeqLen int, opts ...BlockOption) (*Block, error) {
	return NewBlock(NewGPT2Config(dModel, nHead, nLayer, maxSeqLen), opts...)
}

// Name 返回架构名，作为块在链路里的标识。
func (b *Block) Name() string { return b.cfg.Architecture() }

// Config 返回块的架构配置。
func (b *Block) Config() Config { return b.cfg }

var (
	_ blocks.Tabular = (*Block)(nil)
	_ blocks.BatchOp = (*Block)(nil)
)

// Transform 编码列集合里唯一的一列，不带 attention mask。
func (b *Block) Transform(ctx context.Context, cols batch.Columns) (batch.Columns, error) {
	col, err := batch.Single(cols)
	if err != nil {
		return nil, err
	}
	return b.encode(ctx, col, nil)
}

// Apply 编码批里唯一的序列特征列。Sequences 里有行长时
// 据此生成 attention mask。其余特征原样保留，原序列列被
// 选择出的输出列替换。
func (b *Block) Apply(ctx context.Context, bt *batch.Batch) (*batch.Batch, error) {
	seqName := ""
	for _, name := range batch.SortedNames(bt.Features) {
		if bt.Features[name].Kind() != batch.KindSeq {
			continue
		}
		if seqName != "" {
			return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
				"transformer: batch has multiple sequence columns (%q, %q), encode them with separate blocks", seqName, name)
		}
		seqName = name
	}
	if seqName == "" {
		return nil, core.NewDomainError(core.ModuleTransformer, core.ErrorCodeInvalidInput,
			"transformer: batch has no embedded sequence column to encode")
	}
	col := bt.Features[seqName]

	var mask *mat.Dense
	if lengths := bt.Sequences.First(); lengths != nil {
		seq, _ := col.Seq()
		if len(lengths) != seq.Rows() {
			return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
				"transformer: %d sequence lengths for %d rows", len(lengths), seq.Rows())
		}
		mask = AttentionMaskFromLengths(lengths, seq.Steps)
	}

	encoded, err := b.encode(ctx, col, mask)
	if err != nil {
		return nil, err
	}

	features := make(batch.Columns, len(bt.Features)+len(encoded))
	for name, c := range bt.Features {
		if name == seqName {
			continue
		}
		features[name] = c
	}
	for name, c := range encoded {
		if _, exists := features[name]; exists {
			return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
				"transformer: output column %q collides with an existing feature", name)
		}
		features[name] = c
	}

	out := batch.New(features, bt.Targets)
	out.Sequences = bt.Sequences
	return out, nil
}

// encode 校验输入形状，跑 pre → 编码 → 输出选择 → post。
func (b *Block) encode(ctx context.Context, col batch.Column, mask *mat.Dense) (batch.Columns, error) {
	seq, err := b.seqInput(col)
	if err != nil {
		return nil, err
	}

	req := &EncodeRequest{InputsEmbeds: seq, AttentionMask: mask}
	if b.pre != nil {
		if err := b.pre.Prepare(ctx, req); err != nil {
			return nil, err
		}
	}

	out, err := b.encoder.Encode(ctx, req)
	if err != nil {
		return nil, err
	}

	cols, err := outputSelections[b.output](out)
	if err != nil {
		return nil, err
	}
	if b.post != nil {
		return b.post.Transform(ctx, cols)
	}
	return cols, nil
}

// seqInput 把输入列规整为 rows×steps×dModel 张量：
// 序列列直接使用，rows×dim 的稠密列提升为单步序列。
// ragged 列还没嵌入，不能编码。
func (b *Block) seqInput(col batch.Column) (*batch.Tensor3, error) {
	var seq *batch.Tensor3
	switch col.Kind() {
	case batch.KindSeq:
		seq, _ = col.Seq()
	case batch.KindDense:
		m, _ := col.Dense()
		t, err := batch.Tensor3FromDense(m, 1)
		if err != nil {
			return nil, err
		}
		seq = t
	default:
		return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
			"transformer: cannot encode a %s column, embed and pad the sequence first", col.Kind())
	}

	if seq.Dim() != b.cfg.DModel() {
		return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
			"transformer: input dim %d does not match %s dModel %d", seq.Dim(), b.cfg.Architecture(), b.cfg.DModel())
	}
	if seq.Steps > b.cfg.MaxSeqLength() {
		return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
			"transformer: sequence length %d exceeds %s max %d", seq.Steps, b.cfg.Architecture(), b.cfg.MaxSeqLength())
	}
	return seq, nil
}
