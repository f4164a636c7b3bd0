// Package transformer 提供会话式/序列式推荐的 transformer 块：
// 架构配置族、编码器注册表、输出选择与前后处理链。
// 注意力前向本身由注册的编码器后端执行，本包不实现。
package transformer

import (
	"github.com/rushteam/recblocks/core"
)

// 架构名常量，对应编码器注册表的键。
const (
	ArchBert    = "bert"
	ArchAlbert  = "albert"
	ArchRoberta = "roberta"
	ArchXLNet   = "xlnet"
	ArchGPT2    = "gpt2"
)

// Config 是一种 transformer 架构的超参数集合。
// 配置只描述结构，前向由按 Architecture 注册的编码器执行。
type Config interface {
	// Architecture 返回架构名。
	Architecture() string
	// DModel 返回隐层宽度，编码输入的向量维度必须与之一致。
	DModel() int
	// MaxSeqLength 返回支持的最大序列长度。
	MaxSeqLength() int
	// Validate 校验超参数。
	Validate() error
}

// 配置族的公共默认值。
const (
	defaultHiddenAct        = "gelu"
	defaultInitializerRange = 0.01
	defaultLayerNormEps     = 0.03
	defaultDropout          = 0.3
	defaultVocabSize        = 1
	defaultAttnType         = "bi"
	defaultMemLen           = 1
)

type configDefaults struct {
	hiddenAct        string
	initializerRange float64
	layerNormEps     float64
	dropout          float64
	padToken         int
	attentions       bool
	attnType         string
	memLen           int
}

// ConfigOption 调整配置族共有的超参数。
type ConfigOption func(*configDefaults)

func newConfigDefaults(opts ...ConfigOption) configDefaults {
	cfg := configDefaults{
		hiddenAct:        defaultHiddenAct,
		initializerRange: defaultInitializerRange,
		layerNormEps:     defaultLayerNormEps,
		dropout:          defaultDropout,
		attnType:         defaultAttnType,
		memLen:           defaultMemLen,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithHiddenAct 设置激活函数，默认 gelu。
func WithHiddenAct(act string) ConfigOption {
	return func(c *configDefaults) { c.hiddenAct = act }
}

// WithInitializerRange 设置权重初始化范围，默认 0.01。
func WithInitializerRange(r float64) ConfigOption {
	return func(c *configDefaults) { c.initializerRange = r }
}

// WithLayerNormEps 设置层归一化 epsilon，默认 0.03。
func WithLayerNormEps(eps float64) ConfigOption {
	return func(c *configDefaults) { c.layerNormEps = eps }
}

// WithDropout 设置各处 dropout 概率，默认 0.3。
func WithDropout(p float64) ConfigOption {
	return func(c *configDefaults) { c.dropout = p }
}

// WithPadToken 设置 padding token id，默认 0。
func WithPadToken(id int) ConfigOption {
	return func(c *configDefaults) { c.padToken = id }
}

// WithAttentionWeights 让编码器回传各层注意力权重。
func WithAttentionWeights() ConfigOption {
	return func(c *configDefaults) { c.attentions = true }
}

// WithAttnType 设置 XLNet 的注意力类型，默认 bi。
func WithAttnType(t string) ConfigOption {
	return func(c *configDefaults) { c.attnType = t }
}

// WithMemLen 设置 XLNet 的记忆长度，默认 1。
func WithMemLen(n int) ConfigOption {
	return func(c *configDefaults) { c.memLen = n }
}

// validateDims 是配置族共用的形状检查。
func validateDims(arch string, dModel, nHead, nLayer, maxSeqLen int) error {
	if dModel <= 0 || nHead <= 0 || nLayer <= 0 || maxSeqLen <= 0 {
		return core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
			"transformer: %s config needs positive dModel/nHead/nLayer/maxSeqLen, got %d/%d/%d/%d",
			arch, dModel, nHead, nLayer, maxSeqLen)
	}
	if dModel%nHead != 0 {
		return core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeInvalidInput,
			"transformer: %s dModel %d must be divisible by nHead %d", arch, dModel, nHead)
	}
	return nil
}

// BertConfig 是 BERT 架构的配置。
type BertConfig struct {
	HiddenSize            int
	NumAttentionHeads     int
	NumHiddenLayers       int
	MaxPositionEmbeddings int
	HiddenAct             string
	IntermediateSize      int
	HiddenDropoutProb     float64
	AttentionDropoutProb  float64
	InitializerRange      float64
	LayerNormEps          float64
	OutputAttentions      bool
	VocabSize             int
}

// NewBertConfig 按 (dModel, nHead, nLayer, maxSeqLen) 展开 BERT 配置：
// intermediate 取 4·dModel，vocab size 取 1（输入是嵌入向量而不是 token）。
func NewBertConfig(dModel, nHead, nLayer, maxSeqLen int, opts ...ConfigOption) *BertConfig {
	d := newConfigDefaults(opts...)
	return &BertConfig{
		HiddenSize:            dModel,
		NumAttentionHeads:     nHead,
		NumHiddenLayers:       nLayer,
		MaxPositionEmbeddings: maxSeqLen,
		HiddenAct:             d.hiddenAct,
		IntermediateSize:      dModel * 4,
		HiddenDropoutProb:     d.dropout,
		AttentionDropoutProb:  d.dropout,
		InitializerRange:      d.initializerRange,
		LayerNormEps:          d.layerNormEps,
		OutputAttentions:      d.attentions,
		VocabSize:             defaultVocabSize,
	}
}

func (c *BertConfig) Architecture() string { return ArchBert }
func (c *BertConfig) DModel() int          { return c.HiddenSize }
func (c *BertConfig) MaxSeqLength() int    { return c.MaxPositionEmbeddings }

func (c *BertConfig) Validate() error {
	return validateDims(ArchBert, c.HiddenSize, c.NumAttentionHeads, c.NumHiddenLayers, c.MaxPositionEmbeddings)
}

// AlbertConfig 是 ALBERT 架构的配置，层间共享权重。
type AlbertConfig struct {
	HiddenSize            int
	NumAttentionHeads     int
	NumHiddenLayers       int
	MaxPositionEmbeddings int
	HiddenAct             string
	IntermediateSize      int
	HiddenDropoutProb     float64
	AttentionDropoutProb  float64
	InitializerRange      float64
	LayerNormEps          float64
	OutputAttentions      bool
	VocabSize             int
}

// NewAlbertConfig 按 (dModel, nHead, nLayer, maxSeqLen) 展开 ALBERT 配置。
func NewAlbertConfig(dModel, nHead, nLayer, maxSeqLen int, opts ...ConfigOption) *AlbertConfig {
	d := newConfigDefaults(opts...)
	return &AlbertConfig{
		HiddenSize:            dModel,
		NumAttentionHeads:     nHead,
		NumHiddenLayers:       nLayer,
		MaxPositionEmbeddings: maxSeqLen,
		HiddenAct:             d.hiddenAct,
		IntermediateSize:      dModel * 4,
		HiddenDropoutProb:     d.dropout,
		AttentionDropoutProb:  d.dropout,
		InitializerRange:      d.initializerRange,
		LayerNormEps:          d.layerNormEps,
		OutputAttentions:      d.attentions,
		VocabSize:             defaultVocabSize,
	}
}

func (c *AlbertConfig) Architecture() string { return ArchAlbert }
func (c *AlbertConfig) DModel() int          { return c.HiddenSize }
func (c *AlbertConfig) MaxSeqLength() int    { return c.MaxPositionEmbeddings }

func (c *AlbertConfig) Validate() error {
	return validateDims(ArchAlbert, c.HiddenSize, c.NumAttentionHeads, c.NumHiddenLayers, c.MaxPositionEmbeddings)
}

// RobertaConfig 是 RoBERTa 架构的配置。
type RobertaConfig struct {
	HiddenSize            int
	NumAttentionHeads     int
	NumHiddenLayers       int
	MaxPositionEmbeddings int
	HiddenAct             string
	IntermediateSize      int
	Dropout               float64
	InitializerRange      float64
	LayerNormEps          float64
	PadTokenID            int
	OutputAttentions      bool
	VocabSize             int
}

// NewRobertaConfig 按 (dModel, nHead, nLayer, maxSeqLen) 展开 RoBERTa 配置。
func NewRobertaConfig(dModel, nHead, nLayer, maxSeqLen int, opts ...ConfigOption) *RobertaConfig {
	d := newConfigDefaults(opts...)
	return &RobertaConfig{
		HiddenSize:            dModel,
		NumAttentionHeads:     nHead,
		NumHiddenLayers:       nLayer,
		MaxPositionEmbeddings: maxSeqLen,
		HiddenAct:             d.hiddenAct,
		IntermediateSize:      dModel * 4,
		Dropout:               d.dropout,
		InitializerRange:      d.initializerRange,
		LayerNormEps:          d.layerNormEps,
		PadTokenID:            d.padToken,
		OutputAttentions:      d.attentions,
		VocabSize:             defaultVocabSize,
	}
}

func (c *RobertaConfig) Architecture() string { return ArchRoberta }
func (c *RobertaConfig) DModel() int          { return c.HiddenSize }
func (c *RobertaConfig) MaxSeqLength() int    { return c.MaxPositionEmbeddings }

func (c *RobertaConfig) Validate() error {
	return validateDims(ArchRoberta, c.HiddenSize, c.NumAttentionHeads, c.NumHiddenLayers, c.MaxPositionEmbeddings)
}

// XLNetConfig 是 XLNet 架构的配置，会话推荐里最常用的骨干。
type XLNetConfig struct {
	DModelSize       int
	DInner           int
	NLayer           int
	NHead            int
	AttnType         string
	FFActivation     string
	InitializerRange float64
	LayerNormEps     float64
	Dropout          float64
	PadTokenID       int
	OutputAttentions bool
	VocabSize        int
	MemLen           int
	MaxSeqLen        int
}

// NewXLNetConfig 按 (dModel, nHead, nLayer, maxSeqLen) 展开 XLNet 配置：
// 双向注意力（attn_type=bi）、mem_len=1。
func NewXLNetConfig(dModel, nHead, nLayer, maxSeqLen int, opts ...ConfigOption) *XLNetConfig {
	d := newConfigDefaults(opts...)
	return &XLNetConfig{
		DModelSize:       dModel,
		DInner:           dModel * 4,
		NLayer:           nLayer,
		NHead:            nHead,
		AttnType:         d.attnType,
		FFActivation:     d.hiddenAct,
		InitializerRange: d.initializerRange,
		LayerNormEps:     d.layerNormEps,
		Dropout:          d.dropout,
		PadTokenID:       d.padToken,
		OutputAttentions: d.attentions,
		VocabSize:        defaultVocabSize,
		MemLen:           d.memLen,
		MaxSeqLen:        maxSeqLen,
	}
}

func (c *XLNetConfig) Architecture() string { return ArchXLNet }
func (c *XLNetConfig) DModel() int          { return c.DModelSize }
func (c *XLNetConfig) MaxSeqLength() int    { return c.MaxSeqLen }

func (c *XLNetConfig) Validate() error {
	return validateDims(ArchXLNet, c.DModelSize, c.NHead, c.NLayer, c.MaxSeqLen)
}

// GPT2Config 是 GPT-2 架构的配置，单向注意力。
type GPT2Config struct {
	NEmbd              int
	NInner             int
	NLayer             int
	NHead              int
	ActivationFunction string
	InitializerRange   float64
	LayerNormEps       float64
	ResidPdrop         float64
	EmbdPdrop          float64
	AttnPdrop          float64
	NPositions         int
	NCtx               int
	OutputAttentions   bool
	VocabSize          int
}

// NewGPT2Config 按 (dModel, nHead, nLayer, maxSeqLen) 展开 GPT-2 配置。
func NewGPT2Config(dModel, nHead, nLayer, maxSeqLen int, opts ...ConfigOption) *GPT2Config {
	d := newConfigDefaults(opts...)
	return &GPT2Config{
		NEmbd:              dModel,
		NInner:             dModel * 4,
		NLayer:             nLayer,
		NHead:              nHead,
		ActivationFunction: d.hiddenAct,
		InitializerRange:   d.initializerRange,
		LayerNormEps:       d.layerNormEps,
		ResidPdrop:         d.dropout,
		EmbdPdrop:          d.dropout,
		AttnPdrop:          d.dropout,
		NPositions:         maxSeqLen,
		NCtx:               maxSeqLen,
		OutputAttentions:   d.attentions,
		VocabSize:          defaultVocabSize,
	}
}

func (c *GPT2Config) Architecture() string { return ArchGPT2 }
func (c *GPT2Config) DModel() int          { return c.NEmbd }
func (c *GPT2Config) MaxSeqLength() int    { return c.NPositions }

func (c *GPT2Config) Validate() error {
	return validateDims(ArchGPT2, c.NEmbd, c.NHead, c.NLayer, c.NPositions)
}
