package transformer

import (
	"context"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
)

// EncodeRequest 是一次前向编码的输入。
type EncodeRequest struct {
	// InputsEmbeds 是已嵌入的交互序列，rows×steps×dModel。
	InputsEmbeds *batch.Tensor3
	// AttentionMask 是 rows×steps 的 0/1 掩码，1 为有效位置。
	// nil 表示所有位置有效。
	AttentionMask *mat.Dense
}

// Output 汇集编码器的各路输出，后端没有返回的字段为 nil。
type Output struct {
	// LastHiddenState 是最后一层的隐状态，rows×steps×dModel。
	LastHiddenState *batch.Tensor3
	// PoolerOutput 是整条序列的池化向量，rows×dModel。
	PoolerOutput *mat.Dense
	// HiddenStates 是各层的隐状态。
	HiddenStates []*batch.Tensor3
	// Attentions 是各层的注意力权重。
	Attentions []*batch.Tensor3
}

// Encoder 执行一种架构的前向编码，实现由推理后端提供。
type Encoder interface {
	// Architecture 返回架构名。
	Architecture() string
	// Encode 编码一批嵌入后的序列。
	Encode(ctx context.Context, req *EncodeRequest) (*Output, error)
}

// EncoderBuilder 按配置构建编码器。
type EncoderBuilder func(cfg Config) (Encoder, error)

var (
	encodersMu sync.RWMutex
	encoders   = make(map[string]EncoderBuilder)
)

// RegisterEncoder 注册一种架构的编码器构建函数，
// 重复注册时后注册的生效。
func RegisterEncoder(arch string, builder EncoderBuilder) {
	encodersMu.Lock()
	defer encodersMu.Unlock()
	encoders[arch] = builder
}

// SupportedArchitectures 返回已注册的架构名，按字典序。
func SupportedArchitectures() []string {
	encodersMu.RLock()
	defer encodersMu.RUnlock()

	archs := make([]string, 0, len(encoders))
	for arch := range encoders {
		archs = append(archs, arch)
	}
	sort.Strings(archs)
	return archs
}

// NewEncoder 按配置的架构构建编码器。
// 架构未注册时返回 NOT_FOUND，并列出支持的架构。
func NewEncoder(cfg Config) (Encoder, error) {
	if cfg == nil {
		return nil, core.NewDomainError(core.ModuleTransformer, core.ErrorCodeInvalidInput, "transformer: config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	encodersMu.RLock()
	builder, ok := encoders[cfg.Architecture()]
	encodersMu.RUnlock()
	if !ok {
		return nil, core.DomainErrorf(core.ModuleTransformer, core.ErrorCodeNotFound,
			"transformer: architecture %q has no registered encoder (supported: %v)", cfg.Architecture(), SupportedArchitectures())
	}
	return builder(cfg)
}

// AttentionMaskFromLengths 由每行有效长度生成 rows×steps 的 0/1 掩码。
// 超出 steps 的长度按 steps 截断。
func AttentionMaskFromLengths(lengths []int, steps int) *mat.Dense {
	mask := mat.NewDense(len(lengths), steps, nil)
	for i, l := range lengths {
		if l > steps {
			l = steps
		}
		for s := 0; s < l; s++ {
			mask.Set(i, s, 1)
		}
	}
	return mask
}
