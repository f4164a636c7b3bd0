// Package serving 对接远端模型推理服务（TorchServe、TensorFlow Serving、
// KServe），把嵌入后的序列交给部署好的 transformer 执行前向。
//
// 三个客户端共享同一套命名张量协议：请求携带 inputs_embeds 和
// attention_mask，响应按 last_hidden_state / pooler_output /
// hidden_states / attentions 取回输出。Encoder 把任意 Client 适配成
// transformer 包的编码后端。
package serving

import (
	"context"
	"net/http"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
)

// 约定的张量名。请求方向两个，响应方向四个，
// 服务端按这些名字挂载输入输出。
const (
	TensorInputsEmbeds    = "inputs_embeds"
	TensorAttentionMask   = "attention_mask"
	TensorLastHiddenState = "last_hidden_state"
	TensorPoolerOutput    = "pooler_output"
	TensorHiddenStates    = "hidden_states"
	TensorAttentions      = "attentions"
)

// TensorValue 是跨协议的稠密张量：行主序平铺的数值加形状。
type TensorValue struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// Numel 返回形状对应的元素个数。
func (t *TensorValue) Numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate 检查形状合法且与数值长度一致。
func (t *TensorValue) Validate() error {
	if t == nil {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: tensor is nil")
	}
	if len(t.Shape) == 0 {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: tensor shape is empty")
	}
	for _, d := range t.Shape {
		if d < 0 {
			return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: tensor shape %v has negative dim", t.Shape)
		}
	}
	if t.Numel() != len(t.Values) {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput,
			"serving: tensor shape %v wants %d values, got %d", t.Shape, t.Numel(), len(t.Values))
	}
	return nil
}

// Tensor3Value 把三维张量平铺为 (rows, steps, dim) 的 TensorValue。
func Tensor3Value(t *batch.Tensor3) *TensorValue {
	rows, steps, dim := t.Rows(), t.Steps, t.Dim()
	vals := make([]float64, 0, rows*steps*dim)
	for i := 0; i < rows*steps; i++ {
		vals = append(vals, t.Data.RawRowView(i)...)
	}
	return &TensorValue{Shape: []int{rows, steps, dim}, Values: vals}
}

// DenseValue 把矩阵平铺为 (rows, cols) 的 TensorValue。
func DenseValue(m *mat.Dense) *TensorValue {
	r, c := m.Dims()
	vals := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		vals = append(vals, m.RawRowView(i)...)
	}
	return &TensorValue{Shape: []int{r, c}, Values: vals}
}

// Tensor3FromValue 把三维 TensorValue 还原为张量。
func Tensor3FromValue(v *TensorValue) (*batch.Tensor3, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(v.Shape) != 3 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: want 3-d tensor, got shape %v", v.Shape)
	}
	rows, steps, dim := v.Shape[0], v.Shape[1], v.Shape[2]
	if rows == 0 || steps == 0 || dim == 0 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: tensor shape %v has empty dim", v.Shape)
	}
	data := mat.NewDense(rows*steps, dim, append([]float64(nil), v.Values...))
	return batch.Tensor3FromDense(data, steps)
}

// DenseFromValue 把二维 TensorValue 还原为矩阵。
func DenseFromValue(v *TensorValue) (*mat.Dense, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(v.Shape) != 2 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: want 2-d tensor, got shape %v", v.Shape)
	}
	if v.Shape[0] == 0 || v.Shape[1] == 0 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: tensor shape %v has empty dim", v.Shape)
	}
	return mat.NewDense(v.Shape[0], v.Shape[1], append([]float64(nil), v.Values...)), nil
}

// Tensor3StackFromValue 把 (layers, rows, steps, dim) 的四维
// TensorValue 拆成逐层的三维张量，用于 hidden_states 和 attentions。
func Tensor3StackFromValue(v *TensorValue) ([]*batch.Tensor3, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(v.Shape) != 4 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: want 4-d tensor, got shape %v", v.Shape)
	}
	layers := v.Shape[0]
	if layers == 0 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: tensor shape %v has zero layers", v.Shape)
	}
	per := v.Numel() / layers
	out := make([]*batch.Tensor3, 0, layers)
	for l := 0; l < layers; l++ {
		t, err := Tensor3FromValue(&TensorValue{
			Shape:  v.Shape[1:],
			Values: v.Values[l*per : (l+1)*per],
		})
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// InferRequest 一次推理请求：命名的输入张量和可选的附加参数。
type InferRequest struct {
	Inputs map[string]*TensorValue `json:"inputs"`
	Params map[string]interface{}  `json:"params,omitempty"`
}

// Validate 检查请求至少带一个合法的输入张量。
func (r *InferRequest) Validate() error {
	if r == nil || len(r.Inputs) == 0 {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: infer request has no inputs")
	}
	for name, t := range r.Inputs {
		if err := t.Validate(); err != nil {
			return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: input %q: %v", name, err)
		}
	}
	return nil
}

// InferResponse 推理响应：命名的输出张量。
type InferResponse struct {
	Outputs      map[string]*TensorValue `json:"outputs"`
	ModelName    string                  `json:"model_name,omitempty"`
	ModelVersion string                  `json:"model_version,omitempty"`
}

// Client 是推理服务的统一客户端接口。
type Client interface {
	// Infer 执行一次命名张量推理。
	Infer(ctx context.Context, req *InferRequest) (*InferResponse, error)
	// Health 检查服务是否就绪。
	Health(ctx context.Context) error
	// Close 释放底层连接。
	Close() error
}

// AuthConfig 认证配置。
type AuthConfig struct {
	Type     string `json:"type" yaml:"type"` // "basic", "bearer", "api_key"
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// applyAuth 按配置给请求加认证头。
func applyAuth(req *http.Request, auth *AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "api_key":
		req.Header.Set("X-API-Key", auth.APIKey)
	}
}
