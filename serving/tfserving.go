package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rushteam/recblocks/core"
)

// TFServingClient TensorFlow Serving 推理服务客户端（REST API）。
//
// 走 v1 predict 协议的列式形态：请求体是
// {"signature_name": ..., "inputs": {张量名: 嵌套数组}}，
// 响应体是 {"outputs": {张量名: 嵌套数组}}，形状从嵌套层级还原。
type TFServingClient struct {
	endpoint      string
	modelName     string
	modelVersion  string
	signatureName string
	httpClient    *http.Client
	auth          *AuthConfig
}

// TFServingOption TF Serving 客户端选项。
type TFServingOption func(*TFServingClient)

// WithTFServingVersion 设置模型版本。
func WithTFServingVersion(version string) TFServingOption {
	return func(c *TFServingClient) {
		c.modelVersion = version
	}
}

// WithTFServingSignature 设置 signature name，默认 serving_default。
func WithTFServingSignature(name string) TFServingOption {
	return func(c *TFServingClient) {
		c.signatureName = name
	}
}

// WithTFServingTimeout 设置请求超时时间。
func WithTFServingTimeout(timeout time.Duration) TFServingOption {
	return func(c *TFServingClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithTFServingAuth 设置认证配置。
func WithTFServingAuth(auth *AuthConfig) TFServingOption {
	return func(c *TFServingClient) {
		c.auth = auth
	}
}

// WithTFServingHTTPClient 使用自定义 HTTP 客户端。
func WithTFServingHTTPClient(client *http.Client) TFServingOption {
	return func(c *TFServingClient) {
		c.httpClient = client
	}
}

// NewTFServingClient 创建 TF Serving 客户端。
// endpoint 形如 http://localhost:8501，modelName 是部署的模型名。
func NewTFServingClient(endpoint, modelName string, opts ...TFServingOption) *TFServingClient {
	c := &TFServingClient{
		endpoint:      strings.TrimSuffix(endpoint, "/"),
		modelName:     modelName,
		signatureName: "serving_default",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tfServingRequest v1 predict 的列式请求体。
type tfServingRequest struct {
	SignatureName string                 `json:"signature_name,omitempty"`
	Inputs        map[string]interface{} `json:"inputs"`
}

// tfServingResponse v1 predict 的列式响应体。
type tfServingResponse struct {
	Outputs map[string]interface{} `json:"outputs"`
	Error   string                 `json:"error,omitempty"`
}

// Infer 实现 Client 接口。
func (c *TFServingClient) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	url := c.predictURL()
	inputs := make(map[string]interface{}, len(req.Inputs))
	for name, t := range req.Inputs {
		inputs[name] = nestValues(t.Values, t.Shape)
	}

	body, err := json.Marshal(&tfServingRequest{SignatureName: c.signatureName, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("serving: marshal tf serving request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("serving: create tf serving request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, c.auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("serving: tf serving request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("serving: read tf serving response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable,
			"serving: tf serving predict status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed tfServingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("serving: decode tf serving response: %w", err)
	}
	if parsed.Error != "" {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
			"serving: tf serving error: %s", parsed.Error)
	}
	if len(parsed.Outputs) == 0 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
			"serving: tf serving response outputs must be keyed by tensor name")
	}

	outputs := make(map[string]*TensorValue, len(parsed.Outputs))
	for name, nested := range parsed.Outputs {
		vals, shape, err := flattenValues(nested)
		if err != nil {
			return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
				"serving: tf serving output %q: %v", name, err)
		}
		if len(shape) == 0 {
			shape = []int{len(vals)}
		}
		outputs[name] = &TensorValue{Shape: shape, Values: vals}
	}
	return &InferResponse{Outputs: outputs, ModelName: c.modelName, ModelVersion: c.modelVersion}, nil
}

// predictURL 拼出 predict 地址，带版本时走 versions 路径。
func (c *TFServingClient) predictURL() string {
	if c.modelVersion != "" {
		return fmt.Sprintf("%s/v1/models/%s/versions/%s:predict", c.endpoint, c.modelName, c.modelVersion)
	}
	return fmt.Sprintf("%s/v1/models/%s:predict", c.endpoint, c.modelName)
}

// Health 实现 Client 接口，查模型状态接口。
func (c *TFServingClient) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/models/%s", c.endpoint, c.modelName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("serving: create health request: %w", err)
	}
	applyAuth(httpReq, c.auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable, "serving: tf serving unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable,
			"serving: tf serving health status %d", resp.StatusCode)
	}
	return nil
}

// Close 实现 Client 接口。
func (c *TFServingClient) Close() error {
	return nil
}

var _ Client = (*TFServingClient)(nil)

// nestValues 把平铺数值按形状还原成嵌套数组（TF Serving 的 JSON 形态）。
func nestValues(values []float64, shape []int) interface{} {
	if len(shape) == 0 {
		if len(values) == 1 {
			return values[0]
		}
		return values
	}
	if len(shape) == 1 {
		return append([]float64(nil), values[:shape[0]]...)
	}
	sub := 1
	for _, d := range shape[1:] {
		sub *= d
	}
	out := make([]interface{}, shape[0])
	for i := 0; i < shape[0]; i++ {
		out[i] = nestValues(values[i*sub:(i+1)*sub], shape[1:])
	}
	return out
}

// flattenValues 把嵌套数组展平，返回数值和推断出的形状。
// 各层子数组长度不一致（ragged）时报错。
func flattenValues(v interface{}) ([]float64, []int, error) {
	switch x := v.(type) {
	case float64:
		return []float64{x}, []int{}, nil
	case []interface{}:
		if len(x) == 0 {
			return nil, []int{0}, nil
		}
		var vals []float64
		var inner []int
		for i, e := range x {
			ev, es, err := flattenValues(e)
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				inner = es
			} else if !equalShape(inner, es) {
				return nil, nil, fmt.Errorf("ragged nested array: %v vs %v", inner, es)
			}
			vals = append(vals, ev...)
		}
		return vals, append([]int{len(x)}, inner...), nil
	default:
		return nil, nil, fmt.Errorf("unexpected element type %T", v)
	}
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
