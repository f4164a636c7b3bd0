package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rushteam/recblocks/core"
)

// KServeClient KServe 推理服务客户端，走 V2 开放推理协议（REST）。
//
// 请求体是 {"inputs": [{"name", "shape", "datatype", "data"}]}，
// 响应体带同构的 outputs 数组，按张量名取回。
type KServeClient struct {
	endpoint     string
	modelName    string
	modelVersion string
	httpClient   *http.Client
	auth         *AuthConfig
}

// KServeOption KServe 客户端选项。
type KServeOption func(*KServeClient)

// WithKServeVersion 设置模型版本。
func WithKServeVersion(version string) KServeOption {
	return func(c *KServeClient) {
		c.modelVersion = version
	}
}

// WithKServeTimeout 设置请求超时时间。
func WithKServeTimeout(timeout time.Duration) KServeOption {
	return func(c *KServeClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithKServeAuth 设置认证配置。
func WithKServeAuth(auth *AuthConfig) KServeOption {
	return func(c *KServeClient) {
		c.auth = auth
	}
}

// WithKServeHTTPClient 使用自定义 HTTP 客户端。
func WithKServeHTTPClient(client *http.Client) KServeOption {
	return func(c *KServeClient) {
		c.httpClient = client
	}
}

// NewKServeClient 创建 KServe 客户端。
// endpoint 形如 http://localhost:8008，modelName 是部署的模型名。
func NewKServeClient(endpoint, modelName string, opts ...KServeOption) *KServeClient {
	c := &KServeClient{
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		modelName: modelName,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// v2Tensor V2 协议里的张量，请求响应同构。
type v2Tensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float64 `json:"data"`
}

// v2InferRequest V2 推理请求体。
type v2InferRequest struct {
	Inputs []v2Tensor `json:"inputs"`
}

// v2InferResponse V2 推理响应体。
type v2InferResponse struct {
	ModelName    string     `json:"model_name"`
	ModelVersion string     `json:"model_version"`
	Outputs      []v2Tensor `json:"outputs"`
}

// Infer 实现 Client 接口。
func (c *KServeClient) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(req.Inputs))
	for name := range req.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	v2Req := v2InferRequest{Inputs: make([]v2Tensor, 0, len(names))}
	for _, name := range names {
		t := req.Inputs[name]
		v2Req.Inputs = append(v2Req.Inputs, v2Tensor{
			Name:     name,
			Shape:    t.Shape,
			Datatype: "FP64",
			Data:     t.Values,
		})
	}

	body, err := json.Marshal(&v2Req)
	if err != nil {
		return nil, fmt.Errorf("serving: marshal kserve request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.inferURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("serving: create kserve request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, c.auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("serving: kserve request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("serving: read kserve response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable,
			"serving: kserve infer status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed v2InferResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("serving: decode kserve response: %w", err)
	}
	if len(parsed.Outputs) == 0 {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
			"serving: kserve response has no output tensors")
	}

	outputs := make(map[string]*TensorValue, len(parsed.Outputs))
	for _, t := range parsed.Outputs {
		outputs[t.Name] = &TensorValue{Shape: t.Shape, Values: t.Data}
	}
	return &InferResponse{
		Outputs:      outputs,
		ModelName:    parsed.ModelName,
		ModelVersion: parsed.ModelVersion,
	}, nil
}

// inferURL 拼出 infer 地址，带版本时走 versions 路径。
func (c *KServeClient) inferURL() string {
	if c.modelVersion != "" {
		return fmt.Sprintf("%s/v2/models/%s/versions/%s/infer", c.endpoint, c.modelName, c.modelVersion)
	}
	return fmt.Sprintf("%s/v2/models/%s/infer", c.endpoint, c.modelName)
}

// Health 实现 Client 接口，查模型 ready 接口。
func (c *KServeClient) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/v2/models/%s/ready", c.endpoint, c.modelName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("serving: create health request: %w", err)
	}
	applyAuth(httpReq, c.auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable, "serving: kserve unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable,
			"serving: kserve health status %d", resp.StatusCode)
	}
	return nil
}

// Close 实现 Client 接口。
func (c *KServeClient) Close() error {
	return nil
}

var _ Client = (*KServeClient)(nil)
