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

// TorchServeClient TorchServe 推理服务客户端（REST API）。
//
// 请求体是 {"data": {张量名: {shape, values}}, "params": ...}，
// 由服务端的 handler 解出命名张量后执行前向；响应体是
// {"outputs": {张量名: {shape, values}}}，也兼容直接返回张量表。
type TorchServeClient struct {
	endpoint     string
	modelName    string
	modelVersion string
	httpClient   *http.Client
	auth         *AuthConfig
}

// TorchServeOption TorchServe 客户端选项。
type TorchServeOption func(*TorchServeClient)

// WithTorchServeVersion 设置模型版本。
func WithTorchServeVersion(version string) TorchServeOption {
	return func(c *TorchServeClient) {
		c.modelVersion = version
	}
}

// WithTorchServeTimeout 设置请求超时时间。
func WithTorchServeTimeout(timeout time.Duration) TorchServeOption {
	return func(c *TorchServeClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithTorchServeAuth 设置认证配置。
func WithTorchServeAuth(auth *AuthConfig) TorchServeOption {
	return func(c *TorchServeClient) {
		c.auth = auth
	}
}

// WithTorchServeHTTPClient 使用自定义 HTTP 客户端。
func WithTorchServeHTTPClient(client *http.Client) TorchServeOption {
	return func(c *TorchServeClient) {
		c.httpClient = client
	}
}

// NewTorchServeClient 创建 TorchServe 客户端。
// endpoint 形如 http://localhost:8080，modelName 是部署的模型名。
func NewTorchServeClient(endpoint, modelName string, opts ...TorchServeOption) *TorchServeClient {
	c := &TorchServeClient{
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

// torchServeRequest TorchServe 的请求体。
type torchServeRequest struct {
	Data   map[string]*TensorValue `json:"data"`
	Params map[string]interface{}  `json:"params,omitempty"`
}

// Infer 实现 Client 接口。
func (c *TorchServeClient) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/predictions/%s", c.endpoint, c.modelName)
	if c.modelVersion != "" {
		url = fmt.Sprintf("%s/predictions/%s/%s", c.endpoint, c.modelName, c.modelVersion)
	}

	body, err := json.Marshal(&torchServeRequest{Data: req.Inputs, Params: req.Params})
	if err != nil {
		return nil, fmt.Errorf("serving: marshal torchserve request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("serving: create torchserve request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, c.auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("serving: torchserve request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("serving: read torchserve response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable,
			"serving: torchserve predict status %d: %s", resp.StatusCode, string(respBody))
	}

	return parseTorchServeResponse(respBody)
}

// parseTorchServeResponse 解析响应：优先 {"outputs": ...} 包装，
// 自定义 handler 直接返回张量表时也能解出。
func parseTorchServeResponse(body []byte) (*InferResponse, error) {
	var wrapped InferResponse
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Outputs) > 0 {
		return &wrapped, nil
	}

	var bare map[string]*TensorValue
	if err := json.Unmarshal(body, &bare); err == nil && len(bare) > 0 {
		for _, t := range bare {
			if t == nil || len(t.Shape) == 0 {
				return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
					"serving: torchserve response has no output tensors: %s", string(body))
			}
		}
		return &InferResponse{Outputs: bare}, nil
	}

	return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeInternalError,
		"serving: torchserve response has no output tensors: %s", string(body))
}

// Health 实现 Client 接口，走 TorchServe 的 /ping。
func (c *TorchServeClient) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/ping", c.endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("serving: create health request: %w", err)
	}
	applyAuth(httpReq, c.auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable, "serving: torchserve unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeUnavailable,
			"serving: torchserve health status %d", resp.StatusCode)
	}
	return nil
}

// Close 实现 Client 接口。
func (c *TorchServeClient) Close() error {
	return nil
}

var _ Client = (*TorchServeClient)(nil)
