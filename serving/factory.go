package serving

import (
	"time"

	"github.com/rushteam/recblocks/core"
)

// ClientType 推理服务类型。
type ClientType string

const (
	ClientTypeTorchServe ClientType = "torchserve"
	ClientTypeTFServing  ClientType = "tf_serving"
	ClientTypeKServe     ClientType = "kserve"
)

// ClientConfig 创建推理客户端的配置，config 包从 YAML 里直接反序列化它。
type ClientConfig struct {
	Type         ClientType  `json:"type" yaml:"type"`
	Endpoint     string      `json:"endpoint" yaml:"endpoint"`
	ModelName    string      `json:"model_name" yaml:"model_name"`
	ModelVersion string      `json:"model_version,omitempty" yaml:"model_version,omitempty"`
	Timeout      int         `json:"timeout,omitempty" yaml:"timeout,omitempty"` // 秒
	Auth         *AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// Validate 检查配置完整。
func (c *ClientConfig) Validate() error {
	if c == nil {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: client config is required")
	}
	if c.Endpoint == "" {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: endpoint is required")
	}
	if c.ModelName == "" {
		return core.DomainErrorf(core.ModuleServing, core.ErrorCodeInvalidInput, "serving: model name is required")
	}
	return nil
}

// SupportedClientTypes 返回支持的推理服务类型。
func SupportedClientTypes() []ClientType {
	return []ClientType{ClientTypeKServe, ClientTypeTFServing, ClientTypeTorchServe}
}

// NewClient 根据配置创建推理客户端（工厂方法）。
func NewClient(cfg *ClientConfig) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Type {
	case ClientTypeTorchServe:
		opts := []TorchServeOption{
			WithTorchServeTimeout(timeout),
		}
		if cfg.ModelVersion != "" {
			opts = append(opts, WithTorchServeVersion(cfg.ModelVersion))
		}
		if cfg.Auth != nil {
			opts = append(opts, WithTorchServeAuth(cfg.Auth))
		}
		return NewTorchServeClient(cfg.Endpoint, cfg.ModelName, opts...), nil

	case ClientTypeTFServing:
		opts := []TFServingOption{
			WithTFServingTimeout(timeout),
		}
		if cfg.ModelVersion != "" {
			opts = append(opts, WithTFServingVersion(cfg.ModelVersion))
		}
		if cfg.Auth != nil {
			opts = append(opts, WithTFServingAuth(cfg.Auth))
		}
		return NewTFServingClient(cfg.Endpoint, cfg.ModelName, opts...), nil

	case ClientTypeKServe:
		opts := []KServeOption{
			WithKServeTimeout(timeout),
		}
		if cfg.ModelVersion != "" {
			opts = append(opts, WithKServeVersion(cfg.ModelVersion))
		}
		if cfg.Auth != nil {
			opts = append(opts, WithKServeAuth(cfg.Auth))
		}
		return NewKServeClient(cfg.Endpoint, cfg.ModelName, opts...), nil

	default:
		return nil, core.DomainErrorf(core.ModuleServing, core.ErrorCodeNotSupported,
			"serving: unsupported client type %q (supported: %v)", cfg.Type, SupportedClientTypes())
	}
}
