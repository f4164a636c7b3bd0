// Package feast 对接 Feast Feature Store，把在线特征查出来
// 喂给 dataset 包的批数据源。
package feast

import (
	"context"
	"time"
)

// Client 是 Feast 在线特征查询的客户端接口。
//
// Feast 是开源 Feature Store，在线存储面向实时预测。这里只依赖
// 在线特征一条路径：实体行进、特征向量出；训练样本的构造走
// dataset 包的数据源接口。
//
// 参考：https://github.com/feast-dev/feast
type Client interface {
	// GetOnlineFeatures 获取在线特征。
	//
	// 参数：
	//   - Features: 特征引用列表，例如 ["user_stats:age", "user_stats:ctr"]
	//   - EntityRows: 实体行，例如 [{"user_id": 1001}]
	GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error)

	// Close 关闭客户端连接。
	Close() error
}

// GetOnlineFeaturesRequest 在线特征请求。
type GetOnlineFeaturesRequest struct {
	// Features 特征引用列表，形如 "feature_view:feature"。
	Features []string

	// EntityRows 实体行，每行是实体名到实体值的映射。
	EntityRows []map[string]interface{}

	// Project 项目名称（可选，缺省用客户端配置的项目）。
	Project string
}

// GetOnlineFeaturesResponse 在线特征响应。
type GetOnlineFeaturesResponse struct {
	// FeatureVectors 特征向量列表，每个元素对应一个实体行。
	FeatureVectors []FeatureVector
}

// FeatureVector 一行实体的特征值，key 是请求里的特征引用。
// 在线存储里缺失或类型不支持的特征不出现在 Values 里。
type FeatureVector struct {
	Values    map[string]interface{}
	EntityRow map[string]interface{}
}

// ClientConfig Feast 客户端配置。
type ClientConfig struct {
	// Endpoint 服务端点
	Endpoint string

	// Project 项目名称
	Project string

	// Timeout 超时时间
	Timeout time.Duration

	// Auth 认证信息
	Auth *AuthConfig
}

// AuthConfig 认证配置。
type AuthConfig struct {
	// Type 认证类型，gRPC 走 "static" 静态 Token
	Type string

	// Token 静态 Token
	Token string
}

// ClientOption Feast 客户端配置选项。
type ClientOption func(*ClientConfig)

// WithTimeout 配置选项：设置超时时间。
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithAuth 配置选项：设置认证信息。
func WithAuth(auth *AuthConfig) ClientOption {
	return func(c *ClientConfig) {
		c.Auth = auth
	}
}
