package feast

import (
	"context"
	"fmt"
	"strings"
	"time"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	feasttypes "github.com/feast-dev/feast/sdk/go/protos/feast/types"

	"github.com/rushteam/recblocks/core"
)

// GrpcClient 基于官方 Feast Go SDK 的 gRPC 客户端实现。
//
// 工程特征：
//   - 实时性：优秀（gRPC 低延迟、连接复用）
//   - 类型：二进制协议，特征值走 protobuf 的 oneof
//
// 使用场景：实时特征获取，配合 dataset.FeastSource 组 Batch。
type GrpcClient struct {
	// client 官方 SDK 的 gRPC 客户端
	client *feastsdk.GrpcClient

	// Project 项目名称
	Project string

	// Endpoint 服务端点（用于信息展示）
	Endpoint string
}

// NewGrpcClient 创建一个基于官方 SDK 的 Feast gRPC 客户端。
// port 为 0 时使用默认 gRPC 端口 6565。
func NewGrpcClient(host string, port int, project string, opts ...ClientOption) (*GrpcClient, error) {
	if host == "" {
		return nil, core.DomainErrorf(core.ModuleFeast, core.ErrorCodeInvalidInput, "feast: host is required")
	}
	if port == 0 {
		port = 6565
	}

	config := &ClientConfig{
		Endpoint: fmt.Sprintf("%s:%d", host, port),
		Project:  project,
		Timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(config)
	}

	var (
		client *feastsdk.GrpcClient
		err    error
	)
	if config.Auth != nil && config.Auth.Type == "static" && config.Auth.Token != "" {
		security := feastsdk.SecurityConfig{
			EnableTLS:  false,
			Credential: feastsdk.NewStaticCredential(config.Auth.Token),
		}
		client, err = feastsdk.NewSecureGrpcClient(host, port, security)
	} else {
		client, err = feastsdk.NewGrpcClient(host, port)
	}
	if err != nil {
		return nil, fmt.Errorf("feast: create grpc client: %w", err)
	}

	return &GrpcClient{
		client:   client,
		Project:  project,
		Endpoint: config.Endpoint,
	}, nil
}

// GetOnlineFeatures 获取在线特征（实现 Client 接口）。
func (c *GrpcClient) GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error) {
	if req == nil || len(req.Features) == 0 {
		return nil, core.DomainErrorf(core.ModuleFeast, core.ErrorCodeInvalidInput, "feast: features are required")
	}
	if len(req.EntityRows) == 0 {
		return nil, core.DomainErrorf(core.ModuleFeast, core.ErrorCodeInvalidInput, "feast: entity rows are required")
	}

	project := req.Project
	if project == "" {
		project = c.Project
	}
	if project == "" {
		return nil, core.DomainErrorf(core.ModuleFeast, core.ErrorCodeInvalidInput, "feast: project is required")
	}

	entityRows := make([]feastsdk.Row, len(req.EntityRows))
	for i, row := range req.EntityRows {
		entityRow := make(feastsdk.Row, len(row))
		for k, v := range row {
			entityRow[k] = entityValue(v)
		}
		entityRows[i] = entityRow
	}

	sdkResp, err := c.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: req.Features,
		Entities: entityRows,
		Project:  project,
	})
	if err != nil {
		return nil, fmt.Errorf("feast: get online features: %w", err)
	}

	rows := sdkResp.Rows()
	if len(rows) != len(req.EntityRows) {
		return nil, core.DomainErrorf(core.ModuleFeast, core.ErrorCodeInternalError,
			"feast: response has %d rows, requested %d", len(rows), len(req.EntityRows))
	}

	featureVectors := make([]FeatureVector, len(rows))
	for i, row := range rows {
		values := make(map[string]interface{}, len(req.Features))
		for _, ref := range req.Features {
			val, ok := lookupFeature(row, ref)
			if !ok {
				continue
			}
			if decoded := decodeValue(val); decoded != nil {
				values[ref] = decoded
			}
		}
		featureVectors[i] = FeatureVector{
			Values:    values,
			EntityRow: req.EntityRows[i],
		}
	}

	return &GetOnlineFeaturesResponse{FeatureVectors: featureVectors}, nil
}

// Close 关闭客户端连接（实现 Client 接口）。
// 官方 SDK 的连接由 gRPC 库托管，这里只释放引用。
func (c *GrpcClient) Close() error {
	c.client = nil
	return nil
}

// lookupFeature 在响应行里找特征值，先按完整引用找，
// 再按去掉 feature view 前缀的短名找（不同服务端版本键不一致）。
func lookupFeature(row feastsdk.Row, ref string) (*feasttypes.Value, bool) {
	if v, ok := row[ref]; ok {
		return v, true
	}
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		if v, ok := row[ref[i+1:]]; ok {
			return v, true
		}
	}
	return nil, false
}

// entityValue 把实体值转成 SDK 的 protobuf Value。
func entityValue(v interface{}) *feasttypes.Value {
	switch val := v.(type) {
	case string:
		return feastsdk.StrVal(val)
	case int:
		return feastsdk.Int64Val(int64(val))
	case int32:
		return feastsdk.Int64Val(int64(val))
	case int64:
		return feastsdk.Int64Val(val)
	case float32:
		return feastsdk.FloatVal(val)
	case float64:
		return feastsdk.DoubleVal(val)
	case bool:
		return feastsdk.BoolVal(val)
	case []byte:
		return feastsdk.BytesVal(val)
	default:
		return feastsdk.StrVal(fmt.Sprintf("%v", val))
	}
}

// decodeValue 把 protobuf Value 解回 Go 标量。
// 列表类型和空值返回 nil，调用方按缺失处理。
func decodeValue(v *feasttypes.Value) interface{} {
	if v == nil {
		return nil
	}
	switch x := v.GetVal().(type) {
	case *feasttypes.Value_DoubleVal:
		return x.DoubleVal
	case *feasttypes.Value_FloatVal:
		return float64(x.FloatVal)
	case *feasttypes.Value_Int64Val:
		return x.Int64Val
	case *feasttypes.Value_Int32Val:
		return int64(x.Int32Val)
	case *feasttypes.Value_BoolVal:
		return x.BoolVal
	case *feasttypes.Value_StringVal:
		return x.StringVal
	case *feasttypes.Value_BytesVal:
		return string(x.BytesVal)
	default:
		return nil
	}
}

// 确保 GrpcClient 实现了 Client 接口
var _ Client = (*GrpcClient)(nil)
