package feast

import (
	"strconv"
	"strings"

	"github.com/rushteam/recblocks/core"
)

// NewClient 解析端点并创建 gRPC 客户端。
//
// 端点形如 "localhost:6565" 或 "grpc://localhost:6565"，
// 不带端口时用默认端口。
func NewClient(endpoint, project string, opts ...ClientOption) (Client, error) {
	host, port := parseEndpoint(endpoint)
	if host == "" {
		return nil, core.DomainErrorf(core.ModuleFeast, core.ErrorCodeInvalidInput, "feast: endpoint is required")
	}
	return NewGrpcClient(host, port, project, opts...)
}

// parseEndpoint 解析端点地址，返回 host 和 port，
// 没有端口时 port 为 0。
func parseEndpoint(endpoint string) (string, int) {
	endpoint = strings.TrimPrefix(endpoint, "grpc://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	parts := strings.Split(endpoint, ":")
	if len(parts) == 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			return parts[0], port
		}
	}
	return endpoint, 0
}
