package serving

import (
	"testing"

	"github.com/rushteam/recblocks/core"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ClientConfig
		want ClientType
	}{
		{"torchserve", &ClientConfig{Type: ClientTypeTorchServe, Endpoint: "http://localhost:8080", ModelName: "m"}, ClientTypeTorchServe},
		{"tf serving", &ClientConfig{Type: ClientTypeTFServing, Endpoint: "http://localhost:8501", ModelName: "m", ModelVersion: "2"}, ClientTypeTFServing},
		{"kserve", &ClientConfig{Type: ClientTypeKServe, Endpoint: "http://localhost:8008", ModelName: "m", Timeout: 5}, ClientTypeKServe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if c == nil {
				t.Fatal("NewClient() returned nil client")
			}
			switch tt.want {
			case ClientTypeTorchServe:
				if _, ok := c.(*TorchServeClient); !ok {
					t.Errorf("NewClient() = %T, want *TorchServeClient", c)
				}
			case ClientTypeTFServing:
				if _, ok := c.(*TFServingClient); !ok {
					t.Errorf("NewClient() = %T, want *TFServingClient", c)
				}
			case ClientTypeKServe:
				if _, ok := c.(*KServeClient); !ok {
					t.Errorf("NewClient() = %T, want *KServeClient", c)
				}
			}
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil); !core.IsInvalidInput(err) {
		t.Fatalf("NewClient(nil) error = %v, want INVALID_INPUT", err)
	}
	if _, err := NewClient(&ClientConfig{Type: ClientTypeKServe, ModelName: "m"}); !core.IsInvalidInput(err) {
		t.Fatalf("NewClient() missing endpoint error = %v, want INVALID_INPUT", err)
	}
	if _, err := NewClient(&ClientConfig{Type: ClientTypeKServe, Endpoint: "http://localhost"}); !core.IsInvalidInput(err) {
		t.Fatalf("NewClient() missing model error = %v, want INVALID_INPUT", err)
	}
}

func TestNewClientUnsupportedType(t *testing.T) {
	_, err := NewClient(&ClientConfig{Type: "triton_grpc", Endpoint: "http://localhost", ModelName: "m"})
	if !core.IsNotSupported(err) {
		t.Fatalf("NewClient() error = %v, want NOT_SUPPORTED", err)
	}
}
