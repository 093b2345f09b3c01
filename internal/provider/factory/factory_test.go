package factory

import (
	"net/http"
	"testing"
	"time"

	"gpt-relay/internal/config"
)

func TestNewProvider(t *testing.T) {
	cfg := config.Default().Upstream
	cfg.APIKey = "test-key"

	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider() error: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("Expected provider name openai, got %q", p.Name())
	}
}

func TestNewProvider_MissingKey(t *testing.T) {
	if _, err := NewProvider(config.Default().Upstream); err == nil {
		t.Fatal("Expected error without api key")
	}
}

func TestNewHTTPClient(t *testing.T) {
	client := newHTTPClient(15 * time.Second)
	if client.Timeout != 0 {
		t.Fatalf("Expected no overall client timeout, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 15*time.Second {
		t.Fatalf("Expected header timeout 15s, got %s", transport.ResponseHeaderTimeout)
	}
}
