package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"gpt-relay/internal/config"
	"gpt-relay/internal/provider"
	openaiProvider "gpt-relay/internal/provider/openai"
)

const (
	providerName           = "openai"
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewProvider constructs the upstream provider from configuration.
func NewProvider(cfg config.UpstreamConfig) (provider.Provider, error) {
	p, err := openaiProvider.New(providerName, cfg, newHTTPClient(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("initialise %s provider: %w", providerName, err)
	}
	return p, nil
}

// newHTTPClient returns a client with no overall timeout. Calls are bounded by
// their context; headerTimeout caps the wait for response headers.
func newHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{
		Transport: transport,
	}
}
