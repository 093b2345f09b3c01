package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"gpt-relay/internal/config"
	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
)

const (
	responsesPath = "responses"
	userAgent     = "gpt-relay/0.1"
)

// Provider implements provider.Provider against the OpenAI Responses API.
type Provider struct {
	name   string
	client sdk.Client
}

// New creates a new OpenAI provider. The HTTP client carries transport
// settings; retries and authentication are handled by the SDK.
func New(name string, cfg config.UpstreamConfig, httpClient *http.Client) (*Provider, error) {
	if httpClient == nil {
		return nil, errors.New("http client must not be nil")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key must not be empty")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHeader("User-Agent", userAgent),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &Provider{
		name:   name,
		client: sdk.NewClient(opts...),
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Create performs a single blocking call and normalizes the result.
func (p *Provider) Create(ctx context.Context, req models.UpstreamRequest) (*models.Completion, error) {
	req.Stream = false
	body, err := p.encode(req)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := p.client.Post(ctx, responsesPath, body, &resp); err != nil {
		return nil, fmt.Errorf("openai responses request failed: %w", err)
	}
	return Normalize(resp)
}

// Stream opens the upstream event stream. The caller owns the returned
// stream and must close it.
func (p *Provider) Stream(ctx context.Context, req models.UpstreamRequest) (provider.EventStream, error) {
	req.Stream = true
	body, err := p.encode(req)
	if err != nil {
		return nil, err
	}

	var raw *http.Response
	if err := p.client.Post(ctx, responsesPath, body, &raw); err != nil {
		if raw != nil && raw.Body != nil {
			raw.Body.Close()
		}
		return nil, fmt.Errorf("openai responses stream failed: %w", err)
	}

	return &eventStream{
		stream: ssestream.NewStream[json.RawMessage](ssestream.NewDecoder(raw), nil),
	}, nil
}

func (p *Provider) encode(req models.UpstreamRequest) (json.RawMessage, error) {
	payload, err := Build(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return body, nil
}

var _ provider.Provider = (*Provider)(nil)
