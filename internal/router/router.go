package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gpt-relay/internal/catalog"
	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
	"gpt-relay/internal/translator"
)

const generateErrorPrefix = "Error generating response: "

// Options tunes how the router shapes upstream calls.
type Options struct {
	// Timeout bounds each upstream call, including the whole stream. Zero
	// disables the deadline.
	Timeout           time.Duration
	ImageModel        string
	SearchContextSize string
	FallbackLocation  models.Location
	Logger            *slog.Logger
}

// Router resolves models, shapes upstream calls and dispatches them in plain
// or streaming mode.
type Router struct {
	provider provider.Provider
	catalog  *catalog.Catalog
	opts     Options
	logger   *slog.Logger
}

// New constructs a router backed by the provided upstream and catalog.
func New(p provider.Provider, cat *catalog.Catalog, opts Options) (*Router, error) {
	if p == nil {
		return nil, errors.New("provider must not be nil")
	}
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}
	if opts.ImageModel == "" {
		opts.ImageModel = cat.DefaultModel()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		provider: p,
		catalog:  cat,
		opts:     opts,
		logger:   logger.With("provider", p.Name()),
	}, nil
}

// Models returns the models offered to clients.
func (r *Router) Models() []models.Model {
	return r.catalog.Models()
}

// Chat answers a chat request in a single upstream call. Failures are folded
// into the returned response; the cause is kept on ChatResponse.Err.
func (r *Router) Chat(ctx context.Context, req models.GenerationRequest) *models.ChatResponse {
	resolved := r.resolve(req.Model, r.catalog.DefaultModel(), req.EnableWebSearch)
	return r.complete(ctx, resolved, r.chatRequest(req, resolved))
}

// ChatStream opens a streaming chat call.
func (r *Router) ChatStream(ctx context.Context, req models.GenerationRequest) *translator.Stream {
	resolved := r.resolve(req.Model, r.catalog.DefaultModel(), req.EnableWebSearch)
	return r.stream(ctx, resolved, r.chatRequest(req, resolved))
}

// Image answers a question about one image.
func (r *Router) Image(ctx context.Context, req models.ImageRequest) *models.ChatResponse {
	resolved := r.resolve(req.Model, r.opts.ImageModel, false)
	return r.complete(ctx, resolved, r.imageRequest(req, resolved))
}

func (r *Router) ImageStream(ctx context.Context, req models.ImageRequest) *translator.Stream {
	resolved := r.resolve(req.Model, r.opts.ImageModel, false)
	return r.stream(ctx, resolved, r.imageRequest(req, resolved))
}

// Search answers a single question with the web search tool forced on.
func (r *Router) Search(ctx context.Context, req models.SearchRequest) *models.ChatResponse {
	resolved := r.resolve(req.Model, r.catalog.DefaultModel(), true)
	return r.complete(ctx, resolved, r.searchRequest(req, resolved))
}

func (r *Router) SearchStream(ctx context.Context, req models.SearchRequest) *translator.Stream {
	resolved := r.resolve(req.Model, r.catalog.DefaultModel(), true)
	return r.stream(ctx, resolved, r.searchRequest(req, resolved))
}

func (r *Router) resolve(requested, defaultModel string, wantWebSearch bool) models.ResolvedModel {
	resolved := r.catalog.Resolve(requested, defaultModel, wantWebSearch)
	if resolved.Substituted {
		r.logger.Info("model substituted for web search",
			"requested", resolved.Original,
			"effective", resolved.Effective,
		)
	}
	return resolved
}

func (r *Router) chatRequest(req models.GenerationRequest, resolved models.ResolvedModel) models.UpstreamRequest {
	temperature := req.Temperature
	up := models.UpstreamRequest{
		Mode:        models.ModeChat,
		Model:       resolved.Effective,
		Messages:    req.Messages,
		Temperature: &temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	if req.EnableWebSearch {
		up.Mode = models.ModeSearch
		up.Search = &models.WebSearch{
			ContextSize: r.opts.SearchContextSize,
			Location:    r.opts.FallbackLocation,
			Query:       req.SearchQuery,
		}
	}
	return up
}

func (r *Router) imageRequest(req models.ImageRequest, resolved models.ResolvedModel) models.UpstreamRequest {
	return models.UpstreamRequest{
		Mode:     models.ModeImage,
		Model:    resolved.Effective,
		Messages: req.History,
		Image: &models.Image{
			URL:    req.ImageURL,
			Prompt: req.Prompt,
			Detail: req.Detail,
		},
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
}

func (r *Router) searchRequest(req models.SearchRequest, resolved models.ResolvedModel) models.UpstreamRequest {
	contextSize := req.ContextSize
	if contextSize == "" {
		contextSize = r.opts.SearchContextSize
	}
	location := r.opts.FallbackLocation
	if req.Location != nil && !req.Location.IsZero() {
		location = *req.Location
	}
	temperature := req.Temperature

	return models.UpstreamRequest{
		Mode:        models.ModeSearch,
		Model:       resolved.Effective,
		Messages:    []models.Message{{Role: models.RoleUser, Content: req.Query}},
		Search:      &models.WebSearch{ContextSize: contextSize, Location: location},
		Temperature: &temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
}

func (r *Router) complete(ctx context.Context, resolved models.ResolvedModel, up models.UpstreamRequest) *models.ChatResponse {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	completion, err := r.provider.Create(ctx, up)
	if err != nil {
		r.logger.Warn("upstream request failed",
			"mode", up.Mode.String(),
			"model", resolved.Effective,
			"err", err,
		)
		return &models.ChatResponse{
			Response: generateErrorPrefix + err.Error(),
			Model:    resolved.Requested,
			Usage:    models.Usage{Error: err.Error()},
			Err:      err,
		}
	}

	return &models.ChatResponse{
		Response:  completion.Content,
		Model:     resolved.Requested,
		Usage:     completion.Usage,
		Citations: completion.Citations,
	}
}

func (r *Router) stream(ctx context.Context, resolved models.ResolvedModel, up models.UpstreamRequest) *translator.Stream {
	ctx, cancel := r.withTimeout(ctx)

	events, err := r.provider.Stream(ctx, up)
	if err != nil {
		cancel()
		r.logger.Warn("upstream stream failed to open",
			"mode", up.Mode.String(),
			"model", resolved.Effective,
			"err", err,
		)
		return translator.NewStream(resolved.Requested, nil, err)
	}
	return translator.NewStream(resolved.Requested, withCancel(events, cancel), nil)
}

func (r *Router) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.Timeout)
}

// cancelOnClose releases the call context once the stream is closed.
type cancelOnClose struct {
	provider.EventStream
	cancel context.CancelFunc
}

func withCancel(events provider.EventStream, cancel context.CancelFunc) provider.EventStream {
	return &cancelOnClose{EventStream: events, cancel: cancel}
}

func (c *cancelOnClose) Close() error {
	err := c.EventStream.Close()
	c.cancel()
	return err
}
