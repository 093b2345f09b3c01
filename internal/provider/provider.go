package provider

import (
	"context"
	"errors"

	"gpt-relay/internal/models"
)

//go:generate mockgen -destination=mock/provider_mock.go -package=mock gpt-relay/internal/provider Provider,EventStream

// ErrInvalidRequest indicates the request could not be turned into an upstream call.
var ErrInvalidRequest = errors.New("invalid upstream request")

// ErrUpstreamFailed indicates the provider reported a failed response.
var ErrUpstreamFailed = errors.New("upstream response failed")

// Upstream stream event types understood by the gateway. Anything else is ignored.
const (
	EventTextDelta  = "response.output_text.delta"
	EventAnnotation = "response.output_text.annotation.added"
	EventCompleted  = "response.completed"
	EventFailed     = "response.failed"
	EventError      = "error"
)

// Event is a single tolerant-decoded upstream stream event.
type Event struct {
	Type      string
	Delta     string
	Citations []models.Citation
	// Message carries the provider's failure text for failed and error events.
	Message string
}

// EventStream iterates upstream events. Close releases the connection and
// may be called more than once.
type EventStream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

// Provider is the upstream LLM collaborator.
type Provider interface {
	Name() string
	Create(ctx context.Context, req models.UpstreamRequest) (*models.Completion, error)
	Stream(ctx context.Context, req models.UpstreamRequest) (EventStream, error)
}
