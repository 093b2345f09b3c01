package translator

import (
	"strings"

	"gpt-relay/internal/models"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultImageTokens = 1000
)

// ChatMessage is a single conversational turn as sent by clients.
type ChatMessage struct {
	Role    string `json:"role" validate:"omitempty,chat_role"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest models the body of POST /api/chat and POST /api/chat/stream.
type ChatRequest struct {
	Messages        []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Model           string        `json:"model,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens       *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Stream          bool          `json:"stream"`
	EnableWebSearch bool          `json:"enable_web_search"`
	SearchQuery     string        `json:"search_query,omitempty"`
}

// ChatQuery carries the query parameters of GET /api/chat/stream.
type ChatQuery struct {
	Message     string  `query:"message" validate:"required"`
	Model       string  `query:"model"`
	Temperature float64 `query:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `query:"max_tokens" validate:"gt=0"`
}

// NewChatQuery returns a query populated with defaults, ready for binding.
func NewChatQuery() ChatQuery {
	return ChatQuery{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
}

// ImageRequest models the body of POST /api/image.
type ImageRequest struct {
	ImageURL            string        `json:"image_url" validate:"required"`
	Prompt              string        `json:"prompt" validate:"required"`
	Model               string        `json:"model,omitempty"`
	MaxTokens           *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Detail              string        `json:"detail,omitempty" validate:"omitempty,oneof=low high auto"`
	Stream              bool          `json:"stream"`
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty" validate:"omitempty,dive"`
}

// UserLocation is the optional approximate location of a search request.
type UserLocation struct {
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// SearchRequest models the body of POST /api/search.
type SearchRequest struct {
	Query             string        `json:"query" validate:"required"`
	Model             string        `json:"model,omitempty"`
	Temperature       *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens         *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	SearchContextSize string        `json:"search_context_size,omitempty" validate:"omitempty,oneof=low medium high"`
	UserLocation      *UserLocation `json:"user_location,omitempty"`
	Stream            bool          `json:"stream"`
}

// ToModel converts the request into the gateway's representation, filling
// defaults for omitted fields.
func (r ChatRequest) ToModel() models.GenerationRequest {
	return models.GenerationRequest{
		Messages:        toMessages(r.Messages),
		Model:           strings.TrimSpace(r.Model),
		Temperature:     valueOr(r.Temperature, DefaultTemperature),
		MaxTokens:       valueOr(r.MaxTokens, DefaultMaxTokens),
		Stream:          r.Stream,
		EnableWebSearch: r.EnableWebSearch,
		SearchQuery:     strings.TrimSpace(r.SearchQuery),
	}
}

func (q ChatQuery) ToModel() models.GenerationRequest {
	return models.GenerationRequest{
		Messages:    []models.Message{{Role: models.RoleUser, Content: q.Message}},
		Model:       strings.TrimSpace(q.Model),
		Temperature: q.Temperature,
		MaxTokens:   q.MaxTokens,
		Stream:      true,
	}
}

func (r ImageRequest) ToModel() models.ImageRequest {
	return models.ImageRequest{
		ImageURL:  strings.TrimSpace(r.ImageURL),
		Prompt:    r.Prompt,
		Model:     strings.TrimSpace(r.Model),
		MaxTokens: valueOr(r.MaxTokens, DefaultImageTokens),
		Detail:    r.Detail,
		Stream:    r.Stream,
		History:   toMessages(r.ConversationHistory),
	}
}

func (r SearchRequest) ToModel() models.SearchRequest {
	out := models.SearchRequest{
		Query:       r.Query,
		Model:       strings.TrimSpace(r.Model),
		Temperature: valueOr(r.Temperature, DefaultTemperature),
		MaxTokens:   valueOr(r.MaxTokens, DefaultMaxTokens),
		ContextSize: r.SearchContextSize,
		Stream:      r.Stream,
	}
	if r.UserLocation != nil {
		out.Location = &models.Location{
			Country:  r.UserLocation.Country,
			City:     r.UserLocation.City,
			Region:   r.UserLocation.Region,
			Timezone: r.UserLocation.Timezone,
		}
	}
	return out
}

// IsChatRole reports whether role names a conversational role, ignoring case
// and surrounding space.
func IsChatRole(role string) bool {
	switch normalizeRole(role) {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		return true
	}
	return false
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func toMessages(in []ChatMessage) []models.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Message, len(in))
	for i, m := range in {
		role := normalizeRole(m.Role)
		if role == "" {
			role = models.RoleUser
		}
		out[i] = models.Message{Role: role, Content: m.Content}
	}
	return out
}

func valueOr[T any](ptr *T, fallback T) T {
	if ptr == nil {
		return fallback
	}
	return *ptr
}
