package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gpt-relay/internal/imageref"
	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
)

const (
	partInputText  = "input_text"
	partInputImage = "input_image"

	toolWebSearch        = "web_search_preview"
	locationApproximate  = "approximate"
	defaultImageDetail   = "auto"
	defaultSearchContext = "medium"
)

// Payload is the body of a POST /responses call.
type Payload struct {
	Model           string      `json:"model"`
	Input           []InputItem `json:"input"`
	Temperature     *float64    `json:"temperature,omitempty"`
	MaxOutputTokens *int        `json:"max_output_tokens,omitempty"`
	Stream          bool        `json:"stream,omitempty"`
	Tools           []Tool      `json:"tools,omitempty"`
	ToolChoice      *ToolChoice `json:"tool_choice,omitempty"`
}

// InputItem is one input message. It serializes Text as plain string
// content unless Parts is set.
type InputItem struct {
	Role  string
	Text  string
	Parts []InputPart
}

// MarshalJSON implements json.Marshaler.
func (i InputItem) MarshalJSON() ([]byte, error) {
	if i.Parts != nil {
		return json.Marshal(struct {
			Role    string      `json:"role"`
			Content []InputPart `json:"content"`
		}{Role: i.Role, Content: i.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: i.Role, Content: i.Text})
}

// InputPart is a typed content part of a multimodal message.
type InputPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Tool describes a hosted tool attached to the call.
type Tool struct {
	Type              string        `json:"type"`
	SearchContextSize string        `json:"search_context_size,omitempty"`
	UserLocation      *UserLocation `json:"user_location,omitempty"`
}

// UserLocation is the approximate location hint of the web search tool.
type UserLocation struct {
	Type     string `json:"type"`
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// ToolChoice forces the model to use the named hosted tool.
type ToolChoice struct {
	Type string `json:"type"`
}

// Build turns a provider-neutral request into the upstream payload for its mode.
// It never performs I/O; every failure wraps provider.ErrInvalidRequest.
func Build(req models.UpstreamRequest) (Payload, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Payload{}, invalid(errors.New("model must be provided"))
	}

	payload := Payload{
		Model:       req.Model,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if req.MaxTokens > 0 {
		v := req.MaxTokens
		payload.MaxOutputTokens = &v
	}

	var err error
	switch req.Mode {
	case models.ModeChat:
		payload.Input, err = chatInput(req.Messages, "")
	case models.ModeImage:
		payload.Input, err = imageInput(req.Messages, req.Image)
	case models.ModeSearch:
		if req.Search == nil {
			return Payload{}, invalid(errors.New("search mode requires search settings"))
		}
		payload.Input, err = chatInput(req.Messages, req.Search.Query)
		payload.Tools = []Tool{webSearchTool(*req.Search)}
		payload.ToolChoice = &ToolChoice{Type: toolWebSearch}
	default:
		return Payload{}, invalid(fmt.Errorf("unsupported request mode %q", req.Mode))
	}
	if err != nil {
		return Payload{}, invalid(err)
	}
	return payload, nil
}

// chatInput mirrors messages one to one. A non-empty query replaces the
// content of the last message; earlier turns are kept.
func chatInput(messages []models.Message, query string) ([]InputItem, error) {
	if len(messages) == 0 {
		if query == "" {
			return nil, errors.New("at least one message is required")
		}
		return []InputItem{{Role: models.RoleUser, Text: query}}, nil
	}

	items := make([]InputItem, 0, len(messages))
	for _, msg := range messages {
		items = append(items, InputItem{Role: msg.Role, Text: msg.Content})
	}
	if query != "" {
		items[len(items)-1].Text = query
	}

	for i, item := range items {
		if err := validateRole(item.Role); err != nil {
			return nil, fmt.Errorf("message[%d]: %w", i, err)
		}
		if strings.TrimSpace(item.Text) == "" {
			return nil, fmt.Errorf("message[%d]: content must not be empty", i)
		}
	}
	return items, nil
}

func imageInput(history []models.Message, img *models.Image) ([]InputItem, error) {
	if img == nil {
		return nil, errors.New("image mode requires an image")
	}
	if strings.TrimSpace(img.Prompt) == "" {
		return nil, errors.New("image prompt must not be empty")
	}
	if err := imageref.Validate(img.URL); err != nil {
		return nil, fmt.Errorf("image_url: %w", err)
	}

	items := make([]InputItem, 0, len(history)+1)
	for i, msg := range history {
		if err := validateRole(msg.Role); err != nil {
			return nil, fmt.Errorf("conversation_history[%d]: %w", i, err)
		}
		items = append(items, InputItem{Role: msg.Role, Text: msg.Content})
	}

	detail := img.Detail
	if detail == "" {
		detail = defaultImageDetail
	}
	items = append(items, InputItem{
		Role: models.RoleUser,
		Parts: []InputPart{
			{Type: partInputText, Text: img.Prompt},
			{Type: partInputImage, ImageURL: img.URL, Detail: detail},
		},
	})
	return items, nil
}

func webSearchTool(search models.WebSearch) Tool {
	size := search.ContextSize
	if size == "" {
		size = defaultSearchContext
	}
	tool := Tool{Type: toolWebSearch, SearchContextSize: size}
	if !search.Location.IsZero() {
		tool.UserLocation = &UserLocation{
			Type:     locationApproximate,
			Country:  search.Location.Country,
			City:     search.Location.City,
			Region:   search.Location.Region,
			Timezone: search.Location.Timezone,
		}
	}
	return tool
}

func validateRole(role string) error {
	switch role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		return nil
	default:
		return fmt.Errorf("invalid role %q", role)
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", provider.ErrInvalidRequest, err)
}
