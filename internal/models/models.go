package models

// Conversation roles accepted from clients.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single conversational turn.
type Message struct {
	Role    string
	Content string
}

// GenerationRequest is a validated chat request.
type GenerationRequest struct {
	Messages        []Message
	Model           string
	Temperature     float64
	MaxTokens       int
	Stream          bool
	EnableWebSearch bool
	SearchQuery     string
}

// ImageRequest asks for a completion about a single image.
type ImageRequest struct {
	ImageURL  string
	Prompt    string
	Model     string
	MaxTokens int
	Detail    string
	Stream    bool
	History   []Message
}

// Location is an approximate user location hint for web search.
type Location struct {
	Country  string `json:"country,omitempty" yaml:"country"`
	City     string `json:"city,omitempty" yaml:"city"`
	Region   string `json:"region,omitempty" yaml:"region"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`
}

// IsZero reports whether no field of the location is set.
func (l Location) IsZero() bool {
	return l == Location{}
}

// SearchRequest is a single-shot web search question.
type SearchRequest struct {
	Query       string
	Model       string
	Temperature float64
	MaxTokens   int
	ContextSize string
	Location    *Location
	Stream      bool
}

// ResolvedModel is the outcome of model resolution for one request.
type ResolvedModel struct {
	Requested        string
	Effective        string
	WebSearchCapable bool
	// Substituted is set when web search forced a different model; Original
	// then holds the name the client asked for.
	Substituted bool
	Original    string
}

// Mode selects the upstream call shape.
type Mode int

const (
	ModeChat Mode = iota
	ModeImage
	ModeSearch
)

func (m Mode) String() string {
	switch m {
	case ModeChat:
		return "chat"
	case ModeImage:
		return "image"
	case ModeSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Image carries the image part of an image-mode request.
type Image struct {
	URL    string
	Prompt string
	Detail string
}

// WebSearch carries the tool settings of a search-mode request.
type WebSearch struct {
	ContextSize string
	Location    Location
	// Query, when set, replaces the content of the last outgoing message.
	Query string
}

// UpstreamRequest is the provider-neutral description of one upstream call.
// In image mode Messages is the prior conversation history.
type UpstreamRequest struct {
	Mode        Mode
	Model       string
	Messages    []Message
	Image       *Image
	Search      *WebSearch
	Temperature *float64
	MaxTokens   int
	Stream      bool
}

// Citation is a URL reference attached to a span of generated text.
type Citation struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// Usage records token accounting information. Error replaces the counters
// when the call failed.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Completion is a normalized, non-streaming upstream result.
type Completion struct {
	ID        string
	Content   string
	Usage     Usage
	Citations []Citation
}

// ChatResponse is the client-facing non-streaming response.
type ChatResponse struct {
	Response  string     `json:"response"`
	Model     string     `json:"model"`
	Usage     Usage      `json:"usage"`
	Citations []Citation `json:"citations,omitempty"`

	// Err keeps the cause of a degraded response for the transport.
	Err error `json:"-"`
}

// Model identifies a model offered to clients.
type Model struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}
