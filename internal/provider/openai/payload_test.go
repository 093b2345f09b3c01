package openai

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
)

func toMap(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func float(v float64) *float64 { return &v }

func TestBuild_Chat(t *testing.T) {
	payload, err := Build(models.UpstreamRequest{
		Mode:  models.ModeChat,
		Model: "gpt-4.1",
		Messages: []models.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "how are you?"},
		},
		Temperature: float(0.7),
		MaxTokens:   1000,
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	got := toMap(t, payload)
	want := map[string]any{
		"model": "gpt-4.1",
		"input": []any{
			map[string]any{"role": "system", "content": "be brief"},
			map[string]any{"role": "user", "content": "hello"},
			map[string]any{"role": "assistant", "content": "hi"},
			map[string]any{"role": "user", "content": "how are you?"},
		},
		"temperature":       0.7,
		"max_output_tokens": float64(1000),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Build() payload mismatch\n got: %#v\nwant: %#v", got, want)
	}
}

func TestBuild_ChatStreamFlag(t *testing.T) {
	payload, err := Build(models.UpstreamRequest{
		Mode:     models.ModeChat,
		Model:    "gpt-4.1",
		Messages: []models.Message{{Role: "user", Content: "hello"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	got := toMap(t, payload)
	if got["stream"] != true {
		t.Fatalf("Expected stream=true, got %v", got["stream"])
	}
	if _, ok := got["max_output_tokens"]; ok {
		t.Fatalf("Expected max_output_tokens to be omitted, got %v", got["max_output_tokens"])
	}
}

func TestBuild_Image(t *testing.T) {
	const dataURI = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///ywAAAAAAQABAAACAUwAOw=="

	payload, err := Build(models.UpstreamRequest{
		Mode:  models.ModeImage,
		Model: "gpt-4o",
		Messages: []models.Message{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		},
		Image:     &models.Image{URL: dataURI, Prompt: "describe this", Detail: "high"},
		MaxTokens: 300,
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	got := toMap(t, payload)
	want := []any{
		map[string]any{"role": "user", "content": "earlier question"},
		map[string]any{"role": "assistant", "content": "earlier answer"},
		map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": "describe this"},
				map[string]any{"type": "input_image", "image_url": dataURI, "detail": "high"},
			},
		},
	}
	if !reflect.DeepEqual(got["input"], want) {
		t.Fatalf("image input mismatch\n got: %#v\nwant: %#v", got["input"], want)
	}
	if _, ok := got["temperature"]; ok {
		t.Fatalf("Expected temperature to be omitted for image requests")
	}
}

func TestBuild_ImageDefaultsDetailAndForwardsURL(t *testing.T) {
	payload, err := Build(models.UpstreamRequest{
		Mode:  models.ModeImage,
		Model: "gpt-4o",
		Image: &models.Image{URL: "https://example.com/cat.png", Prompt: "what is it?"},
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(payload.Input) != 1 {
		t.Fatalf("Expected a single input entry, got %d", len(payload.Input))
	}
	parts := payload.Input[0].Parts
	if len(parts) != 2 || parts[1].ImageURL != "https://example.com/cat.png" || parts[1].Detail != "auto" {
		t.Fatalf("unexpected image parts: %+v", parts)
	}
}

func TestBuild_SearchReplacesLastMessage(t *testing.T) {
	messages := []models.Message{
		{Role: "user", Content: "tell me about seoul"},
		{Role: "assistant", Content: "Seoul is the capital of Korea."},
		{Role: "user", Content: "what happened there today?"},
	}

	payload, err := Build(models.UpstreamRequest{
		Mode:     models.ModeSearch,
		Model:    "gpt-4.1",
		Messages: messages,
		Search: &models.WebSearch{
			ContextSize: "high",
			Location:    models.Location{Country: "US", City: "Boston", Region: "MA", Timezone: "America/New_York"},
			Query:       "seoul news today",
		},
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	got := toMap(t, payload)
	input := got["input"].([]any)
	if len(input) != 3 {
		t.Fatalf("Expected history to be kept, got %d entries", len(input))
	}
	last := input[2].(map[string]any)
	if last["content"] != "seoul news today" {
		t.Fatalf("Expected last content to equal the search query, got %v", last["content"])
	}
	if first := input[0].(map[string]any); first["content"] != "tell me about seoul" {
		t.Fatalf("Expected earlier history untouched, got %v", first["content"])
	}
	if messages[2].Content != "what happened there today?" {
		t.Fatalf("Build() must not mutate the caller's messages")
	}

	wantTools := []any{
		map[string]any{
			"type":                "web_search_preview",
			"search_context_size": "high",
			"user_location": map[string]any{
				"type":     "approximate",
				"country":  "US",
				"city":     "Boston",
				"region":   "MA",
				"timezone": "America/New_York",
			},
		},
	}
	if !reflect.DeepEqual(got["tools"], wantTools) {
		t.Fatalf("tools mismatch\n got: %#v\nwant: %#v", got["tools"], wantTools)
	}
	if !reflect.DeepEqual(got["tool_choice"], map[string]any{"type": "web_search_preview"}) {
		t.Fatalf("Expected forced tool choice, got %#v", got["tool_choice"])
	}
}

func TestBuild_SearchWithoutQueryKeepsMessages(t *testing.T) {
	payload, err := Build(models.UpstreamRequest{
		Mode:     models.ModeSearch,
		Model:    "gpt-4.1",
		Messages: []models.Message{{Role: "user", Content: "latest go release"}},
		Search:   &models.WebSearch{},
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if payload.Input[0].Text != "latest go release" {
		t.Fatalf("Expected original content, got %q", payload.Input[0].Text)
	}
	if payload.Tools[0].SearchContextSize != "medium" || payload.Tools[0].UserLocation != nil {
		t.Fatalf("unexpected tool defaults: %+v", payload.Tools[0])
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  models.UpstreamRequest
	}{
		{
			name: "missing model",
			req:  models.UpstreamRequest{Mode: models.ModeChat, Messages: []models.Message{{Role: "user", Content: "x"}}},
		},
		{
			name: "no messages",
			req:  models.UpstreamRequest{Mode: models.ModeChat, Model: "gpt-4.1"},
		},
		{
			name: "invalid role",
			req:  models.UpstreamRequest{Mode: models.ModeChat, Model: "gpt-4.1", Messages: []models.Message{{Role: "tool", Content: "x"}}},
		},
		{
			name: "empty content",
			req:  models.UpstreamRequest{Mode: models.ModeChat, Model: "gpt-4.1", Messages: []models.Message{{Role: "user", Content: " "}}},
		},
		{
			name: "image missing",
			req:  models.UpstreamRequest{Mode: models.ModeImage, Model: "gpt-4o"},
		},
		{
			name: "malformed image reference",
			req: models.UpstreamRequest{
				Mode:  models.ModeImage,
				Model: "gpt-4o",
				Image: &models.Image{URL: "data:image/png;base64,###", Prompt: "what"},
			},
		},
		{
			name: "empty image prompt",
			req: models.UpstreamRequest{
				Mode:  models.ModeImage,
				Model: "gpt-4o",
				Image: &models.Image{URL: "https://example.com/a.png"},
			},
		},
		{
			name: "search without settings",
			req:  models.UpstreamRequest{Mode: models.ModeSearch, Model: "gpt-4.1", Messages: []models.Message{{Role: "user", Content: "x"}}},
		},
		{
			name: "unknown mode",
			req:  models.UpstreamRequest{Mode: models.Mode(42), Model: "gpt-4.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.req)
			if !errors.Is(err, provider.ErrInvalidRequest) {
				t.Fatalf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}
