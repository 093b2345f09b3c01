package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"gpt-relay/internal/catalog"
	"gpt-relay/internal/config"
	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
	"gpt-relay/internal/provider/mock"
	"gpt-relay/internal/provider/openai"
	"gpt-relay/internal/translator"
)

func newTestRouter(t *testing.T, p provider.Provider) *Router {
	t.Helper()
	cfg := config.Default()
	cat, err := catalog.New(cfg.Models)
	if err != nil {
		t.Fatalf("catalog.New() error: %v", err)
	}
	rt, err := New(p, cat, Options{
		Timeout:           5 * time.Second,
		ImageModel:        cfg.Models.ImageDefault,
		SearchContextSize: cfg.Models.SearchContextSize,
		FallbackLocation:  cfg.Models.FallbackLocation,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return rt
}

func newMockProvider(t *testing.T) (*gomock.Controller, *mock.MockProvider) {
	ctrl := gomock.NewController(t)
	p := mock.NewMockProvider(ctrl)
	p.EXPECT().Name().Return("openai").AnyTimes()
	return ctrl, p
}

func TestChat_Scenario(t *testing.T) {
	_, p := newMockProvider(t)
	rt := newTestRouter(t, p)

	p.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req models.UpstreamRequest) (*models.Completion, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("Expected upstream call to carry a deadline")
			}
			if req.Mode != models.ModeChat || req.Model != "gpt-4-1106-preview" || req.Search != nil {
				t.Errorf("unexpected upstream request %+v", req)
			}
			if req.Temperature == nil || *req.Temperature != 0.7 || req.MaxTokens != 1000 {
				t.Errorf("generation parameters not forwarded: %+v", req)
			}
			return &models.Completion{
				Content: "hi there",
				Usage:   models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
			}, nil
		})

	got := rt.Chat(context.Background(), models.GenerationRequest{
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hello"}},
		Temperature: 0.7,
		MaxTokens:   1000,
	})

	want := &models.ChatResponse{
		Response: "hi there",
		Model:    "gpt-4-1106-preview",
		Usage:    models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Chat() = %+v, want %+v", got, want)
	}

	body, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	wantJSON := `{"response":"hi there","model":"gpt-4-1106-preview","usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
	if string(body) != wantJSON {
		t.Fatalf("wire form\n got: %s\nwant: %s", body, wantJSON)
	}
}

func TestChat_WebSearchModelResolution(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		wantModel string
	}{
		{name: "unsupported model is substituted", model: "gpt-4", wantModel: "gpt-4.1"},
		{name: "unsupported alias is substituted", model: "gpt-4-turbo", wantModel: "gpt-4.1"},
		{name: "capable model is kept", model: "gpt-4.1", wantModel: "gpt-4.1"},
		{name: "unknown model passes through", model: "gpt-5-mini", wantModel: "gpt-5-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p := newMockProvider(t)
			rt := newTestRouter(t, p)

			p.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req models.UpstreamRequest) (*models.Completion, error) {
					if req.Mode != models.ModeSearch {
						t.Errorf("Expected search mode, got %s", req.Mode)
					}
					if req.Model != tt.wantModel {
						t.Errorf("Expected upstream model %q, got %q", tt.wantModel, req.Model)
					}
					if req.Search == nil || req.Search.Location.City != "Seoul" || req.Search.ContextSize != "medium" {
						t.Errorf("unexpected search settings %+v", req.Search)
					}
					return &models.Completion{Content: "ok"}, nil
				})

			got := rt.Chat(context.Background(), models.GenerationRequest{
				Messages:        []models.Message{{Role: models.RoleUser, Content: "news?"}},
				Model:           tt.model,
				EnableWebSearch: true,
			})
			if got.Model != tt.wantModel {
				t.Fatalf("Expected response model %q, got %q", tt.wantModel, got.Model)
			}
		})
	}
}

func TestChat_SearchQueryReplacesLastMessage(t *testing.T) {
	_, p := newMockProvider(t)
	rt := newTestRouter(t, p)

	p.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req models.UpstreamRequest) (*models.Completion, error) {
			payload, err := openai.Build(req)
			if err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			if len(payload.Input) != 2 {
				t.Fatalf("Expected history to be kept, got %d entries", len(payload.Input))
			}
			if last := payload.Input[len(payload.Input)-1]; last.Text != "go 1.25 release date" {
				t.Fatalf("Expected final entry to equal the search query, got %q", last.Text)
			}
			return &models.Completion{Content: "August 2025"}, nil
		})

	got := rt.Chat(context.Background(), models.GenerationRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "answer briefly"},
			{Role: models.RoleUser, Content: "when did the latest go come out, and what changed?"},
		},
		Model:           "gpt-4.1",
		EnableWebSearch: true,
		SearchQuery:     "go 1.25 release date",
	})
	if got.Err != nil {
		t.Fatalf("unexpected error: %v", got.Err)
	}
}

func TestChat_UpstreamFailureDegrades(t *testing.T) {
	_, p := newMockProvider(t)
	rt := newTestRouter(t, p)

	cause := errors.New("503 Service Unavailable")
	p.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, cause)

	got := rt.Chat(context.Background(), models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
		Model:    "gpt-4",
	})

	if got.Response != "Error generating response: 503 Service Unavailable" {
		t.Fatalf("unexpected response %q", got.Response)
	}
	if got.Usage != (models.Usage{Error: "503 Service Unavailable"}) {
		t.Fatalf("unexpected usage %+v", got.Usage)
	}
	if got.Model != "gpt-4" || !errors.Is(got.Err, cause) {
		t.Fatalf("unexpected degraded response %+v", got)
	}
}

func TestImage_UsesImageModel(t *testing.T) {
	_, p := newMockProvider(t)
	rt := newTestRouter(t, p)

	history := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	p.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req models.UpstreamRequest) (*models.Completion, error) {
			want := models.UpstreamRequest{
				Mode:      models.ModeImage,
				Model:     "gpt-4.1",
				Messages:  history,
				Image:     &models.Image{URL: "https://example.com/cat.png", Prompt: "what is this?", Detail: "low"},
				MaxTokens: 300,
			}
			if !reflect.DeepEqual(req, want) {
				t.Errorf("upstream request = %+v, want %+v", req, want)
			}
			return &models.Completion{Content: "a cat"}, nil
		})

	got := rt.Image(context.Background(), models.ImageRequest{
		ImageURL:  "https://example.com/cat.png",
		Prompt:    "what is this?",
		Detail:    "low",
		MaxTokens: 300,
		History:   history,
	})
	if got.Response != "a cat" || got.Model != "gpt-4.1" {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestSearch_LocationAndContextSize(t *testing.T) {
	tests := []struct {
		name         string
		req          models.SearchRequest
		wantLocation models.Location
		wantSize     string
	}{
		{
			name:         "fallback",
			req:          models.SearchRequest{Query: "weather"},
			wantLocation: models.Location{Country: "KR", City: "Seoul", Region: "Seoul", Timezone: "Asia/Seoul"},
			wantSize:     "medium",
		},
		{
			name: "explicit",
			req: models.SearchRequest{
				Query:       "weather",
				ContextSize: "high",
				Location:    &models.Location{Country: "US", City: "Boston"},
			},
			wantLocation: models.Location{Country: "US", City: "Boston"},
			wantSize:     "high",
		},
		{
			name:         "empty location falls back",
			req:          models.SearchRequest{Query: "weather", Location: &models.Location{}},
			wantLocation: models.Location{Country: "KR", City: "Seoul", Region: "Seoul", Timezone: "Asia/Seoul"},
			wantSize:     "medium",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p := newMockProvider(t)
			rt := newTestRouter(t, p)

			p.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req models.UpstreamRequest) (*models.Completion, error) {
					if req.Mode != models.ModeSearch || req.Search == nil {
						t.Fatalf("Expected search request, got %+v", req)
					}
					if req.Search.Location != tt.wantLocation || req.Search.ContextSize != tt.wantSize {
						t.Errorf("unexpected search settings %+v", req.Search)
					}
					if len(req.Messages) != 1 || req.Messages[0].Content != "weather" {
						t.Errorf("unexpected messages %+v", req.Messages)
					}
					return &models.Completion{Content: "sunny"}, nil
				})

			got := rt.Search(context.Background(), tt.req)
			if got.Model != "gpt-4.1" {
				t.Fatalf("Expected the default to be substituted by the search model, got %q", got.Model)
			}
		})
	}
}

func TestChatStream_ClosesAndCancels(t *testing.T) {
	ctrl, p := newMockProvider(t)
	rt := newTestRouter(t, p)

	events := mock.NewMockEventStream(ctrl)
	var upstreamCtx context.Context
	p.EXPECT().Stream(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req models.UpstreamRequest) (provider.EventStream, error) {
			upstreamCtx = ctx
			if !req.Stream {
				t.Error("Expected stream flag on upstream request")
			}
			return events, nil
		})

	gomock.InOrder(
		events.EXPECT().Next().Return(true),
		events.EXPECT().Current().Return(provider.Event{Type: provider.EventTextDelta, Delta: "hi"}),
		events.EXPECT().Next().Return(true),
		events.EXPECT().Current().Return(provider.Event{Type: provider.EventCompleted}),
		events.EXPECT().Close().Return(nil),
	)

	s := rt.ChatStream(context.Background(), models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
		Model:    "gpt-4.1",
		Stream:   true,
	})

	var got []translator.FrameKind
	for f := range s.All() {
		got = append(got, f.Kind)
		if f.Kind != translator.FrameDone && f.Model != "gpt-4.1" {
			t.Fatalf("unexpected frame model %q", f.Model)
		}
	}
	want := []translator.FrameKind{translator.FrameDelta, translator.FrameCompletion, translator.FrameDone}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("frame kinds = %v, want %v", got, want)
	}
	if upstreamCtx.Err() == nil {
		t.Fatal("Expected upstream context to be cancelled once the stream closed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestChatStream_OpenFailure(t *testing.T) {
	_, p := newMockProvider(t)
	rt := newTestRouter(t, p)

	p.EXPECT().Stream(gomock.Any(), gomock.Any()).Return(nil, errors.New("401 Unauthorized"))

	s := rt.ChatStream(context.Background(), models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
		Model:    "gpt-4",
		Stream:   true,
	})

	var frames []translator.Frame
	for f := range s.All() {
		frames = append(frames, f)
	}
	if len(frames) != 2 || frames[0].Kind != translator.FrameError || frames[1].Kind != translator.FrameDone {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if frames[0].Error != "401 Unauthorized" || frames[0].Model != "gpt-4" {
		t.Fatalf("unexpected error frame %+v", frames[0])
	}
}

func TestNew_Validation(t *testing.T) {
	cat, err := catalog.New(config.Default().Models)
	if err != nil {
		t.Fatalf("catalog.New() error: %v", err)
	}
	if _, err := New(nil, cat, Options{}); err == nil {
		t.Fatal("Expected error for nil provider")
	}
	_, p := newMockProvider(t)
	if _, err := New(p, nil, Options{}); err == nil {
		t.Fatal("Expected error for nil catalog")
	}
}
