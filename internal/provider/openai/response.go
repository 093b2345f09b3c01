package openai

import (
	"errors"
	"fmt"
	"strings"

	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
)

const (
	statusFailed       = "failed"
	annotationCitation = "url_citation"
)

// Response is a tolerant view of a Responses API object. Every field may be
// absent.
type Response struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	OutputText *string         `json:"output_text"`
	Output     []outputItem    `json:"output"`
	Usage      *usageBlock     `json:"usage"`
	Error      *apiErrorObject `json:"error"`
}

type outputItem struct {
	Type    string        `json:"type"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Annotations []annotation `json:"annotations"`
}

type annotation struct {
	Type       string       `json:"type"`
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	StartIndex int          `json:"start_index"`
	EndIndex   int          `json:"end_index"`
	Nested     *urlCitation `json:"url_citation"`
}

// urlCitation is the nested shape used by chat-completions style annotations.
type urlCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Normalize extracts content, usage and citations from a non-streaming
// response. It fails only when the object carries an error or has neither
// output_text nor output.
func Normalize(r Response) (*models.Completion, error) {
	if r.Error != nil && r.Error.Message != "" {
		return nil, fmt.Errorf("%w: openai error (%s): %s", provider.ErrUpstreamFailed, errorKind(r.Error), r.Error.Message)
	}
	if r.Status == statusFailed {
		return nil, fmt.Errorf("%w: response %s has status %q", provider.ErrUpstreamFailed, r.ID, r.Status)
	}
	if r.OutputText == nil && r.Output == nil {
		return nil, errors.New("openai response did not include output")
	}

	var (
		text      strings.Builder
		citations []models.Citation
	)
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				text.WriteString(part.Text)
			}
			for _, ann := range part.Annotations {
				if c, ok := ann.citation(); ok {
					citations = append(citations, c)
				}
			}
		}
	}

	content := text.String()
	if r.OutputText != nil {
		content = *r.OutputText
	}

	return &models.Completion{
		ID:        r.ID,
		Content:   content,
		Citations: citations,
		Usage: models.Usage{
			PromptTokens:     valueOrZero(r.Usage, func(u *usageBlock) int { return u.InputTokens }),
			CompletionTokens: valueOrZero(r.Usage, func(u *usageBlock) int { return u.OutputTokens }),
			TotalTokens:      valueOrZero(r.Usage, func(u *usageBlock) int { return u.TotalTokens }),
		},
	}, nil
}

func (a annotation) citation() (models.Citation, bool) {
	if a.Type != annotationCitation {
		return models.Citation{}, false
	}
	if a.Nested != nil && a.URL == "" {
		return models.Citation{
			URL:        a.Nested.URL,
			Title:      a.Nested.Title,
			StartIndex: a.Nested.StartIndex,
			EndIndex:   a.Nested.EndIndex,
		}, true
	}
	return models.Citation{
		URL:        a.URL,
		Title:      a.Title,
		StartIndex: a.StartIndex,
		EndIndex:   a.EndIndex,
	}, true
}

func errorKind(e *apiErrorObject) string {
	if e.Type != "" {
		return e.Type
	}
	if code, ok := e.Code.(string); ok && code != "" {
		return code
	}
	return "error"
}

func valueOrZero[T any, R any](ptr *T, getter func(*T) R) R {
	var zero R
	if ptr == nil {
		return zero
	}
	return getter(ptr)
}
