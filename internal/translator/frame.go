package translator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gpt-relay/internal/models"
)

// FrameKind tags the variant carried by a Frame.
type FrameKind int

const (
	FrameDelta FrameKind = iota + 1
	FrameCitations
	FrameCompletion
	FrameError
	FrameDone
)

func (k FrameKind) String() string {
	switch k {
	case FrameDelta:
		return "delta"
	case FrameCitations:
		return "citations"
	case FrameCompletion:
		return "completion"
	case FrameError:
		return "error"
	case FrameDone:
		return "done"
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind ends the frame sequence before the sentinel.
func (k FrameKind) Terminal() bool {
	return k == FrameCompletion || k == FrameError
}

// Frame is one client-bound stream frame.
type Frame struct {
	Kind      FrameKind
	Model     string
	Content   string
	Citations []models.Citation
	// CompletionTokens is only meaningful on completion frames.
	CompletionTokens int
	Error            string
}

var doneLine = []byte("data: [DONE]\n\n")

type deltaWire struct {
	Content     string `json:"content"`
	IsStreaming bool   `json:"is_streaming"`
	Model       string `json:"model"`
}

type citationsWire struct {
	Citations   []models.Citation `json:"citations"`
	IsStreaming bool              `json:"is_streaming"`
	Model       string            `json:"model"`
}

type completionUsage struct {
	CompletionTokens int `json:"completion_tokens"`
}

type completionWire struct {
	Content     string            `json:"content"`
	IsStreaming bool              `json:"is_streaming"`
	Model       string            `json:"model"`
	Usage       completionUsage   `json:"usage"`
	Citations   []models.Citation `json:"citations,omitempty"`
}

type errorWire struct {
	Content     string `json:"content"`
	IsStreaming bool   `json:"is_streaming"`
	Error       string `json:"error"`
	Model       string `json:"model"`
}

func (f Frame) wire() (any, error) {
	switch f.Kind {
	case FrameDelta:
		return deltaWire{Content: f.Content, IsStreaming: true, Model: f.Model}, nil
	case FrameCitations:
		return citationsWire{Citations: f.Citations, IsStreaming: true, Model: f.Model}, nil
	case FrameCompletion:
		return completionWire{
			Model:     f.Model,
			Usage:     completionUsage{CompletionTokens: f.CompletionTokens},
			Citations: f.Citations,
		}, nil
	case FrameError:
		return errorWire{Content: f.Content, Error: f.Error, Model: f.Model}, nil
	default:
		return nil, fmt.Errorf("frame kind %s has no JSON form", f.Kind)
	}
}

// MarshalJSON renders the frame in its client wire shape.
func (f Frame) MarshalJSON() ([]byte, error) {
	v, err := f.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Encode returns the frame as a complete SSE record. URLs in citations are
// written without HTML escaping.
func (f Frame) Encode() ([]byte, error) {
	if f.Kind == FrameDone {
		return append([]byte(nil), doneLine...), nil
	}
	v, err := f.wire()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Kind, err)
	}
	// Encode already terminated the record with one newline.
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
