package openai

import (
	"encoding/json"
	"sync"

	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/tidwall/gjson"

	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
)

// eventStream adapts the SDK's SSE stream to provider.EventStream. Events
// are kept raw and probed field by field so that schema additions upstream
// never break decoding.
type eventStream struct {
	stream    *ssestream.Stream[json.RawMessage]
	closeOnce sync.Once
	closeErr  error
}

func (s *eventStream) Next() bool {
	return s.stream.Next()
}

func (s *eventStream) Current() provider.Event {
	return decodeEvent(s.stream.Current())
}

func (s *eventStream) Err() error {
	return s.stream.Err()
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

func decodeEvent(raw []byte) provider.Event {
	parsed := gjson.ParseBytes(raw)
	ev := provider.Event{Type: parsed.Get("type").String()}

	switch ev.Type {
	case provider.EventTextDelta:
		ev.Delta = parsed.Get("delta").String()
	case provider.EventAnnotation:
		if c, ok := citationFromJSON(parsed.Get("annotation")); ok {
			ev.Citations = append(ev.Citations, c)
		}
		parsed.Get("annotations").ForEach(func(_, value gjson.Result) bool {
			if c, ok := citationFromJSON(value); ok {
				ev.Citations = append(ev.Citations, c)
			}
			return true
		})
	case provider.EventFailed:
		ev.Message = firstString(parsed, "response.error.message", "response.incomplete_details.reason")
		if ev.Message == "" {
			ev.Message = "upstream response failed"
		}
	case provider.EventError:
		ev.Message = firstString(parsed, "message", "error.message", "code")
		if ev.Message == "" {
			ev.Message = "upstream stream error"
		}
	}
	return ev
}

func citationFromJSON(v gjson.Result) (models.Citation, bool) {
	if !v.IsObject() || v.Get("type").String() != annotationCitation {
		return models.Citation{}, false
	}
	src := v
	if !v.Get("url").Exists() && v.Get("url_citation").IsObject() {
		src = v.Get("url_citation")
	}
	return models.Citation{
		URL:        src.Get("url").String(),
		Title:      src.Get("title").String(),
		StartIndex: int(src.Get("start_index").Int()),
		EndIndex:   int(src.Get("end_index").Int()),
	}, true
}

func firstString(v gjson.Result, paths ...string) string {
	for _, path := range paths {
		if s := v.Get(path).String(); s != "" {
			return s
		}
	}
	return ""
}
