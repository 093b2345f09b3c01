package translator

import (
	"errors"
	"iter"
	"slices"
	"sync"

	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
)

const streamErrorPrefix = "Error streaming response: "

var errNoUpstream = errors.New("no upstream stream")

// Outcome summarises a drained or abandoned stream.
type Outcome struct {
	Frames           int
	CompletionTokens int
	Citations        int
	// Terminal is FrameCompletion or FrameError once the stream has ended.
	Terminal FrameKind
	// Err is set when the stream ended with an error frame.
	Err error
	// Aborted is set when Close was called before the sentinel was returned.
	Aborted bool
}

// Stream translates upstream events into client frames. Frames are produced
// lazily: each call to Next pulls at most as many upstream events as needed
// for one frame. A Stream serves exactly one client connection and is not
// safe for concurrent use.
type Stream struct {
	model   string
	events  provider.EventStream
	openErr error

	pending   []Frame
	finished  bool
	citations []models.Citation
	deltas    int
	outcome   Outcome
	doneSent  bool

	releaseOnce sync.Once
	releaseErr  error
}

// NewStream returns a translator for events reported under model. When err
// is non-nil the upstream call never opened and the stream yields a single
// error frame followed by the sentinel.
func NewStream(model string, events provider.EventStream, err error) *Stream {
	if err == nil && events == nil {
		err = errNoUpstream
	}
	return &Stream{
		model:   model,
		events:  events,
		openErr: err,
	}
}

// Model returns the model name stamped on every frame.
func (s *Stream) Model() string {
	return s.model
}

// Next returns the next frame. It returns false once the sentinel has been
// returned or the stream was closed.
func (s *Stream) Next() (Frame, bool) {
	for {
		if len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			s.outcome.Frames++
			if f.Kind == FrameDone {
				s.doneSent = true
			}
			return f, true
		}
		if s.finished {
			return Frame{}, false
		}
		if s.openErr != nil {
			s.fail(s.openErr)
			continue
		}

		if !s.events.Next() {
			if err := s.events.Err(); err != nil {
				s.fail(err)
			} else {
				s.complete()
			}
			continue
		}

		ev := s.events.Current()
		switch ev.Type {
		case provider.EventTextDelta:
			if ev.Delta == "" {
				continue
			}
			s.deltas++
			s.pending = append(s.pending, Frame{Kind: FrameDelta, Model: s.model, Content: ev.Delta})
		case provider.EventAnnotation:
			if len(ev.Citations) == 0 {
				continue
			}
			s.citations = append(s.citations, ev.Citations...)
			s.pending = append(s.pending, Frame{
				Kind:      FrameCitations,
				Model:     s.model,
				Citations: slices.Clone(s.citations),
			})
		case provider.EventCompleted:
			s.complete()
		case provider.EventFailed, provider.EventError:
			s.fail(errors.New(ev.Message))
		}
	}
}

// All returns an iterator over the remaining frames. Stopping the iteration
// early closes the stream.
func (s *Stream) All() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for {
			f, ok := s.Next()
			if !ok {
				return
			}
			if !yield(f) {
				s.Close()
				return
			}
		}
	}
}

// Close stops the stream and releases the upstream connection. Frames not yet
// returned are discarded. Close is safe to call more than once.
func (s *Stream) Close() error {
	if !s.doneSent {
		s.outcome.Aborted = true
	}
	s.finished = true
	s.pending = nil
	return s.release()
}

// Outcome reports what the stream has produced so far.
func (s *Stream) Outcome() Outcome {
	return s.outcome
}

func (s *Stream) complete() {
	completion := Frame{
		Kind:             FrameCompletion,
		Model:            s.model,
		CompletionTokens: s.deltas,
	}
	if len(s.citations) > 0 {
		completion.Citations = slices.Clone(s.citations)
	}
	s.finish(completion)
}

func (s *Stream) fail(err error) {
	msg := err.Error()
	s.outcome.Err = err
	s.finish(Frame{
		Kind:    FrameError,
		Model:   s.model,
		Content: streamErrorPrefix + msg,
		Error:   msg,
	})
}

func (s *Stream) finish(terminal Frame) {
	s.pending = append(s.pending, terminal, Frame{Kind: FrameDone})
	s.finished = true
	s.outcome.Terminal = terminal.Kind
	s.outcome.CompletionTokens = s.deltas
	s.outcome.Citations = len(s.citations)
	s.release()
}

func (s *Stream) release() error {
	s.releaseOnce.Do(func() {
		if s.events != nil {
			s.releaseErr = s.events.Close()
		}
	})
	return s.releaseErr
}
