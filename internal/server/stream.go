package server

import (
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"gpt-relay/internal/translator"
)

// writeStream drains the translator onto the response, flushing every frame
// before the next one is pulled. A failed write means the client is gone;
// the stream is then closed, which releases the upstream call.
func (s *Server) writeStream(c echo.Context, stream *translator.Stream) error {
	defer stream.Close()

	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		s.logger.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := s.logger.With(
		"request_id", res.Header().Get(echo.HeaderXRequestID),
		"model", stream.Model(),
	)

	pipeFrames(res, flusher, stream.All(), logger)

	outcome := stream.Outcome()
	attrs := []any{
		"frames", outcome.Frames,
		"terminal", outcome.Terminal.String(),
		"completion_tokens", outcome.CompletionTokens,
		"citations", outcome.Citations,
		"aborted", outcome.Aborted,
	}
	if outcome.Err != nil {
		logger.Warn("stream ended with error", append(attrs, "err", outcome.Err)...)
		return nil
	}
	logger.Info("stream finished", attrs...)
	return nil
}

// pipeFrames writes frames until the sequence ends or the client is gone. A
// frame that cannot be encoded ends the stream with the done sentinel.
func pipeFrames(w io.Writer, flusher http.Flusher, frames iter.Seq[translator.Frame], logger *slog.Logger) {
	for frame := range frames {
		data, err := frame.Encode()
		if err != nil {
			logger.Error("failed to encode stream frame", "kind", frame.Kind.String(), "err", err)
			if done, derr := (translator.Frame{Kind: translator.FrameDone}).Encode(); derr == nil {
				_, _ = w.Write(done)
				flusher.Flush()
			}
			return
		}
		if _, err := w.Write(data); err != nil {
			logger.Info("client went away mid-stream", "err", err)
			return
		}
		flusher.Flush()
	}
}
