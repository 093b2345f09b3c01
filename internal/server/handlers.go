package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"gpt-relay/internal/imageref"
	"gpt-relay/internal/models"
	"gpt-relay/internal/provider"
	"gpt-relay/internal/translator"
)

const defaultUploadPrompt = "Describe this image in detail."

type endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

var endpoints = []endpoint{
	{http.MethodGet, "/health"},
	{http.MethodPost, "/api/chat"},
	{http.MethodPost, "/api/chat/stream"},
	{http.MethodGet, "/api/chat/stream"},
	{http.MethodPost, "/api/image"},
	{http.MethodPost, "/api/upload-image"},
	{http.MethodPost, "/api/search"},
	{http.MethodGet, "/api/models"},
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message":   "gpt-relay is running",
		"endpoints": endpoints,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]models.Model{"models": s.router.Models()})
}

func (s *Server) handleChat(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req, maxBodyBytes); err != nil {
		return err
	}

	ctx := c.Request().Context()
	gen := req.ToModel()
	if gen.Stream {
		return s.writeStream(c, s.router.ChatStream(ctx, gen))
	}
	return s.writeResponse(c, s.router.Chat(ctx, gen))
}

func (s *Server) handleChatStream(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req, maxBodyBytes); err != nil {
		return err
	}

	gen := req.ToModel()
	gen.Stream = true
	return s.writeStream(c, s.router.ChatStream(c.Request().Context(), gen))
}

// handleChatStreamQuery serves EventSource clients, which can only issue GET.
func (s *Server) handleChatStreamQuery(c echo.Context) error {
	q := translator.NewChatQuery()
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid query parameters: %v", bindMessage(err)),
			Type:    "invalid_request_error",
		}
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	return s.writeStream(c, s.router.ChatStream(c.Request().Context(), q.ToModel()))
}

func (s *Server) handleImage(c echo.Context) error {
	var req translator.ImageRequest
	// Data URIs inflate the image by a third.
	if err := decodeRequestBody(c, &req, s.cfg.Server.MaxUploadBytes/3*4+maxBodyBytes); err != nil {
		return err
	}
	return s.dispatchImage(c, req.ToModel())
}

func (s *Server) handleUploadImage(c echo.Context) error {
	limit := s.cfg.Server.MaxUploadBytes
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, limit+maxBodyBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return uploadTooLarge(limit)
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "multipart field \"file\" is required",
			Type:    "invalid_request_error",
		}
	}
	if fh.Size > limit {
		return uploadTooLarge(limit)
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return fmt.Errorf("read uploaded file: %w", err)
	}
	if int64(len(data)) > limit {
		return uploadTooLarge(limit)
	}

	mime, err := imageref.Sniff(data)
	if err != nil {
		return requestError{
			Status:  http.StatusUnsupportedMediaType,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	req := translator.ImageRequest{
		ImageURL: imageref.DataURI(mime, data),
		Prompt:   defaultUploadPrompt,
	}
	var maxTokens int
	if err := echo.FormFieldBinder(c).
		String("prompt", &req.Prompt).
		String("model", &req.Model).
		Int("max_tokens", &maxTokens).
		String("detail", &req.Detail).
		Bool("stream", &req.Stream).
		BindError(); err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid form field: %v", bindMessage(err)),
			Type:    "invalid_request_error",
		}
	}
	if maxTokens != 0 {
		req.MaxTokens = &maxTokens
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	s.logger.Debug("image uploaded", "mime", mime, "bytes", len(data))
	return s.dispatchImage(c, req.ToModel())
}

func (s *Server) dispatchImage(c echo.Context, req models.ImageRequest) error {
	ctx := c.Request().Context()
	if req.Stream {
		return s.writeStream(c, s.router.ImageStream(ctx, req))
	}
	return s.writeResponse(c, s.router.Image(ctx, req))
}

func (s *Server) handleSearch(c echo.Context) error {
	var req translator.SearchRequest
	if err := decodeRequestBody(c, &req, maxBodyBytes); err != nil {
		return err
	}

	ctx := c.Request().Context()
	search := req.ToModel()
	if search.Stream {
		return s.writeStream(c, s.router.SearchStream(ctx, search))
	}
	return s.writeResponse(c, s.router.Search(ctx, search))
}

// writeResponse renders a plain response. Upstream failures keep status 200
// with the error folded into the body; requests that could not be built are
// reported as 400.
func (s *Server) writeResponse(c echo.Context, resp *models.ChatResponse) error {
	status := http.StatusOK
	if errors.Is(resp.Err, provider.ErrInvalidRequest) {
		status = http.StatusBadRequest
	}
	return c.JSON(status, resp)
}

func uploadTooLarge(limit int64) error {
	return requestError{
		Status:  http.StatusRequestEntityTooLarge,
		Message: fmt.Sprintf("uploaded file exceeds %d bytes", limit),
		Type:    "invalid_request_error",
	}
}

func bindMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal != nil {
			return he.Internal.Error()
		}
		return fmt.Sprint(he.Message)
	}
	return err.Error()
}
