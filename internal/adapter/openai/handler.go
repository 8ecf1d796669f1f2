package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apierrors "gemini-bridge/internal/errors"
	"gemini-bridge/internal/gemini"
	"gemini-bridge/internal/httputil"
	"gemini-bridge/internal/registry"
)

// Handler implements the OpenAI chat completions endpoint on top of the
// Code Assist backend.
type Handler struct {
	client  *gemini.Client
	models  *registry.Registry
	timeout time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(client *gemini.Client, models *registry.Registry, timeout time.Duration) *Handler {
	return &Handler{client: client, models: models, timeout: timeout}
}

// ServeHTTP handles POST /v1/chat/completions.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteInvalidRequest(w, "malformed JSON body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		apierrors.WriteInvalidRequest(w, "messages must be a non-empty array")
		return
	}
	if !h.models.Known(req.Model) {
		apierrors.WriteInvalidRequest(w, "unknown model: "+req.Model)
		return
	}

	body, err := BuildRequest(&req)
	if err != nil {
		apierrors.WriteInvalidRequest(w, err.Error())
		return
	}
	h.models.Record(req.Model)

	if req.Stream {
		h.serveStream(w, r, &req, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.client.Generate(ctx, req.Model, body)
	if err != nil {
		apierrors.WriteUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(FromResponse(resp, req.Model)); err != nil {
		slog.Error("write completion response", "error", err)
	}
}

// serveStream drives the SSE response. The request context governs the
// upstream stream, so a client disconnect releases the backend connection.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, body *gemini.GenerateContentRequest) {
	stream, err := h.client.GenerateStream(r.Context(), req.Model, body)
	if err != nil {
		apierrors.WriteUpstreamError(w, err)
		return
	}
	defer stream.Close()

	httputil.SetSSEHeaders(w)
	if err := WriteStreamingResponse(httputil.NewFlushWriter(w), stream, req.Model); err != nil {
		// Headers are already out; terminate without the [DONE] frame.
		slog.Warn("stream aborted", "model", req.Model, "error", err)
	}
}
