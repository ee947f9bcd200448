package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-failover/middleware"
	"github.com/upb/llm-failover/services/failover"
	"github.com/upb/llm-failover/utils"
)

// Generator is the orchestrator surface used by the generate endpoints
type Generator interface {
	GenerateText(ctx context.Context, prompt string, opts failover.Options) (*failover.TextResult, error)
	GenerateObject(ctx context.Context, schema json.RawMessage, prompt string, opts failover.Options) (*failover.ObjectResult, error)
	StreamText(ctx context.Context, prompt string, opts failover.Options) (*failover.Stream, error)
}

// GenerateRequest is the body of POST /api/v1/generate/text and /stream
type GenerateRequest struct {
	Prompt      string            `json:"prompt" validate:"required"`
	System      string            `json:"system,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature float64           `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// GenerateObjectRequest is the body of POST /api/v1/generate/object
type GenerateObjectRequest struct {
	GenerateRequest
	Schema     json.RawMessage `json:"schema" validate:"required,json"`
	SchemaName string          `json:"schema_name,omitempty"`
}

func (r *GenerateRequest) options(requestID string) failover.Options {
	return failover.Options{
		System:      r.System,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		RequestID:   requestID,
		Metadata:    r.Metadata,
	}
}

// GenerateHandler serves text, object and streaming generation
type GenerateHandler struct {
	generator Generator
	logger    *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler
func NewGenerateHandler(generator Generator, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		generator: generator,
		logger:    logger,
	}
}

// HandleGenerateText handles POST /api/v1/generate/text
func (h *GenerateHandler) HandleGenerateText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.generator.GenerateText(ctx, req.Prompt, req.options(requestID))
	if err != nil {
		h.logger.Warn("text generation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleGenerateObject handles POST /api/v1/generate/object
func (h *GenerateHandler) HandleGenerateObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req GenerateObjectRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := req.options(requestID)
	opts.SchemaName = req.SchemaName

	result, err := h.generator.GenerateObject(ctx, req.Schema, req.Prompt, opts)
	if err != nil {
		h.logger.Warn("object generation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleStreamText handles POST /api/v1/generate/stream. Failover happens
// before the first byte is written; afterwards errors are sent as an error
// event. A client disconnect cancels the provider call.
func (h *GenerateHandler) HandleStreamText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	stream, err := h.generator.StreamText(ctx, req.Prompt, req.options(requestID))
	if err != nil {
		h.logger.Warn("stream establishment failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	defer stream.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	finishReason := ""
	for chunk := range stream.Chunks() {
		if chunk.Err != nil {
			h.logger.Warn("stream failed mid-response",
				zap.String("request_id", requestID),
				zap.String("provider", stream.Provider),
				zap.Error(chunk.Err))
			h.writeEvent(w, rc, "error", map[string]string{"error": chunk.Err.Error()})
			return
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.Delta == "" {
			continue
		}
		if !h.writeEvent(w, rc, "chunk", map[string]string{"delta": chunk.Delta}) {
			return
		}
	}

	if ctx.Err() != nil {
		h.logger.Debug("client disconnected during stream", zap.String("request_id", requestID))
		return
	}

	h.writeEvent(w, rc, "done", struct {
		failover.Metadata
		FinishReason string `json:"finish_reason,omitempty"`
	}{stream.Metadata, finishReason})
}

// writeEvent writes one server-sent event and flushes it
func (h *GenerateHandler) writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode stream event", zap.String("event", event), zap.Error(err))
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}
	if err := rc.Flush(); err != nil {
		h.logger.Debug("stream flush failed", zap.Error(err))
		return false
	}
	return true
}

// decode parses and validates a JSON body, writing a 400 on failure
func (h *GenerateHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return false
	}

	return true
}
