package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/upb/llm-failover/services/providers"
)

const (
	// ProviderID is the registry id of the Anthropic provider
	ProviderID = "anthropic"

	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 1024
)

// Config holds Anthropic adapter configuration
type Config struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Headers    map[string]string

	// HTTPClient is used for all calls. Deadlines come from the request
	// context, so the client should not carry its own timeout.
	HTTPClient *http.Client
}

// Adapter implements providers.Adapter for the Anthropic Messages API
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(config Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultAPIVersion
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Adapter{
		config:     config,
		httpClient: httpClient,
	}
}

// GenerateText sends a single message and returns the text content
func (a *Adapter) GenerateText(ctx context.Context, req *providers.Request) (*providers.Completion, error) {
	resp, err := a.send(ctx, a.buildMessagesRequest(req))
	if err != nil {
		return nil, err
	}

	var text bytes.Buffer
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &providers.Completion{
		Text:         text.String(),
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// GenerateObject forces a single tool call whose input schema is the
// requested schema and returns the tool input
func (a *Adapter) GenerateObject(ctx context.Context, req *providers.ObjectRequest) (json.RawMessage, error) {
	msgReq := a.buildMessagesRequest(&req.Request)

	name := req.SchemaName
	if name == "" {
		name = "respond"
	}
	msgReq.Tools = []Tool{{
		Name:        name,
		Description: "Respond with an object matching the input schema.",
		InputSchema: req.Schema,
	}}
	msgReq.ToolChoice = &ToolChoice{Type: "tool", Name: name}

	resp, err := a.send(ctx, msgReq)
	if err != nil {
		return nil, err
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == name {
			return block.Input, nil
		}
	}

	return nil, providers.NewTransientError(ProviderID, "NO_TOOL_USE", "Response contained no tool_use block", http.StatusOK, nil)
}

// StreamText opens a streaming message. It returns once Anthropic has
// accepted the request; text deltas are then delivered on the channel.
func (a *Adapter) StreamText(ctx context.Context, req *providers.Request) (<-chan providers.StreamChunk, error) {
	msgReq := a.buildMessagesRequest(req)
	msgReq.Stream = true

	httpResp, err := a.do(ctx, msgReq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan providers.StreamChunk)
	go func() {
		defer close(chunks)
		defer httpResp.Body.Close()

		send := func(c providers.StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := providers.ReadEvents(httpResp.Body, func(ev providers.Event) bool {
			var event StreamEvent
			if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
				send(providers.StreamChunk{Err: providers.NewTransientError(ProviderID, "STREAM_DECODE_ERROR", "Failed to decode stream event", 0, err)})
				return false
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					return send(providers.StreamChunk{Delta: event.Delta.Text})
				}
			case "message_delta":
				if event.Delta.StopReason != "" {
					return send(providers.StreamChunk{FinishReason: event.Delta.StopReason})
				}
			case "message_stop":
				return false
			case "error":
				send(providers.StreamChunk{Err: providers.NewTransientError(ProviderID, event.Error.Type, event.Error.Message, 0, nil)})
				return false
			}
			return true
		})
		if err != nil && ctx.Err() == nil {
			send(providers.StreamChunk{Err: providers.NewTransientError(ProviderID, "STREAM_ERROR", "Stream interrupted", 0, err)})
		}
	}()

	return chunks, nil
}

// send performs a non-streaming request and decodes the message
func (a *Adapter) send(ctx context.Context, msgReq *MessagesRequest) (*MessagesResponse, error) {
	httpResp, err := a.do(ctx, msgReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewTransientError(ProviderID, "READ_ERROR", "Failed to read response", httpResp.StatusCode, err)
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, providers.NewTransientError(ProviderID, "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, err)
	}

	return &resp, nil
}

// do sends the request and returns the response when the status is 200
func (a *Adapter) do(ctx context.Context, msgReq *MessagesRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(msgReq)
	if err != nil {
		return nil, providers.NewFatalError(ProviderID, "MARSHAL_ERROR", "Failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewFatalError(ProviderID, "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", a.config.APIVersion)
	if msgReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransientError(ProviderID, "HTTP_ERROR", "HTTP request failed", 0, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		return nil, handleErrorResponse(httpResp.StatusCode, body)
	}

	return httpResp, nil
}

// buildMessagesRequest converts a provider-neutral request to Anthropic format
func (a *Adapter) buildMessagesRequest(req *providers.Request) *MessagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgReq := &MessagesRequest{
		Model:     req.ModelID,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []Message{{Role: "user", Content: req.Prompt}},
	}
	if req.Temperature > 0 {
		msgReq.Temperature = &req.Temperature
	}

	return msgReq
}

// handleErrorResponse handles Anthropic error responses
func handleErrorResponse(statusCode int, body []byte) error {
	class := providers.ClassForStatus(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(ProviderID, "UNKNOWN_ERROR", string(body), statusCode, class, err)
	}

	return providers.NewProviderError(
		ProviderID,
		errResp.Error.Type,
		errResp.Error.Message,
		statusCode,
		class,
		errors.New(errResp.Error.Message),
	)
}

var _ providers.Adapter = (*Adapter)(nil)
