package openai

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
	// ProviderID is the registry id of the OpenAI provider
	ProviderID = "openai"

	defaultBaseURL = "https://api.openai.com/v1"
)

// Config holds OpenAI adapter configuration
type Config struct {
	APIKey  string
	BaseURL string
	OrgID   string
	Headers map[string]string

	// HTTPClient is used for all calls. Deadlines come from the request
	// context, so the client should not carry its own timeout.
	HTTPClient *http.Client
}

// Adapter implements providers.Adapter for the OpenAI chat completions API
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new OpenAI adapter
func NewAdapter(config Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
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

// GenerateText performs a chat completion request
func (a *Adapter) GenerateText(ctx context.Context, req *providers.Request) (*providers.Completion, error) {
	resp, err := a.complete(ctx, a.buildChatRequest(req))
	if err != nil {
		return nil, err
	}

	return &providers.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// GenerateObject asks for a JSON object using structured outputs
func (a *Adapter) GenerateObject(ctx context.Context, req *providers.ObjectRequest) (json.RawMessage, error) {
	chatReq := a.buildChatRequest(&req.Request)

	name := req.SchemaName
	if name == "" {
		name = "response"
	}
	chatReq.ResponseFormat = &ResponseFormat{
		Type: "json_schema",
		JSONSchema: &JSONSchemaFormat{
			Name:   name,
			Schema: req.Schema,
		},
	}

	resp, err := a.complete(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

// StreamText opens a streaming chat completion. It returns once OpenAI has
// accepted the request; deltas are then delivered on the channel.
func (a *Adapter) StreamText(ctx context.Context, req *providers.Request) (<-chan providers.StreamChunk, error) {
	chatReq := a.buildChatRequest(req)
	chatReq.Stream = true

	httpResp, err := a.do(ctx, chatReq)
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
			if ev.Data == "[DONE]" {
				return false
			}

			var chunk ChatStreamChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				send(providers.StreamChunk{Err: providers.NewTransientError(ProviderID, "STREAM_DECODE_ERROR", "Failed to decode stream chunk", 0, err)})
				return false
			}
			if len(chunk.Choices) == 0 {
				return true
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content == "" && choice.FinishReason == "" {
				return true
			}
			return send(providers.StreamChunk{Delta: choice.Delta.Content, FinishReason: choice.FinishReason})
		})
		if err != nil && ctx.Err() == nil {
			send(providers.StreamChunk{Err: providers.NewTransientError(ProviderID, "STREAM_ERROR", "Stream interrupted", 0, err)})
		}
	}()

	return chunks, nil
}

// complete performs a non-streaming chat completion
func (a *Adapter) complete(ctx context.Context, chatReq *ChatRequest) (*ChatResponse, error) {
	httpResp, err := a.do(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewTransientError(ProviderID, "READ_ERROR", "Failed to read response", httpResp.StatusCode, err)
	}

	var resp ChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, providers.NewTransientError(ProviderID, "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewTransientError(ProviderID, "EMPTY_RESPONSE", "Response contained no choices", httpResp.StatusCode, nil)
	}

	return &resp, nil
}

// do sends the request and returns the response when the status is 200
func (a *Adapter) do(ctx context.Context, chatReq *ChatRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(chatReq)
	if err != nil {
		return nil, providers.NewFatalError(ProviderID, "MARSHAL_ERROR", "Failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewFatalError(ProviderID, "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	if a.config.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", a.config.OrgID)
	}
	if chatReq.Stream {
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

// buildChatRequest converts a provider-neutral request to OpenAI format
func (a *Adapter) buildChatRequest(req *providers.Request) *ChatRequest {
	chatReq := &ChatRequest{Model: req.ModelID}

	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, Message{Role: "system", Content: req.System})
	}
	chatReq.Messages = append(chatReq.Messages, Message{Role: "user", Content: req.Prompt})

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = &req.Temperature
	}

	return chatReq
}

// handleErrorResponse handles OpenAI error responses
func handleErrorResponse(statusCode int, body []byte) error {
	class := providers.ClassForStatus(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(ProviderID, "UNKNOWN_ERROR", string(body), statusCode, class, err)
	}

	code := errResp.Error.Type
	if code == "" {
		code = errResp.Error.Code
	}

	return providers.NewProviderError(
		ProviderID,
		code,
		errResp.Error.Message,
		statusCode,
		class,
		errors.New(errResp.Error.Message),
	)
}

var _ providers.Adapter = (*Adapter)(nil)
