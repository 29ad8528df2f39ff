// Package gollm adapts a gollm.LLM instance to the llm.Client interface.
// It is useful for providers without a dedicated adapter; tool calls are
// parsed out of the generated text, which only works with models that emit
// them as JSON.
package gollm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	gollmlib "github.com/teilomillet/gollm"

	"github.com/agentkit-go/agentkit/llm"
	"github.com/agentkit-go/agentkit/session"
	"github.com/agentkit-go/agentkit/tool"
)

// Client wraps a gollm.LLM and implements llm.Client.
type Client struct {
	provider string
	llm      gollmlib.LLM
}

// Option configures a Client.
type Option func(*config)

type config struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollmlib.ConfigOption
}

// WithAPIKey sets the API key. Empty means gollm reads it from the
// environment.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollmlib.ConfigOption) Option {
	return func(c *config) { c.extraOpts = append(c.extraOpts, opts...) }
}

// New creates a Client for the given provider name.
func New(provider string, opts ...Option) (*Client, error) {
	cfg := &config{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-5"
		default:
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollmlib.ConfigOption{
		gollmlib.SetProvider(provider),
		gollmlib.SetModel(model),
		gollmlib.SetMaxTokens(cfg.maxTokens),
		gollmlib.SetTemperature(cfg.temperature),
		gollmlib.SetMaxRetries(0), // retries belong to the caller's policy
		gollmlib.SetLogLevel(gollmlib.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollmlib.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	inner, err := gollmlib.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("gollm: create LLM for provider %s: %w", provider, err)
	}
	return &Client{provider: provider, llm: inner}, nil
}

// NewFromLLM wraps an existing gollm.LLM instance.
func NewFromLLM(provider string, inner gollmlib.LLM) *Client {
	return &Client{provider: provider, llm: inner}
}

// Complete sends a blocking request and returns the full response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	prompt := c.translateRequest(req)
	c.applyRequestOptions(req)

	text, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, c.translateError(err)
	}
	return c.buildResponse(text), nil
}

// Stream sends a streaming request. When the underlying provider cannot
// stream, the full response is generated and emitted as one text delta.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	prompt := c.translateRequest(req)
	c.applyRequestOptions(req)

	ch := make(chan llm.Event, 64)

	if !c.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			text, err := c.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- llm.Event{Type: llm.StreamError, Err: c.translateError(err)}
				return
			}
			c.emitResponse(ch, text)
		}()
		return ch, nil
	}

	stream, err := c.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, c.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		var fullText strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- llm.Event{Type: llm.StreamError, Err: c.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			// Deltas are buffered rather than emitted directly so tool call
			// JSON embedded in the text never leaks to the consumer as text.
			fullText.WriteString(token.Text)
		}
		c.emitResponse(ch, fullText.String())
	}()

	return ch, nil
}

// emitResponse converts generated text into the stream event sequence.
func (c *Client) emitResponse(ch chan<- llm.Event, text string) {
	resp := c.buildResponse(text)
	for _, part := range resp.Content {
		switch part.Kind {
		case session.ContentText:
			ch <- llm.Event{Type: llm.TextDelta, Delta: part.Text}
		case session.ContentToolCall:
			tc := part.ToolCall
			ch <- llm.Event{Type: llm.ToolCallStart, ID: tc.ID, Name: tc.Name}
			ch <- llm.Event{Type: llm.ToolCallDelta, ID: tc.ID, Arguments: string(tc.Arguments)}
			ch <- llm.Event{Type: llm.ToolCallEnd, ID: tc.ID}
		}
	}
	ch <- llm.Event{Type: llm.Finish, Reason: resp.FinishReason, Usage: &resp.Usage}
}

// translateRequest flattens the transcript into a single gollm prompt.
// gollm's prompt API has no native multi-turn transcript, so assistant and
// tool turns are inlined with role markers.
func (c *Client) translateRequest(req llm.Request) *gollmlib.Prompt {
	var parts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case session.RoleUser:
			parts = append(parts, msg.Text())
		case session.RoleAssistant:
			if text := msg.Text(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
		case session.RoleTool:
			for _, tr := range msg.ToolResults() {
				prefix := "[Tool Result]"
				if tr.IsError {
					prefix = "[Tool Error]"
				}
				parts = append(parts, prefix+": "+tr.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollmlib.PromptOption
	if req.SystemPrompt != "" {
		promptOpts = append(promptOpts, gollmlib.WithSystemPrompt(strings.TrimSpace(req.SystemPrompt), gollmlib.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollmlib.WithMaxLength(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		promptOpts = append(promptOpts, gollmlib.WithTools(convertTools(req.Tools)))
	}

	return gollmlib.NewPrompt(promptText, promptOpts...)
}

func convertTools(defs []tool.Definition) []gollmlib.Tool {
	tools := make([]gollmlib.Tool, 0, len(defs))
	for _, def := range defs {
		var params map[string]interface{}
		_ = json.Unmarshal(def.Parameters, &params)
		tools = append(tools, gollmlib.Tool{
			Type: "function",
			Function: gollmlib.Function{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func (c *Client) applyRequestOptions(req llm.Request) {
	if req.Model != "" {
		c.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		c.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		c.llm.SetOption("max_tokens", req.MaxTokens)
	}
}

// buildResponse constructs a Response from generated text, extracting any
// tool calls the model emitted as JSON.
func (c *Client) buildResponse(text string) *llm.Response {
	toolCalls := parseToolCalls(text)

	var content []session.ContentPart
	if cleaned := removeToolCallJSON(text, toolCalls); cleaned != "" {
		content = append(content, session.TextPart(cleaned))
	}
	for _, tc := range toolCalls {
		content = append(content, session.ContentPart{Kind: session.ContentToolCall, ToolCall: &tc})
	}
	if len(content) == 0 {
		content = []session.ContentPart{session.TextPart(text)}
	}

	finish := llm.FinishStop
	if len(toolCalls) > 0 {
		finish = llm.FinishToolCalls
	}

	return &llm.Response{
		Content:      content,
		FinishReason: finish,
		Usage: llm.Usage{
			// gollm does not expose usage; estimate from text length.
			OutputTokens: len(text) / 4,
		},
	}
}

// parseToolCalls extracts tool calls the model emitted as a JSON array of
// {"name": ..., "arguments": ...} objects inside the response text.
func parseToolCalls(text string) []session.ToolCallData {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}

	var calls []session.ToolCallData
	for _, rc := range rawCalls {
		calls = append(calls, session.ToolCallData{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
		})
	}
	return calls
}

func removeToolCallJSON(text string, calls []session.ToolCallData) string {
	if len(calls) == 0 {
		return text
	}
	if idx := strings.Index(text, `[{"name"`); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// translateError classifies a gollm error into the shared error taxonomy by
// inspecting its message, since gollm flattens provider errors to strings.
func (c *Client) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return llm.ErrorFromStatusCode(401, msg, c.provider, nil)
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return llm.ErrorFromStatusCode(403, msg, c.provider, nil)
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return llm.ErrorFromStatusCode(404, msg, c.provider, nil)
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return llm.ErrorFromStatusCode(429, msg, c.provider, nil)
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return llm.ErrorFromStatusCode(500, msg, c.provider, nil)
	case strings.Contains(msgLower, "timeout"):
		return &llm.RequestTimeoutError{SDKError: llm.SDKError{Message: msg, Cause: err}}
	default:
		return &llm.NetworkError{SDKError: llm.SDKError{Message: msg, Cause: err}}
	}
}
