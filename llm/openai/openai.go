// Package openai adapts the OpenAI chat completions API to the llm.Client
// interface, including incremental tool call accumulation for streaming
// responses.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/agentkit-go/agentkit/llm"
	"github.com/agentkit-go/agentkit/session"
	"github.com/agentkit-go/agentkit/tool"
)

const providerName = "openai"

// Client implements llm.Client against the OpenAI API.
type Client struct {
	api *goopenai.Client
}

// New creates a client with the given API key. An empty key falls back to
// the OPENAI_API_KEY environment variable.
func New(apiKey string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, &llm.ConfigurationError{SDKError: llm.SDKError{Message: "openai: API key not configured"}}
	}
	return &Client{api: goopenai.NewClient(apiKey)}, nil
}

// NewWithConfig creates a client from a full go-openai config, for custom
// base URLs and compatible gateways.
func NewWithConfig(config goopenai.ClientConfig) *Client {
	return &Client{api: goopenai.NewClientWithConfig(config)}
}

// Complete performs a blocking chat completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, buildChatRequest(req, false))
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.InvalidResponseError{SDKError: llm.SDKError{Message: "openai: response contained no choices"}}
	}

	choice := resp.Choices[0]
	var content []session.ContentPart
	if choice.Message.Content != "" {
		content = append(content, session.TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		content = append(content, session.ToolCallPart(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	return &llm.Response{
		Content:      content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream performs a streaming chat completion. Tool call fragments arrive
// incrementally from the API and are forwarded as start/delta/end events;
// the end marker for every open call fires when the API reports the tool
// call finish reason or the stream closes.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, buildChatRequest(req, true))
	if err != nil {
		return nil, mapError(err)
	}

	events := make(chan llm.Event)
	go c.pump(ctx, stream, events)
	return events, nil
}

// callState tracks one tool call being assembled across stream chunks.
type callState struct {
	id      string
	name    string
	started bool
	pending string // argument fragments received before the start event
	ended   bool
}

func (c *Client) pump(ctx context.Context, stream *goopenai.ChatCompletionStream, events chan<- llm.Event) {
	defer close(events)
	defer stream.Close()

	calls := make(map[int]*callState)
	var usage llm.Usage
	finish := llm.FinishStop

	endOpenCalls := func() {
		indexes := make([]int, 0, len(calls))
		for i := range calls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			state := calls[i]
			if state.started && !state.ended {
				state.ended = true
				events <- llm.Event{Type: llm.ToolCallEnd, ID: state.id}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			events <- llm.Event{Type: llm.StreamError, Err: &llm.AbortError{
				SDKError: llm.SDKError{Message: "openai: stream cancelled", Cause: ctx.Err()},
			}}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				endOpenCalls()
				events <- llm.Event{Type: llm.Finish, Reason: finish, Usage: &usage}
				return
			}
			events <- llm.Event{Type: llm.StreamError, Err: mapError(err)}
			return
		}

		if resp.Usage != nil {
			usage = llm.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			events <- llm.Event{Type: llm.TextDelta, Delta: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			state := calls[index]
			if state == nil {
				state = &callState{}
				calls[index] = state
			}
			if tc.ID != "" {
				state.id = tc.ID
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			if !state.started && state.id != "" && state.name != "" {
				state.started = true
				events <- llm.Event{Type: llm.ToolCallStart, ID: state.id, Name: state.name}
				if state.pending != "" {
					events <- llm.Event{Type: llm.ToolCallDelta, ID: state.id, Arguments: state.pending}
					state.pending = ""
				}
			}
			if tc.Function.Arguments != "" {
				if state.started {
					events <- llm.Event{Type: llm.ToolCallDelta, ID: state.id, Arguments: tc.Function.Arguments}
				} else {
					state.pending += tc.Function.Arguments
				}
			}
		}

		if choice.FinishReason != "" {
			finish = mapFinishReason(choice.FinishReason)
			if choice.FinishReason == goopenai.FinishReasonToolCalls {
				endOpenCalls()
			}
		}
	}
}

func buildChatRequest(req llm.Request, stream bool) goopenai.ChatCompletionRequest {
	out := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages, req.SystemPrompt),
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools)
	}
	if stream {
		out.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}
	return out
}

// convertMessages flattens the transcript into the chat completions shape.
// The system prompt becomes the first message; each tool result becomes its
// own tool-role message linked by tool call id.
func convertMessages(messages []session.Message, system string) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			out = append(out, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleUser,
				Content: msg.Text(),
			})

		case session.RoleAssistant:
			m := goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolCalls() {
				m.ToolCalls = append(m.ToolCalls, goopenai.ToolCall{
					ID:   tc.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, m)

		case session.RoleTool:
			for _, tr := range msg.ToolResults() {
				out = append(out, goopenai.ChatCompletionMessage{
					Role:       goopenai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}
	return out
}

func convertTools(defs []tool.Definition) []goopenai.Tool {
	out := make([]goopenai.Tool, len(defs))
	for i, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil || schema == nil {
			// One bad schema must not break function calling for the rest.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func mapFinishReason(reason goopenai.FinishReason) llm.FinishReason {
	switch reason {
	case goopenai.FinishReasonToolCalls, goopenai.FinishReasonFunctionCall:
		return llm.FinishToolCalls
	case goopenai.FinishReasonLength:
		return llm.FinishMaxTokens
	case goopenai.FinishReasonContentFilter:
		return llm.FinishError
	default:
		return llm.FinishStop
	}
}

func mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return llm.ErrorFromStatusCode(apiErr.HTTPStatusCode, apiErr.Message, providerName, nil)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &llm.AbortError{SDKError: llm.SDKError{Message: "openai: request cancelled", Cause: err}}
	}
	return &llm.NetworkError{SDKError: llm.SDKError{Message: "openai: request failed", Cause: err}}
}
