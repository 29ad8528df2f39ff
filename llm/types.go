// Package llm defines the provider-agnostic model client interface the agent
// loop talks to, along with the request/response types, error taxonomy, and
// retry wrapper shared by all provider adapters.
package llm

import (
	"context"

	"github.com/agentkit-go/agentkit/session"
	"github.com/agentkit-go/agentkit/tool"
)

// Request is the input type for both Complete and Stream.
type Request struct {
	Model        string             `json:"model"`
	Messages     []session.Message  `json:"messages"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Tools        []tool.Definition  `json:"tools,omitempty"`
	MaxTokens    int                `json:"max_tokens,omitempty"`
	Temperature  *float64           `json:"temperature,omitempty"`
}

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishError     FinishReason = "error"
)

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Response is the output of Complete. Content holds text parts and tool call
// parts in the order the model produced them.
type Response struct {
	Content      []session.ContentPart `json:"content"`
	FinishReason FinishReason          `json:"finish_reason"`
	Usage        Usage                 `json:"usage"`
}

// Text returns the concatenated text from all text parts in the response.
func (r Response) Text() string {
	var out string
	for _, part := range r.Content {
		if part.Kind == session.ContentText {
			out += part.Text
		}
	}
	return out
}

// ToolCalls extracts the requested tool calls in emission order.
func (r Response) ToolCalls() []session.ToolCallData {
	var calls []session.ToolCallData
	for _, part := range r.Content {
		if part.Kind == session.ContentToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// EventType identifies the kind of streaming event.
type EventType string

const (
	TextDelta     EventType = "text_delta"
	ToolCallStart EventType = "tool_call_start"
	ToolCallDelta EventType = "tool_call_delta"
	ToolCallEnd   EventType = "tool_call_end"
	Finish        EventType = "finish"
	StreamError   EventType = "error"
)

// Event is a single event from a streaming response.
//
// TextDelta carries Delta. ToolCallStart carries ID and Name. ToolCallDelta
// carries ID and an Arguments fragment; fragments for one call concatenate
// into its full argument payload. ToolCallEnd carries ID and marks the
// arguments complete. Finish carries Reason and Usage. StreamError carries
// Err and terminates the stream.
type Event struct {
	Type      EventType    `json:"type"`
	Delta     string       `json:"delta,omitempty"`
	ID        string       `json:"id,omitempty"`
	Name      string       `json:"name,omitempty"`
	Arguments string       `json:"arguments,omitempty"`
	Reason    FinishReason `json:"reason,omitempty"`
	Usage     *Usage       `json:"usage,omitempty"`
	Err       error        `json:"-"`
}

// Client is the provider-agnostic model interface. Implementations wrap one
// provider API and translate to and from the shared types.
type Client interface {
	// Complete performs a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream performs a streaming request. The returned channel is closed
	// after the Finish or StreamError event.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
