// Package session holds the conversation data model: messages, their typed
// content parts, and the append-only Session transcript the agent loop
// mutates while a run is in flight.
package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentKind is the discriminator tag for ContentPart.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

// ToolCallData represents a model-initiated tool invocation.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultData holds the outcome of one tool call. Content is the output
// text handed back to the model; IsError marks denied, failed, or
// unresolvable calls.
type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ContentPart is a tagged union representing one fragment of message content.
// Exactly one of the pointer fields is set, matching Kind.
type ContentPart struct {
	Kind       ContentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
}

// TextPart creates a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ToolCallPart creates a tool call ContentPart.
func ToolCallPart(id, name string, args json.RawMessage) ContentPart {
	return ContentPart{
		Kind:     ContentToolCall,
		ToolCall: &ToolCallData{ID: id, Name: name, Arguments: args},
	}
}

// ToolResultPart creates a tool result ContentPart.
func ToolResultPart(toolCallID, content string, isError bool) ContentPart {
	return ContentPart{
		Kind:       ContentToolResult,
		ToolResult: &ToolResultData{ToolCallID: toolCallID, Content: content, IsError: isError},
	}
}

// Message is one turn of the conversation. Messages are created through the
// factory functions below and never mutated once appended to a Session.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   []ContentPart `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewUserMessage creates a user Message carrying a single text part.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   []ContentPart{TextPart(text)},
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistantMessage creates an assistant Message from the given parts.
// User and assistant messages may carry text and tool call parts.
func NewAssistantMessage(content []ContentPart) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolResultMessage creates a tool-role Message wrapping the results of
// one step's tool calls. Tool messages carry only tool result parts.
func NewToolResultMessage(results []ContentPart) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleTool,
		Content:   results,
		CreatedAt: time.Now().UTC(),
	}
}

// Text returns the concatenation of all text parts in the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts all tool call parts in emission order.
func (m Message) ToolCalls() []ToolCallData {
	var calls []ToolCallData
	for _, part := range m.Content {
		if part.Kind == ContentToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// ToolResults extracts all tool result parts in order.
func (m Message) ToolResults() []ToolResultData {
	var results []ToolResultData
	for _, part := range m.Content {
		if part.Kind == ContentToolResult && part.ToolResult != nil {
			results = append(results, *part.ToolResult)
		}
	}
	return results
}
