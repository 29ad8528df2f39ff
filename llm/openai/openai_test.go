package openai

import (
	"encoding/json"
	"errors"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/agentkit-go/agentkit/llm"
	"github.com/agentkit-go/agentkit/session"
	"github.com/agentkit-go/agentkit/tool"
)

func TestConvertMessagesInjectsSystemPrompt(t *testing.T) {
	msgs := []session.Message{session.NewUserMessage("hi")}
	out := convertMessages(msgs, "be terse")

	if len(out) != 2 {
		t.Fatalf("got %d messages, expected 2", len(out))
	}
	if out[0].Role != goopenai.ChatMessageRoleSystem || out[0].Content != "be terse" {
		t.Errorf("expected system message first, got %+v", out[0])
	}
	if out[1].Role != goopenai.ChatMessageRoleUser || out[1].Content != "hi" {
		t.Errorf("expected user message second, got %+v", out[1])
	}
}

func TestConvertMessagesToolRoundTrip(t *testing.T) {
	assistant := session.NewAssistantMessage([]session.ContentPart{
		session.ToolCallPart("call_1", "get_weather", json.RawMessage(`{"city":"Tokyo"}`)),
	})
	results := session.NewToolResultMessage([]session.ContentPart{
		session.ToolResultPart("call_1", "22C and sunny", false),
	})
	out := convertMessages([]session.Message{assistant, results}, "")

	if len(out) != 2 {
		t.Fatalf("got %d messages, expected 2", len(out))
	}
	if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("assistant tool call not converted: %+v", out[0].ToolCalls)
	}
	if out[1].Role != goopenai.ChatMessageRoleTool || out[1].ToolCallID != "call_1" {
		t.Errorf("tool result not linked to call: %+v", out[1])
	}
	if out[1].Content != "22C and sunny" {
		t.Errorf("got tool content %q", out[1].Content)
	}
}

func TestConvertMessagesSplitsMultipleResults(t *testing.T) {
	results := session.NewToolResultMessage([]session.ContentPart{
		session.ToolResultPart("c1", "one", false),
		session.ToolResultPart("c2", "two", true),
	})
	out := convertMessages([]session.Message{results}, "")

	if len(out) != 2 {
		t.Fatalf("expected one message per result, got %d", len(out))
	}
	if out[0].ToolCallID != "c1" || out[1].ToolCallID != "c2" {
		t.Errorf("result ordering broken: %q, %q", out[0].ToolCallID, out[1].ToolCallID)
	}
}

func TestConvertToolsBadSchemaDegrades(t *testing.T) {
	defs := []tool.Definition{
		{Name: "good", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "bad", Parameters: json.RawMessage(`{broken`)},
	}
	out := convertTools(defs)

	if len(out) != 2 {
		t.Fatalf("got %d tools, expected 2", len(out))
	}
	params, ok := out[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("expected empty object schema fallback, got %v", out[1].Function.Parameters)
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		in   goopenai.FinishReason
		want llm.FinishReason
	}{
		{goopenai.FinishReasonStop, llm.FinishStop},
		{goopenai.FinishReasonToolCalls, llm.FinishToolCalls},
		{goopenai.FinishReasonLength, llm.FinishMaxTokens},
		{goopenai.FinishReasonContentFilter, llm.FinishError},
	}
	for _, tt := range tests {
		if got := mapFinishReason(tt.in); got != tt.want {
			t.Errorf("reason %q: got %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestMapErrorStatusCodes(t *testing.T) {
	err := mapError(&goopenai.APIError{HTTPStatusCode: 429, Message: "slow down"})
	var rl *llm.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if !llm.IsRetryable(err) {
		t.Error("rate limit must be retryable")
	}

	err = mapError(&goopenai.APIError{HTTPStatusCode: 401, Message: "bad key"})
	if llm.IsRetryable(err) {
		t.Error("auth error must not be retryable")
	}

	err = mapError(errors.New("connection reset"))
	var ne *llm.NetworkError
	if !errors.As(err, &ne) {
		t.Errorf("expected NetworkError for plain errors, got %T", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New(""); err == nil {
		t.Error("expected configuration error without API key")
	}
	if _, err := New("sk-test"); err != nil {
		t.Errorf("unexpected error with explicit key: %v", err)
	}
}
