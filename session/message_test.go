package session

import (
	"encoding/json"
	"testing"
)

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("hello")
	if msg.Role != RoleUser {
		t.Errorf("expected role %q, got %q", RoleUser, msg.Role)
	}
	if msg.ID == "" {
		t.Error("expected non-empty id")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if msg.Text() != "hello" {
		t.Errorf("expected text %q, got %q", "hello", msg.Text())
	}
}

func TestMessageIDsUnique(t *testing.T) {
	a := NewUserMessage("a")
	b := NewUserMessage("b")
	if a.ID == b.ID {
		t.Errorf("expected distinct ids, both %q", a.ID)
	}
}

func TestAssistantMessageToolCalls(t *testing.T) {
	args := json.RawMessage(`{"location":"Tokyo"}`)
	msg := NewAssistantMessage([]ContentPart{
		TextPart("Checking the weather."),
		ToolCallPart("call_1", "get_weather", args),
		ToolCallPart("call_2", "get_time", json.RawMessage(`{}`)),
	})

	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[1].ID != "call_2" {
		t.Errorf("tool calls out of emission order: %q, %q", calls[0].ID, calls[1].ID)
	}
	if calls[0].Name != "get_weather" {
		t.Errorf("expected name %q, got %q", "get_weather", calls[0].Name)
	}
	if msg.Text() != "Checking the weather." {
		t.Errorf("unexpected text %q", msg.Text())
	}
}

func TestToolResultMessage(t *testing.T) {
	msg := NewToolResultMessage([]ContentPart{
		ToolResultPart("call_1", "22C and sunny", false),
		ToolResultPart("call_2", "tool not found: get_time", true),
	})
	if msg.Role != RoleTool {
		t.Errorf("expected role %q, got %q", RoleTool, msg.Role)
	}

	results := msg.ToolResults()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].IsError {
		t.Error("first result should not be flagged as error")
	}
	if !results[1].IsError {
		t.Error("second result should be flagged as error")
	}
	if results[1].ToolCallID != "call_2" {
		t.Errorf("expected tool_call_id %q, got %q", "call_2", results[1].ToolCallID)
	}
}

func TestContentPartJSONRoundTrip(t *testing.T) {
	part := ToolCallPart("call_9", "search", json.RawMessage(`{"q":"go"}`))
	data, err := json.Marshal(part)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ContentPart
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != ContentToolCall {
		t.Errorf("expected kind %q, got %q", ContentToolCall, decoded.Kind)
	}
	if decoded.ToolCall == nil || decoded.ToolCall.Name != "search" {
		t.Errorf("tool call data lost in round trip: %+v", decoded.ToolCall)
	}
}
