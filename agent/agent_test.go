package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agentkit-go/agentkit/llm"
	"github.com/agentkit-go/agentkit/permission"
	"github.com/agentkit-go/agentkit/session"
	"github.com/agentkit-go/agentkit/tool"
)

// scriptedClient replays canned responses, one per Complete call.
type scriptedClient struct {
	responses []*llm.Response
	errs      []error
	calls     int
	requests  []llm.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return &llm.Response{Content: []session.ContentPart{session.TextPart("done")}, FinishReason: llm.FinishStop}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Event, 8)
	go func() {
		defer close(ch)
		for _, part := range resp.Content {
			if part.Kind == session.ContentText {
				ch <- llm.Event{Type: llm.TextDelta, Delta: part.Text}
			}
		}
		ch <- llm.Event{Type: llm.Finish, Reason: resp.FinishReason}
	}()
	return ch, nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:      []session.ContentPart{session.TextPart(text)},
		FinishReason: llm.FinishStop,
		Usage:        llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolCallResponse(id, name, args string) *llm.Response {
	return &llm.Response{
		Content: []session.ContentPart{
			session.ToolCallPart(id, name, json.RawMessage(args)),
		},
		FinishReason: llm.FinishToolCalls,
		Usage:        llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func weatherTool(t *testing.T) tool.Tool {
	t.Helper()
	return &tool.Func{
		ToolName:        "get_weather",
		ToolDescription: "current weather for a city",
		ToolSchema:      json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		Fn: func(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
			var in struct {
				City string `json:"city"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return tool.Ok("22C and sunny in " + in.City), nil
		},
	}
}

func testAgent(t *testing.T, client llm.Client, tools ...tool.Tool) *Agent {
	t.Helper()
	registry := tool.NewRegistry()
	for _, tl := range tools {
		registry.Register(tl)
	}
	gate := permission.NewGate(permission.Rule{Tool: "*", Action: permission.Allow})

	cfg := DefaultConfig()
	cfg.RetryPolicy = llm.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	sess := session.New(session.DefaultModelConfig(), "you are a test assistant")
	return New(sess, client, registry, gate, cfg)
}

func TestRunTextOnlyResponse(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("hello!")}}
	a := testAgent(t, client)

	result, err := a.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopEndTurn {
		t.Errorf("got stop reason %q, expected end_turn", result.StopReason)
	}
	if result.Steps != 1 {
		t.Errorf("got %d steps, expected 1", result.Steps)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("got %d messages, expected user + assistant", len(result.Messages))
	}
	if result.Messages[1].Role != session.RoleAssistant || result.Messages[1].Text() != "hello!" {
		t.Errorf("assistant message wrong: %+v", result.Messages[1])
	}
	if a.Session().Status() != session.StatusCompleted {
		t.Errorf("got status %q, expected completed", a.Session().Status())
	}
}

func TestRunToolCallTranscript(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("call_1", "get_weather", `{"city":"Tokyo"}`),
		textResponse("It is 22C and sunny in Tokyo."),
	}}
	a := testAgent(t, client, weatherTool(t))

	result, err := a.Run(context.Background(), "weather in Tokyo?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Messages) != 4 {
		t.Fatalf("got %d messages, expected 4", len(result.Messages))
	}

	wantRoles := []session.Role{session.RoleUser, session.RoleAssistant, session.RoleTool, session.RoleAssistant}
	for i, role := range wantRoles {
		if result.Messages[i].Role != role {
			t.Errorf("message %d: got role %q, expected %q", i, result.Messages[i].Role, role)
		}
	}

	calls := result.Messages[1].ToolCalls()
	if len(calls) != 1 || calls[0].Name != "get_weather" {
		t.Fatalf("tool call missing from assistant message: %+v", calls)
	}
	results := result.Messages[2].ToolResults()
	if len(results) != 1 {
		t.Fatalf("got %d tool results, expected 1", len(results))
	}
	if results[0].ToolCallID != "call_1" {
		t.Errorf("result paired with %q, expected call_1", results[0].ToolCallID)
	}
	if results[0].IsError || !strings.Contains(results[0].Content, "Tokyo") {
		t.Errorf("unexpected tool result: %+v", results[0])
	}
	if result.Usage.InputTokens != 20 {
		t.Errorf("usage not accumulated: %+v", result.Usage)
	}
}

func TestRunSecondRequestCarriesResults(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("call_1", "get_weather", `{"city":"Oslo"}`),
		textResponse("cold"),
	}}
	a := testAgent(t, client, weatherTool(t))

	if _, err := a.Run(context.Background(), "weather?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("got %d requests, expected 2", len(client.requests))
	}
	second := client.requests[1]
	if len(second.Messages) != 3 {
		t.Errorf("second request has %d messages, expected user + assistant + tool", len(second.Messages))
	}
	if len(second.Tools) != 1 || second.Tools[0].Name != "get_weather" {
		t.Errorf("tool definitions missing from request: %+v", second.Tools)
	}
	if second.SystemPrompt == "" {
		t.Error("system prompt not forwarded")
	}
}

func TestRunMaxStepsTruncates(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("c1", "get_weather", `{"city":"a"}`),
		toolCallResponse("c2", "get_weather", `{"city":"b"}`),
		toolCallResponse("c3", "get_weather", `{"city":"c"}`),
	}}
	a := testAgent(t, client, weatherTool(t))
	a.config.MaxSteps = 2

	result, err := a.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("hitting the step cap must not be an error, got %v", err)
	}
	if result.StopReason != StopMaxSteps {
		t.Errorf("got stop reason %q, expected max_steps", result.StopReason)
	}
	if result.Steps != 2 {
		t.Errorf("got %d steps, expected 2", result.Steps)
	}
	if a.Session().Status() != session.StatusCompleted {
		t.Errorf("got status %q, expected completed", a.Session().Status())
	}
}

func TestRunUnknownToolContinues(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("call_1", "no_such_tool", `{}`),
		textResponse("recovered"),
	}}
	a := testAgent(t, client, weatherTool(t))

	result, err := a.Run(context.Background(), "use a missing tool")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := result.Messages[2].ToolResults()
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("expected error-flagged result for unknown tool, got %+v", results)
	}
	if result.Messages[3].Text() != "recovered" {
		t.Error("run should continue after a failed tool call")
	}
}

func TestRunEmptyResponseCompletes(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{Content: nil, FinishReason: llm.FinishStop},
	}}
	a := testAgent(t, client)

	result, err := a.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopEndTurn {
		t.Errorf("got stop reason %q, expected end_turn", result.StopReason)
	}
	if a.Session().Status() != session.StatusCompleted {
		t.Errorf("got status %q", a.Session().Status())
	}
}

func TestRunModelErrorSetsErrorStatus(t *testing.T) {
	authErr := &llm.AuthenticationError{APIError: llm.APIError{
		SDKError:   llm.SDKError{Message: "bad key"},
		StatusCode: 401,
	}}
	client := &scriptedClient{errs: []error{authErr, authErr, authErr}}
	a := testAgent(t, client)

	_, err := a.Run(context.Background(), "hi")
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got %T: %v", err, err)
	}
	if runErr.Step != 1 {
		t.Errorf("got failing step %d, expected 1", runErr.Step)
	}
	if a.Session().Status() != session.StatusError {
		t.Errorf("got status %q, expected error", a.Session().Status())
	}
	if a.Session().MessageCount() != 1 {
		t.Errorf("transcript should keep the user message, got %d messages", a.Session().MessageCount())
	}
}

func TestRunRetriesTransientFailure(t *testing.T) {
	serverErr := &llm.ServerError{APIError: llm.APIError{
		SDKError:   llm.SDKError{Message: "overloaded"},
		StatusCode: 503,
		Retryable:  true,
	}}
	client := &scriptedClient{
		errs:      []error{serverErr, nil},
		responses: []*llm.Response{nil, textResponse("after retry")},
	}
	a := testAgent(t, client)

	result, err := a.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if result.Messages[1].Text() != "after retry" {
		t.Errorf("got %q", result.Messages[1].Text())
	}
	if client.calls != 2 {
		t.Errorf("got %d calls, expected a single retry", client.calls)
	}
}

// stalledClient hangs until its context expires for the first few calls,
// then recovers. It records whether each attempt carried a deadline.
type stalledClient struct {
	stalls    int
	calls     int
	deadlines []bool
}

func (c *stalledClient) note(ctx context.Context) bool {
	c.calls++
	_, hasDeadline := ctx.Deadline()
	c.deadlines = append(c.deadlines, hasDeadline)
	return c.calls <= c.stalls
}

func (c *stalledClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c.note(ctx) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return textResponse("back online"), nil
}

func (c *stalledClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	if c.note(ctx) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ch := make(chan llm.Event, 2)
	ch <- llm.Event{Type: llm.TextDelta, Delta: "back online"}
	ch <- llm.Event{Type: llm.Finish, Reason: llm.FinishStop}
	close(ch)
	return ch, nil
}

func TestRunPerCallDeadlineBoundsEachAttempt(t *testing.T) {
	client := &stalledClient{stalls: 2}
	a := testAgent(t, client)
	a.config.LLMTimeout = 5 * time.Millisecond

	result, err := a.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stalled attempts should time out and retry, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("got %d calls, expected two timed-out attempts and a success", client.calls)
	}
	for i, hasDeadline := range client.deadlines {
		if !hasDeadline {
			t.Errorf("attempt %d ran without a per-call deadline", i+1)
		}
	}
	if result.Messages[1].Text() != "back online" {
		t.Errorf("got %q", result.Messages[1].Text())
	}
	if a.Session().Status() != session.StatusCompleted {
		t.Errorf("got status %q, expected completed", a.Session().Status())
	}
}

func TestRunNoDeadlineWhenLLMTimeoutUnset(t *testing.T) {
	client := &stalledClient{}
	a := testAgent(t, client)

	if _, err := a.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.deadlines) != 1 || client.deadlines[0] {
		t.Errorf("zero LLMTimeout must not impose a deadline: %v", client.deadlines)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []*llm.Response{textResponse("never")}}
	a := testAgent(t, client)

	_, err := a.Run(ctx, "hi")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause not distinguishable as cancellation: %v", err)
	}
	if a.Session().Status() != session.StatusError {
		t.Errorf("got status %q, expected error", a.Session().Status())
	}
}
