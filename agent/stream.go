package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentkit-go/agentkit/llm"
	"github.com/agentkit-go/agentkit/session"
)

// Stream runs the same loop as Run but delivers progress as events. The
// channel closes after the turn_ended or error event. Text reaches the
// consumer as it streams from the model; tool call arguments are assembled
// internally and parsed only once their end marker arrives.
func (a *Agent) Stream(ctx context.Context, userInput string) (<-chan Event, error) {
	a.session.Append(session.NewUserMessage(userInput))
	a.session.SetStatus(session.StatusRunning)

	emitter := newEventEmitter(a.session.ID(), a.config.EventBuffer)
	go a.streamLoop(ctx, emitter)
	return emitter.events(), nil
}

func (a *Agent) streamLoop(ctx context.Context, emitter *eventEmitter) {
	defer emitter.closeChan()

	emitter.emit(EventTurnStarted, nil)

	var usage llm.Usage
	steps := 0
	stop := StopEndTurn

	for steps < a.config.MaxSteps {
		if err := ctx.Err(); err != nil {
			a.streamFail(emitter, steps+1, err)
			return
		}
		steps++

		content, stepUsage, err := a.streamStep(ctx, emitter)
		if err != nil {
			a.streamFail(emitter, steps, err)
			return
		}
		usage = usage.Add(stepUsage)

		calls, msgID, done := a.applyResponse(content)
		if done {
			break
		}
		for _, call := range calls {
			emitter.emit(EventToolCallRequested, map[string]any{
				"id":        call.ID,
				"name":      call.Name,
				"arguments": string(call.Arguments),
			})
		}

		results := a.executeCalls(ctx, calls, msgID)
		for _, part := range results {
			if part.ToolResult == nil {
				continue
			}
			emitter.emit(EventToolResult, map[string]any{
				"tool_call_id": part.ToolResult.ToolCallID,
				"content":      part.ToolResult.Content,
				"is_error":     part.ToolResult.IsError,
			})
		}

		if steps == a.config.MaxSteps {
			stop = StopMaxSteps
		}
	}

	a.session.SetStatus(session.StatusCompleted)
	emitter.emit(EventTurnEnded, map[string]any{
		"stop_reason":   string(stop),
		"steps":         steps,
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	})
}

// streamStep performs one streaming model call, forwarding text deltas and
// assembling the full assistant content.
func (a *Agent) streamStep(ctx context.Context, emitter *eventEmitter) ([]session.ContentPart, llm.Usage, error) {
	events, cancel, err := a.streamWithRetry(ctx)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	defer cancel()

	acc := newAccumulator(a)
	for ev := range events {
		switch ev.Type {
		case llm.TextDelta:
			emitter.emit(EventTextDelta, map[string]any{"text": ev.Delta})
		case llm.StreamError:
			return nil, llm.Usage{}, ev.Err
		}
		acc.apply(ev)
	}
	return acc.content(), acc.usage, nil
}

// streamWithRetry retries opening the stream; once events are flowing a
// failure is surfaced rather than retried, since partial output may already
// have reached the consumer. Every open attempt runs under its own
// LLMTimeout deadline, and the attempt that succeeds keeps that deadline
// for the life of the stream. The returned cancel releases it and must be
// called once the stream is drained.
func (a *Agent) streamWithRetry(ctx context.Context) (<-chan llm.Event, context.CancelFunc, error) {
	var cancel context.CancelFunc
	events, err := llm.Retry(ctx, a.config.RetryPolicy, func(ctx context.Context) (<-chan llm.Event, error) {
		callCtx, callCancel := a.callContext(ctx)
		ch, err := a.client.Stream(callCtx, a.buildRequest())
		if err != nil {
			callCancel()
			return nil, err
		}
		cancel = callCancel
		return ch, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return events, cancel, nil
}

func (a *Agent) streamFail(emitter *eventEmitter, step int, cause error) {
	err := a.fail(step, cause)
	emitter.emit(EventError, map[string]any{"error": err.Error(), "step": step})
}

// pendingCall is one tool call being assembled from stream fragments.
type pendingCall struct {
	id    string
	name  string
	args  strings.Builder
	ended bool
}

// accumulator assembles streamed events into assistant message content.
// Argument fragments are concatenated per call id and parsed only when the
// call's end marker arrives; fragments that never parse are passed through
// raw, so the executor reports them as invalid arguments instead of the
// stream failing.
type accumulator struct {
	agent *Agent
	text  strings.Builder
	order []string
	calls map[string]*pendingCall
	usage llm.Usage
}

func newAccumulator(a *Agent) *accumulator {
	return &accumulator{
		agent: a,
		calls: make(map[string]*pendingCall),
	}
}

func (acc *accumulator) apply(ev llm.Event) {
	switch ev.Type {
	case llm.TextDelta:
		acc.text.WriteString(ev.Delta)

	case llm.ToolCallStart:
		if _, ok := acc.calls[ev.ID]; ok {
			acc.agent.logger.Warn("duplicate tool call start", "id", ev.ID)
			return
		}
		acc.order = append(acc.order, ev.ID)
		acc.calls[ev.ID] = &pendingCall{id: ev.ID, name: ev.Name}

	case llm.ToolCallDelta:
		call, ok := acc.calls[ev.ID]
		if !ok {
			acc.agent.logger.Warn("argument fragment for unknown tool call", "id", ev.ID)
			return
		}
		if call.ended {
			acc.agent.logger.Warn("argument fragment after end marker", "id", ev.ID)
			return
		}
		call.args.WriteString(ev.Arguments)

	case llm.ToolCallEnd:
		call, ok := acc.calls[ev.ID]
		if !ok {
			acc.agent.logger.Warn("end marker for unknown tool call", "id", ev.ID)
			return
		}
		if call.ended {
			acc.agent.logger.Warn("duplicate end marker for tool call", "id", ev.ID)
			return
		}
		call.ended = true

	case llm.Finish:
		if ev.Usage != nil {
			acc.usage = *ev.Usage
		}
	}
}

// content builds the assistant message parts: concatenated text first, then
// the tool calls in start order. A call that never received its end marker
// is dropped with a warning; its arguments cannot be trusted complete.
func (acc *accumulator) content() []session.ContentPart {
	var parts []session.ContentPart
	if acc.text.Len() > 0 {
		parts = append(parts, session.TextPart(acc.text.String()))
	}
	for _, id := range acc.order {
		call := acc.calls[id]
		if !call.ended {
			acc.agent.logger.Warn("stream closed with unterminated tool call", "id", id, "name", call.name)
			continue
		}
		parts = append(parts, session.ToolCallPart(call.id, call.name, normalizeArgs(call.args.String())))
	}
	return parts
}

// normalizeArgs turns the accumulated fragment text into the call's
// argument payload. Empty accumulations become an empty object; anything
// else passes through as-is, valid or not.
func normalizeArgs(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}
