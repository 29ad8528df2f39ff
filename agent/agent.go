// Package agent runs the turn loop: it feeds the session transcript to a
// model, executes the tool calls the model requests, appends the results,
// and repeats until the model answers without tools or the step limit hits.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentkit-go/agentkit/llm"
	"github.com/agentkit-go/agentkit/permission"
	"github.com/agentkit-go/agentkit/session"
	"github.com/agentkit-go/agentkit/tool"
)

// Config holds loop-level configuration. Model parameters (model name, max
// tokens, temperature) and the system prompt live on the Session.
type Config struct {
	// MaxSteps caps the number of model round trips per Run. Hitting the
	// cap is a truncation, not an error.
	MaxSteps int

	// RetryPolicy governs retries of model calls.
	RetryPolicy llm.RetryPolicy

	// LLMTimeout bounds each individual model call. Every retry attempt
	// gets a fresh deadline; the retry policy's backoff waits run on the
	// caller's context and do not count against it. Zero disables the
	// per-call deadline.
	LLMTimeout time.Duration

	// MaxToolOutputBytes truncates tool output; zero disables truncation.
	MaxToolOutputBytes int

	// EventBuffer sizes the streaming event channel.
	EventBuffer int

	Logger *slog.Logger
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:    100,
		RetryPolicy: llm.DefaultRetryPolicy(),
		EventBuffer: 256,
		Logger:      slog.Default(),
	}
}

// StopReason tells the caller why a run ended.
type StopReason string

const (
	// StopEndTurn means the model produced a response with no tool calls.
	StopEndTurn StopReason = "end_turn"
	// StopMaxSteps means the step cap was reached with tool calls pending.
	StopMaxSteps StopReason = "max_steps"
)

// RunResult is the outcome of one completed run.
type RunResult struct {
	// Messages is the full transcript after the run.
	Messages []session.Message
	// Steps is the number of model round trips taken.
	Steps int
	StopReason StopReason
	Usage      llm.Usage
}

// RunError wraps a failure that aborted a run. The transcript up to the
// failing step is preserved on the session.
type RunError struct {
	Step  int
	Cause error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at step %d: %v", e.Step, e.Cause)
}

func (e *RunError) Unwrap() error { return e.Cause }

// Agent drives the turn loop over one session.
type Agent struct {
	session  *session.Session
	client   llm.Client
	executor *tool.Executor
	registry *tool.Registry
	config   Config
	logger   *slog.Logger
}

// New creates an agent. The gate decides which requested tool calls may
// execute; pass a gate with an allow-all rule to disable gating.
func New(sess *session.Session, client llm.Client, registry *tool.Registry, gate *permission.Gate, config Config) *Agent {
	if config.MaxSteps <= 0 {
		config.MaxSteps = 100
	}
	if config.RetryPolicy.MaxAttempts == 0 {
		config.RetryPolicy = llm.DefaultRetryPolicy()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		session:  sess,
		client:   client,
		executor: tool.NewExecutor(registry, gate, tool.ExecutorOptions{MaxOutputBytes: config.MaxToolOutputBytes}),
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Session returns the agent's session.
func (a *Agent) Session() *session.Session { return a.session }

// Run appends userInput to the transcript and loops until the model stops
// requesting tools or MaxSteps is reached. On error the session status is
// set to StatusError and the transcript up to that point is kept.
func (a *Agent) Run(ctx context.Context, userInput string) (*RunResult, error) {
	a.session.Append(session.NewUserMessage(userInput))
	a.session.SetStatus(session.StatusRunning)

	var usage llm.Usage
	steps := 0
	stop := StopEndTurn

	for steps < a.config.MaxSteps {
		if err := ctx.Err(); err != nil {
			return nil, a.fail(steps+1, err)
		}
		steps++

		resp, err := llm.Retry(ctx, a.config.RetryPolicy, func(ctx context.Context) (*llm.Response, error) {
			callCtx, cancel := a.callContext(ctx)
			defer cancel()
			return a.client.Complete(callCtx, a.buildRequest())
		})
		if err != nil {
			return nil, a.fail(steps, err)
		}
		usage = usage.Add(resp.Usage)

		calls, msgID, done := a.applyResponse(resp.Content)
		if done {
			break
		}
		a.executeCalls(ctx, calls, msgID)

		if steps == a.config.MaxSteps {
			stop = StopMaxSteps
		}
	}

	a.session.SetStatus(session.StatusCompleted)
	return &RunResult{
		Messages:   a.session.Transcript(),
		Steps:      steps,
		StopReason: stop,
		Usage:      usage,
	}, nil
}

// callContext derives the context for a single model attempt. Each attempt
// gets the full LLMTimeout; backoff waits between attempts happen on the
// parent context.
func (a *Agent) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.LLMTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.LLMTimeout)
}

// buildRequest snapshots the transcript into a model request.
func (a *Agent) buildRequest() llm.Request {
	model := a.session.Model()
	return llm.Request{
		Model:        model.Model,
		Messages:     a.session.Transcript(),
		SystemPrompt: a.session.SystemPrompt(),
		Tools:        a.registry.Definitions(),
		MaxTokens:    model.MaxTokens,
		Temperature:  model.Temperature,
	}
}

// applyResponse appends the assistant message and extracts its tool calls.
// done is true when the step ends the turn: no tool calls, which includes a
// response with no content at all.
func (a *Agent) applyResponse(content []session.ContentPart) (calls []session.ToolCallData, msgID string, done bool) {
	msg := session.NewAssistantMessage(content)
	a.session.Append(msg)

	calls = msg.ToolCalls()
	if len(calls) == 0 {
		return nil, msg.ID, true
	}
	a.logger.Debug("executing tool calls", "session_id", a.session.ID(), "count", len(calls))
	return calls, msg.ID, false
}

// executeCalls runs the step's tool calls and appends the single tool
// message wrapping their results.
func (a *Agent) executeCalls(ctx context.Context, calls []session.ToolCallData, msgID string) []session.ContentPart {
	results := a.executor.ExecuteBatch(ctx, calls, tool.Context{
		SessionID: a.session.ID(),
		MessageID: msgID,
	})
	a.session.Append(session.NewToolResultMessage(results))
	return results
}

// fail records an aborted run. The transcript keeps everything appended so
// far; only the status marks the run as failed.
func (a *Agent) fail(step int, cause error) error {
	a.session.SetStatus(session.StatusError)
	a.logger.Error("run aborted", "session_id", a.session.ID(), "step", step, "error", cause)
	return &RunError{Step: step, Cause: cause}
}
