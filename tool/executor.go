package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentkit-go/agentkit/permission"
	"github.com/agentkit-go/agentkit/session"
)

// Context identifies the run a batch of tool calls belongs to.
type Context struct {
	SessionID string
	MessageID string
}

// ExecutorOptions tune executor behavior.
type ExecutorOptions struct {
	// MaxOutputBytes truncates tool output before it is handed to the model.
	// Zero disables truncation.
	MaxOutputBytes int
}

// Executor resolves requested tool calls against a registry, gates them
// through a permission policy, and normalizes every outcome (missing tool,
// denied call, bad arguments, hard failure) into a tool result part. A
// tool's failure never aborts the surrounding run.
type Executor struct {
	registry *Registry
	gate     *permission.Gate
	opts     ExecutorOptions

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewExecutor creates an executor over the given registry and gate. A nil
// gate denies every call: execution without an explicit policy is not
// allowed.
func NewExecutor(registry *Registry, gate *permission.Gate, opts ExecutorOptions) *Executor {
	return &Executor{
		registry: registry,
		gate:     gate,
		opts:     opts,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Execute runs a single requested tool call and returns its result part.
// The permission gate is NOT consulted here; use ExecuteBatch for gated
// execution, or gate the call yourself before calling Execute.
func (e *Executor) Execute(ctx context.Context, call session.ToolCallData, ectx Context) session.ContentPart {
	t, ok := e.registry.Get(call.Name)
	if !ok {
		err := &NotFoundError{Name: call.Name}
		return session.ToolResultPart(call.ID, err.Error(), true)
	}

	if reason, ok := e.validateArguments(t, call.Arguments); !ok {
		err := &InvalidArgumentsError{Name: call.Name, Reason: reason}
		return session.ToolResultPart(call.ID, err.Error(), true)
	}

	result, err := e.invoke(ctx, t, call.Arguments)
	if err != nil {
		failure := &ExecutionFailedError{Name: call.Name, Cause: err}
		return session.ToolResultPart(call.ID, failure.Error(), true)
	}

	if result.Err != "" {
		return session.ToolResultPart(call.ID, result.Err, true)
	}
	return session.ToolResultPart(call.ID, e.truncate(result.Output), false)
}

// ExecuteBatch gates and runs each call in the order the model emitted them
// and returns exactly one result per call, in that same order. Denied calls
// become error-flagged results without ever reaching the tool.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []session.ToolCallData, ectx Context) []session.ContentPart {
	results := make([]session.ContentPart, len(calls))
	for i, call := range calls {
		if action, reason := e.checkGate(ctx, call, ectx); action != permission.Allow {
			results[i] = session.ToolResultPart(call.ID,
				fmt.Sprintf("permission denied for %s: %s", call.Name, reason), true)
			continue
		}
		results[i] = e.Execute(ctx, call, ectx)
	}
	return results
}

func (e *Executor) checkGate(ctx context.Context, call session.ToolCallData, ectx Context) (permission.Action, string) {
	if e.gate == nil {
		return permission.Deny, "no permission gate configured"
	}
	return e.gate.Check(ctx, permission.Request{
		Tool:      call.Name,
		Args:      call.Arguments,
		SessionID: ectx.SessionID,
	})
}

// invoke calls the tool, converting a panic into an error so a misbehaving
// tool cannot take down the loop.
func (e *Executor) invoke(ctx context.Context, t Tool, args json.RawMessage) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = t.Execute(ctx, args)
	if err == nil && result == nil {
		err = fmt.Errorf("tool returned no result")
	}
	return result, err
}

// validateArguments checks the payload parses as JSON and satisfies the
// tool's schema. The reason string is empty when validation passes.
func (e *Executor) validateArguments(t Tool, args json.RawMessage) (string, bool) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return err.Error(), false
	}

	raw := t.Schema()
	if len(raw) == 0 {
		return "", true
	}

	schema, err := e.compileSchema(t.Name(), raw)
	if err != nil {
		// A broken schema is the tool author's bug; don't block the call.
		return "", true
	}
	if err := schema.Validate(decoded); err != nil {
		return err.Error(), false
	}
	return "", true
}

func (e *Executor) compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := name + "\x00" + string(raw)

	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()
	if schema, ok := e.schemas[key]; ok {
		return schema, nil
	}

	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	e.schemas[key] = schema
	return schema, nil
}

func (e *Executor) truncate(output string) string {
	max := e.opts.MaxOutputBytes
	if max <= 0 || len(output) <= max {
		return output
	}
	half := max / 2
	removed := len(output) - max
	return output[:half] +
		fmt.Sprintf("\n[... output truncated, %d bytes removed ...]\n", removed) +
		output[len(output)-half:]
}
