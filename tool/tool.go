// Package tool defines the contract implemented by callable tools, the
// registry the agent loop exposes to the model, and the executor that turns
// requested tool calls into transcript results.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is the capability contract implemented by built-in tools and by
// protocol-bridge adapters. Implementations must be safe for concurrent use.
type Tool interface {
	// Name returns the tool's unique name, used for registry lookup and for
	// model function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema describing the accepted arguments. A
	// nil or empty schema disables argument validation.
	Schema() json.RawMessage

	// Execute runs the tool with schema-valid arguments. Domain-level
	// failures should be reported through Result.Err rather than the error
	// return; a non-nil error marks a hard execution failure.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is the outcome of one tool execution.
type Result struct {
	// Output is the text handed back to the model.
	Output string `json:"output"`
	// Metadata carries optional structured data for the host application.
	Metadata map[string]any `json:"metadata,omitempty"`
	// Err is a non-empty domain error message when the tool failed without
	// raising a hard failure.
	Err string `json:"error,omitempty"`
}

// Ok creates a successful result.
func Ok(output string) *Result {
	return &Result{Output: output}
}

// Errorf creates a result carrying a domain error.
func Errorf(format string, args ...any) *Result {
	return &Result{Err: fmt.Sprintf(format, args...)}
}

// Definition is the serializable descriptor of a tool, sent to the model.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Describe builds a tool's definition.
func Describe(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// NotFoundError reports a tool name absent from the registry.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return "tool not found: " + e.Name
}

// InvalidArgumentsError reports an argument payload that failed parsing or
// schema validation. The tool is never invoked in that case.
type InvalidArgumentsError struct {
	Name   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Name, e.Reason)
}

// ExecutionFailedError reports a hard failure raised while running a tool.
type ExecutionFailedError struct {
	Name  string
	Cause error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution failed (%s): %v", e.Name, e.Cause)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Cause }

// Func builds a Tool from a closure. Handy for tests and small built-ins.
type Func struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (*Result, error)
}

func (f *Func) Name() string            { return f.ToolName }
func (f *Func) Description() string     { return f.ToolDescription }
func (f *Func) Schema() json.RawMessage { return f.ToolSchema }

func (f *Func) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	return f.Fn(ctx, args)
}
