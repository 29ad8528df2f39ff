// Package mcp bridges tools served over the Model Context Protocol into the
// local tool registry. A Bridge abstracts the transport; Client implements
// it over a child process speaking JSON-RPC on stdio.
package mcp

import (
	"context"
	"encoding/json"
)

// ToolInfo describes one tool exposed by a protocol server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Bridge is the transport-independent view of a protocol server.
type Bridge interface {
	// ListTools returns the tools the server currently exposes.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool invokes a remote tool and returns its raw result payload.
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
}
