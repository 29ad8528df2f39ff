package mcp

import (
	"context"
	"encoding/json"

	"github.com/agentkit-go/agentkit/tool"
)

// BridgeTool wraps one remote tool as a local tool.Tool. Transport failures
// surface as hard execution errors, which the executor converts to
// error-flagged results.
type BridgeTool struct {
	bridge Bridge
	info   ToolInfo
}

// NewBridgeTool creates the adapter for one remote tool.
func NewBridgeTool(bridge Bridge, info ToolInfo) *BridgeTool {
	return &BridgeTool{bridge: bridge, info: info}
}

func (t *BridgeTool) Name() string            { return t.info.Name }
func (t *BridgeTool) Description() string     { return t.info.Description }
func (t *BridgeTool) Schema() json.RawMessage { return t.info.InputSchema }

func (t *BridgeTool) Execute(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
	output, err := t.bridge.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return nil, err
	}
	return tool.Ok(output), nil
}

// AdaptTools wraps every tool the bridge exposes.
func AdaptTools(ctx context.Context, bridge Bridge) ([]tool.Tool, error) {
	infos, err := bridge.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]tool.Tool, len(infos))
	for i, info := range infos {
		tools[i] = NewBridgeTool(bridge, info)
	}
	return tools, nil
}

// RegisterTools lists the bridge's tools and registers them all.
func RegisterTools(ctx context.Context, bridge Bridge, registry *tool.Registry) (int, error) {
	tools, err := AdaptTools(ctx, bridge)
	if err != nil {
		return 0, err
	}
	for _, t := range tools {
		registry.Register(t)
	}
	return len(tools), nil
}
