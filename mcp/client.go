package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

const protocolVersion = "2024-11-05"

// Client is a Bridge over a child process speaking JSON-RPC 2.0 on its
// stdin/stdout, one message per line. Requests are serialized: the protocol
// pairs each response with the request that preceded it.
type Client struct {
	name   string
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu     sync.Mutex
	nextID atomic.Uint64

	// broken is set when a call abandons its response read on context
	// cancellation; the reader may still own the pipe, so further
	// requests are refused.
	broken bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for protocol-level debug output.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Connect spawns the server process and performs the initialize handshake.
// env entries are appended to the child's inherited environment.
func Connect(ctx context.Context, name, command string, args []string, env []string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stdin pipe: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stdout pipe: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp %s: start server: %w", name, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	c.stdout = scanner

	if _, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "agentkit",
			"version": "0.1.0",
		},
	}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp %s: initialize: %w", name, err)
	}

	c.logger.Debug("mcp server initialized", "server", name, "command", command)
	return c, nil
}

// ListTools requests the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("mcp %s: parse tools/list result: %w", c.name, err)
	}
	return parsed.Tools, nil
}

// CallTool invokes a remote tool. The raw result payload is returned as
// text; interpreting its structure is left to the caller.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// Close shuts the server process down. The process is killed rather than
// signalled: protocol servers are expected to treat a closed stdin as
// shutdown, and a hung one must not block the host.
func (c *Client) Close() error {
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}

// call sends one request and reads its response. The read happens on a
// goroutine selected against ctx, so a hung server cannot block the caller
// past cancellation.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil, fmt.Errorf("mcp %s: connection unusable after a cancelled request", c.name)
	}

	id := c.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp %s: marshal request: %w", c.name, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("mcp %s: write request: %w", c.name, err)
	}

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := c.readResponse(id, method)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		c.broken = true
		return nil, fmt.Errorf("mcp %s: %s: %w", c.name, method, ctx.Err())
	}
}

// readResponse consumes stdout lines until the response matching id arrives,
// skipping any non-JSON lines the server writes there (servers commonly log
// to stdout).
func (c *Client) readResponse(id uint64, method string) (json.RawMessage, error) {
	for c.stdout.Scan() {
		line := c.stdout.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Debug("skipping non-JSON line from mcp server", "server", c.name, "line", string(line))
			continue
		}
		if resp.ID != id {
			c.logger.Debug("skipping response with unexpected id", "server", c.name, "got", resp.ID, "want", id)
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp %s: %s: %w", c.name, method, resp.Error)
		}
		return resp.Result, nil
	}

	if err := c.stdout.Err(); err != nil {
		return nil, fmt.Errorf("mcp %s: read response: %w", c.name, err)
	}
	return nil, fmt.Errorf("mcp %s: server closed stdout before responding to %s", c.name, method)
}
