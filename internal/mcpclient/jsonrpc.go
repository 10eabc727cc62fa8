package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Transport carries JSON-RPC frames to and from an MCP tool server.
// Matches the teacher's mcp.Transport shape so a StdioTransport or
// WebSocket transport can be dropped in without changing JSONRPCClient.
type Transport interface {
	Send(ctx context.Context, msg json.RawMessage) error
	Receive(ctx context.Context) (json.RawMessage, error)
	Close() error
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int64           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSONRPCClient implements Invoker over a JSON-RPC Transport, one
// pending-call map keyed by request ID, the same correlation pattern
// as the teacher's mcp.Client.
type JSONRPCClient struct {
	transport Transport
	nextID    int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
}

// NewJSONRPCClient wraps transport and starts its receive loop.
func NewJSONRPCClient(transport Transport) *JSONRPCClient {
	c := &JSONRPCClient{
		transport: transport,
		pending:   make(map[int64]chan rpcResponse),
	}
	go c.listen()
	return c
}

func (c *JSONRPCClient) listen() {
	for {
		msg, err := c.transport.Receive(context.Background())
		if err != nil {
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *JSONRPCClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	var paramsJSON json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcpclient: marshal params: %w", err)
		}
		paramsJSON = b
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: paramsJSON, ID: id})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal request: %w", err)
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.transport.Send(ctx, body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("mcpclient: send: %w", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("mcpclient: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// ListTools implements Invoker via the tools/list method.
func (c *JSONRPCClient) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: tools/list: %w", err)
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: unmarshal tools: %w", err)
	}
	return result.Tools, nil
}

// Invoke implements Invoker via the tools/call method.
func (c *JSONRPCClient) Invoke(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	params := map[string]any{"name": tool, "arguments": args}
	res, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: tools/call: %w", err)
	}
	return res, nil
}

// Close releases the underlying transport.
func (c *JSONRPCClient) Close() error {
	return c.transport.Close()
}

var _ Invoker = (*JSONRPCClient)(nil)
