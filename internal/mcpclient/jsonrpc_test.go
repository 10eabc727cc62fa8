package mcpclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// loopbackTransport echoes a scripted response for each request it sees,
// simulating an MCP server without a subprocess or socket.
type loopbackTransport struct {
	toServer chan json.RawMessage
	toClient chan json.RawMessage
	closed   chan struct{}
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{
		toServer: make(chan json.RawMessage, 8),
		toClient: make(chan json.RawMessage, 8),
		closed:   make(chan struct{}),
	}
}

func (t *loopbackTransport) Send(ctx context.Context, msg json.RawMessage) error {
	select {
	case t.toServer <- msg:
		return nil
	case <-t.closed:
		return context.Canceled
	}
}

func (t *loopbackTransport) Receive(ctx context.Context) (json.RawMessage, error) {
	select {
	case msg := <-t.toClient:
		return msg, nil
	case <-t.closed:
		return nil, context.Canceled
	}
}

func (t *loopbackTransport) Close() error {
	close(t.closed)
	return nil
}

// serve reads one request from toServer and replies with result on toClient.
func (t *loopbackTransport) serve(result json.RawMessage) {
	req := <-t.toServer
	var parsed rpcRequest
	json.Unmarshal(req, &parsed)
	resp, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", Result: result, ID: parsed.ID})
	t.toClient <- resp
}

func TestJSONRPCClient_ListTools(t *testing.T) {
	transport := newLoopbackTransport()
	client := NewJSONRPCClient(transport)
	defer client.Close()

	go transport.serve(json.RawMessage(`{"tools":[{"name":"search","description":"web search"}]}`))

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestJSONRPCClient_Invoke(t *testing.T) {
	transport := newLoopbackTransport()
	client := NewJSONRPCClient(transport)
	defer client.Close()

	go transport.serve(json.RawMessage(`{"content":[{"type":"text","text":"42"}]}`))

	result, err := client.Invoke(context.Background(), "calculator", json.RawMessage(`{"expr":"6*7"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

func TestJSONRPCClient_ContextCancelUnblocksCall(t *testing.T) {
	transport := newLoopbackTransport()
	client := NewJSONRPCClient(transport)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// No server response scripted: the call should time out via ctx.
	_, err := client.ListTools(ctx)
	if err == nil {
		t.Fatal("expected a context deadline error")
	}
}
