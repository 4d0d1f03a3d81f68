package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Caller invokes a named tool on a remote MCP server.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error)
}

// Dial returns a client for endpoint, choosing the transport from its scheme:
// ws:// and wss:// use a persistent WebSocket, anything else plain HTTP POST.
func Dial(endpoint, apiKey string, timeout time.Duration) (Caller, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("mcp endpoint is required")
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return NewWSClient(endpoint, apiKey), nil
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return NewHTTPClient(endpoint, apiKey, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported mcp endpoint scheme: %s", endpoint)
	}
}

// HTTPClient speaks JSON-RPC over one POST per call. The initialize
// handshake runs once, on the first call that succeeds in making it.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	nextID      atomic.Int64
	initMu      sync.Mutex
	initialized bool
}

func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return ToolCallResult{}, err
	}
	if args == nil {
		args = map[string]any{}
	}

	var result ToolCallResult
	err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &result)
	if err != nil {
		return ToolCallResult{}, fmt.Errorf("call %s: %w", name, err)
	}
	return result, nil
}

func (c *HTTPClient) ensureInitialized(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}

	var result map[string]any
	if err := c.call(ctx, "initialize", initializeParams(), &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.post(ctx, rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"}, nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	c.initialized = true
	return nil
}

func (c *HTTPClient) call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10)),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	var reply rpcReply
	if err := c.post(ctx, req, &reply); err != nil {
		return err
	}
	if reply.Error != nil {
		return &RPCError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, req rpcRequest, reply *rpcReply) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if reply == nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("mcp server returned %d", resp.StatusCode)
		}
		return nil
	}

	if err := json.Unmarshal(data, reply); err != nil || (reply.Error == nil && reply.Result == nil) {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("mcp server returned %d", resp.StatusCode)
		}
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func initializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "otter-relay",
			"version": "1.0.0",
		},
	}
}

// InProcessCaller calls a Server directly, going through the same JSON
// encoding a remote call would.
type InProcessCaller struct {
	server   *Server
	identity Identity
	nextID   atomic.Int64
}

func NewInProcessCaller(server *Server) *InProcessCaller {
	return &InProcessCaller{server: server, identity: Identity{Client: "in-process"}}
}

func (c *InProcessCaller) CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	params, err := json.Marshal(map[string]any{"name": name, "arguments": args})
	if err != nil {
		return ToolCallResult{}, fmt.Errorf("encode params: %w", err)
	}

	resp := c.server.Handle(ctx, c.identity, rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10)),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		return ToolCallResult{}, fmt.Errorf("call %s: %w", name, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message})
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return ToolCallResult{}, fmt.Errorf("encode result: %w", err)
	}
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ToolCallResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
