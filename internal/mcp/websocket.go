package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
)

const wsReadLimit = 4 << 20

// WSClient keeps one JSON-RPC connection open over a WebSocket and redials
// after it drops.
type WSClient struct {
	url    string
	apiKey string

	mu   sync.Mutex
	conn *jsonrpc2.Conn
}

func NewWSClient(url, apiKey string) *WSClient {
	return &WSClient{url: url, apiKey: apiKey}
}

func (c *WSClient) CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return ToolCallResult{}, err
	}
	if args == nil {
		args = map[string]any{}
	}

	var result ToolCallResult
	if err := conn.Call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &result); err != nil {
		return ToolCallResult{}, fmt.Errorf("call %s: %w", name, translateRPCError(err))
	}
	return result, nil
}

// Close drops the current connection, if any.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WSClient) connection(ctx context.Context) (*jsonrpc2.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		select {
		case <-c.conn.DisconnectNotify():
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.apiKey != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.apiKey)
	}
	ws, resp, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: dial status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	ws.SetReadLimit(wsReadLimit)

	conn := jsonrpc2.NewConn(context.Background(), newWebSocketStream(ws), ignoreRequests{})

	var result map[string]any
	if err := conn.Call(ctx, "initialize", initializeParams(), &result); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize: %w", translateRPCError(err))
	}
	if err := conn.Notify(ctx, "notifications/initialized", nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.conn = conn
	return conn, nil
}

func translateRPCError(err error) error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Code: int(rpcErr.Code), Message: rpcErr.Message}
	}
	return err
}

type ignoreRequests struct{}

func (ignoreRequests) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}

// WebSocketHandler serves the MCP server over JSON-RPC on a WebSocket.
type WebSocketHandler struct {
	server *Server
	auth   Authenticator
	logger *slog.Logger
}

func NewWebSocketHandler(server *Server, auth Authenticator, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{server: server, auth: auth, logger: logger}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		http.Error(w, "authenticator not configured", http.StatusUnauthorized)
		return
	}
	identity, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err)
		return
	}
	ws.SetReadLimit(wsReadLimit)

	log := h.logger.With("connId", uuid.NewString())
	log.Debug("mcp websocket connected")

	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		rpcReq := rpcRequest{JSONRPC: "2.0", Method: req.Method}
		if req.Params != nil {
			rpcReq.Params = *req.Params
		}
		resp := h.server.Handle(ctx, identity, rpcReq)
		if resp.Error != nil {
			return nil, &jsonrpc2.Error{Code: int64(resp.Error.Code), Message: resp.Error.Message}
		}
		return resp.Result, nil
	})

	conn := jsonrpc2.NewConn(r.Context(), newWebSocketStream(ws), jsonrpc2.AsyncHandler(handler))
	<-conn.DisconnectNotify()
	log.Debug("mcp websocket closed")
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v interface{}) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
