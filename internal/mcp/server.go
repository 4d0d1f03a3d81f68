package mcp

import (
	"context"
	"encoding/json"
	"errors"
)

type Server struct {
	name    string
	version string
	tools   *ToolRegistry
}

func NewServer(name, version string) *Server {
	if name == "" {
		name = "otter-relay"
	}
	if version == "" {
		version = "1.0.0"
	}
	return &Server{
		name:    name,
		version: version,
		tools:   NewToolRegistry(),
	}
}

func (s *Server) RegisterTool(tool Tool) error {
	return s.tools.Register(tool)
}

func (s *Server) Handle(ctx context.Context, identity Identity, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
			"serverInfo": map[string]any{
				"name":    s.name,
				"version": s.version,
			},
		})
	case "ping", "notifications/initialized":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": s.tools.List()})
	case "tools/call":
		return s.handleToolsCall(ctx, identity, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "method not found")
	}
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, identity Identity, req rpcRequest) rpcResponse {
	var params toolsCallParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "invalid params")
	}

	result, err := s.tools.Call(ctx, identity, params.Name, params.Arguments)
	switch {
	case errors.Is(err, ErrUnknownTool):
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	case err != nil:
		// Tool failures are results, so the model-facing side can read them.
		return resultResponse(req.ID, ErrorResult(err.Error()))
	}
	if result.Content == nil {
		result.Content = []ToolContent{}
	}
	return resultResponse(req.ID, result)
}

func resultResponse(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &rpcError{
			Code:    code,
			Message: message,
		},
	}
}
