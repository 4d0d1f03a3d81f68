package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

const protocolVersion = "2025-06-18"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeUnauthorized   = -32001
)

var (
	// ErrUnauthorized is returned when the server rejects the client's key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrToolFailed is returned when a tool reports isError.
	ErrToolFailed = errors.New("tool call failed")
	// ErrEmptyResult is returned when a tool result carries nothing to decode.
	ErrEmptyResult = errors.New("empty tool result")
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcReply is the client-side view of a response.
type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error returned by a remote server.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	if e.Code == codeUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
}

type ToolCallResult struct {
	Content           []ToolContent `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError,omitempty"`
}

// TextResult wraps plain text.
func TextResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ToolContent{{Type: "text", Text: text}}}
}

// ErrorResult reports a tool-level failure to the caller.
func ErrorResult(message string) ToolCallResult {
	return ToolCallResult{Content: []ToolContent{{Type: "text", Text: message}}, IsError: true}
}

// JSONResult returns v as structured content with a JSON text fallback for
// clients that only read content.
func JSONResult(v any) (ToolCallResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ToolCallResult{}, err
	}
	return ToolCallResult{
		Content:           []ToolContent{{Type: "text", Text: string(raw)}},
		StructuredContent: v,
	}, nil
}

// Text returns the first text content, or "".
func (r ToolCallResult) Text() string {
	for _, c := range r.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

// Decode unmarshals a tool result into out. Structured content wins; the
// first text content is parsed as JSON otherwise. An isError result is
// returned as ErrToolFailed.
func (r ToolCallResult) Decode(out any) error {
	if r.IsError {
		msg := r.Text()
		if msg == "" {
			msg = "no details"
		}
		return fmt.Errorf("%w: %s", ErrToolFailed, msg)
	}

	var raw []byte
	switch v := r.StructuredContent.(type) {
	case nil:
		text := r.Text()
		if text == "" {
			return ErrEmptyResult
		}
		raw = []byte(text)
	case json.RawMessage:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode structured content: %w", err)
		}
		raw = encoded
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode tool result: %w", err)
	}
	return nil
}
