package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrInvalidToolCall = errors.New("invalid tool call")
)

type ToolHandler func(ctx context.Context, identity Identity, args map[string]any) (ToolCallResult, error)

type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

type ToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		order: make([]string, 0),
		tools: make(map[string]Tool),
	}
}

func (r *ToolRegistry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidToolCall)
	}
	if tool.Handler == nil {
		return fmt.Errorf("%w: missing handler for %s", ErrInvalidToolCall, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: duplicate tool %s", ErrInvalidToolCall, name)
	}
	if tool.InputSchema == nil {
		tool.InputSchema = map[string]any{"type": "object"}
	}
	tool.Name = name
	r.order = append(r.order, name)
	r.tools[name] = tool
	return nil
}

func (r *ToolRegistry) List() []toolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]toolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		out = append(out, toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return out
}

func (r *ToolRegistry) Call(ctx context.Context, identity Identity, name string, args map[string]any) (ToolCallResult, error) {
	toolName := strings.TrimSpace(name)
	r.mu.RLock()
	tool, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return ToolCallResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, identity, args)
}

// StringArg returns a trimmed string argument.
func StringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// RequiredStringArg returns a trimmed string argument or ErrInvalidToolCall.
func RequiredStringArg(args map[string]any, key string) (string, error) {
	v := StringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidToolCall, key)
	}
	return v, nil
}
