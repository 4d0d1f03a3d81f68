// Package backend is the typed AutoCoder tool surface the relay calls over MCP.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samhotchkiss/otter-relay/internal/mcp"
)

// Tool names exposed by AutoCoder.
const (
	ToolCreateProject     = "create_project"
	ToolListProjects      = "list_projects"
	ToolExecuteCodingTask = "execute_coding_task"
	ToolSessionDetails    = "get_session_details"
	ToolSessionFiles      = "get_session_files"
)

var (
	// ErrUnauthorized means AutoCoder rejected the relay's API key.
	ErrUnauthorized = mcp.ErrUnauthorized
	// ErrRejected means a tool answered with success=false.
	ErrRejected = errors.New("request rejected by backend")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CreateProjectResult struct {
	Success     bool   `json:"success"`
	ProjectID   string `json:"project_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

type TaskResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Status    Status `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SessionStatus struct {
	SessionID       string   `json:"session_id,omitempty"`
	ProjectID       string   `json:"project_id,omitempty"`
	ProjectName     string   `json:"project_name,omitempty"`
	TaskDescription string   `json:"task_description,omitempty"`
	Status          Status   `json:"status"`
	Progress        int      `json:"progress"`
	RecentLogs      []string `json:"recent_logs,omitempty"`
	GeneratedFiles  []string `json:"generated_files,omitempty"`
}

type File struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}

// SessionRef names a task session. ProjectID alone means the project's
// latest session.
type SessionRef struct {
	SessionID string
	ProjectID string
}

func (r SessionRef) args() map[string]any {
	args := map[string]any{}
	if r.SessionID != "" {
		args["session_id"] = r.SessionID
	}
	if r.ProjectID != "" {
		args["project_id"] = r.ProjectID
	}
	return args
}

// Backend is what command handlers and the reasoner need from AutoCoder.
type Backend interface {
	CreateProject(ctx context.Context, name, description string) (CreateProjectResult, error)
	ListProjects(ctx context.Context) ([]Project, error)
	ExecuteTask(ctx context.Context, projectID, description string) (TaskResult, error)
	SessionStatus(ctx context.Context, ref SessionRef) (SessionStatus, error)
	SessionFiles(ctx context.Context, ref SessionRef) ([]File, error)
}

// Client implements Backend over an MCP caller.
type Client struct {
	caller mcp.Caller
	logger *slog.Logger
}

func NewClient(caller mcp.Caller, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{caller: caller, logger: logger}
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (CreateProjectResult, error) {
	var result CreateProjectResult
	if err := c.call(ctx, ToolCreateProject, map[string]any{
		"name":        name,
		"description": description,
	}, &result); err != nil {
		return CreateProjectResult{}, err
	}
	if !result.Success {
		return result, rejection(result.Error)
	}
	if strings.TrimSpace(result.ProjectID) == "" {
		return result, fmt.Errorf("%s: missing project_id", ToolCreateProject)
	}
	if result.Name == "" {
		result.Name = name
	}
	return result, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var result struct {
		Projects []Project `json:"projects"`
	}
	if err := c.call(ctx, ToolListProjects, map[string]any{}, &result); err != nil {
		return nil, err
	}
	if result.Projects == nil {
		return []Project{}, nil
	}
	return result.Projects, nil
}

func (c *Client) ExecuteTask(ctx context.Context, projectID, description string) (TaskResult, error) {
	var result TaskResult
	if err := c.call(ctx, ToolExecuteCodingTask, map[string]any{
		"project_id":       projectID,
		"task_description": description,
	}, &result); err != nil {
		return TaskResult{}, err
	}
	if !result.Success {
		return result, rejection(result.Error)
	}
	return result, nil
}

func (c *Client) SessionStatus(ctx context.Context, ref SessionRef) (SessionStatus, error) {
	var result SessionStatus
	if err := c.call(ctx, ToolSessionDetails, ref.args(), &result); err != nil {
		return SessionStatus{}, err
	}
	if result.Status == "" {
		result.Status = StatusPending
	}
	return result, nil
}

func (c *Client) SessionFiles(ctx context.Context, ref SessionRef) ([]File, error) {
	var result struct {
		Files []File `json:"files"`
	}
	if err := c.call(ctx, ToolSessionFiles, ref.args(), &result); err != nil {
		return nil, err
	}
	if result.Files == nil {
		return []File{}, nil
	}
	return result.Files, nil
}

func (c *Client) call(ctx context.Context, tool string, args map[string]any, out any) error {
	c.logger.Debug("calling backend tool", "tool", tool)
	result, err := c.caller.CallTool(ctx, tool, args)
	if err != nil {
		c.logger.Warn("backend tool failed", "tool", tool, "err", err)
		return err
	}
	if err := result.Decode(out); err != nil {
		c.logger.Warn("backend tool returned unusable result", "tool", tool, "err", err)
		return fmt.Errorf("%s: %w", tool, err)
	}
	return nil
}

func rejection(detail string) error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return ErrRejected
	}
	return fmt.Errorf("%w: %s", ErrRejected, detail)
}
