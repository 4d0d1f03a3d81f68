package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samhotchkiss/otter-relay/internal/mcp"
)

// StubOptions configures Stub.
type StubOptions struct {
	// TaskDuration is how long a simulated task takes to complete.
	TaskDuration time.Duration
	// FileBaseURL prefixes download links for generated files.
	FileBaseURL string
	Now         func() time.Time
}

// Stub is an in-memory AutoCoder used for local development and tests. Tasks
// progress with wall-clock time and finish with a fixed set of files.
type Stub struct {
	mu       sync.Mutex
	projects []Project
	sessions map[string]*stubSession
	latest   map[string]string

	taskDuration time.Duration
	fileBaseURL  string
	now          func() time.Time
}

type stubSession struct {
	id          string
	projectID   string
	description string
	startedAt   time.Time
}

var stubStages = []string{
	"Cloning repository...",
	"Installing dependencies...",
	"Planning changes...",
	"Generating code...",
	"Running tests...",
	"Packaging results...",
}

var stubFiles = []File{
	{Name: "main.go", Size: 1234},
	{Name: "go.mod", Size: 56},
	{Name: "README.md", Size: 1024},
}

func NewStub(opts StubOptions) *Stub {
	s := &Stub{
		sessions:     make(map[string]*stubSession),
		latest:       make(map[string]string),
		taskDuration: opts.TaskDuration,
		fileBaseURL:  strings.TrimRight(opts.FileBaseURL, "/"),
		now:          opts.Now,
	}
	if s.taskDuration <= 0 {
		s.taskDuration = 2 * time.Minute
	}
	if s.fileBaseURL == "" {
		s.fileBaseURL = "https://autocoder.local/files"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register adds the AutoCoder tools to server.
func (s *Stub) Register(server *mcp.Server) error {
	tools := []mcp.Tool{
		{
			Name:        ToolCreateProject,
			Description: "Create a new coding project",
			InputSchema: objectSchema([]string{"name"}, "name", "description"),
			Handler:     s.handleCreateProject,
		},
		{
			Name:        ToolListProjects,
			Description: "List all coding projects",
			Handler:     s.handleListProjects,
		},
		{
			Name:        ToolExecuteCodingTask,
			Description: "Execute a coding task for a project",
			InputSchema: objectSchema([]string{"project_id", "task_description"}, "project_id", "task_description"),
			Handler:     s.handleExecuteTask,
		},
		{
			Name:        ToolSessionDetails,
			Description: "Get details of a coding session",
			InputSchema: objectSchema(nil, "session_id", "project_id"),
			Handler:     s.handleSessionDetails,
		},
		{
			Name:        ToolSessionFiles,
			Description: "Get files generated in a coding session",
			InputSchema: objectSchema(nil, "session_id", "project_id"),
			Handler:     s.handleSessionFiles,
		},
	}
	for _, tool := range tools {
		if err := server.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stub) handleCreateProject(_ context.Context, _ mcp.Identity, args map[string]any) (mcp.ToolCallResult, error) {
	name, err := mcp.RequiredStringArg(args, "name")
	if err != nil {
		return mcp.ToolCallResult{}, err
	}
	description := mcp.StringArg(args, "description")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if strings.EqualFold(p.Name, name) {
			return mcp.JSONResult(CreateProjectResult{
				Success: false,
				Error:   fmt.Sprintf("project '%s' already exists", name),
			})
		}
	}

	project := Project{ID: "proj_" + shortID(), Name: name, Description: description}
	s.projects = append(s.projects, project)
	return mcp.JSONResult(CreateProjectResult{
		Success:     true,
		ProjectID:   project.ID,
		Name:        project.Name,
		Description: project.Description,
	})
}

func (s *Stub) handleListProjects(_ context.Context, _ mcp.Identity, _ map[string]any) (mcp.ToolCallResult, error) {
	s.mu.Lock()
	projects := make([]Project, len(s.projects))
	copy(projects, s.projects)
	s.mu.Unlock()

	return mcp.JSONResult(map[string]any{"projects": projects})
}

func (s *Stub) handleExecuteTask(_ context.Context, _ mcp.Identity, args map[string]any) (mcp.ToolCallResult, error) {
	projectID, err := mcp.RequiredStringArg(args, "project_id")
	if err != nil {
		return mcp.ToolCallResult{}, err
	}
	description, err := mcp.RequiredStringArg(args, "task_description")
	if err != nil {
		return mcp.ToolCallResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projectLocked(projectID); !ok {
		return mcp.JSONResult(TaskResult{Success: false, Error: "unknown project " + projectID})
	}

	session := &stubSession{
		id:          "sess_" + shortID(),
		projectID:   projectID,
		description: description,
		startedAt:   s.now(),
	}
	s.sessions[session.id] = session
	s.latest[projectID] = session.id

	return mcp.JSONResult(TaskResult{
		Success:   true,
		SessionID: session.id,
		Status:    StatusPending,
		Message:   "Task queued",
	})
}

func (s *Stub) handleSessionDetails(_ context.Context, _ mcp.Identity, args map[string]any) (mcp.ToolCallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, session, err := s.resolveLocked(args)
	if err != nil {
		return mcp.ToolCallResult{}, err
	}
	if session == nil {
		return mcp.JSONResult(SessionStatus{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			Status:      StatusPending,
		})
	}
	return mcp.JSONResult(s.statusLocked(project, session))
}

func (s *Stub) handleSessionFiles(_ context.Context, _ mcp.Identity, args map[string]any) (mcp.ToolCallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, session, err := s.resolveLocked(args)
	if err != nil {
		return mcp.ToolCallResult{}, err
	}
	files := []File{}
	if session != nil && s.statusLocked(project, session).Status == StatusCompleted {
		files = s.filesFor(session)
	}
	return mcp.JSONResult(map[string]any{"files": files})
}

func (s *Stub) resolveLocked(args map[string]any) (Project, *stubSession, error) {
	sessionID := mcp.StringArg(args, "session_id")
	projectID := mcp.StringArg(args, "project_id")

	if sessionID != "" {
		session, ok := s.sessions[sessionID]
		if !ok {
			return Project{}, nil, fmt.Errorf("unknown session %s", sessionID)
		}
		project, _ := s.projectLocked(session.projectID)
		return project, session, nil
	}
	if projectID == "" {
		return Project{}, nil, errors.New("session_id or project_id is required")
	}

	project, ok := s.projectLocked(projectID)
	if !ok {
		return Project{}, nil, fmt.Errorf("unknown project %s", projectID)
	}
	if latest, ok := s.latest[projectID]; ok {
		return project, s.sessions[latest], nil
	}
	return project, nil, nil
}

func (s *Stub) projectLocked(id string) (Project, bool) {
	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}

func (s *Stub) statusLocked(project Project, session *stubSession) SessionStatus {
	elapsed := s.now().Sub(session.startedAt)
	progress := int(elapsed * 100 / s.taskDuration)
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}

	status := StatusInProgress
	switch {
	case progress == 0:
		status = StatusPending
	case progress == 100:
		status = StatusCompleted
	}

	stages := len(stubStages) * progress / 100
	if stages == 0 && status != StatusPending {
		stages = 1
	}

	out := SessionStatus{
		SessionID:       session.id,
		ProjectID:       project.ID,
		ProjectName:     project.Name,
		TaskDescription: session.description,
		Status:          status,
		Progress:        progress,
		RecentLogs:      append([]string(nil), stubStages[:stages]...),
	}
	if status == StatusCompleted {
		for _, f := range stubFiles {
			out.GeneratedFiles = append(out.GeneratedFiles, f.Name)
		}
	}
	return out
}

func (s *Stub) filesFor(session *stubSession) []File {
	files := make([]File, 0, len(stubFiles))
	for _, f := range stubFiles {
		f.URL = fmt.Sprintf("%s/%s/%s", s.fileBaseURL, session.id, f.Name)
		files = append(files, f)
	}
	return files
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func objectSchema(required []string, props ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for _, p := range props {
		properties[p] = map[string]any{"type": "string"}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
