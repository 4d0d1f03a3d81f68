package command

import (
	"context"

	"github.com/samhotchkiss/otter-relay/internal/backend"
	"github.com/samhotchkiss/otter-relay/internal/reply"
	"github.com/samhotchkiss/otter-relay/internal/session"
)

const (
	helpText = "📚 *Available Commands*\n\n" +
		"/help - Show this help message\n" +
		"/new [name] - Create a new project\n" +
		"/list - List all your projects\n" +
		"/status - Check current task status\n" +
		"/files - Get generated files\n" +
		"/clear - Clear conversation history\n\n" +
		"You can also just describe what you want to build in natural language!\n\n" +
		"Example: \"Create a Python REST API with user authentication\""

	newUsageText          = "Please provide a project name. Example: /new MyWebApp"
	noActiveProject       = "No active project. Use /new to create one or /list to see your projects."
	clearedText           = "✅ Conversation history cleared."
	newProjectDescription = "Created via WhatsApp"
)

func (d *Dispatcher) handleHelp(_ context.Context, _ string, _ *session.View) Result {
	return Result{Kind: Success, Text: helpText}
}

func (d *Dispatcher) handleNew(ctx context.Context, args string, view *session.View) Result {
	if args == "" {
		return Result{Kind: Precondition, Text: newUsageText}
	}

	created, err := d.backend.CreateProject(ctx, args, newProjectDescription)
	if err != nil {
		return d.failure("create project", err, true)
	}

	view.SetActiveProject(created.ProjectID, created.Name)
	// A new project starts without a task.
	view.UpdateContext(session.ContextPatch{
		LastTaskSessionID:   session.String(""),
		LastTaskDescription: session.String(""),
	})
	return Result{
		Kind: Success,
		Text: "✅ Project '" + args + "' created successfully!\n\nNow describe what you want to build.",
	}
}

func (d *Dispatcher) handleList(ctx context.Context, _ string, _ *session.View) Result {
	projects, err := d.backend.ListProjects(ctx)
	if err != nil {
		return d.failure("list projects", err, false)
	}
	return Result{Kind: Success, Text: d.assembler.Projects(projects)}
}

func (d *Dispatcher) handleStatus(ctx context.Context, _ string, view *session.View) Result {
	projectID := view.ActiveProject()
	if projectID == "" {
		return Result{Kind: Precondition, Text: noActiveProject}
	}

	status, err := d.backend.SessionStatus(ctx, d.sessionRef(view))
	if err != nil {
		return d.failure("get status", err, false)
	}
	if status.TaskDescription == "" && status.SessionID == view.Context().LastTaskSessionID {
		status.TaskDescription = view.Context().LastTaskDescription
	}
	return Result{Kind: Success, Text: d.assembler.Status(status, view.Context().ActiveProjectName)}
}

func (d *Dispatcher) handleFiles(ctx context.Context, _ string, view *session.View) Result {
	if view.ActiveProject() == "" {
		return Result{Kind: Precondition, Text: noActiveProject}
	}

	files, err := d.backend.SessionFiles(ctx, d.sessionRef(view))
	if err != nil {
		return d.failure("get files", err, false)
	}
	return Result{Kind: Success, Text: d.assembler.Files(files)}
}

func (d *Dispatcher) handleClear(_ context.Context, _ string, view *session.View) Result {
	view.ClearHistory()
	return Result{Kind: Success, Text: clearedText}
}

func (d *Dispatcher) sessionRef(view *session.View) backend.SessionRef {
	return backend.SessionRef{
		SessionID: view.Context().LastTaskSessionID,
		ProjectID: view.ActiveProject(),
	}
}

// failure turns a backend error into a ❌ reply. Connection, timeout and
// authorization problems get the assembler's explanation; anything else a
// short "Failed to ..." line, with the cause when withCause is set.
func (d *Dispatcher) failure(action string, err error, withCause bool) Result {
	d.logger.Warn("backend call failed", "action", action, "err", err)

	if reply.Classify(err) != reply.ErrorGeneric {
		return Result{Kind: BackendFailure, Text: d.assembler.Error(err)}
	}
	text := "❌ Failed to " + action + "."
	if withCause {
		text = "❌ Failed to " + action + ": " + err.Error()
	}
	return Result{Kind: BackendFailure, Text: d.assembler.Render(text)}
}
