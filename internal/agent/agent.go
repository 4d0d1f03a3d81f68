// Package agent answers free-text messages, running them as coding tasks on
// the sender's active project.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samhotchkiss/otter-relay/internal/backend"
	"github.com/samhotchkiss/otter-relay/internal/reply"
	"github.com/samhotchkiss/otter-relay/internal/session"
)

// Reasoner turns free text into a reply. It may record changes on view.
type Reasoner interface {
	Process(ctx context.Context, text string, view *session.View) (string, error)
}

const taskPreviewLen = 80

// TaskAgent recognizes a few conversational intents and sends everything
// else to AutoCoder as a coding task.
type TaskAgent struct {
	backend   backend.Backend
	assembler *reply.Assembler
	logger    *slog.Logger
}

func NewTaskAgent(b backend.Backend, assembler *reply.Assembler, logger *slog.Logger) *TaskAgent {
	if assembler == nil {
		assembler = reply.New(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskAgent{backend: b, assembler: assembler, logger: logger}
}

func (a *TaskAgent) Process(ctx context.Context, text string, view *session.View) (string, error) {
	words := wordSet(text)

	// Intents are checked in priority order: a greeting that also asks for
	// something gets the answer to the request.
	switch {
	case words["create"] && (words["project"] || words["projects"]):
		return "It looks like you want to create a project. You can use the `/new` command or I can create one for you. What would you like to name it?", nil
	case words["status"] || words["update"] || words["progress"]:
		return "I can check the status for you. Use the `/status` command to get the latest update.", nil
	case words["hello"] || words["hi"] || words["hey"]:
		if len(view.Session().History) == 0 {
			return a.assembler.Welcome(view.Context().ProfileName), nil
		}
		return "Hello there! How can I help you today?", nil
	}

	projectID := view.ActiveProject()
	if projectID == "" {
		return fmt.Sprintf("I'd love to help with \"%s\". First create a project with `/new ProjectName` or pick one from `/list`.", preview(text)), nil
	}

	task, err := a.backend.ExecuteTask(ctx, projectID, text)
	if err != nil {
		return "", fmt.Errorf("execute task on %s: %w", projectID, err)
	}
	view.UpdateContext(session.ContextPatch{
		LastTaskSessionID:   session.String(task.SessionID),
		LastTaskDescription: session.String(text),
	})
	a.logger.Info("task started", "sender", view.SenderID(), "project", projectID, "session", task.SessionID)

	name := view.Context().ActiveProjectName
	if name == "" {
		name = projectID
	}
	var b strings.Builder
	b.WriteString("🚀 *Working on it!*\n\n")
	fmt.Fprintf(&b, "*Project:* %s\n", name)
	fmt.Fprintf(&b, "*Task:* %s\n", preview(text))
	if task.SessionID != "" {
		fmt.Fprintf(&b, "*Session:* `%s`\n", task.SessionID)
	}
	b.WriteString("\nCheck progress with /status and results with /files.")
	return b.String(), nil
}

func wordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= taskPreviewLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:taskPreviewLen]) + "..."
}
