// Package reply turns handler output and backend results into bounded chat
// text.
package reply

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/samhotchkiss/otter-relay/internal/backend"
)

const (
	DefaultMaxLength = 1600
	// MinMaxLength is the smallest bound that still fits the truncation
	// marker after at least one rune of text.
	MinMaxLength = truncationRoom + 1

	truncationMarker = "\n\n... (truncated)"
	truncationRoom   = 20

	maxProjects           = 10
	maxFiles              = 20
	maxSnippetLines       = 20
	maxRecentLogs         = 3
	descriptionPreviewLen = 50
)

// Assembler renders replies no longer than MaxLength runes.
type Assembler struct {
	maxLength int
}

// New returns an assembler bounded to maxLength runes. Zero or less selects
// DefaultMaxLength; anything too small to hold the truncation marker is
// raised to MinMaxLength.
func New(maxLength int) *Assembler {
	switch {
	case maxLength <= 0:
		maxLength = DefaultMaxLength
	case maxLength < MinMaxLength:
		maxLength = MinMaxLength
	}
	return &Assembler{maxLength: maxLength}
}

func (a *Assembler) MaxLength() int {
	return a.maxLength
}

// Render bounds text to MaxLength runes. Over-long text keeps its first
// MaxLength-20 runes followed by a truncation marker. Render(Render(x)) ==
// Render(x).
func (a *Assembler) Render(text string) string {
	if utf8.RuneCountInString(text) <= a.maxLength {
		return text
	}
	return firstRunes(text, a.maxLength-truncationRoom) + truncationMarker
}

var statusEmoji = map[backend.Status]string{
	backend.StatusPending:    "⏳",
	backend.StatusInProgress: "🔄",
	backend.StatusCompleted:  "✅",
	backend.StatusFailed:     "❌",
	backend.StatusCancelled:  "🚫",
}

// Status renders a task status block. fallbackName is used when the backend
// does not report a project name.
func (a *Assembler) Status(st backend.SessionStatus, fallbackName string) string {
	status := st.Status
	if status == "" {
		status = backend.StatusPending
	}
	emoji, ok := statusEmoji[status]
	if !ok {
		emoji = "❓"
	}
	name := firstNonEmpty(st.ProjectName, fallbackName, "Unknown Project")
	task := firstNonEmpty(st.TaskDescription, "No description")

	var b strings.Builder
	fmt.Fprintf(&b, "%s *Task Status*\n\n", emoji)
	fmt.Fprintf(&b, "*Project:* %s\n", name)
	fmt.Fprintf(&b, "*Task:* %s\n", task)
	fmt.Fprintf(&b, "*Status:* %s\n", status)
	fmt.Fprintf(&b, "*Progress:* %d%%\n", clampProgress(st.Progress))

	if len(st.RecentLogs) > 0 {
		logs := st.RecentLogs
		if len(logs) > maxRecentLogs {
			logs = logs[len(logs)-maxRecentLogs:]
		}
		b.WriteString("\n*Recent Activity:*\n")
		b.WriteString(a.CodeSnippet(strings.Join(logs, "\n"), ""))
		b.WriteString("\n")
	}

	if status == backend.StatusCompleted && len(st.GeneratedFiles) > 0 {
		fmt.Fprintf(&b, "\n*Generated %d files*", len(st.GeneratedFiles))
	}
	return a.Render(strings.TrimRight(b.String(), "\n"))
}

// Projects renders at most ten projects and counts the rest.
func (a *Assembler) Projects(projects []backend.Project) string {
	if len(projects) == 0 {
		return "📂 You don't have any projects yet.\n\nUse `/new ProjectName` to create one."
	}

	var b strings.Builder
	b.WriteString("📁 *Your Projects:*\n\n")
	for i, p := range projects {
		if i == maxProjects {
			break
		}
		fmt.Fprintf(&b, "%d. *%s*\n", i+1, firstNonEmpty(p.Name, "Unnamed"))
		if p.Description != "" {
			fmt.Fprintf(&b, "   _%s_\n", preview(p.Description, descriptionPreviewLen))
		}
		fmt.Fprintf(&b, "   ID: `%s`\n\n", p.ID)
	}
	if len(projects) > maxProjects {
		fmt.Fprintf(&b, "... and %d more projects", len(projects)-maxProjects)
	}
	return a.Render(strings.TrimRight(b.String(), "\n"))
}

// Files renders at most twenty files and counts the rest.
func (a *Assembler) Files(files []backend.File) string {
	if len(files) == 0 {
		return "No files generated yet."
	}

	var b strings.Builder
	b.WriteString("📄 *Generated Files:*\n\n")
	for i, f := range files {
		if i == maxFiles {
			break
		}
		fmt.Fprintf(&b, "• *%s*", firstNonEmpty(f.Name, "unnamed"))
		if f.Size > 0 {
			fmt.Fprintf(&b, " (%s)", humanize.IBytes(uint64(f.Size)))
		}
		if f.URL != "" {
			fmt.Fprintf(&b, "\n  📥 %s", f.URL)
		}
		b.WriteString("\n")
	}
	if len(files) > maxFiles {
		fmt.Fprintf(&b, "\n... and %d more files", len(files)-maxFiles)
	}
	return a.Render(strings.TrimRight(b.String(), "\n"))
}

// Welcome greets a sender, by name when known.
func (a *Assembler) Welcome(name string) string {
	greeting := "Hello! "
	if name = strings.TrimSpace(name); name != "" {
		greeting = "Hello " + name + "! "
	}

	var b strings.Builder
	b.WriteString(greeting + "👋\n\n")
	b.WriteString("*Welcome to AutoCoder on WhatsApp!*\n\n")
	b.WriteString("I'm your AI coding assistant. I can help you:\n")
	b.WriteString("• 🚀 Create new coding projects\n")
	b.WriteString("• 💻 Generate code for any task\n")
	b.WriteString("• 🔧 Build complete applications\n")
	b.WriteString("• 📝 Write tests and documentation\n\n")
	b.WriteString("To get started, try:\n")
	b.WriteString("• `/new MyProject` - Create a new project\n")
	b.WriteString("• `/help` - See all commands\n")
	b.WriteString("• Or just describe what you want to build!\n\n")
	b.WriteString("_Example: \"Create a Python REST API with user authentication\"_")
	return a.Render(b.String())
}

// CodeSnippet wraps code in a monospace block. Snippets that would exceed
// MaxLength keep their first twenty lines.
func (a *Assembler) CodeSnippet(code, language string) string {
	formatted := "```" + language + "\n" + code + "\n```"
	if utf8.RuneCountInString(formatted) <= a.maxLength {
		return formatted
	}
	lines := strings.Split(code, "\n")
	if len(lines) > maxSnippetLines {
		lines = lines[:maxSnippetLines]
	}
	formatted = "```" + language + "\n" + strings.Join(lines, "\n") + "\n... (truncated)\n```"
	return a.Render(formatted)
}

func firstRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return firstRunes(s, n) + "..."
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
