package reply

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/samhotchkiss/otter-relay/internal/backend"
)

func TestRenderBoundsAndIsIdempotent(t *testing.T) {
	a := New(0)
	require.Equal(t, DefaultMaxLength, a.MaxLength())

	testCases := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "short", text: "hello"},
		{name: "exactly max", text: strings.Repeat("a", DefaultMaxLength)},
		{name: "one over", text: strings.Repeat("a", DefaultMaxLength+1)},
		{name: "multibyte", text: strings.Repeat("é🚀", DefaultMaxLength)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			once := a.Render(tc.text)
			require.LessOrEqual(t, utf8.RuneCountInString(once), DefaultMaxLength)
			require.True(t, utf8.ValidString(once))
			require.Equal(t, once, a.Render(once))

			if utf8.RuneCountInString(tc.text) <= DefaultMaxLength {
				require.Equal(t, tc.text, once)
			} else {
				require.True(t, strings.HasSuffix(once, "\n\n... (truncated)"))
				require.Equal(t, DefaultMaxLength-20+utf8.RuneCountInString("\n\n... (truncated)"), utf8.RuneCountInString(once))
			}
		})
	}
}

func TestRenderTinyLimitKeepsMarker(t *testing.T) {
	for _, max := range []int{1, 10, 20, MinMaxLength} {
		a := New(max)
		require.Equal(t, MinMaxLength, a.MaxLength())

		out := a.Render(strings.Repeat("x", 50))
		require.True(t, strings.HasSuffix(out, "\n\n... (truncated)"), out)
		require.LessOrEqual(t, utf8.RuneCountInString(out), a.MaxLength())
		require.Equal(t, out, a.Render(out))
	}
}

func TestStatusAlwaysShowsCoreFields(t *testing.T) {
	a := New(0)

	out := a.Status(backend.SessionStatus{}, "Demo")
	require.Contains(t, out, "⏳ *Task Status*")
	require.Contains(t, out, "*Project:* Demo")
	require.Contains(t, out, "*Task:* No description")
	require.Contains(t, out, "*Status:* pending")
	require.Contains(t, out, "*Progress:* 0%")

	out = a.Status(backend.SessionStatus{
		ProjectName:     "MyWebApp",
		TaskDescription: "Build a REST API",
		Status:          backend.StatusCompleted,
		Progress:        140,
		RecentLogs:      []string{"one", "two", "three", "four"},
		GeneratedFiles:  []string{"a", "b"},
	}, "ignored")
	require.Contains(t, out, "✅ *Task Status*")
	require.Contains(t, out, "*Project:* MyWebApp")
	require.Contains(t, out, "*Progress:* 100%")
	require.NotContains(t, out, "one")
	require.Contains(t, out, "*Recent Activity:*\n```\ntwo\nthree\nfour\n```")
	require.Contains(t, out, "*Generated 2 files*")

	out = a.Status(backend.SessionStatus{Status: "weird"}, "")
	require.Contains(t, out, "❓")
	require.Contains(t, out, "Unknown Project")
}

func TestProjectsCapsAtTen(t *testing.T) {
	a := New(5000)
	require.Contains(t, a.Projects(nil), "don't have any projects yet")

	projects := make([]backend.Project, 13)
	for i := range projects {
		projects[i] = backend.Project{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Project %d", i)}
	}
	projects[0].Description = strings.Repeat("d", 60)

	out := a.Projects(projects)
	require.Contains(t, out, "10. *Project 9*")
	require.NotContains(t, out, "Project 10*")
	require.True(t, strings.HasSuffix(out, "... and 3 more projects"))
	require.Contains(t, out, "_"+strings.Repeat("d", 50)+"..._")

	out = a.Projects(projects[:10])
	require.NotContains(t, out, "more projects")
}

func TestFilesCapsAtTwenty(t *testing.T) {
	a := New(5000)
	require.Equal(t, "No files generated yet.", a.Files(nil))

	files := make([]backend.File, 25)
	for i := range files {
		files[i] = backend.File{Name: fmt.Sprintf("f%02d.go", i)}
	}
	files[0].Size = 2048
	files[0].URL = "https://example.com/f00.go"

	out := a.Files(files)
	require.Contains(t, out, "• *f00.go* (2.0 KiB)\n  📥 https://example.com/f00.go")
	require.Contains(t, out, "f19.go")
	require.NotContains(t, out, "f20.go")
	require.True(t, strings.HasSuffix(out, "... and 5 more files"))
}

func TestWelcome(t *testing.T) {
	a := New(0)
	require.True(t, strings.HasPrefix(a.Welcome("Ann"), "Hello Ann! 👋"))
	require.True(t, strings.HasPrefix(a.Welcome(" "), "Hello! 👋"))
}

func TestCodeSnippet(t *testing.T) {
	a := New(200)
	require.Equal(t, "```go\nfmt.Println(1)\n```", a.CodeSnippet("fmt.Println(1)", "go"))

	lines := make([]string, 40)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	out := a.CodeSnippet(strings.Join(lines, "\n"), "")
	require.LessOrEqual(t, utf8.RuneCountInString(out), 200)
	require.Contains(t, out, "line 0")
	require.NotContains(t, out, "line 20")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ErrorGeneric},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ErrorTimeout},
		{name: "net timeout", err: timeoutErr{}, want: ErrorTimeout},
		{name: "unauthorized", err: fmt.Errorf("initialize: %w", backend.ErrUnauthorized), want: ErrorAuthorization},
		{name: "refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: ErrorConnection},
		{name: "text connection", err: errors.New("Connection reset by peer"), want: ErrorConnection},
		{name: "text timeout", err: errors.New("gateway timeout"), want: ErrorTimeout},
		{name: "generic", err: errors.New("bad things"), want: ErrorGeneric},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	a := New(0)
	for _, err := range []error{
		context.DeadlineExceeded,
		backend.ErrUnauthorized,
		errors.New("connection refused"),
		errors.New("boom"),
	} {
		require.True(t, strings.HasPrefix(a.Error(err), "❌"), a.Error(err))
	}
	require.Contains(t, a.Error(context.DeadlineExceeded), "Request Timeout")
	require.Contains(t, a.Error(backend.ErrUnauthorized), "Authorization Error")
	require.Contains(t, a.Error(errors.New("connection refused")), "Connection Error")

	long := errors.New(strings.Repeat("z", 500))
	out := a.Error(long)
	require.Contains(t, out, strings.Repeat("z", 200))
	require.NotContains(t, out, strings.Repeat("z", 201))
}
