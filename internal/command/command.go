// Package command classifies inbound text and runs slash commands against a
// session view.
package command

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/samhotchkiss/otter-relay/internal/backend"
	"github.com/samhotchkiss/otter-relay/internal/reply"
	"github.com/samhotchkiss/otter-relay/internal/session"
)

// Prefix marks a message as a command.
const Prefix = "/"

// Kind is the outcome class of a handler.
type Kind int

const (
	Success Kind = iota
	Precondition
	BackendFailure
	Unknown
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Precondition:
		return "precondition"
	case BackendFailure:
		return "backend_failure"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Result is what a handler hands back: always text for the sender, never an
// error.
type Result struct {
	Kind Kind
	Text string
}

// Message is a classified inbound message.
type Message struct {
	Text      string
	IsCommand bool
	Name      string
	Args      string
}

// Classify decides whether text is a command. Commands start with "/" after
// trimming; the name is the first token, lower-cased, and the args are the
// trimmed remainder.
func Classify(text string) Message {
	trimmed := strings.TrimSpace(text)
	msg := Message{Text: trimmed}
	if !strings.HasPrefix(trimmed, Prefix) {
		return msg
	}

	msg.IsCommand = true
	body := strings.TrimPrefix(trimmed, Prefix)
	name, args := body, ""
	if idx := strings.IndexFunc(body, unicode.IsSpace); idx >= 0 {
		name, args = body[:idx], body[idx:]
	}
	msg.Name = strings.ToLower(name)
	msg.Args = strings.TrimSpace(args)
	return msg
}

// Handler runs one command. It may mutate view; it must not touch the store.
type Handler func(ctx context.Context, args string, view *session.View) Result

// Dispatcher routes commands to handlers.
type Dispatcher struct {
	handlers  map[string]Handler
	backend   backend.Backend
	assembler *reply.Assembler
	logger    *slog.Logger
}

// NewDispatcher returns a dispatcher with the built-in commands registered.
func NewDispatcher(b backend.Backend, assembler *reply.Assembler, logger *slog.Logger) *Dispatcher {
	if assembler == nil {
		assembler = reply.New(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handlers:  make(map[string]Handler),
		backend:   b,
		assembler: assembler,
		logger:    logger,
	}
	d.Register("help", d.handleHelp)
	d.Register("new", d.handleNew)
	d.Register("list", d.handleList)
	d.Register("status", d.handleStatus)
	d.Register("files", d.handleFiles)
	d.Register("clear", d.handleClear)
	return d
}

// Register adds or replaces a handler.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[strings.ToLower(strings.TrimSpace(name))] = h
}

// commands lists registered command names, sorted.
func (d *Dispatcher) commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs msg's handler. Unknown commands get a hint instead of an
// error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, view *session.View) Result {
	h, ok := d.handlers[msg.Name]
	if !ok {
		d.logger.Info("unknown command", "sender", view.SenderID(), "command", msg.Name)
		return Result{
			Kind: Unknown,
			Text: "Unknown command: /" + msg.Name + ". Type /help to see available commands.",
		}
	}

	result := h(ctx, msg.Args, view)
	d.logger.Debug("command handled", "sender", view.SenderID(), "command", msg.Name, "kind", result.Kind.String())
	return result
}
