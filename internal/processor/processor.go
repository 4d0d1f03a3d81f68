// Package processor handles one inbound chat message end to end: load the
// sender's session, run a command or the reasoner, persist what changed and
// return the reply text.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samhotchkiss/otter-relay/internal/agent"
	"github.com/samhotchkiss/otter-relay/internal/command"
	"github.com/samhotchkiss/otter-relay/internal/conversation"
	"github.com/samhotchkiss/otter-relay/internal/relaymetrics"
	"github.com/samhotchkiss/otter-relay/internal/reply"
	"github.com/samhotchkiss/otter-relay/internal/session"
	"github.com/samhotchkiss/otter-relay/internal/ws"
)

// ApologyText is sent when processing fails unexpectedly.
const ApologyText = "Sorry, I encountered an error processing your message. Please try again."

const (
	DefaultBackendTimeout = 30 * time.Second

	kindReply     = "reply"
	kindError     = "error"
	kindRecovered = "recovered"
)

// Inbound is a chat message after transport decoding.
type Inbound struct {
	From        string
	Body        string
	ProfileName string
	MessageSID  string
}

// Publisher receives ops events. Publish must not block.
type Publisher interface {
	Publish(messageType string, data any) error
}

// TurnEvent describes one processed message on the ops feed. Sender is
// masked.
type TurnEvent struct {
	Sender      string    `json:"sender"`
	MessageSID  string    `json:"message_sid,omitempty"`
	Command     string    `json:"command,omitempty"`
	Kind        string    `json:"kind"`
	ReplyLength int       `json:"reply_length"`
	DurationMS  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// Options wires a Processor. Manager, Dispatcher and Reasoner are required.
type Options struct {
	Manager            *conversation.Manager
	Dispatcher         *command.Dispatcher
	Reasoner           agent.Reasoner
	Assembler          *reply.Assembler
	Events             Publisher
	BackendTimeout     time.Duration
	SerializePerSender bool
	Logger             *slog.Logger
	Now                func() time.Time
}

type Processor struct {
	manager        *conversation.Manager
	dispatcher     *command.Dispatcher
	reasoner       agent.Reasoner
	assembler      *reply.Assembler
	events         Publisher
	backendTimeout time.Duration
	locks          *keyedMutex
	logger         *slog.Logger
	now            func() time.Time
}

func New(opts Options) (*Processor, error) {
	if opts.Manager == nil || opts.Dispatcher == nil || opts.Reasoner == nil {
		return nil, fmt.Errorf("processor: manager, dispatcher and reasoner are required")
	}
	p := &Processor{
		manager:        opts.Manager,
		dispatcher:     opts.Dispatcher,
		reasoner:       opts.Reasoner,
		assembler:      opts.Assembler,
		events:         opts.Events,
		backendTimeout: opts.BackendTimeout,
		logger:         opts.Logger,
		now:            opts.Now,
	}
	if p.assembler == nil {
		p.assembler = reply.New(0)
	}
	if p.backendTimeout <= 0 {
		p.backendTimeout = DefaultBackendTimeout
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if opts.SerializePerSender {
		p.locks = newKeyedMutex()
	}
	return p, nil
}

// Handle returns exactly one reply for msg. It never fails: panics and
// infrastructure errors become apology or error text.
func (p *Processor) Handle(ctx context.Context, msg Inbound) (text string) {
	started := p.now()
	sender := session.NormalizeSenderID(msg.From)
	event := TurnEvent{Sender: MaskSender(sender), MessageSID: msg.MessageSID}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing message",
				"sender", sender,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			text = ApologyText
			event.Kind = kindRecovered
		}
		elapsed := p.now().Sub(started)
		event.ReplyLength = utf8.RuneCountInString(text)
		event.DurationMS = elapsed.Milliseconds()
		event.Timestamp = p.now().UTC()
		relaymetrics.RecordTurn(event.Kind, event.Command, elapsed)
		p.publish(event)
	}()

	if p.locks != nil {
		unlock := p.locks.Lock(sender)
		defer unlock()
	}

	current := p.manager.GetOrCreate(ctx, sender)
	view := session.NewView(current)
	if name := strings.TrimSpace(msg.ProfileName); name != "" && name != view.Context().ProfileName {
		view.UpdateContext(session.ContextPatch{ProfileName: session.String(name)})
	}

	parsed := command.Classify(msg.Body)
	p.logger.Info("processing message",
		"sender", sender,
		"command", parsed.Name,
		"preview", preview(parsed.Text),
	)

	var raw string
	if parsed.IsCommand {
		result := p.runCommand(ctx, parsed, view)
		raw = result.Text
		event.Command = parsed.Name
		event.Kind = result.Kind.String()
	} else {
		raw, event.Kind = p.runReasoner(ctx, parsed.Text, view)
	}

	text = p.assembler.Render(raw)

	// The reply is already decided, so the turn is persisted even if the
	// caller hung up. The manager bounds each write with its store timeout.
	persistCtx := context.WithoutCancel(ctx)
	if mutation := view.Mutation(); !mutation.IsZero() {
		p.manager.Apply(persistCtx, sender, mutation)
	}
	p.manager.AppendTurn(persistCtx, sender, parsed.Text, text)
	return text
}

func (p *Processor) runCommand(ctx context.Context, msg command.Message, view *session.View) command.Result {
	ctx, cancel := context.WithTimeout(ctx, p.backendTimeout)
	defer cancel()
	return p.dispatcher.Dispatch(ctx, msg, view)
}

func (p *Processor) runReasoner(ctx context.Context, text string, view *session.View) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, p.backendTimeout)
	defer cancel()

	out, err := p.reasoner.Process(ctx, text, view)
	if err != nil {
		p.logger.Warn("reasoner failed", "sender", view.SenderID(), "err", err)
		return p.assembler.Error(err), kindError
	}
	return out, kindReply
}

func (p *Processor) publish(event TurnEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ws.MessageTurnProcessed, event); err != nil {
		p.logger.Debug("ops event dropped", "err", err)
	}
}

// MaskSender hides the middle of a sender id for the ops feed.
func MaskSender(sender string) string {
	runes := []rune(sender)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-8) + string(runes[len(runes)-4:])
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= 50 {
		return text
	}
	return string([]rune(text)[:50]) + "..."
}
